// Package priority provides the business boundary for surfacer's priority
// triage system. It defines the Normalizer (raw records to items), Scorer,
// Quadrant Classifier, Deduplicator, Surfacing Queue, Lifecycle state machine,
// Elimination Monitor, the Engine that runs them as one cycle per user, the
// Service used by the HTTP API, and the Store interface for persistence.
package priority
