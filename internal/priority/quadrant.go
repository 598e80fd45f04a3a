package priority

// Classify maps urgency and importance to an Eisenhower quadrant. Both
// dimensions compare with >= against the same threshold.
func Classify(urgency, importance, threshold float64) Quadrant {
	urgent := urgency >= threshold
	important := importance >= threshold
	switch {
	case urgent && important:
		return QuadrantDoNow
	case important:
		return QuadrantSchedule
	case urgent:
		return QuadrantDelegate
	default:
		return QuadrantEliminate
	}
}
