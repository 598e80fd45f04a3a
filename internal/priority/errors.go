package priority

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an item id does not exist.
	ErrNotFound = errors.New("item not found")

	// ErrInvalidTransition is returned for a lifecycle event that the
	// current non-terminal status does not accept.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrImmutableField is returned when an update tries to set status,
	// scores or other engine-owned fields directly.
	ErrImmutableField = errors.New("field can only change through lifecycle transitions")
)

// AdapterError reports a failed source fetch. Non-fatal.
type AdapterError struct {
	Adapter string
	UserID  string
	Err     error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter %s for user %s: %v", e.Adapter, e.UserID, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// NormalizationError reports a raw record that could not become an item.
type NormalizationError struct {
	SourceType SourceType
	SourceID   string
	Field      string
	Reason     string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s/%s: %s %s", e.SourceType, e.SourceID, e.Field, e.Reason)
}

// PersistenceError reports a store failure that aborts the current user's
// cycle. The next scheduled cycle retries.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// EliminationRuleError reports a rule that could not be evaluated for an
// item. Only that rule is skipped for that item.
type EliminationRuleError struct {
	Rule   string
	ItemID string
	Err    error
}

func (e *EliminationRuleError) Error() string {
	return fmt.Sprintf("elimination rule %s on item %s: %v", e.Rule, e.ItemID, e.Err)
}

func (e *EliminationRuleError) Unwrap() error { return e.Err }

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
