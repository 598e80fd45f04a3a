package priority

import (
	"fmt"
	"time"
)

// Event drives a lifecycle transition.
type Event string

const (
	EventSurface   Event = "surface"
	EventRespond   Event = "respond"
	EventSubmerge  Event = "submerge"
	EventEliminate Event = "eliminate"
	EventRevive    Event = "revive"
)

// Reason recorded when a user dismisses an item by hand.
const ReasonDismissed = "dismissed"

// Transition applies ev to it at now. Terminal states ignore everything but
// revive and report changed=false with no error. Any other transition the
// current status does not accept returns ErrInvalidTransition. For
// EventEliminate, reason is stored on the item; other events ignore it.
func Transition(it *Item, ev Event, reason string, now time.Time) (bool, error) {
	if it.Status.Terminal() && ev != EventRevive {
		return false, nil
	}

	t := now
	switch {
	case ev == EventSurface && it.Status == StatusPending:
		it.Status = StatusSurfaced
		it.SurfacedAt = &t

	case ev == EventEliminate && it.Status.Active():
		it.Status = StatusEliminated
		it.EliminatedAt = &t
		it.EliminationReason = reason

	case ev == EventRespond && it.Status == StatusSurfaced:
		it.Status = StatusResponded
		it.RespondedAt = &t

	case ev == EventSubmerge && it.Status == StatusResponded:
		it.Status = StatusSubmerged
		it.SubmergedAt = &t

	case ev == EventRevive && it.Status.Terminal():
		it.Status = StatusPending
		it.DedupGroup = ""
		it.SurfacedAt = nil
		it.RespondedAt = nil
		it.SubmergedAt = nil
		it.EliminatedAt = nil
		it.EliminationReason = ""
		// revive restarts the staleness clock
		it.ScoresChangedAt = now

	default:
		return false, fmt.Errorf("%w: %s on %s item %s", ErrInvalidTransition, ev, it.Status, it.ID)
	}

	it.UpdatedAt = now
	return true, nil
}
