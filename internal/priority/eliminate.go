package priority

import (
	"errors"
	"time"
)

// Elimination reasons recorded on the item.
const (
	ReasonCancelled       = "cancelled"
	ReasonDeadlinePassed  = "deadline_passed"
	ReasonDuplicateClosed = "duplicate_closed"
	ReasonStale           = "stale"
)

var (
	errNoDeadline       = errors.New("time-bound item has no deadline")
	errCanonicalMissing = errors.New("canonical item not found")
)

// RuleContext is what an elimination rule may look at besides the item.
type RuleContext struct {
	Now    time.Time
	Config EliminationConfig

	// Lookup resolves another item of the same user by id, used for dedup
	// groups.
	Lookup func(id string) (*Item, bool)
}

// Rule decides whether an item should be eliminated. A non-nil error skips
// the rule for this item only.
type Rule struct {
	Name  string
	Match func(it *Item, rc RuleContext) (bool, error)
}

// DefaultRules is the ordered rule list; the first match wins.
var DefaultRules = []Rule{
	{Name: ReasonCancelled, Match: matchCancelled},
	{Name: ReasonDeadlinePassed, Match: matchDeadlinePassed},
	{Name: ReasonDuplicateClosed, Match: matchDuplicateClosed},
	{Name: ReasonStale, Match: matchStale},
}

func matchCancelled(it *Item, _ RuleContext) (bool, error) {
	return it.Cancelled, nil
}

func matchDeadlinePassed(it *Item, rc RuleContext) (bool, error) {
	timeBound := it.SourceType == SourceMeeting || containsFold(rc.Config.TimeBoundCategories, it.Category)
	if !timeBound {
		return false, nil
	}
	if it.Deadline == nil {
		return false, errNoDeadline
	}
	return it.Deadline.Before(rc.Now), nil
}

func matchDuplicateClosed(it *Item, rc RuleContext) (bool, error) {
	if it.Canonical() {
		return false, nil
	}
	if rc.Lookup == nil {
		return false, errCanonicalMissing
	}
	canon, ok := rc.Lookup(it.DedupGroup)
	if !ok {
		return false, errCanonicalMissing
	}
	return canon.Status == StatusResponded || canon.Status.Terminal(), nil
}

func matchStale(it *Item, rc RuleContext) (bool, error) {
	if it.RespondedAt != nil || rc.Config.StaleAfter <= 0 {
		return false, nil
	}
	return rc.Now.Sub(it.ScoresChangedAt) > rc.Config.StaleAfter, nil
}

// Verdict is the outcome of evaluating the rules against one item.
type Verdict struct {
	Eliminate bool
	Reason    string

	// RuleErrors lists rules that were skipped for this item.
	RuleErrors []error
}

// Evaluate runs rules in order against it. Only pending and surfaced items
// are considered.
func Evaluate(it *Item, rules []Rule, rc RuleContext) Verdict {
	var v Verdict
	if !it.Status.Active() {
		return v
	}
	for _, r := range rules {
		ok, err := r.Match(it, rc)
		if err != nil {
			v.RuleErrors = append(v.RuleErrors, &EliminationRuleError{Rule: r.Name, ItemID: it.ID, Err: err})
			continue
		}
		if ok {
			v.Eliminate = true
			v.Reason = r.Name
			return v
		}
	}
	return v
}
