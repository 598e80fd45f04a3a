package priority

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxDimension = 10.0
	maxTotal     = 100.0

	// urgency when an item has no deadline at all
	noDeadlineUrgency = 3.0

	keywordUrgencyBonus    = 2.0
	dealImportanceBonus    = 2.0
	maxKeywordImportance   = 2.0
	crowdedPeopleThreshold = 3

	baseDependency     = 8.0
	blockerPenalty     = 3.0
	maxBlockingBonus   = 2.0
	autonomyFitPenalty = 3.0

	defaultImportance = 5.0
	defaultEffort     = 5.0
)

// Score computes the six dimension scores and the weighted total for an
// item. It is pure: the result depends only on its arguments.
func Score(it *Item, cfg *ScoringConfig, now time.Time) Scores {
	s := Scores{
		Urgency:          urgencyScore(it, cfg, now),
		Importance:       importanceScore(it, cfg),
		Effort:           effortScore(it, cfg),
		ContextRelevance: contextScore(it, cfg, now),
		Dependency:       dependencyScore(it),
		PersonalityFit:   personalityScore(it, cfg),
	}
	s.Total = Total(s, cfg.Weights)
	return s
}

// Total is clamp(0, 100, 10 * sum(dimension * weight)) rounded to 2 decimals.
func Total(s Scores, w Weights) float64 {
	sum := s.Urgency*w.Urgency +
		s.Importance*w.Importance +
		s.Effort*w.Effort +
		s.ContextRelevance*w.ContextRelevance +
		s.Dependency*w.Dependency +
		s.PersonalityFit*w.PersonalityFit
	return math.Round(clamp(10*sum, 0, maxTotal)*100) / 100
}

func urgencyScore(it *Item, cfg *ScoringConfig, now time.Time) float64 {
	if containsFold(cfg.CriticalCategories, it.Category) {
		return maxDimension
	}

	u := noDeadlineUrgency
	if it.Deadline != nil {
		switch left := it.Deadline.Sub(now); {
		case left < time.Hour:
			// overdue counts as most urgent until the eliminator retires it
			u = 10
		case left < 4*time.Hour:
			u = 8
		case left < 24*time.Hour:
			u = 6
		default:
			u = 4
		}
	}

	u += cfg.UrgencyBonus[it.Category]
	if hasKeyword(it.Title, cfg.UrgencyKeywords) {
		u += keywordUrgencyBonus
	}
	return clamp(u, 0, maxDimension)
}

func importanceScore(it *Item, cfg *ScoringConfig) float64 {
	imp, ok := cfg.ImportanceBase[it.Category]
	if !ok {
		imp = defaultImportance
	}

	if cfg.DealAmountThreshold > 0 && it.DealAmount >= cfg.DealAmountThreshold {
		imp += dealImportanceBonus
	}

	text := it.Title + " " + it.Description
	kw := 0.0
	for _, k := range cfg.ImportanceKeywords {
		if hasKeyword(text, []string{k}) {
			kw++
		}
	}
	imp += math.Min(kw, maxKeywordImportance)

	if len(it.Associations.People) >= crowdedPeopleThreshold {
		imp++
	}
	if len(it.Associations.Deals) > 0 {
		imp++
	}
	return clamp(imp, 0, maxDimension)
}

func effortScore(it *Item, cfg *ScoringConfig) float64 {
	var e float64
	switch m := it.EstimateMinutes; {
	case m <= 0:
		var ok bool
		if e, ok = cfg.EffortBase[it.Category]; !ok {
			e = defaultEffort
		}
	case m <= 15:
		e = 9
	case m <= 60:
		e = 7
	case m <= 240:
		e = 5
	default:
		e = 3
	}

	switch n := utf8.RuneCountInString(it.Description); {
	case n == 0:
		e++
	case n > 1000:
		e -= 2
	case n > 300:
		e--
	}
	return clamp(e, 0, maxDimension)
}

func contextScore(it *Item, cfg *ScoringConfig, now time.Time) float64 {
	if it.SourceType == SourceMeeting && it.Deadline != nil {
		if left := it.Deadline.Sub(now); left >= 0 && left < 24*time.Hour {
			return 9
		}
	}

	personal := containsFold(cfg.PersonalCategories, it.Category)
	if !cfg.Hours.contains(now) {
		if personal {
			return 8
		}
		return 4
	}

	switch {
	case personal:
		return 3
	case containsFold(cfg.WorkCategories, it.Category):
		return 8
	default:
		return 6
	}
}

func (w WorkingHours) contains(t time.Time) bool {
	local := t.In(w.Location())
	if len(w.Weekdays) > 0 && !slices.Contains(w.Weekdays, local.Weekday()) {
		return false
	}
	h := local.Hour()
	return h >= w.Start && h < w.End
}

func dependencyScore(it *Item) float64 {
	d := baseDependency - blockerPenalty*float64(len(it.BlockedBy))
	d += math.Min(float64(len(it.Blocks)), maxBlockingBonus)
	return clamp(d, 0, maxDimension)
}

func personalityScore(it *Item, cfg *ScoringConfig) float64 {
	p := 5 + 5*cfg.Temperament.Affinity[it.Category]
	if containsFold(cfg.Temperament.DelegableCategories, it.Category) {
		p -= autonomyFitPenalty * cfg.Temperament.Autonomy
	}
	return clamp(p, 0, maxDimension)
}

// Rescore recomputes scores and quadrant in place. It reports whether
// anything changed. ScoresChangedAt moves only when importance, effort,
// dependency or personality fit changed, since urgency and context relevance
// drift with the clock alone.
func Rescore(it *Item, cfg *ScoringConfig, now time.Time) bool {
	next := Score(it, cfg, now)
	q := Classify(next.Urgency, next.Importance, cfg.QuadrantThreshold)

	changed := next != it.Scores || q != it.Quadrant
	if !next.sameStable(it.Scores) || it.ScoresChangedAt.IsZero() {
		it.ScoresChangedAt = now
	}
	it.Scores = next
	it.Quadrant = q
	return changed
}

// compareRank is the tie-break applied after any primary ordering:
// urgency desc, importance desc, created_at asc, id asc.
func compareRank(a, b *Item) int {
	return cmp.Or(
		cmp.Compare(b.Scores.Urgency, a.Scores.Urgency),
		cmp.Compare(b.Scores.Importance, a.Scores.Importance),
		a.CreatedAt.Compare(b.CreatedAt),
		strings.Compare(a.ID, b.ID),
	)
}

// ByImportance orders by total desc, then the common tie-break.
func ByImportance(a, b *Item) int {
	if c := cmp.Compare(b.Scores.Total, a.Scores.Total); c != 0 {
		return c
	}
	return compareRank(a, b)
}

// ByUrgency orders by urgency desc, then the common tie-break.
func ByUrgency(a, b *Item) int {
	return compareRank(a, b)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func containsFold(list []string, s string) bool {
	return slices.ContainsFunc(list, func(v string) bool { return strings.EqualFold(v, s) })
}

// hasKeyword reports whether any keyword appears as a whole token in text.
func hasKeyword(text string, keywords []string) bool {
	if len(keywords) == 0 {
		return false
	}
	for _, tok := range tokenize(text) {
		if containsFold(keywords, tok) {
			return true
		}
	}
	return false
}
