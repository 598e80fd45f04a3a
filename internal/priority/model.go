package priority

import "time"

// Status tracks where an item is in its lifecycle.
type Status string

const (
	// StatusPending means known and scored, not yet shown to the user
	StatusPending Status = "pending"

	// StatusSurfaced means selected into the user's visible top-K
	StatusSurfaced Status = "surfaced"

	// StatusResponded means the user acted on the item after it surfaced
	StatusResponded Status = "responded"

	// StatusSubmerged means hidden again after a response
	StatusSubmerged Status = "submerged"

	// StatusEliminated means retired by the elimination monitor or manually
	StatusEliminated Status = "eliminated"
)

// Active reports whether the item still competes for attention.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusSurfaced
}

// Terminal reports whether only a revive can move the item again.
func (s Status) Terminal() bool {
	return s == StatusSubmerged || s == StatusEliminated
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSurfaced, StatusResponded, StatusSubmerged, StatusEliminated:
		return true
	}
	return false
}

// SourceType tags which kind of upstream record an item came from.
type SourceType string

const (
	SourceEmail   SourceType = "email"
	SourceTask    SourceType = "task"
	SourceMeeting SourceType = "meeting"
	SourceDeal    SourceType = "deal"
	SourceGeneric SourceType = "generic"
)

// Valid reports whether t is a known source type.
func (t SourceType) Valid() bool {
	switch t {
	case SourceEmail, SourceTask, SourceMeeting, SourceDeal, SourceGeneric:
		return true
	}
	return false
}

// Quadrant is the Eisenhower bucket of an item.
type Quadrant string

const (
	QuadrantDoNow     Quadrant = "Q1_DO_NOW"
	QuadrantSchedule  Quadrant = "Q2_SCHEDULE"
	QuadrantDelegate  Quadrant = "Q3_DELEGATE"
	QuadrantEliminate Quadrant = "Q4_ELIMINATE"
)

// ParseQuadrant validates a quadrant name.
func ParseQuadrant(s string) (Quadrant, bool) {
	switch q := Quadrant(s); q {
	case QuadrantDoNow, QuadrantSchedule, QuadrantDelegate, QuadrantEliminate:
		return q, true
	}
	return "", false
}

// Scores holds the six dimension scores (each 0..10) and the weighted total (0..100).
type Scores struct {
	Urgency          float64 `json:"urgency"`
	Importance       float64 `json:"importance"`
	Effort           float64 `json:"effort"`
	ContextRelevance float64 `json:"context_relevance"`
	Dependency       float64 `json:"dependency"`
	PersonalityFit   float64 `json:"personality_fit"`
	Total            float64 `json:"total"`
}

// sameStable reports whether the dimensions that do not depend on the clock
// are equal. Urgency and context relevance are ignored.
func (s Scores) sameStable(o Scores) bool {
	return s.Importance == o.Importance &&
		s.Effort == o.Effort &&
		s.Dependency == o.Dependency &&
		s.PersonalityFit == o.PersonalityFit
}

// Associations link an item to people, deals and messages for ranking boosts.
type Associations struct {
	People   []string `json:"people,omitempty"`
	Deals    []string `json:"deals,omitempty"`
	Messages []string `json:"messages,omitempty"`
}

// Item is a canonical unit of work competing for the user's attention.
type Item struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	SourceType  SourceType `json:"source_type"`
	SourceID    string     `json:"source_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Category    string     `json:"category"`
	Deadline    *time.Time `json:"deadline,omitempty"`

	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	ScoresChangedAt time.Time  `json:"scores_changed_at"`
	SurfacedAt      *time.Time `json:"surfaced_at,omitempty"`
	RespondedAt     *time.Time `json:"responded_at,omitempty"`
	SubmergedAt     *time.Time `json:"submerged_at,omitempty"`
	EliminatedAt    *time.Time `json:"eliminated_at,omitempty"`

	Scores            Scores   `json:"scores"`
	Quadrant          Quadrant `json:"quadrant"`
	Status            Status   `json:"status"`
	DedupGroup        string   `json:"dedup_group,omitempty"`
	EliminationReason string   `json:"elimination_reason,omitempty"`

	Associations Associations `json:"associations"`

	// signals reported by source adapters, read by the scorer and eliminator
	DealAmount      float64  `json:"deal_amount,omitempty"`
	EstimateMinutes int      `json:"estimate_minutes,omitempty"`
	BlockedBy       []string `json:"blocked_by,omitempty"`
	Blocks          []string `json:"blocks,omitempty"`
	Cancelled       bool     `json:"cancelled,omitempty"`
}

// Canonical reports whether the item represents its dedup group.
func (it *Item) Canonical() bool {
	return it.DedupGroup == ""
}

// Clone returns a deep copy of the item.
func (it *Item) Clone() *Item {
	cp := *it
	cp.Deadline = cloneTime(it.Deadline)
	cp.SurfacedAt = cloneTime(it.SurfacedAt)
	cp.RespondedAt = cloneTime(it.RespondedAt)
	cp.SubmergedAt = cloneTime(it.SubmergedAt)
	cp.EliminatedAt = cloneTime(it.EliminatedAt)
	cp.Associations = Associations{
		People:   cloneStrings(it.Associations.People),
		Deals:    cloneStrings(it.Associations.Deals),
		Messages: cloneStrings(it.Associations.Messages),
	}
	cp.BlockedBy = cloneStrings(it.BlockedBy)
	cp.Blocks = cloneStrings(it.Blocks)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// Filter selects items for Store.List. Zero-valued fields do not filter.
type Filter struct {
	UserID    string
	Statuses  []Status
	Quadrant  Quadrant
	Canonical bool // only items with an empty DedupGroup
}

// Match reports whether an item satisfies the filter.
func (f Filter) Match(it *Item) bool {
	if f.UserID != "" && it.UserID != f.UserID {
		return false
	}
	if f.Quadrant != "" && it.Quadrant != f.Quadrant {
		return false
	}
	if f.Canonical && !it.Canonical() {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if it.Status == s {
			return true
		}
	}
	return false
}
