package priority

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/oklog/ulid/v2"
)

// default category per source type when the raw record carries none
var defaultCategory = map[SourceType]string{
	SourceEmail:   "inbox",
	SourceTask:    "task",
	SourceMeeting: "meeting",
	SourceDeal:    "revenue",
	SourceGeneric: "general",
}

// Normalize maps a raw record to a fresh, unsaved item. The returned item has
// no ID and status pending; scores are left for the Scorer.
func Normalize(r Raw, now time.Time) (*Item, error) {
	if r == nil {
		return nil, &NormalizationError{Field: "record", Reason: "is nil"}
	}
	it, err := r.normalize(now)
	if err != nil {
		return nil, err
	}
	it.SourceType = r.Source()
	it.SourceID = strings.TrimSpace(r.Key())
	it.UserID = strings.TrimSpace(r.Owner())
	it.Title = strings.TrimSpace(it.Title)
	it.Description = strings.TrimSpace(it.Description)
	it.Category = strings.ToLower(strings.TrimSpace(it.Category))

	switch {
	case it.SourceID == "":
		return nil, &NormalizationError{SourceType: it.SourceType, Field: "source_id", Reason: "is required"}
	case it.Title == "":
		return nil, &NormalizationError{SourceType: it.SourceType, SourceID: it.SourceID, Field: "title", Reason: "is required"}
	case it.UserID == "":
		return nil, &NormalizationError{SourceType: it.SourceType, SourceID: it.SourceID, Field: "user_id", Reason: "is required"}
	}

	if it.Category == "" {
		it.Category = defaultCategory[it.SourceType]
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = now
	}
	// stores keep microseconds; finer times would never compare equal again
	it.CreatedAt = it.CreatedAt.Truncate(time.Microsecond)
	if it.Deadline != nil {
		d := it.Deadline.Truncate(time.Microsecond)
		it.Deadline = &d
	}
	it.Status = StatusPending
	return it, nil
}

func (r *EmailRaw) normalize(_ time.Time) (*Item, error) {
	desc := r.Snippet
	if desc == "" && r.HTMLBody != "" {
		desc = htmlText(r.HTMLBody)
	}

	category := r.Category
	if category == "" && slices.ContainsFunc(r.Labels, func(l string) bool {
		return strings.EqualFold(l, "important")
	}) {
		category = "client"
	}

	var people []string
	if r.From != "" {
		people = append(people, r.From)
	}
	people = append(people, r.To...)

	var messages []string
	if r.ThreadID != "" {
		messages = []string{r.ThreadID}
	}

	return &Item{
		Title:       r.Subject,
		Description: desc,
		Category:    category,
		CreatedAt:   r.ReceivedAt,
		Associations: Associations{
			People:   people,
			Messages: messages,
		},
	}, nil
}

func (r *TaskRaw) normalize(_ time.Time) (*Item, error) {
	category := r.Category
	if category == "" && r.Project != "" {
		category = r.Project
	}
	return &Item{
		Title:           r.Title,
		Description:     r.Notes,
		Category:        category,
		Deadline:        cloneTime(r.Due),
		CreatedAt:       r.CreatedAt,
		EstimateMinutes: r.EstimateMinutes,
		BlockedBy:       cloneStrings(r.BlockedBy),
		Blocks:          cloneStrings(r.Blocks),
		Cancelled:       strings.EqualFold(r.Status, "cancelled") || strings.EqualFold(r.Status, "canceled"),
	}, nil
}

func (r *MeetingRaw) normalize(_ time.Time) (*Item, error) {
	var deadline *time.Time
	if !r.Start.IsZero() {
		start := r.Start
		deadline = &start
	}
	people := cloneStrings(r.Attendees)
	if r.Organizer != "" && !slices.Contains(people, r.Organizer) {
		people = append(people, r.Organizer)
	}
	return &Item{
		Title:        r.Summary,
		Description:  r.Description,
		Category:     r.Category,
		Deadline:     deadline,
		CreatedAt:    r.CreatedAt,
		Associations: Associations{People: people},
		Cancelled:    r.Cancelled,
	}, nil
}

func (r *DealRaw) normalize(_ time.Time) (*Item, error) {
	var deals []string
	if r.DealID != "" {
		deals = []string{r.DealID}
	}
	return &Item{
		Title:       r.Name,
		Description: r.Notes,
		Category:    r.Category,
		Deadline:    cloneTime(r.CloseDate),
		CreatedAt:   r.CreatedAt,
		DealAmount:  r.Amount,
		Associations: Associations{
			People: cloneStrings(r.Contacts),
			Deals:  deals,
		},
		Cancelled: strings.EqualFold(r.Stage, "closed_lost"),
	}, nil
}

func (r *GenericRaw) normalize(_ time.Time) (*Item, error) {
	return &Item{
		Title:       r.Title,
		Description: r.Description,
		Category:    r.Category,
		Deadline:    cloneTime(r.Deadline),
		CreatedAt:   r.CreatedAt,
		Associations: Associations{
			People:   cloneStrings(r.Associations.People),
			Deals:    cloneStrings(r.Associations.Deals),
			Messages: cloneStrings(r.Associations.Messages),
		},
	}, nil
}

// htmlText flattens an HTML body to whitespace-collapsed text.
func htmlText(body string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return ""
	}
	doc.Find("script, style, head").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// UpsertOutcome describes what Upsert did with a record.
type UpsertOutcome string

const (
	UpsertCreated   UpsertOutcome = "created"
	UpsertUpdated   UpsertOutcome = "updated"
	UpsertUnchanged UpsertOutcome = "unchanged"
)

// Upsert normalizes r and stores it keyed by (source_type, source_id). An
// existing item only receives mutable field changes; status and scores are
// left untouched. Re-normalizing an unchanged record performs no write.
func Upsert(ctx context.Context, s Store, r Raw, now time.Time) (*Item, UpsertOutcome, error) {
	fresh, err := Normalize(r, now)
	if err != nil {
		return nil, "", err
	}

	existing, ok, err := s.GetBySource(ctx, fresh.SourceType, fresh.SourceID)
	if err != nil {
		return nil, "", persistErr("get by source", err)
	}

	if !ok {
		fresh.ID = ulid.Make().String()
		fresh.UpdatedAt = now
		fresh.ScoresChangedAt = now
		if err := s.Put(ctx, fresh); err != nil {
			return nil, "", persistErr("insert item", err)
		}
		return fresh, UpsertCreated, nil
	}

	if existing.UserID != fresh.UserID {
		return nil, "", errForeignSource(fresh)
	}
	if !applyMutable(existing, fresh) {
		return existing, UpsertUnchanged, nil
	}
	existing.UpdatedAt = now
	existing.ScoresChangedAt = now
	if err := s.Put(ctx, existing); err != nil {
		return nil, "", persistErr("update item", err)
	}
	return existing, UpsertUpdated, nil
}

func errForeignSource(it *Item) error {
	return &NormalizationError{SourceType: it.SourceType, SourceID: it.SourceID, Field: "source_id", Reason: "belongs to another user"}
}

// applyMutable copies source-owned fields from src onto dst and reports
// whether anything changed.
func applyMutable(dst, src *Item) bool {
	changed := false
	set := func(cond bool) {
		if cond {
			changed = true
		}
	}

	set(dst.Title != src.Title)
	dst.Title = src.Title
	set(dst.Description != src.Description)
	dst.Description = src.Description
	set(dst.Category != src.Category)
	dst.Category = src.Category
	set(!timeEqual(dst.Deadline, src.Deadline))
	dst.Deadline = cloneTime(src.Deadline)
	set(dst.DealAmount != src.DealAmount)
	dst.DealAmount = src.DealAmount
	set(dst.EstimateMinutes != src.EstimateMinutes)
	dst.EstimateMinutes = src.EstimateMinutes
	set(dst.Cancelled != src.Cancelled)
	dst.Cancelled = src.Cancelled
	set(!slices.Equal(dst.BlockedBy, src.BlockedBy))
	dst.BlockedBy = cloneStrings(src.BlockedBy)
	set(!slices.Equal(dst.Blocks, src.Blocks))
	dst.Blocks = cloneStrings(src.Blocks)
	set(!slices.Equal(dst.Associations.People, src.Associations.People) ||
		!slices.Equal(dst.Associations.Deals, src.Associations.Deals) ||
		!slices.Equal(dst.Associations.Messages, src.Associations.Messages))
	dst.Associations = Associations{
		People:   cloneStrings(src.Associations.People),
		Deals:    cloneStrings(src.Associations.Deals),
		Messages: cloneStrings(src.Associations.Messages),
	}

	return changed
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
