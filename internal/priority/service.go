package priority

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
)

// Create outcomes.
const (
	CreateCreated  = "created"
	CreateExisting = "existing"
)

// CreateResult is the outcome of creating an item.
type CreateResult struct {
	Status string
	ItemID string
	Item   *Item
}

// ItemPatch carries the user-editable fields of an item. Nil fields are
// left unchanged; ClearDeadline removes the deadline.
type ItemPatch struct {
	Title         *string
	Description   *string
	Category      *string
	Deadline      *time.Time
	ClearDeadline bool
}

// ServiceHooks are optional callbacks for observability.
type ServiceHooks struct {
	OnCreate func(status string)
}

// Service is the business boundary for priority operations.
type Service struct {
	store  Store
	engine *Engine
	logger log.Logger
	hooks  ServiceHooks
}

// NewService creates a new priority service.
func NewService(store Store, engine *Engine, logger log.Logger, hooks ServiceHooks) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:  store,
		engine: engine,
		logger: logger,
		hooks:  hooks,
	}
}

func (s *Service) now() time.Time { return s.engine.now() }

func (s *Service) tuning() *Config {
	t := s.engine.tuning
	return &t
}

// Create normalizes r and stores it as a new scored item unless an item
// with the same source key or a near-duplicate title already exists, in
// which case the existing item is returned.
func (s *Service) Create(ctx context.Context, r Raw) (*CreateResult, error) {
	now := s.now()
	fresh, err := Normalize(r, now)
	if err != nil {
		return nil, err
	}
	tuning := s.tuning()

	var res *CreateResult
	err = s.store.WithUserLock(ctx, fresh.UserID, func(ctx context.Context, st Store) error {
		existing, ok, err := st.GetBySource(ctx, fresh.SourceType, fresh.SourceID)
		if err != nil {
			return persistErr("get by source", err)
		}
		if ok && existing.UserID != fresh.UserID {
			return errForeignSource(fresh)
		}
		if ok {
			res = &CreateResult{Status: CreateExisting, ItemID: existing.ID, Item: existing}
			return nil
		}

		active, err := st.List(ctx, Filter{UserID: fresh.UserID, Statuses: activeStatuses, Canonical: true})
		if err != nil {
			return persistErr("list active items", err)
		}
		if canon := FindCanonical(active, fresh.Title, tuning.DedupThreshold); canon != nil {
			res = &CreateResult{Status: CreateExisting, ItemID: canon.ID, Item: canon}
			return nil
		}

		fresh.ID = ulid.Make().String()
		fresh.UpdatedAt = now
		Rescore(fresh, &tuning.Scoring, now)
		fresh.ScoresChangedAt = now
		if err := st.Put(ctx, fresh); err != nil {
			return persistErr("insert item", err)
		}
		res = &CreateResult{Status: CreateCreated, ItemID: fresh.ID, Item: fresh}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "item create",
		"user", fresh.UserID,
		"status", res.Status,
		"item_id", res.ItemID,
		"source_type", fresh.SourceType,
	)
	if s.hooks.OnCreate != nil {
		s.hooks.OnCreate(res.Status)
	}
	return res, nil
}

// Get retrieves an item by id.
func (s *Service) Get(ctx context.Context, id string) (*Item, error) {
	it, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, persistErr("get item", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return it, nil
}

// Update applies a patch to the user-editable fields and rescores the item.
func (s *Service) Update(ctx context.Context, id string, p ItemPatch) (*Item, error) {
	tuning := s.tuning()
	return s.mutate(ctx, id, func(it *Item, now time.Time) error {
		if p.Title != nil {
			t := strings.TrimSpace(*p.Title)
			if t == "" {
				return &NormalizationError{SourceType: it.SourceType, SourceID: it.SourceID, Field: "title", Reason: "is required"}
			}
			it.Title = t
		}
		if p.Description != nil {
			it.Description = strings.TrimSpace(*p.Description)
		}
		if p.Category != nil {
			if c := strings.ToLower(strings.TrimSpace(*p.Category)); c != "" {
				it.Category = c
			} else {
				it.Category = defaultCategory[it.SourceType]
			}
		}
		switch {
		case p.ClearDeadline:
			it.Deadline = nil
		case p.Deadline != nil:
			it.Deadline = cloneTime(p.Deadline)
		}
		it.UpdatedAt = now
		Rescore(it, &tuning.Scoring, now)
		return nil
	})
}

// Revive moves a submerged or eliminated item back to pending. Any other
// status returns ErrInvalidTransition.
func (s *Service) Revive(ctx context.Context, id string) (*Item, error) {
	tuning := s.tuning()
	return s.mutate(ctx, id, func(it *Item, now time.Time) error {
		if !it.Status.Terminal() {
			return fmt.Errorf("%w: revive on %s item %s", ErrInvalidTransition, it.Status, it.ID)
		}
		if _, err := Transition(it, EventRevive, "", now); err != nil {
			return err
		}
		Rescore(it, &tuning.Scoring, now)
		return nil
	})
}

// Respond records a manual response to a surfaced item. The next cycle
// submerges it.
func (s *Service) Respond(ctx context.Context, id string) (*Item, error) {
	return s.mutate(ctx, id, func(it *Item, now time.Time) error {
		_, err := Transition(it, EventRespond, "", now)
		return err
	})
}

// Dismiss eliminates an active item by hand. A surfaced item is also hidden.
func (s *Service) Dismiss(ctx context.Context, id string) (*Item, error) {
	var wasSurfaced bool
	it, err := s.mutate(ctx, id, func(it *Item, now time.Time) error {
		wasSurfaced = it.Status == StatusSurfaced
		_, err := Transition(it, EventEliminate, ReasonDismissed, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	if wasSurfaced && it.Status == StatusEliminated {
		if err := s.engine.Apply(ctx, it, VisibilityHidden); err != nil {
			s.logger.Warn(ctx, "visibility effect failed", "item_id", it.ID, "err", err)
		}
	}
	return it, nil
}

// mutate loads an item under its user's lock, applies fn and saves it.
func (s *Service) mutate(ctx context.Context, id string, fn func(it *Item, now time.Time) error) (*Item, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var out *Item
	err = s.store.WithUserLock(ctx, cur.UserID, func(ctx context.Context, st Store) error {
		it, ok, err := st.Get(ctx, id)
		if err != nil {
			return persistErr("get item", err)
		}
		if !ok {
			return ErrNotFound
		}
		if err := fn(it, s.now()); err != nil {
			return err
		}
		if err := st.Put(ctx, it); err != nil {
			return persistErr("save item", err)
		}
		out = it
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Surface returns the ranked read-only view of a user's top items.
func (s *Service) Surface(ctx context.Context, userID string, topN int) (*SurfaceView, error) {
	all, err := s.store.List(ctx, Filter{UserID: userID})
	if err != nil {
		return nil, persistErr("list items", err)
	}
	view := BuildSurfaceView(all, topN, s.engine.tuning.Surfacing)
	return &view, nil
}

// Quadrant lists a user's active canonical items in q, most important first.
func (s *Service) Quadrant(ctx context.Context, userID string, q Quadrant) ([]*Item, error) {
	items, err := s.store.List(ctx, Filter{
		UserID:    userID,
		Statuses:  activeStatuses,
		Quadrant:  q,
		Canonical: true,
	})
	if err != nil {
		return nil, persistErr("list quadrant", err)
	}
	slices.SortFunc(items, ByImportance)
	return items, nil
}

// RunCycle runs one engine cycle for userID now.
func (s *Service) RunCycle(ctx context.Context, userID string) (*CycleReport, error) {
	return s.engine.RunCycle(ctx, userID)
}
