package priority

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/linnemanlabs/surfacer/internal/priority"

const (
	DefaultCycleDeadline  = 30 * time.Second
	DefaultAdapterTimeout = 10 * time.Second
	DefaultEffectTimeout  = 5 * time.Second
)

// ErrCycleRunning is returned when a cycle for the same user is already in flight.
var ErrCycleRunning = errors.New("cycle already running for user")

var activeStatuses = []Status{StatusPending, StatusSurfaced}

// EngineOptions wires the engine's collaborators and timeouts. Zero
// timeouts take the defaults; nil Detector or Effector disable that step.
type EngineOptions struct {
	Adapters []SourceAdapter
	Detector ResponseDetector
	Effector VisibilityEffector

	CycleDeadline  time.Duration
	AdapterTimeout time.Duration
	EffectTimeout  time.Duration

	// Rules overrides DefaultRules.
	Rules []Rule

	// Now overrides the clock, used by tests.
	Now func() time.Time
}

// EngineHooks are optional callbacks for observability.
type EngineHooks struct {
	OnFetch              func(adapter string, records int, duration float64, isError bool)
	OnNormalizationError func(source SourceType)
	OnUpsert             func(outcome UpsertOutcome)
	OnTransition         func(ev Event, to Status)
	OnRuleError          func(rule string)
	OnEffect             func(v Visibility, isError bool)
	OnCycle              func(r *CycleReport, err error)
}

// CycleReport counts what one cycle did for one user.
type CycleReport struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`

	Fetched             int `json:"fetched"`
	AdapterErrors       int `json:"adapter_errors"`
	NormalizationErrors int `json:"normalization_errors"`
	Created             int `json:"created"`
	Updated             int `json:"updated"`
	Unchanged           int `json:"unchanged"`
	Rescored            int `json:"rescored"`
	Linked              int `json:"linked"`
	Surfaced            int `json:"surfaced"`
	Responded           int `json:"responded"`
	Submerged           int `json:"submerged"`
	Eliminated          int `json:"eliminated"`
	RuleErrors          int `json:"rule_errors"`
	EffectErrors        int `json:"effect_errors"`
}

// Engine runs the per-user prioritization cycle.
type Engine struct {
	store  Store
	tuning Config
	opts   EngineOptions
	logger log.Logger
	hooks  EngineHooks

	mu      sync.Mutex
	running map[string]struct{}
}

// NewEngine creates an engine over store with the given tuning.
func NewEngine(store Store, tuning Config, opts EngineOptions, logger log.Logger, hooks EngineHooks) *Engine {
	if opts.CycleDeadline <= 0 {
		opts.CycleDeadline = DefaultCycleDeadline
	}
	if opts.AdapterTimeout <= 0 {
		opts.AdapterTimeout = DefaultAdapterTimeout
	}
	if opts.EffectTimeout <= 0 {
		opts.EffectTimeout = DefaultEffectTimeout
	}
	if opts.Rules == nil {
		opts.Rules = DefaultRules
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Engine{
		store:   store,
		tuning:  tuning,
		opts:    opts,
		logger:  logger,
		hooks:   hooks,
		running: make(map[string]struct{}),
	}
}

// Tuning returns the scoring, surfacing and elimination configuration.
func (e *Engine) Tuning() Config { return e.tuning }

func (e *Engine) now() time.Time { return e.opts.Now() }

func (e *Engine) tracer() trace.Tracer { return otel.Tracer(tracerName) }

func (e *Engine) acquire(userID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.running[userID]; busy {
		return false
	}
	e.running[userID] = struct{}{}
	return true
}

func (e *Engine) release(userID string) {
	e.mu.Lock()
	delete(e.running, userID)
	e.mu.Unlock()
}

// RunCycle fetches, normalizes, scores, deduplicates, surfaces and retires
// items for one user. A persistence failure aborts the cycle and is
// returned; adapter, normalization, rule and effect failures are counted in
// the report and logged.
func (e *Engine) RunCycle(ctx context.Context, userID string) (*CycleReport, error) {
	if !e.acquire(userID) {
		return nil, ErrCycleRunning
	}
	defer e.release(userID)

	ctx, cancel := context.WithTimeout(ctx, e.opts.CycleDeadline)
	defer cancel()

	start := time.Now()
	rep := &CycleReport{
		ID:        ulid.Make().String(),
		UserID:    userID,
		StartedAt: e.now(),
	}
	L := e.logger.With("user", userID, "cycle_id", rep.ID)

	ctx, span := e.tracer().Start(ctx, "cycle.run", trace.WithAttributes(
		attribute.String("surfacer.user", userID),
		attribute.String("surfacer.cycle.id", rep.ID),
	))
	defer span.End()

	err := e.runCycle(ctx, L, rep)
	rep.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("surfacer.cycle.surfaced", rep.Surfaced),
		attribute.Int("surfacer.cycle.eliminated", rep.Eliminated),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		L.Error(ctx, err, "cycle failed", "duration", rep.Duration)
	} else {
		L.Info(ctx, "cycle complete",
			"duration", rep.Duration,
			"fetched", rep.Fetched,
			"created", rep.Created,
			"surfaced", rep.Surfaced,
			"responded", rep.Responded,
			"submerged", rep.Submerged,
			"eliminated", rep.Eliminated,
		)
	}
	if e.hooks.OnCycle != nil {
		e.hooks.OnCycle(rep, err)
	}
	return rep, err
}

func (e *Engine) runCycle(ctx context.Context, L log.Logger, rep *CycleReport) error {
	raws := e.fetch(ctx, L, rep)

	now := e.now()
	shown, watch, err := e.triage(ctx, L, rep, raws, now)
	if err != nil {
		return err
	}
	e.applyAll(ctx, L, rep, shown, VisibilityShown)

	responded := e.detect(ctx, L, watch)

	hidden, err := e.settle(ctx, L, rep, responded, e.now())
	if err != nil {
		return err
	}
	e.applyAll(ctx, L, rep, hidden, VisibilityHidden)
	return nil
}

// fetch fans out to every adapter. A failing adapter contributes nothing.
func (e *Engine) fetch(ctx context.Context, L log.Logger, rep *CycleReport) []Raw {
	ctx, span := e.tracer().Start(ctx, "cycle.fetch", trace.WithAttributes(
		attribute.Int("surfacer.adapters", len(e.opts.Adapters)),
	))
	defer span.End()

	results := make([][]Raw, len(e.opts.Adapters))
	failed := make([]bool, len(e.opts.Adapters))

	g, gctx := errgroup.WithContext(ctx)
	for i, a := range e.opts.Adapters {
		g.Go(func() error {
			actx, cancel := context.WithTimeout(gctx, e.opts.AdapterTimeout)
			defer cancel()

			start := time.Now()
			recs, err := a.Fetch(actx, rep.UserID)
			dur := time.Since(start).Seconds()
			if err != nil {
				aerr := &AdapterError{Adapter: a.Name(), UserID: rep.UserID, Err: err}
				L.Warn(ctx, "adapter fetch failed", "adapter", a.Name(), "err", aerr, "duration", dur)
				failed[i] = true
				recs = nil
			}
			results[i] = recs
			if e.hooks.OnFetch != nil {
				e.hooks.OnFetch(a.Name(), len(recs), dur, err != nil)
			}
			// never fail the group: one adapter must not cancel the others
			return nil
		})
	}
	_ = g.Wait()

	var out []Raw
	for i, recs := range results {
		if failed[i] {
			rep.AdapterErrors++
		}
		out = append(out, recs...)
	}
	rep.Fetched = len(out)
	span.SetAttributes(attribute.Int("surfacer.records", len(out)))
	return out
}

// triage upserts the fetched records, rescores active items, links
// duplicates and surfaces new items, all under the user lock. It returns
// the newly surfaced items and the previously surfaced items to check for
// responses.
func (e *Engine) triage(ctx context.Context, L log.Logger, rep *CycleReport, raws []Raw, now time.Time) (shown, watch []*Item, err error) {
	ctx, span := e.tracer().Start(ctx, "cycle.triage")
	defer span.End()

	err = e.store.WithUserLock(ctx, rep.UserID, func(ctx context.Context, s Store) error {
		shown, watch = nil, nil

		for _, r := range raws {
			if err := e.ingest(ctx, L, s, rep, r, now); err != nil {
				return err
			}
		}

		items, err := s.List(ctx, Filter{UserID: rep.UserID, Statuses: activeStatuses})
		if err != nil {
			return persistErr("list active items", err)
		}

		dirty := make(map[string]*Item)
		for _, it := range items {
			if Rescore(it, &e.tuning.Scoring, now) {
				dirty[it.ID] = it
				rep.Rescored++
			}
		}
		for _, it := range Rescan(items, e.tuning.DedupThreshold) {
			dirty[it.ID] = it
			rep.Linked++
		}

		var (
			eligible []*Item
			surfaced int
		)
		for _, it := range items {
			switch {
			case it.Status == StatusSurfaced:
				surfaced++
				watch = append(watch, it.Clone())
			case it.Status == StatusPending && it.Canonical():
				eligible = append(eligible, it)
			}
		}

		sel := Select(eligible, surfaced, e.tuning.Surfacing)
		for _, it := range sel.All() {
			if _, err := Transition(it, EventSurface, "", now); err != nil {
				return err
			}
			e.transitioned(EventSurface, it.Status)
			dirty[it.ID] = it
			shown = append(shown, it.Clone())
		}
		rep.Surfaced = len(shown)

		return putAll(ctx, s, dirty)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, err
	}
	span.SetAttributes(attribute.Int("surfacer.surfaced", len(shown)))
	return shown, watch, nil
}

func (e *Engine) ingest(ctx context.Context, L log.Logger, s Store, rep *CycleReport, r Raw, now time.Time) error {
	if r == nil {
		return nil
	}
	if owner := strings.TrimSpace(r.Owner()); owner == "" {
		r = WithOwner(r, rep.UserID)
	} else if owner != rep.UserID {
		e.normalizationFailed(ctx, L, rep, &NormalizationError{
			SourceType: r.Source(), SourceID: r.Key(), Field: "user_id", Reason: "belongs to another user",
		})
		return nil
	}

	_, outcome, err := Upsert(ctx, s, r, now)
	if err != nil {
		var ne *NormalizationError
		if errors.As(err, &ne) {
			e.normalizationFailed(ctx, L, rep, ne)
			return nil
		}
		return err
	}

	switch outcome {
	case UpsertCreated:
		rep.Created++
	case UpsertUpdated:
		rep.Updated++
	case UpsertUnchanged:
		rep.Unchanged++
	}
	if e.hooks.OnUpsert != nil {
		e.hooks.OnUpsert(outcome)
	}
	return nil
}

func (e *Engine) normalizationFailed(ctx context.Context, L log.Logger, rep *CycleReport, ne *NormalizationError) {
	rep.NormalizationErrors++
	L.Warn(ctx, "dropping record", "source_type", ne.SourceType, "source_id", ne.SourceID, "err", ne)
	if e.hooks.OnNormalizationError != nil {
		e.hooks.OnNormalizationError(ne.SourceType)
	}
}

// detect asks the response detector about each watched item. Errors count
// as no response.
func (e *Engine) detect(ctx context.Context, L log.Logger, watch []*Item) []string {
	if e.opts.Detector == nil || len(watch) == 0 {
		return nil
	}
	ctx, span := e.tracer().Start(ctx, "cycle.detect", trace.WithAttributes(
		attribute.Int("surfacer.watched", len(watch)),
	))
	defer span.End()

	var ids []string
	for _, it := range watch {
		dctx, cancel := context.WithTimeout(ctx, e.opts.EffectTimeout)
		ok, err := e.opts.Detector.HasResponded(dctx, it)
		cancel()
		if err != nil {
			L.Warn(ctx, "response detection failed", "item_id", it.ID, "err", err)
			continue
		}
		if ok {
			ids = append(ids, it.ID)
		}
	}
	return ids
}

// settle applies detected responses, submerges every responded item and
// runs the elimination rules. It returns the items to hide.
func (e *Engine) settle(ctx context.Context, L log.Logger, rep *CycleReport, responded []string, now time.Time) ([]*Item, error) {
	ctx, span := e.tracer().Start(ctx, "cycle.lifecycle")
	defer span.End()

	var hidden []*Item
	err := e.store.WithUserLock(ctx, rep.UserID, func(ctx context.Context, s Store) error {
		hidden = nil
		rep.Responded, rep.Submerged, rep.Eliminated, rep.RuleErrors = 0, 0, 0, 0

		all, err := s.List(ctx, Filter{UserID: rep.UserID})
		if err != nil {
			return persistErr("list items", err)
		}
		byID := make(map[string]*Item, len(all))
		for _, it := range all {
			byID[it.ID] = it
		}
		slices.SortFunc(all, func(a, b *Item) int {
			if earlier(a, b) {
				return -1
			}
			if earlier(b, a) {
				return 1
			}
			return 0
		})

		dirty := make(map[string]*Item)
		for _, id := range responded {
			it, ok := byID[id]
			if !ok || it.Status != StatusSurfaced {
				continue
			}
			if _, err := Transition(it, EventRespond, "", now); err != nil {
				return err
			}
			e.transitioned(EventRespond, it.Status)
			dirty[it.ID] = it
			rep.Responded++
		}

		for _, it := range all {
			if it.Status != StatusResponded {
				continue
			}
			if _, err := Transition(it, EventSubmerge, "", now); err != nil {
				return err
			}
			e.transitioned(EventSubmerge, it.Status)
			dirty[it.ID] = it
			hidden = append(hidden, it.Clone())
			rep.Submerged++
		}

		rc := RuleContext{
			Now:    now,
			Config: e.tuning.Elimination,
			Lookup: func(id string) (*Item, bool) {
				it, ok := byID[id]
				return it, ok
			},
		}
		for _, it := range all {
			v := Evaluate(it, e.opts.Rules, rc)
			for _, rerr := range v.RuleErrors {
				rep.RuleErrors++
				L.Warn(ctx, "elimination rule skipped", "item_id", it.ID, "err", rerr)
				var re *EliminationRuleError
				if errors.As(rerr, &re) && e.hooks.OnRuleError != nil {
					e.hooks.OnRuleError(re.Rule)
				}
			}
			if !v.Eliminate {
				continue
			}
			wasSurfaced := it.Status == StatusSurfaced
			if _, err := Transition(it, EventEliminate, v.Reason, now); err != nil {
				return err
			}
			e.transitioned(EventEliminate, it.Status)
			dirty[it.ID] = it
			rep.Eliminated++
			if wasSurfaced {
				hidden = append(hidden, it.Clone())
			}
		}

		return putAll(ctx, s, dirty)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return hidden, nil
}

func (e *Engine) transitioned(ev Event, to Status) {
	if e.hooks.OnTransition != nil {
		e.hooks.OnTransition(ev, to)
	}
}

func (e *Engine) applyAll(ctx context.Context, L log.Logger, rep *CycleReport, items []*Item, v Visibility) {
	if e.opts.Effector == nil || len(items) == 0 {
		return
	}
	ctx, span := e.tracer().Start(ctx, "cycle.effects", trace.WithAttributes(
		attribute.String("surfacer.visibility", string(v)),
		attribute.Int("surfacer.items", len(items)),
	))
	defer span.End()

	for _, it := range items {
		if err := e.Apply(ctx, it, v); err != nil {
			rep.EffectErrors++
			L.Warn(ctx, "visibility effect failed", "item_id", it.ID, "visibility", v, "err", err)
		}
	}
}

// Apply pushes a visibility change for one item under the effect timeout.
// It is a no-op without an effector.
func (e *Engine) Apply(ctx context.Context, it *Item, v Visibility) error {
	if e.opts.Effector == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.opts.EffectTimeout)
	defer cancel()
	err := e.opts.Effector.Apply(ctx, it, v)
	if e.hooks.OnEffect != nil {
		e.hooks.OnEffect(v, err != nil)
	}
	return err
}

// putAll writes items in id order so runs are reproducible.
func putAll(ctx context.Context, s Store, dirty map[string]*Item) error {
	ids := make([]string, 0, len(dirty))
	for id := range dirty {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		if err := s.Put(ctx, dirty[id]); err != nil {
			return persistErr("save item", err)
		}
	}
	return nil
}
