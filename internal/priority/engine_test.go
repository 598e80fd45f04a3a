package priority_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/surfacer/internal/priority"
	"github.com/linnemanlabs/surfacer/internal/priority/memstore"
	"github.com/linnemanlabs/surfacer/internal/source"
)

// Monday, inside default working hours.
var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock { return &fakeClock{now: testNow} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type effectCall struct {
	sourceID string
	v        priority.Visibility
}

// mockEffector records every Apply call.
type mockEffector struct {
	mu    sync.Mutex
	calls []effectCall
	err   error
}

func (m *mockEffector) Apply(_ context.Context, it *priority.Item, v priority.Visibility) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, effectCall{it.SourceID, v})
	return m.err
}

func (m *mockEffector) Calls() []effectCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// mockDetector reports a response for the listed source ids.
type mockDetector struct {
	mu        sync.Mutex
	responded map[string]bool
	err       error
	asked     int
}

func (m *mockDetector) HasResponded(_ context.Context, it *priority.Item) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.asked++
	return m.responded[it.SourceID], m.err
}

// adapterFunc adapts a function to priority.SourceAdapter.
type adapterFunc struct {
	name  string
	fetch func(ctx context.Context, userID string) ([]priority.Raw, error)
}

func (a adapterFunc) Name() string { return a.name }
func (a adapterFunc) Fetch(ctx context.Context, userID string) ([]priority.Raw, error) {
	return a.fetch(ctx, userID)
}

type harness struct {
	store    *memstore.Store
	clock    *fakeClock
	engine   *priority.Engine
	svc      *priority.Service
	effector *mockEffector
}

func newHarness(t *testing.T, opts priority.EngineOptions, hooks priority.EngineHooks) *harness {
	t.Helper()
	h := &harness{
		store:    memstore.New(),
		clock:    newClock(),
		effector: &mockEffector{},
	}
	opts.Now = h.clock.Now
	if opts.Effector == nil {
		opts.Effector = h.effector
	}
	h.engine = priority.NewEngine(h.store, priority.DefaultConfig(), opts, log.Nop(), hooks)
	h.svc = priority.NewService(h.store, h.engine, log.Nop(), priority.ServiceHooks{})
	return h
}

func (h *harness) items(t *testing.T, user string, statuses ...priority.Status) []*priority.Item {
	t.Helper()
	items, err := h.store.List(context.Background(), priority.Filter{UserID: user, Statuses: statuses})
	if err != nil {
		t.Fatal(err)
	}
	return items
}

func sourceIDs(items []*priority.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.SourceID)
	}
	slices.Sort(out)
	return out
}

// documents returns n distinct generic records with strictly ordered
// creation times.
func documents(n int) []priority.Raw {
	out := make([]priority.Raw, n)
	for i := range n {
		deadline := testNow.Add(time.Duration(i+1) * 3 * time.Hour)
		out[i] = &priority.GenericRaw{
			ID:        fmt.Sprintf("doc-%02d", i),
			Title:     fmt.Sprintf("Review document %02d", i),
			Category:  "task",
			Deadline:  &deadline,
			CreatedAt: testNow.Add(-time.Duration(i) * time.Minute),
		}
	}
	return out
}

func TestRunCycle_SurfacesAtMostK(t *testing.T) {
	t.Parallel()

	feed := source.NewStatic("docs", documents(15)...)
	h := newHarness(t, priority.EngineOptions{Adapters: []priority.SourceAdapter{feed}}, priority.EngineHooks{})
	ctx := context.Background()

	rep, err := h.engine.RunCycle(ctx, "u1")
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if rep.Fetched != 15 || rep.Created != 15 {
		t.Errorf("fetched/created = %d/%d, want 15/15", rep.Fetched, rep.Created)
	}
	if rep.Surfaced != 10 {
		t.Errorf("surfaced = %d, want 10", rep.Surfaced)
	}
	first := sourceIDs(h.items(t, "u1", priority.StatusSurfaced))
	if len(first) != 10 {
		t.Fatalf("stored surfaced = %d, want 10", len(first))
	}
	if n := len(h.effector.Calls()); n != 10 {
		t.Errorf("effector calls = %d, want 10", n)
	}

	rep, err = h.engine.RunCycle(ctx, "u1")
	if err != nil {
		t.Fatalf("second RunCycle: %v", err)
	}
	if rep.Created != 0 || rep.Unchanged != 15 || rep.Surfaced != 0 || rep.Rescored != 0 {
		t.Errorf("second cycle not idempotent: %+v", rep)
	}
	if diff := cmp.Diff(first, sourceIDs(h.items(t, "u1", priority.StatusSurfaced))); diff != "" {
		t.Errorf("surfaced set changed (-first +second):\n%s", diff)
	}
}

func TestRunCycle_Deterministic(t *testing.T) {
	t.Parallel()

	run := func() []string {
		feed := source.NewStatic("docs", documents(15)...)
		h := newHarness(t, priority.EngineOptions{Adapters: []priority.SourceAdapter{feed}}, priority.EngineHooks{})
		if _, err := h.engine.RunCycle(context.Background(), "u1"); err != nil {
			t.Fatalf("RunCycle: %v", err)
		}
		return sourceIDs(h.items(t, "u1", priority.StatusSurfaced))
	}

	if diff := cmp.Diff(run(), run()); diff != "" {
		t.Errorf("independent runs disagree (-first +second):\n%s", diff)
	}
}

func TestRunCycle_MeetingDeadlinePasses(t *testing.T) {
	t.Parallel()

	meeting := &priority.MeetingRaw{
		UserID:  "u1",
		EventID: "ev-1",
		Summary: "Vendor call",
		Start:   testNow.Add(30 * time.Minute),
	}
	feed := source.NewStatic("calendar", meeting)
	h := newHarness(t, priority.EngineOptions{Adapters: []priority.SourceAdapter{feed}}, priority.EngineHooks{})
	ctx := context.Background()

	if _, err := h.engine.RunCycle(ctx, "u1"); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if got := h.items(t, "u1", priority.StatusSurfaced); len(got) != 1 {
		t.Fatalf("surfaced = %d, want 1", len(got))
	}

	h.clock.Advance(time.Hour)
	rep, err := h.engine.RunCycle(ctx, "u1")
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if rep.Eliminated != 1 {
		t.Errorf("eliminated = %d, want 1", rep.Eliminated)
	}

	gone := h.items(t, "u1", priority.StatusEliminated)
	if len(gone) != 1 {
		t.Fatalf("eliminated items = %d, want 1", len(gone))
	}
	if gone[0].EliminationReason != priority.ReasonDeadlinePassed {
		t.Errorf("reason = %q, want %q", gone[0].EliminationReason, priority.ReasonDeadlinePassed)
	}

	want := []effectCall{{"ev-1", priority.VisibilityShown}, {"ev-1", priority.VisibilityHidden}}
	if diff := cmp.Diff(want, h.effector.Calls(), cmp.AllowUnexported(effectCall{})); diff != "" {
		t.Errorf("effects (-want +got):\n%s", diff)
	}
}

func TestRunCycle_ResponseSubmerges(t *testing.T) {
	t.Parallel()

	det := &mockDetector{responded: map[string]bool{}}
	feed := source.NewStatic("docs", documents(2)...)
	h := newHarness(t, priority.EngineOptions{
		Adapters: []priority.SourceAdapter{feed},
		Detector: det,
	}, priority.EngineHooks{})
	ctx := context.Background()

	if _, err := h.engine.RunCycle(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if det.asked != 0 {
		t.Errorf("detector asked %d times before anything surfaced", det.asked)
	}

	det.mu.Lock()
	det.responded["doc-00"] = true
	det.mu.Unlock()

	rep, err := h.engine.RunCycle(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if rep.Responded != 1 || rep.Submerged != 1 {
		t.Errorf("responded/submerged = %d/%d, want 1/1", rep.Responded, rep.Submerged)
	}

	sub := h.items(t, "u1", priority.StatusSubmerged)
	if diff := cmp.Diff([]string{"doc-00"}, sourceIDs(sub)); diff != "" {
		t.Errorf("submerged (-want +got):\n%s", diff)
	}
	if sub[0].RespondedAt == nil || sub[0].SubmergedAt == nil {
		t.Errorf("timestamps not set: %+v", sub[0])
	}
	calls := h.effector.Calls()
	if last := calls[len(calls)-1]; last != (effectCall{"doc-00", priority.VisibilityHidden}) {
		t.Errorf("last effect = %+v, want hidden doc-00", last)
	}
}

func TestRunCycle_DetectorErrorIsNoResponse(t *testing.T) {
	t.Parallel()

	det := &mockDetector{responded: map[string]bool{"doc-00": true}, err: errors.New("mail api down")}
	feed := source.NewStatic("docs", documents(1)...)
	h := newHarness(t, priority.EngineOptions{Adapters: []priority.SourceAdapter{feed}, Detector: det}, priority.EngineHooks{})

	for range 2 {
		if _, err := h.engine.RunCycle(context.Background(), "u1"); err != nil {
			t.Fatal(err)
		}
	}
	if got := h.items(t, "u1", priority.StatusSurfaced); len(got) != 1 {
		t.Errorf("surfaced = %d, want 1", len(got))
	}
}

func TestRunCycle_AdapterFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	bad := source.NewStatic("crm")
	bad.Fail(errors.New("crm unreachable"))
	good := source.NewStatic("docs", documents(1)...)

	var (
		mu      sync.Mutex
		fetches = map[string]bool{}
	)
	h := newHarness(t, priority.EngineOptions{Adapters: []priority.SourceAdapter{bad, good}}, priority.EngineHooks{
		OnFetch: func(adapter string, _ int, _ float64, isError bool) {
			mu.Lock()
			defer mu.Unlock()
			fetches[adapter] = isError
		},
	})

	rep, err := h.engine.RunCycle(context.Background(), "u1")
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if rep.AdapterErrors != 1 || rep.Created != 1 {
		t.Errorf("adapter errors/created = %d/%d, want 1/1", rep.AdapterErrors, rep.Created)
	}
	if diff := cmp.Diff(map[string]bool{"crm": true, "docs": false}, fetches); diff != "" {
		t.Errorf("fetch hooks (-want +got):\n%s", diff)
	}
}

func TestRunCycle_DropsMalformedAndForeignRecords(t *testing.T) {
	t.Parallel()

	feed := adapterFunc{name: "mixed", fetch: func(context.Context, string) ([]priority.Raw, error) {
		return []priority.Raw{
			&priority.TaskRaw{TaskID: "t-1", Title: "   "},
			&priority.TaskRaw{UserID: "u2", TaskID: "t-2", Title: "Not mine"},
			&priority.TaskRaw{TaskID: "t-3", Title: "Mine"},
			nil,
		}, nil
	}}

	var dropped []priority.SourceType
	h := newHarness(t, priority.EngineOptions{Adapters: []priority.SourceAdapter{feed}}, priority.EngineHooks{
		OnNormalizationError: func(s priority.SourceType) { dropped = append(dropped, s) },
	})

	rep, err := h.engine.RunCycle(context.Background(), "u1")
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if rep.NormalizationErrors != 2 || rep.Created != 1 {
		t.Errorf("normalization errors/created = %d/%d, want 2/1", rep.NormalizationErrors, rep.Created)
	}
	if len(dropped) != 2 {
		t.Errorf("hook saw %d drops, want 2", len(dropped))
	}
	items := h.items(t, "u1")
	if len(items) != 1 || items[0].UserID != "u1" || items[0].SourceID != "t-3" {
		t.Errorf("stored items = %+v", items)
	}
	if other := h.items(t, "u2"); len(other) != 0 {
		t.Errorf("foreign record stored for u2: %d items", len(other))
	}
}

func TestRunCycle_LinksDuplicates(t *testing.T) {
	t.Parallel()

	feed := source.NewStatic("mixed",
		&priority.EmailRaw{MessageID: "m-1", Subject: "Follow up with Acme Corp", ReceivedAt: testNow.Add(-time.Hour)},
		&priority.TaskRaw{TaskID: "t-1", Title: "follow up w/ acme corp", CreatedAt: testNow},
	)
	h := newHarness(t, priority.EngineOptions{Adapters: []priority.SourceAdapter{feed}}, priority.EngineHooks{})

	rep, err := h.engine.RunCycle(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if rep.Linked != 1 || rep.Surfaced != 1 {
		t.Errorf("linked/surfaced = %d/%d, want 1/1", rep.Linked, rep.Surfaced)
	}

	email, _, _ := h.store.GetBySource(context.Background(), priority.SourceEmail, "m-1")
	task, _, _ := h.store.GetBySource(context.Background(), priority.SourceTask, "t-1")
	if task.DedupGroup != email.ID {
		t.Errorf("task dedup_group = %q, want %q", task.DedupGroup, email.ID)
	}
	if email.Status != priority.StatusSurfaced || task.Status != priority.StatusPending {
		t.Errorf("statuses = %s/%s, want surfaced/pending", email.Status, task.Status)
	}
}

func TestRunCycle_SurfacedDuplicateArrivesLater(t *testing.T) {
	t.Parallel()

	generic := &priority.GenericRaw{ID: "g-1", Title: "Follow up with Acme Corp", CreatedAt: testNow}
	feed := source.NewStatic("mixed", generic)
	h := newHarness(t, priority.EngineOptions{Adapters: []priority.SourceAdapter{feed}}, priority.EngineHooks{})
	ctx := context.Background()

	if _, err := h.engine.RunCycle(ctx, "u1"); err != nil {
		t.Fatal(err)
	}

	// older message only shows up once the generic item is already surfaced
	feed.Set(generic, &priority.EmailRaw{MessageID: "m-1", Subject: "follow up w/ acme corp", ReceivedAt: testNow.Add(-2 * time.Hour)})
	h.clock.Advance(time.Minute)
	rep, err := h.engine.RunCycle(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if rep.Linked != 1 || rep.Surfaced != 0 {
		t.Errorf("linked/surfaced = %d/%d, want 1/0", rep.Linked, rep.Surfaced)
	}

	g, _, _ := h.store.GetBySource(ctx, priority.SourceGeneric, "g-1")
	email, _, _ := h.store.GetBySource(ctx, priority.SourceEmail, "m-1")
	if email.DedupGroup != g.ID || !g.Canonical() {
		t.Errorf("email dedup_group = %q, generic dedup_group = %q; want email -> %s", email.DedupGroup, g.DedupGroup, g.ID)
	}
	if email.Status != priority.StatusPending {
		t.Errorf("email status = %s, want pending", email.Status)
	}
	if got := sourceIDs(h.items(t, "u1", priority.StatusSurfaced)); !slices.Equal(got, []string{"g-1"}) {
		t.Errorf("surfaced = %v, want [g-1]", got)
	}
}

func TestRunCycle_UntouchedItemGoesStale(t *testing.T) {
	t.Parallel()

	feed := source.NewStatic("chores", &priority.GenericRaw{ID: "plants", Title: "Water the office plants", CreatedAt: testNow})
	h := newHarness(t, priority.EngineOptions{Adapters: []priority.SourceAdapter{feed}}, priority.EngineHooks{})
	ctx := context.Background()

	stale := priority.DefaultConfig().Elimination.StaleAfter
	start := h.clock.Now()
	for h.clock.Now().Sub(start) < 30*24*time.Hour {
		if _, err := h.engine.RunCycle(ctx, "u1"); err != nil {
			t.Fatalf("RunCycle at %v: %v", h.clock.Now(), err)
		}
		it, _, _ := h.store.GetBySource(ctx, priority.SourceGeneric, "plants")
		if it.Status == priority.StatusEliminated {
			break
		}
		h.clock.Advance(6 * time.Hour)
	}

	it, _, _ := h.store.GetBySource(ctx, priority.SourceGeneric, "plants")
	if it.Status != priority.StatusEliminated || it.EliminationReason != priority.ReasonStale {
		t.Fatalf("after 30 days of cycles: status=%s reason=%q, want eliminated/stale", it.Status, it.EliminationReason)
	}
	if age := h.clock.Now().Sub(start); age <= stale || age > stale+6*time.Hour {
		t.Errorf("eliminated after %v, want within one cycle past %v", age, stale)
	}
	calls := h.effector.Calls()
	if last := calls[len(calls)-1]; last != (effectCall{"plants", priority.VisibilityHidden}) {
		t.Errorf("last effect = %+v, want hidden plants", last)
	}
}

func TestRunCycle_AlreadyRunning(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	slow := adapterFunc{name: "slow", fetch: func(ctx context.Context, userID string) ([]priority.Raw, error) {
		if userID == "u1" {
			once.Do(func() { close(started) })
			select {
			case <-release:
			case <-ctx.Done():
			}
		}
		return nil, nil
	}}
	h := newHarness(t, priority.EngineOptions{Adapters: []priority.SourceAdapter{slow}}, priority.EngineHooks{})

	done := make(chan error, 1)
	go func() {
		_, err := h.engine.RunCycle(context.Background(), "u1")
		done <- err
	}()
	<-started

	if _, err := h.engine.RunCycle(context.Background(), "u1"); !errors.Is(err, priority.ErrCycleRunning) {
		t.Errorf("concurrent cycle err = %v, want ErrCycleRunning", err)
	}
	if _, err := h.engine.RunCycle(context.Background(), "u2"); err != nil {
		t.Errorf("other user blocked: %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if _, err := h.engine.RunCycle(context.Background(), "u1"); err != nil {
		t.Errorf("cycle after release: %v", err)
	}
}

// failingStore fails every Put, including inside locked sections.
type failingStore struct {
	priority.Store
}

func (f failingStore) Put(context.Context, *priority.Item) error {
	return errors.New("disk full")
}

func (f failingStore) WithUserLock(ctx context.Context, userID string, fn func(context.Context, priority.Store) error) error {
	return f.Store.WithUserLock(ctx, userID, func(ctx context.Context, s priority.Store) error {
		return fn(ctx, failingStore{s})
	})
}

func TestRunCycle_PersistenceFailureAborts(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	var (
		cycleErr error
		calls    int
	)
	engine := priority.NewEngine(failingStore{store}, priority.DefaultConfig(), priority.EngineOptions{
		Adapters: []priority.SourceAdapter{source.NewStatic("docs", documents(3)...)},
		Now:      newClock().Now,
	}, log.Nop(), priority.EngineHooks{
		OnCycle: func(_ *priority.CycleReport, err error) {
			calls++
			cycleErr = err
		},
	})

	_, err := engine.RunCycle(context.Background(), "u1")
	var pe *priority.PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *PersistenceError", err)
	}
	if calls != 1 || !errors.Is(cycleErr, err) {
		t.Errorf("OnCycle calls=%d err=%v", calls, cycleErr)
	}
	if users, _ := store.Users(context.Background()); len(users) != 0 {
		t.Errorf("partial writes left behind for %v", users)
	}
}

func TestRunCycle_EffectErrorsAreCounted(t *testing.T) {
	t.Parallel()

	eff := &mockEffector{err: errors.New("slack 500")}
	h := newHarness(t, priority.EngineOptions{
		Adapters: []priority.SourceAdapter{source.NewStatic("docs", documents(2)...)},
		Effector: eff,
	}, priority.EngineHooks{})

	rep, err := h.engine.RunCycle(context.Background(), "u1")
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if rep.EffectErrors != 2 {
		t.Errorf("effect errors = %d, want 2", rep.EffectErrors)
	}
	if got := h.items(t, "u1", priority.StatusSurfaced); len(got) != 2 {
		t.Errorf("surfaced = %d, want 2 despite effect errors", len(got))
	}
}

func TestRunCycle_Hooks(t *testing.T) {
	t.Parallel()

	var (
		mu          sync.Mutex
		upserts     = map[priority.UpsertOutcome]int{}
		transitions = map[priority.Event]int{}
		effects     int
		report      *priority.CycleReport
	)
	hooks := priority.EngineHooks{
		OnUpsert: func(o priority.UpsertOutcome) {
			mu.Lock()
			defer mu.Unlock()
			upserts[o]++
		},
		OnTransition: func(ev priority.Event, _ priority.Status) {
			mu.Lock()
			defer mu.Unlock()
			transitions[ev]++
		},
		OnEffect: func(priority.Visibility, bool) {
			mu.Lock()
			defer mu.Unlock()
			effects++
		},
		OnCycle: func(r *priority.CycleReport, _ error) { report = r },
	}
	h := newHarness(t, priority.EngineOptions{
		Adapters: []priority.SourceAdapter{source.NewStatic("docs", documents(3)...)},
	}, hooks)

	if _, err := h.engine.RunCycle(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}

	if upserts[priority.UpsertCreated] != 3 {
		t.Errorf("created upserts = %d, want 3", upserts[priority.UpsertCreated])
	}
	if transitions[priority.EventSurface] != 3 {
		t.Errorf("surface transitions = %d, want 3", transitions[priority.EventSurface])
	}
	if effects != 3 {
		t.Errorf("effects = %d, want 3", effects)
	}
	if report == nil || report.UserID != "u1" || report.ID == "" || report.Duration <= 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestRunCycle_CreatesSpans(t *testing.T) {
	// Not parallel: swaps the global OTel tracer provider.

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	h := newHarness(t, priority.EngineOptions{
		Adapters: []priority.SourceAdapter{source.NewStatic("docs", documents(2)...)},
		Detector: &mockDetector{},
	}, priority.EngineHooks{})
	for range 2 {
		if _, err := h.engine.RunCycle(context.Background(), "u1"); err != nil {
			t.Fatal(err)
		}
	}

	counts := make(map[string]int)
	for _, s := range exporter.GetSpans() {
		counts[s.Name]++
	}
	want := map[string]int{
		"cycle.run":       2,
		"cycle.fetch":     2,
		"cycle.triage":    2,
		"cycle.lifecycle": 2,
		"cycle.effects":   1,
		"cycle.detect":    1,
	}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Errorf("span counts (-want +got):\n%s", diff)
	}

	for _, s := range exporter.GetSpans() {
		if s.Name != "cycle.run" {
			continue
		}
		attrs := make(map[string]any)
		for _, a := range s.Attributes {
			attrs[string(a.Key)] = a.Value.AsInterface()
		}
		if v := attrs["surfacer.user"]; v != "u1" {
			t.Errorf("cycle.run surfacer.user = %v, want u1", v)
		}
		if _, ok := attrs["surfacer.cycle.id"]; !ok {
			t.Error("cycle.run missing surfacer.cycle.id")
		}
	}
}
