package priority

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// DefaultCycleInterval is how often the scheduler starts a pass.
const DefaultCycleInterval = 60 * time.Second

// Scheduler runs a cycle for every known user on a fixed interval. A pass
// still running when the next tick fires causes that tick to be skipped.
type Scheduler struct {
	engine   *Engine
	users    []string
	interval time.Duration
	logger   log.Logger

	running atomic.Bool
	wg      sync.WaitGroup

	// onPass is called after each pass, used by tests.
	onPass func(users int)
}

// NewScheduler creates a scheduler. users are cycled in addition to every
// user the store already knows about.
func NewScheduler(engine *Engine, users []string, interval time.Duration, logger log.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultCycleInterval
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Scheduler{
		engine:   engine,
		users:    slices.Clone(users),
		interval: interval,
		logger:   logger,
	}
}

// Run starts an immediate pass and then one per interval until ctx is
// cancelled. It waits for an in-flight pass before returning.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer s.wg.Wait()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn(ctx, "previous cycle pass still running, skipping tick")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		n := s.RunOnce(ctx)
		if s.onPass != nil {
			s.onPass(n)
		}
	}()
}

// RunOnce cycles every user sequentially and returns how many were cycled.
// A failing user does not stop the pass.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	users, err := s.Users(ctx)
	if err != nil {
		s.logger.Error(ctx, err, "failed to list users, cycling configured users only")
	}
	n := 0
	for _, u := range users {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.engine.RunCycle(ctx, u); err != nil {
			if errors.Is(err, ErrCycleRunning) {
				s.logger.Warn(ctx, "cycle already running, skipping user", "user", u)
			}
			continue
		}
		n++
	}
	return n
}

// Users is the sorted union of the configured users and the store's users.
// On a store error the configured users are still returned.
func (s *Scheduler) Users(ctx context.Context) ([]string, error) {
	known, err := s.engine.store.Users(ctx)
	all := append(slices.Clone(s.users), known...)
	slices.Sort(all)
	return slices.Compact(all), err
}
