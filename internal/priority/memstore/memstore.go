// Package memstore provides an in-memory implementation of priority.Store.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/linnemanlabs/surfacer/internal/priority"
)

type sourceKey struct {
	typ priority.SourceType
	id  string
}

// Store holds priority items in memory. Suitable for dev/testing.
type Store struct {
	mu      sync.RWMutex
	items   map[string]*priority.Item // item ID -> item
	sources map[sourceKey]string      // (source_type, source_id) -> item ID

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex // user ID -> cycle lock
}

var _ priority.Store = (*Store)(nil)

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		items:   make(map[string]*priority.Item),
		sources: make(map[sourceKey]string),
		locks:   make(map[string]*sync.Mutex),
	}
}

// Get retrieves an item by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*priority.Item, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return nil, false, nil
	}
	return it.Clone(), true, nil
}

// GetBySource retrieves an item by its natural key. Returns a copy.
func (s *Store) GetBySource(_ context.Context, typ priority.SourceType, sourceID string) (*priority.Item, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.sources[sourceKey{typ, sourceID}]
	if !ok {
		return nil, false, nil
	}
	return s.items[id].Clone(), true, nil
}

// Put stores a copy of the item. The natural key must not belong to a
// different item.
func (s *Store) Put(_ context.Context, it *priority.Item) error {
	if it.ID == "" {
		return fmt.Errorf("memstore: item has no id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sourceKey{it.SourceType, it.SourceID}
	if owner, ok := s.sources[key]; ok && owner != it.ID {
		return fmt.Errorf("memstore: source %s/%s already stored as item %s", it.SourceType, it.SourceID, owner)
	}
	if prev, ok := s.items[it.ID]; ok {
		delete(s.sources, sourceKey{prev.SourceType, prev.SourceID})
	}
	s.items[it.ID] = it.Clone()
	s.sources[key] = it.ID
	return nil
}

// List returns copies of the matching items ordered by creation time, then id.
func (s *Store) List(_ context.Context, f priority.Filter) ([]*priority.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*priority.Item
	for _, it := range s.items {
		if f.Match(it) {
			out = append(out, it.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *priority.Item) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}

// Users returns every user that owns at least one item, sorted.
func (s *Store) Users(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, it := range s.items {
		if _, ok := seen[it.UserID]; ok {
			continue
		}
		seen[it.UserID] = struct{}{}
		out = append(out, it.UserID)
	}
	slices.Sort(out)
	return out, nil
}

func (s *Store) userLock(userID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// WithUserLock serializes fn against other locked sections for the same
// user. If fn fails, the user's items are restored to their state before fn.
func (s *Store) WithUserLock(ctx context.Context, userID string, fn func(ctx context.Context, st priority.Store) error) error {
	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snap := s.snapshot(userID)
	if err := fn(ctx, s); err != nil {
		s.restore(userID, snap)
		return err
	}
	return nil
}

func (s *Store) snapshot(userID string) map[string]*priority.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := make(map[string]*priority.Item)
	for id, it := range s.items {
		if it.UserID == userID {
			snap[id] = it.Clone()
		}
	}
	return snap
}

func (s *Store) restore(userID string, snap map[string]*priority.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, it := range s.items {
		if it.UserID != userID {
			continue
		}
		delete(s.sources, sourceKey{it.SourceType, it.SourceID})
		delete(s.items, id)
	}
	for id, it := range snap {
		s.items[id] = it
		s.sources[sourceKey{it.SourceType, it.SourceID}] = id
	}
}
