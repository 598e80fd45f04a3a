package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/linnemanlabs/surfacer/internal/priority"
)

// Static serves a fixed set of records. Records with an owner are only
// returned for that user; records without one are returned for every user.
type Static struct {
	name string

	mu      sync.RWMutex
	records []priority.Raw
	err     error
}

// NewStatic creates a static adapter over records.
func NewStatic(name string, records ...priority.Raw) *Static {
	return &Static{name: name, records: records}
}

func (s *Static) Name() string { return s.name }

// Set replaces the served records.
func (s *Static) Set(records ...priority.Raw) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
}

// Fail makes every Fetch return err until cleared with Fail(nil).
func (s *Static) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Fetch implements priority.SourceAdapter.
func (s *Static) Fetch(ctx context.Context, userID string) ([]priority.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []priority.Raw
	for _, r := range s.records {
		if owner := r.Owner(); owner == "" || owner == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

// LoadFile reads a JSON array of raw envelopes.
func LoadFile(path string) ([]priority.Raw, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	var envelopes []json.RawMessage
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return nil, fmt.Errorf("parse records %s: %w", path, err)
	}
	out := make([]priority.Raw, 0, len(envelopes))
	for i, env := range envelopes {
		r, err := priority.DecodeRaw(env)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}
