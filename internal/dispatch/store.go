// Package dispatch owns the run lifecycle: idempotent run creation, pipeline
// execution, scheduling, and stale-run sweeping.
package dispatch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"sheetbridge/internal/models"
)

var (
	// ErrDuplicateRun means a run with this id was already dispatched.
	ErrDuplicateRun = errors.New("run id already dispatched")
	// ErrRunInProgress means the configuration already has a live run.
	ErrRunInProgress = errors.New("configuration has a run in progress")
	// ErrRunNotFound means no run with this id exists.
	ErrRunNotFound = errors.New("run not found")
)

// RunStore persists run records. Create must be atomic with respect to both
// uniqueness guarantees: one record per run id, one live run per config.
type RunStore interface {
	Create(ctx context.Context, run *models.RunRecord) error
	Get(ctx context.Context, runID string) (*models.RunRecord, error)
	Update(ctx context.Context, run *models.RunRecord) error
	ListByConfig(ctx context.Context, configID string, limit int) ([]*models.RunRecord, error)
	ListLive(ctx context.Context) ([]*models.RunRecord, error)
}

// MemoryStore is the in-process RunStore for tests and single-node dev.
type MemoryStore struct {
	mu   sync.Mutex
	runs map[string]*models.RunRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*models.RunRecord)}
}

func (s *MemoryStore) Create(_ context.Context, run *models.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.RunID]; ok {
		return ErrDuplicateRun
	}
	for _, r := range s.runs {
		if r.ConfigID == run.ConfigID && !r.Terminal() {
			return ErrRunInProgress
		}
	}
	cp := *run
	s.runs[run.RunID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, runID string) (*models.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) Update(_ context.Context, run *models.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.RunID]; !ok {
		return ErrRunNotFound
	}
	cp := *run
	s.runs[run.RunID] = &cp
	return nil
}

func (s *MemoryStore) ListByConfig(_ context.Context, configID string, limit int) ([]*models.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.RunRecord
	for _, r := range s.runs {
		if r.ConfigID == configID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListLive(_ context.Context) ([]*models.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.RunRecord
	for _, r := range s.runs {
		if !r.Terminal() {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// now is swapped in sweeper tests.
var now = time.Now
