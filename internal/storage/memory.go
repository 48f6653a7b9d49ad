package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"thermoters/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunRecord
	seq         map[string]int
	next        int
	snapshots   map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.RunRecord)
	s.seq = make(map[string]int)
	s.next = 0
	s.snapshots = make(map[string][]byte)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return err
	}
	if _, ok := s.seq[run.ID]; !ok {
		s.seq[run.ID] = s.next
		s.next++
	}
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	return run, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context, kind string) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		if kind != "" && run.Kind != kind {
			continue
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAtUTC != out[j].CreatedAtUTC {
			return out[i].CreatedAtUTC < out[j].CreatedAtUTC
		}
		return s.seq[out[i].ID] < s.seq[out[j].ID]
	})
	return out, nil
}

func (s *MemoryStore) DeleteRun(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.runs, id)
	delete(s.seq, id)
	delete(s.snapshots, id)
	return nil
}

func (s *MemoryStore) SaveModelSnapshot(_ context.Context, runID string, bundle []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.snapshots[runID] = append([]byte(nil), bundle...)
	return nil
}

func (s *MemoryStore) GetModelSnapshot(_ context.Context, runID string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bundle, ok := s.snapshots[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), bundle...), true, nil
}
