package storage

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process RunStore. The monitor loop falls back to it
// when no database is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	runs   map[int64]RunRecord
	locks  map[int64]bool
	now    func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[int64]RunRecord), locks: make(map[int64]bool), now: time.Now}
}

// TryAdvisoryLock takes an in-process lock on key.
func (m *MemoryStore) TryAdvisoryLock(_ context.Context, key int64) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.locks[key] {
		return nil, false, nil
	}
	m.locks[key] = true
	unlock := func() {
		m.mu.Lock()
		delete(m.locks, key)
		m.mu.Unlock()
	}
	return unlock, true, nil
}

// InsertRun stores a copy of run.
func (m *MemoryStore) InsertRun(_ context.Context, run RunRecord) (RunRecord, error) {
	if err := validateRun(run); err != nil {
		return RunRecord{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	run.ID = m.nextID
	run.CreatedAt = m.now().UTC()
	run.Attribution = maps.Clone(run.Attribution)
	m.runs[run.ID] = run
	return copyRun(run), nil
}

// GetRun returns ErrNotFound for unknown IDs.
func (m *MemoryStore) GetRun(_ context.Context, id int64) (RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[id]
	if !ok {
		return RunRecord{}, ErrNotFound
	}
	return copyRun(run), nil
}

// FindRunByLabel returns the newest run carrying label.
func (m *MemoryStore) FindRunByLabel(_ context.Context, label string) (RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		found RunRecord
		ok    bool
	)
	for _, run := range m.runs {
		if run.Label == label && (!ok || run.ID > found.ID) {
			found, ok = run, true
		}
	}
	if !ok {
		return RunRecord{}, ErrNotFound
	}
	return copyRun(found), nil
}

// ListRecentRuns returns up to limit runs, newest first.
func (m *MemoryStore) ListRecentRuns(_ context.Context, limit int) ([]RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]RunRecord, 0, len(m.runs))
	for _, run := range m.runs {
		out = append(out, copyRun(run))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkRunAlerted flags a stored run.
func (m *MemoryStore) MarkRunAlerted(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	run.Alerted = true
	m.runs[id] = run
	return nil
}

// DeleteRunsBefore drops runs created before olderThan.
func (m *MemoryStore) DeleteRunsBefore(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for id, run := range m.runs {
		if run.CreatedAt.Before(olderThan) {
			delete(m.runs, id)
			removed++
		}
	}
	return removed, nil
}

func copyRun(run RunRecord) RunRecord {
	run.Attribution = maps.Clone(run.Attribution)
	return run
}

var (
	_ RunStore       = (*MemoryStore)(nil)
	_ AdvisoryLocker = (*MemoryStore)(nil)
	_ RunStore       = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
