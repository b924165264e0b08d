package predictlog

import (
	"context"
	"fmt"
	"sync"

	"github.com/kjstillabower/rainfall-advisory-service/internal/models"
)

// MemoryStore is an in-process Store, used in tests and when no log path is configured.
type MemoryStore struct {
	mu        sync.Mutex
	records   []models.PredictionRecord
	appendErr error
	tailErr   error
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// FailAppends makes subsequent appends fail with err wrapped in ErrStorage. Pass nil to clear.
func (m *MemoryStore) FailAppends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendErr = err
}

// FailReads makes subsequent Tail calls fail with err wrapped in ErrUnreadable. Pass nil to clear.
func (m *MemoryStore) FailReads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tailErr = err
}

// Append implements Store.
func (m *MemoryStore) Append(ctx context.Context, rec models.PredictionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return fmt.Errorf("%w: %w", ErrStorage, m.appendErr)
	}
	m.records = append(m.records, rec)
	return nil
}

// Tail implements Store.
func (m *MemoryStore) Tail(ctx context.Context, n int) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tailErr != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrUnreadable, m.tailErr)
	}
	state := StateAbsent
	if m.records != nil {
		state = StatePresent
	}
	if n <= 0 {
		return Snapshot{State: state, Records: []models.PredictionRecord{}}, nil
	}
	start := 0
	if len(m.records) > n {
		start = len(m.records) - n
	}
	out := make([]models.PredictionRecord, len(m.records)-start)
	copy(out, m.records[start:])
	return Snapshot{State: state, Records: out}, nil
}

// ReadRecent implements Store.
func (m *MemoryStore) ReadRecent(ctx context.Context, n int) []models.PredictionRecord {
	snap, err := m.Tail(ctx, n)
	if err != nil {
		return []models.PredictionRecord{}
	}
	return snap.Records
}
