// Package memory provides persistent run memory for the planning layer:
// a key/value store strategies read goal-relevant facts from, plus a run
// history of executed plans that informs future planning.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Store is the key/value memory interface. Implementations must be safe
// for concurrent use.
type Store interface {
	// Read returns the value for key, with ok reporting whether it exists.
	Read(ctx context.Context, key string) (value string, ok bool, err error)

	// Write stores value under key, overwriting any existing value.
	Write(ctx context.Context, key, value string) error

	// Keys returns all keys with the given prefix, sorted ascending.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases underlying resources.
	Close() error
}

// RunRecord is one entry in the run history.
type RunRecord struct {
	ID        int64     `json:"id"`
	PlanID    string    `json:"plan_id"`
	Goal      string    `json:"goal"`
	Strategy  string    `json:"strategy"`
	Status    string    `json:"status"`
	PlanJSON  string    `json:"plan_json"`
	CreatedAt time.Time `json:"created_at"`
}

// History records executed plans for post-hoc inspection and to give
// planning strategies context about past outcomes.
type History interface {
	// SaveRun appends a run record. The record's ID is assigned by the store.
	SaveRun(ctx context.Context, rec RunRecord) error

	// RecentRuns returns up to limit records, newest first.
	RecentRuns(ctx context.Context, limit int) ([]RunRecord, error)

	// RunsForGoal returns up to limit records for the given goal, newest first.
	RunsForGoal(ctx context.Context, goal string, limit int) ([]RunRecord, error)
}

// -----------------------------------------------------------------------------
// In-Memory Implementation
// -----------------------------------------------------------------------------

// InMemory is a Store and History backed by process memory. Used in tests
// and when persistence is disabled.
type InMemory struct {
	mu     sync.RWMutex
	values map[string]string
	runs   []RunRecord
	nextID int64
}

// NewInMemory creates an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{values: make(map[string]string), nextID: 1}
}

// Read returns the value for key.
func (m *InMemory) Read(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// Write stores value under key.
func (m *InMemory) Write(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// Keys returns all keys with the given prefix, sorted ascending.
func (m *InMemory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes key.
func (m *InMemory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Close is a no-op for the in-memory store.
func (m *InMemory) Close() error { return nil }

// SaveRun appends a run record.
func (m *InMemory) SaveRun(_ context.Context, rec RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = m.nextID
	m.nextID++
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.runs = append(m.runs, rec)
	return nil
}

// RecentRuns returns up to limit records, newest first.
func (m *InMemory) RecentRuns(_ context.Context, limit int) ([]RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterRuns(m.runs, limit, func(RunRecord) bool { return true }), nil
}

// RunsForGoal returns up to limit records for the given goal, newest first.
func (m *InMemory) RunsForGoal(_ context.Context, goal string, limit int) ([]RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterRuns(m.runs, limit, func(r RunRecord) bool { return r.Goal == goal }), nil
}

func filterRuns(runs []RunRecord, limit int, keep func(RunRecord) bool) []RunRecord {
	var out []RunRecord
	for i := len(runs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if keep(runs[i]) {
			out = append(out, runs[i])
		}
	}
	return out
}
