// Package history keeps session records for read-only status queries.
package history

import (
	"context"
	"sync"

	"github.com/Mindburn-Labs/lattice/pkg/contracts"
)

// Store persists the latest snapshot of each session.
type Store interface {
	Save(ctx context.Context, rec contracts.SessionRecord) error
	Get(ctx context.Context, sessionID string) (contracts.SessionRecord, error)
}

// MemoryStore is a bounded in-process store. When full, the oldest session
// (by first save) is evicted.
type MemoryStore struct {
	mu      sync.RWMutex
	max     int
	records map[string]contracts.SessionRecord
	order   []string
}

// NewMemoryStore creates a store holding at most maxSessions records.
func NewMemoryStore(maxSessions int) *MemoryStore {
	if maxSessions <= 0 {
		maxSessions = 10000
	}
	return &MemoryStore{
		max:     maxSessions,
		records: make(map[string]contracts.SessionRecord),
	}
}

func (m *MemoryStore) Save(_ context.Context, rec contracts.SessionRecord) error {
	rec = cloneRecord(rec)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[rec.SessionID]; !ok {
		if len(m.order) >= m.max {
			oldest := m.order[0]
			m.order = m.order[1:]
			delete(m.records, oldest)
		}
		m.order = append(m.order, rec.SessionID)
	}
	m.records[rec.SessionID] = rec
	return nil
}

func (m *MemoryStore) Get(_ context.Context, sessionID string) (contracts.SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[sessionID]
	if !ok {
		return contracts.SessionRecord{}, contracts.ErrSessionNotFound
	}
	return cloneRecord(rec), nil
}

// Len is the number of retained sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func cloneRecord(rec contracts.SessionRecord) contracts.SessionRecord {
	out := rec
	out.History = append([]contracts.StateTransition(nil), rec.History...)
	if rec.Result != nil {
		res := *rec.Result
		res.Votes = append([]contracts.NodeVote(nil), rec.Result.Votes...)
		out.Result = &res
	}
	return out
}
