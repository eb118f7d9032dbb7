package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Mindburn-Labs/lattice/pkg/contracts"
)

const genesis = "genesis"

// ChainedEntry is an audit entry linked to its predecessor.
type ChainedEntry struct {
	Sequence     uint64               `json:"sequence"`
	Entry        contracts.AuditEntry `json:"entry"`
	PreviousHash string               `json:"previous_hash"`
	ChainHash    string               `json:"chain_hash"`
}

// MemoryAuditStore keeps entries in process, hash chained in append order.
type MemoryAuditStore struct {
	mu        sync.RWMutex
	entries   []*ChainedEntry
	bySession map[string]*ChainedEntry
	chainHead string
}

// NewMemoryAuditStore creates an empty store.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{
		bySession: make(map[string]*ChainedEntry),
		chainHead: genesis,
	}
}

// Append records entry unless its session is already present.
func (s *MemoryAuditStore) Append(_ context.Context, entry contracts.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bySession[entry.SessionID]; ok {
		return nil
	}

	c := &ChainedEntry{
		Sequence:     uint64(len(s.entries)) + 1,
		Entry:        entry,
		PreviousHash: s.chainHead,
	}
	hash, err := chainHash(c)
	if err != nil {
		return err
	}
	c.ChainHash = hash

	s.entries = append(s.entries, c)
	s.bySession[entry.SessionID] = c
	s.chainHead = hash
	return nil
}

// Get returns the entry recorded for sessionID.
func (s *MemoryAuditStore) Get(_ context.Context, sessionID string) (contracts.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.bySession[sessionID]
	if !ok {
		return contracts.AuditEntry{}, ErrNotFound
	}
	return c.Entry, nil
}

// List returns up to limit entries, newest first.
func (s *MemoryAuditStore) List(_ context.Context, limit int) ([]contracts.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.entries) {
		limit = len(s.entries)
	}
	out := make([]contracts.AuditEntry, 0, limit)
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.entries[i].Entry)
	}
	return out, nil
}

// Len is the number of recorded sessions.
func (s *MemoryAuditStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// ChainHead returns the hash of the last appended entry.
func (s *MemoryAuditStore) ChainHead() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chainHead
}

// VerifyChain recomputes every link.
func (s *MemoryAuditStore) VerifyChain() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prev := genesis
	for _, c := range s.entries {
		if c.PreviousHash != prev {
			return fmt.Errorf("%w at sequence %d: previous hash mismatch", ErrChainBroken, c.Sequence)
		}
		want, err := chainHash(c)
		if err != nil {
			return err
		}
		if c.ChainHash != want {
			return fmt.Errorf("%w at sequence %d: entry hash mismatch", ErrChainBroken, c.Sequence)
		}
		prev = c.ChainHash
	}
	return nil
}

func (s *MemoryAuditStore) Close() error { return nil }

func chainHash(c *ChainedEntry) (string, error) {
	hashable := struct {
		Sequence     uint64               `json:"sequence"`
		Entry        contracts.AuditEntry `json:"entry"`
		PreviousHash string               `json:"previous_hash"`
	}{
		Sequence:     c.Sequence,
		Entry:        c.Entry,
		PreviousHash: c.PreviousHash,
	}
	data, err := json.Marshal(hashable)
	if err != nil {
		return "", fmt.Errorf("failed to marshal entry for hashing: %w", err)
	}
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
