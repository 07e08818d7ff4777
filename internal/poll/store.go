package poll

import (
	"context"
	"slices"
	"sync"
)

// VoteRecord remembers what a voter chose on a poll. It is written once and never changed.
type VoteRecord struct {
	PollID          string `json:"pollId"`
	SelectedIndexes []int  `json:"selectedIndexes"`
}

// Store keeps the vote records of one voter.
type Store interface {
	// Load returns the record for pollID, if any.
	Load(ctx context.Context, pollID string) (VoteRecord, bool, error)
	// Save stores rec unless a record for the poll exists already. It reports whether rec
	// was stored.
	Save(ctx context.Context, rec VoteRecord) (bool, error)
}

// MemoryStore is a Store held in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]VoteRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]VoteRecord)}
}

func (m *MemoryStore) Load(_ context.Context, pollID string) (VoteRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[pollID]
	if !ok {
		return VoteRecord{}, false, nil
	}
	rec.SelectedIndexes = slices.Clone(rec.SelectedIndexes)
	return rec, true, nil
}

func (m *MemoryStore) Save(_ context.Context, rec VoteRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.PollID]; ok {
		return false, nil
	}
	rec.SelectedIndexes = slices.Clone(rec.SelectedIndexes)
	m.records[rec.PollID] = rec
	return true, nil
}
