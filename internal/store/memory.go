package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/duelfield/duel-server-go/internal/game"
)

// MemoryStore keeps serialized match records in memory. Records are
// stored as JSON so every Load hands back an isolated copy; mutating a
// loaded state never leaks into the committed record.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*memoryRecord
}

type memoryRecord struct {
	version int64
	payload []byte
}

var _ game.MatchStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*memoryRecord)}
}

func (s *MemoryStore) Create(_ context.Context, state *game.MatchState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode match %s: %w", state.MatchID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[state.MatchID]; exists {
		return fmt.Errorf("match %s already exists", state.MatchID)
	}
	s.records[state.MatchID] = &memoryRecord{version: 1, payload: payload}
	return nil
}

func (s *MemoryStore) Load(_ context.Context, matchID string) (*game.MatchState, int64, error) {
	s.mu.RLock()
	rec, ok := s.records[matchID]
	s.mu.RUnlock()
	if !ok {
		return nil, 0, game.ErrMatchNotFound
	}

	var state game.MatchState
	if err := json.Unmarshal(rec.payload, &state); err != nil {
		return nil, 0, fmt.Errorf("decode match %s: %w", matchID, err)
	}
	return &state, rec.version, nil
}

func (s *MemoryStore) CompareAndSwap(_ context.Context, matchID string, version int64, state *game.MatchState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode match %s: %w", matchID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[matchID]
	if !ok {
		return game.ErrMatchNotFound
	}
	if rec.version != version {
		return game.ErrVersionConflict
	}
	rec.payload = payload
	rec.version++
	return nil
}

// Delete removes a match record, for match teardown.
func (s *MemoryStore) Delete(_ context.Context, matchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, matchID)
}
