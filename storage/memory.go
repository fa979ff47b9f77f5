package storage

import (
	"context"
	"sync"

	"github.com/ruteri/token-provisioner/interfaces"
)

// MemoryStore keeps encoded records in process memory. Records go through
// the same codec as the durable stores so corruption handling is identical.
type MemoryStore struct {
	mu      sync.Mutex
	records map[interfaces.StateKey][]byte
	saves   int
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[interfaces.StateKey][]byte)}
}

func (s *MemoryStore) Load(ctx context.Context, key interfaces.StateKey) (*interfaces.ProvisioningState, error) {
	s.mu.Lock()
	data, ok := s.records[key]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return DecodeState(key, data)
}

func (s *MemoryStore) Save(ctx context.Context, key interfaces.StateKey, state *interfaces.ProvisioningState) error {
	data, err := EncodeState(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = data
	s.saves++
	return nil
}

// Put stores raw bytes for key, bypassing validation.
func (s *MemoryStore) Put(key interfaces.StateKey, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = append([]byte(nil), data...)
}

// Saves returns the number of successful Save calls.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *MemoryStore) Name() string {
	return "memory"
}

func (s *MemoryStore) LocationURI() string {
	return "memory://"
}
