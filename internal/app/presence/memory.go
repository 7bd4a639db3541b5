package presence

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process presence Store for tests and development.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore returns an empty presence store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Heartbeat implements Store. A heartbeat never moves the timestamp backwards,
// so a sweep racing a fresh heartbeat cannot reorder it into staleness.
func (s *MemoryStore) Heartbeat(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.records[userID]
	rec.UserID = userID
	rec.Online = true
	if at.After(rec.LastHeartbeat) {
		rec.LastHeartbeat = at
	}
	s.records[userID] = rec

	return nil
}

// SetOffline implements Store.
func (s *MemoryStore) SetOffline(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		return nil
	}
	rec.Online = false
	s.records[userID] = rec

	return nil
}

// ExpireStale implements Store: only records still online with a heartbeat
// older than the threshold are flipped.
func (s *MemoryStore) ExpireStale(_ context.Context, threshold time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired int64
	for userID, rec := range s.records {
		if rec.Online && rec.LastHeartbeat.Before(threshold) {
			rec.Online = false
			s.records[userID] = rec
			expired++
		}
	}

	return expired, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, userID string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	return rec, ok, nil
}
