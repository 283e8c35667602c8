package eventlog

import (
	"sync"
	"time"
)

type memoryStore struct {
	entries []Entry
	mu      sync.Mutex
}

// NewMemory returns an in-memory Store.
func NewMemory() Store {
	return &memoryStore{}
}

func (s *memoryStore) Append(e Entry) error {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Since(t time.Time) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0)
	for _, e := range s.entries {
		if t.IsZero() || e.Time.After(t) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memoryStore) Close() error {
	return nil
}
