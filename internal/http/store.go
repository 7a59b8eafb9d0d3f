package httpx

import (
	"sync"
	"time"

	"github.com/shortontech/fraudsignal/internal/check"
)

// Store keeps the checks the stub has answered, in arrival order.
type Store struct {
	mu      sync.RWMutex
	records []check.Record
	nextID  int64
}

func NewStore() *Store { return &Store{} }

// Add records req with the score and flags it was answered with and
// returns the stored record with its assigned ID.
func (s *Store) Add(req check.Request, score int, flags []string, at time.Time) check.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec := check.Record{
		Request:    req,
		ID:         s.nextID,
		RiskScore:  score,
		FraudFlags: append([]string{}, flags...),
		CreatedAt:  at.UTC(),
	}
	s.records = append(s.records, rec)
	return rec
}

func (s *Store) Get(id int64) (check.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// IDs are dense and start at 1.
	if id < 1 || id > int64(len(s.records)) {
		return check.Record{}, false
	}
	return s.records[id-1], true
}

// List returns up to limit records, newest first.
func (s *Store) List(limit int) []check.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.records)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]check.Record, 0, n)
	for i := len(s.records) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.records[i])
	}
	return out
}

func (s *Store) All() []check.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]check.Record(nil), s.records...)
}
