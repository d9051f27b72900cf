package incidents

import (
	"sync"
	"time"

	"trafficfeed/internal/model"
)

// Store is a bounded ring of recent sink failures; the oldest entry drops first.
type Store struct {
	mu    sync.RWMutex
	buf   []model.Incident
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(inc model.Incident) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, inc)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = inc
}

func (s *Store) List(limit int) []model.Incident {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.Incident, 0, limit)
	for i := len(s.buf) - limit; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) ForCase(caseID string, limit int) []model.Incident {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Incident, 0)
	for i := len(s.buf) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.buf[i].CaseID == caseID {
			out = append(out, s.buf[i])
		}
	}
	return out
}

func (s *Store) Since(ts time.Time) []model.Incident {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Incident, 0)
	for _, inc := range s.buf {
		if !inc.Timestamp.Before(ts) {
			out = append(out, inc)
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}
