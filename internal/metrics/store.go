package metrics

import (
	"sort"
	"sync"
	"time"

	"trafficfeed/internal/model"
)

// Store keeps the last cycle report of every case, evicting the least
// recently updated case past limit.
type Store struct {
	mu        sync.RWMutex
	byCase    map[string]model.CycleReport
	updatedAt map[string]time.Time
	cycles    map[string]int64
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		byCase:    make(map[string]model.CycleReport),
		updatedAt: make(map[string]time.Time),
		cycles:    make(map[string]int64),
		limit:     limit,
	}
}

func (s *Store) Update(report model.CycleReport) {
	if report.CaseID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byCase[report.CaseID] = report
	s.updatedAt[report.CaseID] = time.Now().UTC()
	s.cycles[report.CaseID]++
	if len(s.byCase) > s.limit {
		s.evictOldest()
	}
}

type CaseStats struct {
	Last      model.CycleReport `json:"last"`
	UpdatedAt time.Time         `json:"updated_at"`
	Cycles    int64             `json:"cycles"`
}

func (s *Store) Get(caseID string) (CaseStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byCase[caseID]
	if !ok {
		return CaseStats{}, false
	}
	return CaseStats{Last: r, UpdatedAt: s.updatedAt[caseID], Cycles: s.cycles[caseID]}, true
}

// CaseIDs returns the tracked cases in sorted order.
func (s *Store) CaseIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.byCase))
	for id := range s.byCase {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) evictOldest() {
	var oldestCase string
	var oldest time.Time
	for id, ts := range s.updatedAt {
		if oldestCase == "" || ts.Before(oldest) {
			oldestCase = id
			oldest = ts
		}
	}
	if oldestCase != "" {
		delete(s.byCase, oldestCase)
		delete(s.updatedAt, oldestCase)
		delete(s.cycles, oldestCase)
	}
}
