package scheduler

import (
	"sync"
	"time"

	"trafficfeed/internal/metrics"
)

// InFlight tracks the cases with a running cycle.
type InFlight struct {
	mu     sync.Mutex
	active map[string]time.Time
}

func NewInFlight() *InFlight {
	return &InFlight{active: make(map[string]time.Time)}
}

// Acquire marks caseID as running. It returns false if a cycle already holds it.
func (f *InFlight) Acquire(caseID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.active[caseID]; ok {
		return false
	}
	f.active[caseID] = time.Now().UTC()
	metrics.CasesInFlight.Set(float64(len(f.active)))
	return true
}

func (f *InFlight) Release(caseID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, caseID)
	metrics.CasesInFlight.Set(float64(len(f.active)))
}

// Active returns a copy of the running cases and their start times.
func (f *InFlight) Active() map[string]time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]time.Time, len(f.active))
	for k, v := range f.active {
		out[k] = v
	}
	return out
}
