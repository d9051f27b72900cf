package pipeline

// cycleSet remembers identities already handled in one kind of one cycle so
// repeats inside a payload never reach the dedup store twice. First seen wins.
type cycleSet struct {
	items map[string]struct{}
}

func newCycleSet(size int) *cycleSet {
	return &cycleSet{items: make(map[string]struct{}, size)}
}

// Seen reports whether key was already marked, marking it otherwise.
func (s *cycleSet) Seen(key string) bool {
	if _, ok := s.items[key]; ok {
		return true
	}
	s.items[key] = struct{}{}
	return false
}
