package monitor

import "sync"

// inflightSet tracks item IDs with an outstanding transcode enqueue or a
// known-running transcode. Ticks that would enqueue a present ID are no-ops;
// entries leave only when the worker publishes a terminal outcome.
type inflightSet struct {
	mu    sync.Mutex
	items map[string]struct{}
}

func newInflightSet() *inflightSet {
	return &inflightSet{items: make(map[string]struct{})}
}

// TryAdd inserts the ID, reporting false when it was already present.
func (s *inflightSet) TryAdd(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; ok {
		return false
	}
	s.items[id] = struct{}{}
	return true
}

func (s *inflightSet) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
}

func (s *inflightSet) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[id]
	return ok
}

func (s *inflightSet) Snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	return ids
}

func (s *inflightSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
