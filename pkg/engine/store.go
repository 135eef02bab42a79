package engine

import "sync"

// Store maps forwarded source events to the destination copies they
// produced. It is the basis for edit, delete and reply propagation, and
// is bounded: Prune drops the oldest entries by insertion order so
// long-running live sessions keep a fixed memory ceiling.
//
// The store is shared by every chat handled in a session, so all access
// is mutex-guarded.
type Store struct {
	mu      sync.Mutex
	entries map[EventUID]map[int64]int
	order   []EventUID
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[EventUID]map[int64]int)}
}

// PreRegister creates an empty entry for uid if none exists, so an edit
// or delete arriving before the unit finishes forwarding still finds a
// placeholder. Existing entries are left untouched.
func (s *Store) PreRegister(uid EventUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(uid)
}

// Put records the destination copy id for uid. The first write per
// destination wins; later writes for the same destination are ignored.
func (s *Store) Put(uid EventUID, dest int64, msgID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.ensure(uid)
	if _, ok := entry[dest]; !ok {
		entry[dest] = msgID
	}
}

func (s *Store) ensure(uid EventUID) map[int64]int {
	entry, ok := s.entries[uid]
	if !ok {
		entry = make(map[int64]int)
		s.entries[uid] = entry
		s.order = append(s.order, uid)
	}
	return entry
}

// Get returns a copy of the destination mapping for uid; the result is
// empty for untracked events.
func (s *Store) Get(uid EventUID) map[int64]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.entries[uid]
	out := make(map[int64]int, len(entry))
	for dest, id := range entry {
		out[dest] = id
	}
	return out
}

// Contains reports whether uid is tracked.
func (s *Store) Contains(uid EventUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[uid]
	return ok
}

// Len returns the number of tracked entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Prune retains only the keepLast most recently inserted entries,
// dropping the oldest regardless of read recency.
func (s *Store) Prune(keepLast int) {
	if keepLast < 0 {
		keepLast = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	excess := len(s.order) - keepLast
	if excess <= 0 {
		return
	}
	for _, uid := range s.order[:excess] {
		delete(s.entries, uid)
	}
	s.order = append(s.order[:0], s.order[excess:]...)
}
