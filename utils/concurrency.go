package utils

import "sync"

// URLSet is a thread-safe set for tracking discovered detail URLs.
type URLSet struct {
	mu    sync.RWMutex
	seen  map[string]struct{}
	order []string
}

// NewURLSet creates an empty URLSet.
func NewURLSet() *URLSet {
	return &URLSet{seen: make(map[string]struct{})}
}

// Add returns true if the URL was newly added, false if already present.
func (s *URLSet) Add(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[url]; exists {
		return false
	}
	s.seen[url] = struct{}{}
	s.order = append(s.order, url)
	return true
}

// Contains returns true if the URL has already been seen.
func (s *URLSet) Contains(url string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.seen[url]
	return exists
}

// Size returns the number of unique URLs tracked.
func (s *URLSet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}

// Items returns the URLs in insertion order.
func (s *URLSet) Items() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// WorkQueue is a shared queue drained by a fixed pool of workers. Claim is
// atomic: two workers can never receive the same item even under true
// parallelism.
type WorkQueue struct {
	mu    sync.Mutex
	items []string
	next  int
}

// NewWorkQueue creates a queue over the given items. The slice is not copied;
// callers must not mutate it afterwards.
func NewWorkQueue(items []string) *WorkQueue {
	return &WorkQueue{items: items}
}

// Claim pops the next unclaimed item. ok is false once the queue is drained.
func (q *WorkQueue) Claim() (item string, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.next >= len(q.items) {
		return "", false
	}
	item = q.items[q.next]
	q.next++
	return item, true
}

// Remaining returns the number of unclaimed items.
func (q *WorkQueue) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.next
}
