package cache

import "sync"

// History is a fixed-size ring of recently seen keys, used to skip
// duplicate local image saves. Oldest keys fall out as new ones arrive.
type History struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	next  int
	size  int
}

// NewHistory creates a ring remembering the last size keys.
func NewHistory(size int) *History {
	if size <= 0 {
		size = 256
	}
	return &History{
		seen:  make(map[string]struct{}, size),
		order: make([]string, size),
		size:  size,
	}
}

// Seen reports whether the key is still in the ring.
func (h *History) Seen(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.seen[key]
	return ok
}

// Add records a key, evicting the oldest slot when the ring is full.
// It reports whether the key was already present.
func (h *History) Add(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.seen[key]; ok {
		return true
	}
	if old := h.order[h.next]; old != "" {
		delete(h.seen, old)
	}
	h.order[h.next] = key
	h.seen[key] = struct{}{}
	h.next = (h.next + 1) % h.size
	return false
}

// TrimToNewest forgets all but the n most recent keys. Used under memory
// pressure.
func (h *History) TrimToNewest(n int) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n < 0 {
		n = 0
	}
	removed := 0
	// Walk backwards from the slot before next, keeping the n newest.
	kept := 0
	for i := 0; i < h.size; i++ {
		idx := ((h.next-1-i)%h.size + h.size) % h.size
		key := h.order[idx]
		if key == "" {
			continue
		}
		if kept < n {
			kept++
			continue
		}
		delete(h.seen, key)
		h.order[idx] = ""
		removed++
	}
	return removed
}

// Len returns the number of keys currently remembered.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}
