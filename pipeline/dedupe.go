package pipeline

import "sync"

// defaultDedupeCapacity bounds the recently-seen message ID set.
const defaultDedupeCapacity = 4096

// dedupe is a bounded set of recently delivered message IDs. Oldest
// entries are evicted first, so a redelivery storm cannot grow memory
// without bound.
type dedupe struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	next  int
	cap   int
}

func newDedupe(capacity int) *dedupe {
	if capacity <= 0 {
		capacity = defaultDedupeCapacity
	}
	return &dedupe{
		seen:  make(map[string]struct{}, capacity),
		order: make([]string, capacity),
		cap:   capacity,
	}
}

// Observe records the ID and reports whether it was already present.
func (d *dedupe) Observe(messageID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[messageID]; ok {
		return true
	}
	if evicted := d.order[d.next]; evicted != "" {
		delete(d.seen, evicted)
	}
	d.order[d.next] = messageID
	d.next = (d.next + 1) % d.cap
	d.seen[messageID] = struct{}{}
	return false
}
