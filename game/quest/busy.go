package quest

import (
	"sync"

	"github.com/google/uuid"
)

type busyKey struct {
	identity uuid.UUID
	questID  int
}

// busySet holds the accounts whose end-of-stage rewards are being granted off
// the main loop. It is the only state shared between the loop and reward goroutines.
type busySet struct {
	mu      sync.Mutex
	entries map[busyKey]int
}

func newBusySet() *busySet {
	return &busySet{entries: make(map[busyKey]int)}
}

func (b *busySet) add(k busyKey) {
	b.mu.Lock()
	b.entries[k]++
	b.mu.Unlock()
}

func (b *busySet) remove(k busyKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.entries[k] <= 1 {
		delete(b.entries, k)
		return
	}
	b.entries[k]--
}

func (b *busySet) contains(k busyKey) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries[k] > 0
}

func (b *busySet) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
