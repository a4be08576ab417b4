package container

import (
	"sort"
	"sync"
	"sync/atomic"
)

// lockIDs hands out process-unique ids for lock handles. Acquiring handles
// in ascending id order, everywhere, is the deadlock-avoidance invariant for
// every operation spanning more than one container.
var lockIDs atomic.Uint64

type lockHandle struct {
	id uint64
	mu sync.RWMutex
}

func newLockHandle() *lockHandle {
	return &lockHandle{id: lockIDs.Add(1)}
}

// orderHandles dedupes and sorts handles by id.
func orderHandles(handles []*lockHandle) []*lockHandle {
	seen := make(map[uint64]struct{}, len(handles))
	ordered := make([]*lockHandle, 0, len(handles))
	for _, h := range handles {
		if _, dup := seen[h.id]; dup {
			continue
		}
		seen[h.id] = struct{}{}
		ordered = append(ordered, h)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].id < ordered[j].id })
	return ordered
}

// acquire write-locks the handles in id order and returns a release closure
// unlocking in reverse.
func acquire(handles ...*lockHandle) (release func()) {
	ordered := orderHandles(handles)
	for _, h := range ordered {
		h.mu.Lock()
	}
	return func() {
		for i := len(ordered) - 1; i >= 0; i-- {
			ordered[i].mu.Unlock()
		}
	}
}

// acquireRead read-locks the handles in id order.
func acquireRead(handles ...*lockHandle) (release func()) {
	ordered := orderHandles(handles)
	for _, h := range ordered {
		h.mu.RLock()
	}
	return func() {
		for i := len(ordered) - 1; i >= 0; i-- {
			ordered[i].mu.RUnlock()
		}
	}
}
