// ABOUTME: Thread-safe TTL set of action ids currently being executed in this process
// ABOUTME: A second caller for the same id is turned away until the first releases it or the entry expires

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// holder records when an id was acquired and where it sits in the age list.
type holder struct {
	acquiredAt time.Time
	element    *list.Element
}

// InFlight tracks ids with an owner. Entries expire after ttl so a holder
// that never releases cannot block an id forever. When full, the oldest
// entry is evicted.
type InFlight struct {
	mu      sync.Mutex
	held    map[string]*holder
	order   *list.List // ids by acquisition time, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates an InFlight set and starts its expiry sweeper.
func New(ttl time.Duration, maxSize int) *InFlight {
	if maxSize <= 0 {
		maxSize = 10000
	}
	f := &InFlight{
		held:    make(map[string]*holder),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go f.sweep()
	return f
}

// TryAcquire claims id. It returns false when another caller holds it.
func (f *InFlight) TryAcquire(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	if h, ok := f.held[id]; ok {
		if now.Sub(h.acquiredAt) < f.ttl {
			return false
		}
		f.order.Remove(h.element)
		delete(f.held, id)
	}

	if len(f.held) >= f.maxSize {
		f.evictOldest()
	}

	f.held[id] = &holder{acquiredAt: now, element: f.order.PushBack(id)}
	return true
}

// Release gives id back. Releasing an id nobody holds is a no-op.
func (f *InFlight) Release(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if h, ok := f.held[id]; ok {
		f.order.Remove(h.element)
		delete(f.held, id)
	}
}

// Held reports whether id is currently held and unexpired.
func (f *InFlight) Held(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	h, ok := f.held[id]
	return ok && f.now().Sub(h.acquiredAt) < f.ttl
}

// Len returns the number of tracked ids, expired or not.
func (f *InFlight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.held)
}

// evictOldest must be called with mu held.
func (f *InFlight) evictOldest() {
	front := f.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(string)
	f.order.Remove(front)
	delete(f.held, id)
}

func (f *InFlight) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.expire()
		case <-f.done:
			return
		}
	}
}

// expire drops entries older than ttl. The age list is ordered, so it stops
// at the first live entry.
func (f *InFlight) expire() {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	for e := f.order.Front(); e != nil; {
		id, _ := e.Value.(string)
		h := f.held[id]
		if h == nil || now.Sub(h.acquiredAt) < f.ttl {
			return
		}
		next := e.Next()
		f.order.Remove(e)
		delete(f.held, id)
		e = next
	}
}

// Close stops the sweeper. It is safe to call multiple times.
func (f *InFlight) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.closed {
		close(f.done)
		f.closed = true
	}
}
