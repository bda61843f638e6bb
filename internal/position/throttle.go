package position

import (
	"sync"
	"time"
)

type throttleEntry[T any] struct {
	last    time.Time
	pending *T
	timer   *time.Timer

	// Calls for one key run one at a time and in dispatch order. seq is
	// assigned under Throttle.mu; a call older than fired is skipped.
	seq    uint64
	fireMu sync.Mutex
	fired  uint64
}

// Throttle limits calls per key to one per Interval. A call outside the
// cool-down fires at once; calls inside it are collapsed into a single
// trailing call carrying the latest value.
type Throttle[T any] struct {
	interval time.Duration
	fire     func(key string, v T)

	mu      sync.Mutex
	entries map[string]*throttleEntry[T]
	closed  bool
	wg      sync.WaitGroup
	now     func() time.Time
}

// NewThrottle creates a throttle. fire runs on its own goroutine; calls for
// the same key never overlap, and a slow call is never overtaken by an older
// value.
func NewThrottle[T any](interval time.Duration, fire func(key string, v T)) *Throttle[T] {
	return &Throttle[T]{
		interval: interval,
		fire:     fire,
		entries:  make(map[string]*throttleEntry[T]),
		now:      time.Now,
	}
}

// Submit records v for key, firing now or at the end of the cool-down.
func (t *Throttle[T]) Submit(key string, v T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	e := t.entries[key]
	if e == nil {
		e = &throttleEntry[T]{}
		t.entries[key] = e
	}
	now := t.now()

	if e.timer == nil && (e.last.IsZero() || now.Sub(e.last) >= t.interval) {
		e.last = now
		e.seq++
		t.goFire(e, e.seq, key, v)
		return
	}

	e.pending = &v
	if e.timer == nil {
		wait := max(e.last.Add(t.interval).Sub(now), 0)
		t.wg.Add(1)
		e.timer = time.AfterFunc(wait, func() {
			defer t.wg.Done()
			t.fireTrailing(key)
		})
	}
}

func (t *Throttle[T]) goFire(e *throttleEntry[T], seq uint64, key string, v T) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.run(e, seq, key, v)
	}()
}

// run calls fire once the previous call for the key has returned.
func (t *Throttle[T]) run(e *throttleEntry[T], seq uint64, key string, v T) {
	e.fireMu.Lock()
	defer e.fireMu.Unlock()
	if seq <= e.fired {
		return
	}
	e.fired = seq
	t.fire(key, v)
}

func (t *Throttle[T]) fireTrailing(key string) {
	t.mu.Lock()
	e := t.entries[key]
	if e == nil || e.pending == nil {
		if e != nil {
			e.timer = nil
		}
		t.mu.Unlock()
		return
	}
	v := *e.pending
	e.pending = nil
	e.timer = nil
	e.last = t.now()
	e.seq++
	seq := e.seq
	t.mu.Unlock()

	t.run(e, seq, key, v)
}

// Flush fires every deferred call now and returns once they are done.
func (t *Throttle[T]) Flush() {
	type call struct {
		e   *throttleEntry[T]
		seq uint64
		key string
		v   T
	}

	t.mu.Lock()
	var calls []call
	now := t.now()
	for key, e := range t.entries {
		if e.timer != nil && e.timer.Stop() {
			t.wg.Done()
		}
		e.timer = nil
		if e.pending != nil {
			e.seq++
			calls = append(calls, call{e, e.seq, key, *e.pending})
			e.pending = nil
			e.last = now
		}
	}
	t.mu.Unlock()

	for _, c := range calls {
		t.run(c.e, c.seq, c.key, c.v)
	}
}

// Pending reports whether key has a deferred call.
func (t *Throttle[T]) Pending(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[key]
	return e != nil && e.pending != nil
}

// Close flushes deferred calls, waits for running ones and rejects new ones.
func (t *Throttle[T]) Close() {
	t.Flush()
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.wg.Wait()
}
