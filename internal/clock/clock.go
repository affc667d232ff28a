package clock

import (
	"sort"
	"sync"
	"time"
)

// Timer is a periodic callback that can be cancelled.
type Timer interface {
	Stop()
}

// Clock schedules periodic callbacks and reports the current time.
type Clock interface {
	Now() time.Time
	Every(interval time.Duration, fn func()) Timer
}

// Real is a Clock backed by time.Ticker. Each periodic timer runs its
// callback on its own goroutine.
type Real struct{}

// New returns the wall clock.
func New() Real { return Real{} }

func (Real) Now() time.Time { return time.Now() }

func (Real) Every(interval time.Duration, fn func()) Timer {
	t := &realTimer{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer close(t.done)
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
	return t
}

type realTimer struct {
	once sync.Once
	stop chan struct{}
	done chan struct{}
}

// Stop does not wait for an in-flight callback; callers that hold a lock
// inside the callback would otherwise deadlock.
func (t *realTimer) Stop() {
	t.once.Do(func() { close(t.stop) })
}

// Manual is a Clock that only moves when Advance is called. Callbacks run
// synchronously on the goroutine calling Advance, in deadline order.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers map[int]*manualTimer
}

// NewManual returns a manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start, timers: make(map[int]*manualTimer)}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Every(interval time.Duration, fn func()) Timer {
	if interval <= 0 {
		panic("clock: non-positive interval")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{
		clock:    m,
		id:       m.seq,
		interval: interval,
		next:     m.now.Add(interval),
		fn:       fn,
	}
	m.timers[t.id] = t
	return t
}

// Active returns the number of timers that have not been stopped.
func (m *Manual) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Advance moves the clock forward by d, firing every callback that falls due.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		t := m.nextDue(target)
		if t == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		m.now = t.next
		t.next = t.next.Add(t.interval)
		fn := t.fn
		m.mu.Unlock()

		fn()
	}
}

func (m *Manual) nextDue(target time.Time) *manualTimer {
	var due []*manualTimer
	for _, t := range m.timers {
		if !t.next.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].next.Equal(due[j].next) {
			return due[i].id < due[j].id
		}
		return due[i].next.Before(due[j].next)
	})
	return due[0]
}

type manualTimer struct {
	clock    *Manual
	id       int
	interval time.Duration
	next     time.Time
	fn       func()
}

func (t *manualTimer) Stop() {
	t.clock.mu.Lock()
	delete(t.clock.timers, t.id)
	t.clock.mu.Unlock()
}
