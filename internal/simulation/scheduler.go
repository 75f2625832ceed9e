package simulation

import (
	"sync"
	"time"
)

// Scheduler invokes fn at a fixed interval until the returned stop func is
// called. stop must not block waiting for an in-flight fn.
type Scheduler interface {
	Schedule(interval time.Duration, fn func()) (stop func())
}

// TickerScheduler drives ticks from a time.Ticker goroutine.
type TickerScheduler struct{}

func (TickerScheduler) Schedule(interval time.Duration, fn func()) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				select {
				case <-done:
					return
				default:
				}
				fn()
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}

// ManualScheduler fires scheduled callbacks only when Advance is called.
// It stands in for the wall clock in tests and offline runs.
type ManualScheduler struct {
	mu      sync.Mutex
	entries map[int]func()
	nextID  int
}

func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{entries: make(map[int]func())}
}

func (m *ManualScheduler) Schedule(_ time.Duration, fn func()) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.entries[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.entries, id)
		m.mu.Unlock()
	}
}

// Advance fires every active callback n times, one interval at a time.
func (m *ManualScheduler) Advance(n int) {
	for i := 0; i < n; i++ {
		m.mu.Lock()
		fns := make([]func(), 0, len(m.entries))
		for _, fn := range m.entries {
			fns = append(fns, fn)
		}
		m.mu.Unlock()

		for _, fn := range fns {
			fn()
		}
	}
}

// Active reports how many callbacks are scheduled.
func (m *ManualScheduler) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
