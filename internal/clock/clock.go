// Package clock abstracts wall time and periodic timers so that sync
// scheduling can be driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Clock provides the current time and timer construction.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// NewTicker returns a ticker firing every d.
	NewTicker(d time.Duration) Ticker
}

// Ticker is a cancellable periodic timer.
type Ticker interface {
	// Chan returns the channel on which ticks are delivered.
	Chan() <-chan time.Time

	// Reset changes the ticker interval and restarts the period.
	Reset(d time.Duration)

	// Stop cancels the ticker. No further ticks are delivered.
	Stop()
}

// New returns a Clock backed by the system clock.
func New() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) NewTicker(d time.Duration) Ticker {
	return &systemTicker{t: time.NewTicker(d)}
}

type systemTicker struct {
	t *time.Ticker
}

func (st *systemTicker) Chan() <-chan time.Time { return st.t.C }
func (st *systemTicker) Reset(d time.Duration)  { st.t.Reset(d) }
func (st *systemTicker) Stop()                  { st.t.Stop() }

// Fake is a manually advanced Clock for tests.
//
// Tick delivery is synchronous: Advance fires each due ticker once per
// elapsed interval, blocking until the tick is consumed or the ticker
// is stopped.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

// NewFake returns a Fake clock frozen at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now implements Clock.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// NewTicker implements Clock.
func (f *Fake) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()

	ft := &fakeTicker{
		clock:  f,
		ch:     make(chan time.Time, 1),
		period: d,
		next:   f.now.Add(d),
	}
	f.tickers = append(f.tickers, ft)
	return ft
}

// TickerCount reports how many tickers have been created so far,
// including stopped ones. Tests poll it to wait for a goroutine's
// ticker registration before calling Advance.
func (f *Fake) TickerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tickers)
}

// Advance moves the clock forward by d, firing due tickers.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)

	for {
		var earliest *fakeTicker
		for _, ft := range f.tickers {
			if ft.stopped {
				continue
			}
			if !ft.next.After(target) && (earliest == nil || ft.next.Before(earliest.next)) {
				earliest = ft
			}
		}
		if earliest == nil {
			break
		}

		f.now = earliest.next
		earliest.next = earliest.next.Add(earliest.period)
		tick := f.now
		f.mu.Unlock()

		// Deliver outside the lock so consumers may call Now.
		select {
		case earliest.ch <- tick:
		default:
			// Tick already pending; coalesce like time.Ticker.
		}

		f.mu.Lock()
	}

	f.now = target
	f.mu.Unlock()
}

type fakeTicker struct {
	clock   *Fake
	ch      chan time.Time
	period  time.Duration
	next    time.Time
	stopped bool
}

func (ft *fakeTicker) Chan() <-chan time.Time { return ft.ch }

func (ft *fakeTicker) Reset(d time.Duration) {
	ft.clock.mu.Lock()
	defer ft.clock.mu.Unlock()
	ft.period = d
	ft.next = ft.clock.now.Add(d)
	ft.stopped = false
}

func (ft *fakeTicker) Stop() {
	ft.clock.mu.Lock()
	defer ft.clock.mu.Unlock()
	ft.stopped = true
}
