package clock

import (
	"context"
	"sync"
	"time"
)

// Fake is a virtual clock for tests. Sleep advances virtual time instantly
// and records the requested duration. Tickers only fire when Fire is called.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  []time.Duration
	tickers []*FakeTicker

	// OnSleep, if set, is called after each Sleep has advanced the clock.
	// Tests use it to cancel the loop or inject traffic between phases.
	OnSleep func(d time.Duration)
}

// NewFake creates a fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the virtual time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Sleep records d and advances virtual time. It does not block.
func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.sleeps = append(f.sleeps, d)
	f.now = f.now.Add(d)
	hook := f.OnSleep
	f.mu.Unlock()

	if hook != nil {
		hook(d)
	}
	return ctx.Err()
}

// Advance moves virtual time forward without recording a sleep.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Sleeps returns a copy of the recorded sleep durations.
func (f *Fake) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.sleeps))
	copy(out, f.sleeps)
	return out
}

// NewTicker returns a ticker driven by Fire.
func (f *Fake) NewTicker(d time.Duration) Ticker {
	ft := &FakeTicker{ch: make(chan time.Time, 1)}
	f.mu.Lock()
	f.tickers = append(f.tickers, ft)
	f.mu.Unlock()
	return ft
}

// Fire delivers one tick to every live ticker. It blocks while a ticker
// still holds an unread tick.
func (f *Fake) Fire() {
	f.mu.Lock()
	tickers := make([]*FakeTicker, len(f.tickers))
	copy(tickers, f.tickers)
	now := f.now
	f.mu.Unlock()

	for _, t := range tickers {
		if t.stopped() {
			continue
		}
		t.ch <- now
	}
}

// FakeTicker is the ticker returned by Fake.NewTicker.
type FakeTicker struct {
	mu   sync.Mutex
	ch   chan time.Time
	stop bool
}

// C returns the tick channel.
func (t *FakeTicker) C() <-chan time.Time { return t.ch }

// Stop prevents further ticks.
func (t *FakeTicker) Stop() {
	t.mu.Lock()
	t.stop = true
	t.mu.Unlock()
}

func (t *FakeTicker) stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop
}
