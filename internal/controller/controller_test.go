package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/signal-controller/internal/clock"
	"github.com/sweeney/signal-controller/internal/logic"
	"github.com/sweeney/signal-controller/internal/signal"
)

var testStart = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func setupController(t *testing.T, sink signal.Sink) (*Controller, *clock.Fake) {
	t.Helper()
	lanes, err := logic.NewLanes(logic.DefaultLaneIDs)
	if err != nil {
		t.Fatalf("NewLanes: %v", err)
	}
	sched, err := logic.NewScheduler(lanes, logic.DefaultTiming())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	clk := clock.NewFake(testStart)
	c := New(sched, sink, clk, time.Second)
	n := 0
	c.NewCycleID = func() string {
		n++
		return fmt.Sprintf("cycle-%d", n)
	}
	return c, clk
}

func TestNewDefaultsUnit(t *testing.T) {
	c, _ := setupController(t, nil)
	c2 := New(c.Scheduler(), nil, clock.NewFake(testStart), 0)
	if c2.unit != DefaultUnit {
		t.Errorf("expected unit %v, got %v", DefaultUnit, c2.unit)
	}
}

func TestRunCycleBusyLane(t *testing.T) {
	rec := signal.NewRecorder()
	c, clk := setupController(t, rec)

	east, _ := c.Scheduler().Lanes().Get("East")
	for i := 0; i < 5; i++ {
		east.AddVehicle()
	}

	d, err := c.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if d.Lane != "East" || d.GreenTime != 8 {
		t.Errorf("expected East for 8, got %s for %d", d.Lane, d.GreenTime)
	}

	sleeps := clk.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 8*time.Second || sleeps[1] != 2*time.Second {
		t.Errorf("expected holds [8s 2s], got %v", sleeps)
	}

	events := rec.Events()
	want := []logic.Phase{logic.PhaseGreen, logic.PhaseYellow, logic.PhaseRed}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, p := range want {
		if events[i].Phase != p {
			t.Errorf("event %d: got %s, want %s", i, events[i].Phase, p)
		}
		if events[i].Lane != "East" {
			t.Errorf("event %d: got lane %s, want East", i, events[i].Lane)
		}
		if events[i].Cycle != "cycle-1" {
			t.Errorf("event %d: got cycle %q", i, events[i].Cycle)
		}
	}

	// GREEN at start, YELLOW after the green hold, RED after the yellow hold
	if !events[0].Timestamp.Equal(testStart) {
		t.Errorf("GREEN at %v, want %v", events[0].Timestamp, testStart)
	}
	if !events[1].Timestamp.Equal(testStart.Add(8 * time.Second)) {
		t.Errorf("YELLOW at %v, want +8s", events[1].Timestamp)
	}
	if !events[2].Timestamp.Equal(testStart.Add(10 * time.Second)) {
		t.Errorf("RED at %v, want +10s", events[2].Timestamp)
	}
	if events[0].Duration != 8 || events[1].Duration != 2 || events[2].Duration != 0 {
		t.Errorf("unexpected durations: %d %d %d", events[0].Duration, events[1].Duration, events[2].Duration)
	}

	if east.Waiting() != 0 {
		t.Errorf("expected East waiting reset, got %d", east.Waiting())
	}
	if id, p := c.Scheduler().State(); id != "East" || p != logic.PhaseRed {
		t.Errorf("expected (East, RED), got (%s, %s)", id, p)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	rec := signal.NewRecorder()
	c, clk := setupController(t, rec)

	ctx, cancel := context.WithCancel(context.Background())
	sleeps := 0
	clk.OnSleep = func(time.Duration) {
		sleeps++
		// Cancel during the GREEN hold of the fourth cycle
		if sleeps == 7 {
			cancel()
		}
	}

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	if c.Scheduler().Cycles() != 3 {
		t.Errorf("expected 3 completed cycles, got %d", c.Scheduler().Cycles())
	}
	events := rec.Events()
	if len(events) != 10 {
		t.Fatalf("expected 10 events (3 cycles + GREEN), got %d", len(events))
	}
	if last := events[len(events)-1]; last.Phase != logic.PhaseGreen {
		t.Errorf("no events may follow an interrupted hold, last was %s", last.Phase)
	}
}

func TestRunReturnsImmediatelyWhenCancelled(t *testing.T) {
	rec := signal.NewRecorder()
	c, _ := setupController(t, rec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if len(rec.Events()) != 0 {
		t.Errorf("expected no events, got %d", len(rec.Events()))
	}
}

func TestRunContinuesOnSinkError(t *testing.T) {
	rec := signal.NewRecorder()
	rec.Err = errors.New("display unavailable")
	c, clk := setupController(t, rec)

	ctx, cancel := context.WithCancel(context.Background())
	sleeps := 0
	clk.OnSleep = func(time.Duration) {
		sleeps++
		if sleeps == 6 {
			cancel()
		}
	}

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if c.Scheduler().Cycles() < 2 {
		t.Errorf("expected loop to keep cycling despite sink errors, got %d cycles", c.Scheduler().Cycles())
	}
}

func TestRunWithoutSink(t *testing.T) {
	c, clk := setupController(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	clk.OnSleep = func(time.Duration) { cancel() }

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}
}

func TestUnitScalesHolds(t *testing.T) {
	lanes, _ := logic.NewLanes([]string{"A", "B"})
	sched, _ := logic.NewScheduler(lanes, logic.DefaultTiming())
	clk := clock.NewFake(testStart)
	c := New(sched, nil, clk, 10*time.Millisecond)

	if _, err := c.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	sleeps := clk.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 20*time.Millisecond || sleeps[1] != 20*time.Millisecond {
		t.Errorf("expected [20ms 20ms], got %v", sleeps)
	}
}

// Starved West beats busy North; the next cycle serves North.
func TestRunCycleStarvation(t *testing.T) {
	rec := signal.NewRecorder()
	c, clk := setupController(t, rec)
	lanes := c.Scheduler().Lanes()
	for i := 0; i < 10; i++ {
		lanes.AddVehicle("North")
	}
	west, _ := lanes.Get("West")
	for i := 0; i < logic.DefaultStarvationThreshold-1; i++ {
		west.TickWaiting()
	}

	d, err := c.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if d.Lane != "West" || !d.Starved || d.GreenTime != 5 {
		t.Errorf("expected starved West for 5, got %+v", d)
	}
	if clk.Sleeps()[0] != 5*time.Second {
		t.Errorf("expected 5s green hold, got %v", clk.Sleeps()[0])
	}
	if !rec.Events()[0].Starved {
		t.Error("expected GREEN event to carry the starvation flag")
	}

	d, _ = c.RunCycle(context.Background())
	if d.Lane != "North" {
		t.Errorf("expected North next, got %s", d.Lane)
	}
}

// Vehicles arrive from another goroutine while the loop runs; the
// single-active-phase invariant holds throughout.
func TestSingleActivePhaseUnderConcurrentFeed(t *testing.T) {
	rec := signal.NewRecorder()
	c, clk := setupController(t, rec)
	lanes := c.Scheduler().Lanes()

	ctx, cancel := context.WithCancel(context.Background())
	sleeps := 0
	clk.OnSleep = func(time.Duration) {
		sleeps++
		if sleeps == 400 {
			cancel()
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ids := lanes.IDs()
		for i := 0; ctx.Err() == nil; i++ {
			lanes.AddVehicle(ids[i%len(ids)])
			if i%3 == 0 {
				lanes.RemoveVehicle(ids[(i+1)%len(ids)])
			}
		}
	}()

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	wg.Wait()

	if v := rec.Violations(); len(v) != 0 {
		t.Errorf("single-active-phase violated: %v", v)
	}
	for _, l := range lanes.All() {
		if l.Queued() < 0 {
			t.Errorf("%s: negative queue %d", l.ID(), l.Queued())
		}
	}
}
