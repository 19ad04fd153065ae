// Package controller runs the decision loop: every cycle it lets the
// scheduler pick a lane, then drives that lane through GREEN, YELLOW and RED,
// holding each phase on the shared clock.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/signal-controller/internal/clock"
	"github.com/sweeney/signal-controller/internal/logic"
	"github.com/sweeney/signal-controller/internal/signal"
)

// DefaultUnit is the wall-clock length of one time-unit.
const DefaultUnit = time.Second

var cyclePhases = []logic.Phase{logic.PhaseGreen, logic.PhaseYellow, logic.PhaseRed}

// Controller owns the decision loop. It is the only writer of the
// scheduler state and of the lanes' waiting times.
type Controller struct {
	sched *logic.Scheduler
	sink  signal.Sink
	clock clock.Clock
	unit  time.Duration

	// NewCycleID generates the identifier attached to a cycle's events.
	NewCycleID func() string
}

// New creates a controller. unit is the length of one time-unit; zero
// selects DefaultUnit.
func New(sched *logic.Scheduler, sink signal.Sink, clk clock.Clock, unit time.Duration) *Controller {
	if unit <= 0 {
		unit = DefaultUnit
	}
	return &Controller{
		sched:      sched,
		sink:       sink,
		clock:      clk,
		unit:       unit,
		NewCycleID: uuid.NewString,
	}
}

// Scheduler returns the scheduler driven by this controller.
func (c *Controller) Scheduler() *logic.Scheduler {
	return c.sched
}

// Run executes decision cycles until ctx is cancelled. Cancellation, including
// during a phase hold, is a clean stop and returns nil.
func (c *Controller) Run(ctx context.Context) error {
	log.Printf("controller: started lanes=%v unit=%v", c.sched.Lanes().IDs(), c.unit)
	for {
		if ctx.Err() != nil {
			log.Printf("controller: stopped after %d cycles", c.sched.Cycles())
			return nil
		}
		if _, err := c.RunCycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Printf("controller: stopped after %d cycles", c.sched.Cycles())
				return nil
			}
			return err
		}
	}
}

// RunCycle runs one full decision cycle. If ctx is cancelled during a hold it
// returns ctx.Err() immediately and emits nothing further.
func (c *Controller) RunCycle(ctx context.Context) (logic.Decision, error) {
	d, err := c.sched.Decide()
	if err != nil {
		return d, err
	}
	cycle := c.NewCycleID()

	if d.Starved {
		log.Printf("controller: %s starved (waited %d), serving for %d", d.Lane, d.Waiting, d.GreenTime)
	}

	for _, p := range cyclePhases {
		if err := c.sched.Transition(p); err != nil {
			return d, fmt.Errorf("cycle %s: %w", cycle, err)
		}
		hold := c.sched.Hold(p)
		c.emit(logic.PhaseEvent{
			Timestamp: c.clock.Now(),
			Cycle:     cycle,
			Lane:      d.Lane,
			Phase:     p,
			Duration:  hold,
			Queued:    d.Queued,
			Waiting:   d.Waiting,
			Starved:   d.Starved,
		})
		if hold == 0 {
			continue
		}
		if err := c.clock.Sleep(ctx, time.Duration(hold)*c.unit); err != nil {
			return d, err
		}
	}
	return d, nil
}

// emit hands the event to the sink. Output failures never stop the loop.
func (c *Controller) emit(event logic.PhaseEvent) {
	if c.sink == nil {
		return
	}
	if err := c.sink.OnPhaseChange(event); err != nil {
		log.Printf("controller: emit %s %s: %v", event.Lane, event.Phase, err)
	}
}
