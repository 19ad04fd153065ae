// Package signal defines the signal output contract of the controller and
// the plumbing that keeps slow outputs from delaying phase timing.
package signal

import (
	"context"
	"errors"
	"log"
	"sync/atomic"

	"github.com/sweeney/signal-controller/internal/logic"
)

// ErrQueueFull is returned when the dispatcher drops an event.
var ErrQueueFull = errors.New("signal: queue full")

// Sink receives phase changes for the active lane.
// Lanes that never received an event are RED.
type Sink interface {
	// OnPhaseChange is called at each phase transition. It must return promptly.
	OnPhaseChange(event logic.PhaseEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(event logic.PhaseEvent) error

// OnPhaseChange calls f(event).
func (f SinkFunc) OnPhaseChange(event logic.PhaseEvent) error {
	return f(event)
}

// Multi fans an event out to every sink, in order. All sinks are called even
// if one fails; the errors are joined.
type Multi []Sink

// OnPhaseChange delivers event to each sink.
func (m Multi) OnPhaseChange(event logic.PhaseEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.OnPhaseChange(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatcher is a non-blocking Sink. Events are queued and delivered to the
// downstream sinks by Run on its own goroutine. When the queue is full the
// event is dropped and counted.
type Dispatcher struct {
	queue     chan logic.PhaseEvent
	sink      Sink
	dropped   atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
}

// NewDispatcher creates a dispatcher with the given queue capacity.
func NewDispatcher(capacity int, sinks ...Sink) *Dispatcher {
	if capacity < 1 {
		capacity = 1
	}
	return &Dispatcher{
		queue: make(chan logic.PhaseEvent, capacity),
		sink:  Multi(sinks),
	}
}

// OnPhaseChange enqueues the event without blocking.
func (d *Dispatcher) OnPhaseChange(event logic.PhaseEvent) error {
	select {
	case d.queue <- event:
		return nil
	default:
		d.dropped.Add(1)
		return ErrQueueFull
	}
}

// Run delivers queued events until ctx is done, then flushes what is
// already queued and returns nil.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case event := <-d.queue:
					d.deliver(event)
				default:
					return nil
				}
			}
		case event := <-d.queue:
			d.deliver(event)
		}
	}
}

func (d *Dispatcher) deliver(event logic.PhaseEvent) {
	if err := d.sink.OnPhaseChange(event); err != nil {
		d.failed.Add(1)
		log.Printf("signal: deliver %s %s: %v", event.Lane, event.Phase, err)
		return
	}
	d.delivered.Add(1)
}

// Dropped returns the number of events dropped because the queue was full.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Delivered returns the number of events every downstream sink accepted.
func (d *Dispatcher) Delivered() uint64 {
	return d.delivered.Load()
}

// Failed returns the number of events at least one downstream sink rejected.
func (d *Dispatcher) Failed() uint64 {
	return d.failed.Load()
}
