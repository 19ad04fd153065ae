package logic

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Lane tracks the counters of one approach to the intersection.
// The queued count may be written from any goroutine. The waiting time is
// written only by the scheduler but stored atomically so observers can read it.
type Lane struct {
	id      string
	queued  atomic.Int64
	waiting atomic.Int64
}

// NewLane creates an empty lane.
func NewLane(id string) *Lane {
	return &Lane{id: id}
}

// ID returns the lane identifier.
func (l *Lane) ID() string {
	return l.id
}

// Queued returns the number of vehicles currently waiting.
func (l *Lane) Queued() int {
	return int(l.queued.Load())
}

// Waiting returns the time-units since the lane last completed a GREEN phase.
func (l *Lane) Waiting() int {
	return int(l.waiting.Load())
}

// AddVehicle increments the queued count.
func (l *Lane) AddVehicle() {
	l.queued.Add(1)
}

// RemoveVehicle decrements the queued count if it is above zero.
// Returns false if the lane was already empty.
func (l *Lane) RemoveVehicle() bool {
	for {
		n := l.queued.Load()
		if n <= 0 {
			return false
		}
		if l.queued.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

// TickWaiting advances the waiting time by one time-unit.
func (l *Lane) TickWaiting() {
	l.waiting.Add(1)
}

// ResetWaiting clears the waiting time. Called when the lane's GREEN phase ends.
func (l *Lane) ResetWaiting() {
	l.waiting.Store(0)
}

// Lanes is a fixed, ordered set of lanes. The order is the tie-break order.
type Lanes struct {
	order []*Lane
	byID  map[string]*Lane
}

// NewLanes creates the lane set in the given order.
func NewLanes(ids []string) (*Lanes, error) {
	if len(ids) == 0 {
		return nil, ErrNoLanes
	}
	ls := &Lanes{
		order: make([]*Lane, 0, len(ids)),
		byID:  make(map[string]*Lane, len(ids)),
	}
	for i, id := range ids {
		if strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("%w at position %d", ErrBlankLane, i)
		}
		if _, exists := ls.byID[id]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateLane, id)
		}
		l := NewLane(id)
		ls.order = append(ls.order, l)
		ls.byID[id] = l
	}
	return ls, nil
}

// Len returns the number of lanes.
func (ls *Lanes) Len() int {
	return len(ls.order)
}

// At returns the lane at position i of the fixed ordering.
func (ls *Lanes) At(i int) *Lane {
	return ls.order[i]
}

// All returns the lanes in their fixed order. The slice must not be modified.
func (ls *Lanes) All() []*Lane {
	return ls.order
}

// IDs returns the lane identifiers in order.
func (ls *Lanes) IDs() []string {
	ids := make([]string, len(ls.order))
	for i, l := range ls.order {
		ids[i] = l.id
	}
	return ids
}

// Get looks up a lane by id.
func (ls *Lanes) Get(id string) (*Lane, bool) {
	l, ok := ls.byID[id]
	return l, ok
}

// AddVehicle increments the queued count of the named lane.
// Unknown ids are ignored and reported with false.
func (ls *Lanes) AddVehicle(id string) bool {
	l, ok := ls.byID[id]
	if !ok {
		return false
	}
	l.AddVehicle()
	return true
}

// RemoveVehicle decrements the queued count of the named lane.
// Returns false for unknown ids or an already empty lane.
func (ls *Lanes) RemoveVehicle(id string) bool {
	l, ok := ls.byID[id]
	if !ok {
		return false
	}
	return l.RemoveVehicle()
}
