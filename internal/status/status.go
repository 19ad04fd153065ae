// Package status provides a thread-safe status tracker for the signal controller.
// It is read by the HTTP handlers and the MQTT heartbeat.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/signal-controller/internal/logic"
)

// Config contains controller configuration for display.
type Config struct {
	Timing      logic.Timing
	UnitMs      int64
	Feed        string
	HeartbeatMs int64
	Broker      string
	HTTPPort    string
}

// LaneStatus is the displayed state of one lane.
type LaneStatus struct {
	ID      string
	Queued  int
	Waiting int
	Phase   logic.Phase
	Served  int // decision cycles this lane was selected for
	Passed  int // vehicles that cleared the stop line
}

// Snapshot is a point-in-time view of controller state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Lanes         []LaneStatus
	ActiveLane    string
	ActivePhase   logic.Phase
	Cycle         string // id of the current or last decision cycle
	Cycles        int    // completed decision cycles
	PhaseChanges  int
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the controller started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// TotalQueued returns the vehicles waiting across all lanes.
func (s Snapshot) TotalQueued() int {
	n := 0
	for _, l := range s.Lanes {
		n += l.Queued
	}
	return n
}

// TotalPassed returns the vehicles served across all lanes.
func (s Snapshot) TotalPassed() int {
	n := 0
	for _, l := range s.Lanes {
		n += l.Passed
	}
	return n
}

// Tracker holds mutable controller state behind an RWMutex. Queue and
// waiting counters are read live from the lanes; phases arrive through
// OnPhaseChange and passed counts through AddPassed.
type Tracker struct {
	lanes *logic.Lanes

	mu            sync.RWMutex
	startTime     time.Time
	cfg           Config
	phases        map[string]logic.Phase
	served        map[string]int
	passed        map[string]int
	activeLane    string
	activePhase   logic.Phase
	cycle         string
	cycles        int
	changes       int
	mqttConnected bool
}

// NewTracker creates a Tracker for lanes. Every lane starts RED.
func NewTracker(startTime time.Time, cfg Config, lanes *logic.Lanes) *Tracker {
	t := &Tracker{
		lanes:       lanes,
		startTime:   startTime,
		cfg:         cfg,
		phases:      make(map[string]logic.Phase, lanes.Len()),
		served:      make(map[string]int, lanes.Len()),
		passed:      make(map[string]int, lanes.Len()),
		activePhase: logic.PhaseRed,
	}
	for _, id := range lanes.IDs() {
		t.phases[id] = logic.PhaseRed
	}
	return t
}

// OnPhaseChange records a signal change. Tracker is a signal sink.
func (t *Tracker) OnPhaseChange(event logic.PhaseEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.phases[event.Lane]; !ok {
		return nil
	}
	t.phases[event.Lane] = event.Phase
	t.activeLane = event.Lane
	t.activePhase = event.Phase
	t.cycle = event.Cycle
	t.changes++

	switch event.Phase {
	case logic.PhaseGreen:
		t.served[event.Lane]++
	case logic.PhaseRed:
		t.cycles++
	}
	return nil
}

// AddPassed adds n vehicles that cleared the stop line on lane.
func (t *Tracker) AddPassed(lane string, n int) {
	t.mu.Lock()
	if _, ok := t.phases[lane]; ok {
		t.passed[lane] += n
	}
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.mqttConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the controller state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := Snapshot{
		Lanes:         make([]LaneStatus, 0, t.lanes.Len()),
		ActiveLane:    t.activeLane,
		ActivePhase:   t.activePhase,
		Cycle:         t.cycle,
		Cycles:        t.cycles,
		PhaseChanges:  t.changes,
		StartTime:     t.startTime,
		MQTTConnected: t.mqttConnected,
		Config:        t.cfg,
	}
	for _, l := range t.lanes.All() {
		s.Lanes = append(s.Lanes, LaneStatus{
			ID:      l.ID(),
			Queued:  l.Queued(),
			Waiting: l.Waiting(),
			Phase:   t.phases[l.ID()],
			Served:  t.served[l.ID()],
			Passed:  t.passed[l.ID()],
		})
	}
	t.mu.RUnlock()

	s.Now = time.Now()
	return s
}
