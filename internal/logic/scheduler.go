package logic

import "fmt"

// Scheduler decides which lane is served next and tracks the phase of the
// active lane. It is not safe for concurrent use: exactly one goroutine drives
// it. Lane queued counts may change concurrently; each decision works on a
// snapshot taken after the fairness-tick.
type Scheduler struct {
	lanes  *Lanes
	timing Timing

	active   *Lane // nil before the first decision
	decision Decision
	phase    Phase
	decided  bool // a decision is waiting for its GREEN
	cycles   uint64
}

// NewScheduler creates a scheduler over the given lanes.
// Returns a configuration error for an empty lane set or invalid timing.
func NewScheduler(lanes *Lanes, timing Timing) (*Scheduler, error) {
	if lanes == nil || lanes.Len() == 0 {
		return nil, ErrNoLanes
	}
	if err := timing.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{
		lanes:  lanes,
		timing: timing,
		phase:  PhaseRed,
	}, nil
}

// Lanes returns the lane set.
func (s *Scheduler) Lanes() *Lanes {
	return s.lanes
}

// Timing returns the scheduling constants.
func (s *Scheduler) Timing() Timing {
	return s.timing
}

// Tick advances every lane's waiting time by one. This is the fairness-tick.
func (s *Scheduler) Tick() {
	for _, l := range s.lanes.order {
		l.TickWaiting()
	}
}

// Select returns the index of the lane to serve given counter snapshots in
// lane order, and whether the starvation rule chose it.
// A starved lane (waiting >= threshold) always wins, the longest waiting
// first; otherwise the busiest lane wins. Ties go to the earlier lane.
func (t Timing) Select(queued, waiting []int) (int, bool) {
	starved := -1
	for i, w := range waiting {
		if w < t.StarvationThreshold {
			continue
		}
		if starved < 0 || w > waiting[starved] {
			starved = i
		}
	}
	if starved >= 0 {
		return starved, true
	}

	best := 0
	for i, q := range queued {
		if q > queued[best] {
			best = i
		}
	}
	return best, false
}

// GreenTime computes the green hold for a lane with the given counters.
// The count-based value is clamped to [MinGreen, MaxGreen]; a starved lane
// gets exactly MinGreen+StarvationBonus instead.
func (t Timing) GreenTime(queued, waiting int) (int, bool) {
	if waiting >= t.StarvationThreshold {
		return t.MinGreen + t.StarvationBonus, true
	}
	g := queued * 2
	if g < t.MinGreen {
		g = t.MinGreen
	}
	if g > t.MaxGreen {
		g = t.MaxGreen
	}
	return g, false
}

// Decide runs the fairness-tick, selects a lane and computes its green time.
// It must be called between cycles, i.e. when the active phase is RED.
func (s *Scheduler) Decide() (Decision, error) {
	if s.phase != PhaseRed || s.decided {
		return Decision{}, fmt.Errorf("%w: decide while %s phase is active", ErrInvalidTransition, s.phase)
	}

	s.Tick()

	n := s.lanes.Len()
	queued := make([]int, n)
	waiting := make([]int, n)
	for i, l := range s.lanes.order {
		queued[i] = l.Queued()
		waiting[i] = l.Waiting()
	}

	idx, starved := s.timing.Select(queued, waiting)
	green, _ := s.timing.GreenTime(queued[idx], waiting[idx])

	s.active = s.lanes.order[idx]
	s.decided = true
	s.decision = Decision{
		Lane:      s.active.id,
		Index:     idx,
		GreenTime: green,
		Starved:   starved,
		Queued:    queued[idx],
		Waiting:   waiting[idx],
	}
	return s.decision, nil
}

// Transition moves the active lane to the given phase.
// Valid sequences are RED->GREEN (after Decide), GREEN->YELLOW and YELLOW->RED.
// Entering RED resets the active lane's waiting time and completes the cycle.
func (s *Scheduler) Transition(to Phase) error {
	switch {
	case to == PhaseGreen && s.phase == PhaseRed && s.decided:
		s.decided = false
	case to == PhaseYellow && s.phase == PhaseGreen:
	case to == PhaseRed && s.phase == PhaseYellow:
		s.active.ResetWaiting()
		s.cycles++
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.phase, to)
	}
	s.phase = to
	return nil
}

// Hold returns the time-units the given phase is held for the current decision.
func (s *Scheduler) Hold(p Phase) int {
	switch p {
	case PhaseGreen:
		return s.decision.GreenTime
	case PhaseYellow:
		return s.timing.Yellow
	}
	return 0
}

// State returns the active lane id ("" before the first decision) and its phase.
// Every other lane is RED.
func (s *Scheduler) State() (string, Phase) {
	if s.active == nil {
		return "", s.phase
	}
	return s.active.id, s.phase
}

// LastDecision returns the most recent decision.
func (s *Scheduler) LastDecision() Decision {
	return s.decision
}

// Cycles returns the number of completed decision cycles.
func (s *Scheduler) Cycles() uint64 {
	return s.cycles
}
