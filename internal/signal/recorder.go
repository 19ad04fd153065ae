package signal

import (
	"fmt"
	"sync"

	"github.com/sweeney/signal-controller/internal/logic"
)

// Recorder records phase events for test assertions and checks that at most
// one lane is out of RED after every event.
type Recorder struct {
	mu         sync.Mutex
	events     []logic.PhaseEvent
	phases     map[string]logic.Phase
	violations []string

	// Err, if set, is returned by OnPhaseChange after the event is recorded.
	Err error
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{phases: make(map[string]logic.Phase)}
}

// OnPhaseChange records the event.
func (r *Recorder) OnPhaseChange(event logic.PhaseEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
	r.phases[event.Lane] = event.Phase

	var active []string
	for lane, p := range r.phases {
		if p != logic.PhaseRed {
			active = append(active, lane)
		}
	}
	if len(active) > 1 {
		r.violations = append(r.violations,
			fmt.Sprintf("event %d (%s %s): lanes %v not RED", len(r.events)-1, event.Lane, event.Phase, active))
	}
	return r.Err
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []logic.PhaseEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]logic.PhaseEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Phase returns the last phase seen for lane, RED if none.
func (r *Recorder) Phase(lane string) logic.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.phases[lane]; ok {
		return p
	}
	return logic.PhaseRed
}

// Violations returns descriptions of events after which more than one lane
// was GREEN or YELLOW.
func (r *Recorder) Violations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.violations))
	copy(out, r.violations)
	return out
}

// Reset clears recorded state.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.phases = make(map[string]logic.Phase)
	r.violations = nil
	r.Err = nil
}
