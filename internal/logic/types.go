// Package logic contains the pure scheduling logic for a single intersection.
// This package has NO external dependencies (no MQTT, GPIO, OS, or time.Sleep).
// Durations are expressed in abstract time-units; the controller maps them to wall time.
package logic

import (
	"errors"
	"fmt"
	"time"
)

// Phase represents the signal state of a lane.
type Phase string

const (
	PhaseGreen  Phase = "GREEN"
	PhaseYellow Phase = "YELLOW"
	PhaseRed    Phase = "RED"
)

// Default timing constants, in time-units.
const (
	DefaultMinGreen            = 2
	DefaultMaxGreen            = 8
	DefaultYellow              = 2
	DefaultStarvationThreshold = 15
	DefaultStarvationBonus     = 3
)

// DefaultLaneIDs is the lane ordering used when none is configured.
var DefaultLaneIDs = []string{"North", "South", "East", "West"}

var (
	ErrNoLanes           = errors.New("no lanes configured")
	ErrDuplicateLane     = errors.New("duplicate lane id")
	ErrBlankLane         = errors.New("blank lane id")
	ErrInvalidTiming     = errors.New("invalid timing")
	ErrInvalidTransition = errors.New("invalid phase transition")
)

// Timing holds the scheduling constants. All values are in time-units.
type Timing struct {
	MinGreen            int `yaml:"min_green"`
	MaxGreen            int `yaml:"max_green"`
	Yellow              int `yaml:"yellow"`
	StarvationThreshold int `yaml:"starvation_threshold"`
	StarvationBonus     int `yaml:"starvation_bonus"`
}

// DefaultTiming returns the standard timing constants.
func DefaultTiming() Timing {
	return Timing{
		MinGreen:            DefaultMinGreen,
		MaxGreen:            DefaultMaxGreen,
		Yellow:              DefaultYellow,
		StarvationThreshold: DefaultStarvationThreshold,
		StarvationBonus:     DefaultStarvationBonus,
	}
}

// Validate reports a configuration error if any constant is non-positive
// or the green bounds are inverted.
func (t Timing) Validate() error {
	checks := []struct {
		name  string
		value int
	}{
		{"min_green", t.MinGreen},
		{"max_green", t.MaxGreen},
		{"yellow", t.Yellow},
		{"starvation_threshold", t.StarvationThreshold},
		{"starvation_bonus", t.StarvationBonus},
	}
	for _, c := range checks {
		if c.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidTiming, c.name, c.value)
		}
	}
	if t.MinGreen > t.MaxGreen {
		return fmt.Errorf("%w: min_green %d exceeds max_green %d", ErrInvalidTiming, t.MinGreen, t.MaxGreen)
	}
	return nil
}

// Decision is the outcome of one selection round.
type Decision struct {
	Lane      string
	Index     int  // position of Lane in the fixed ordering
	GreenTime int  // time-units
	Starved   bool // selected by the starvation rule
	Queued    int  // queued count observed at selection
	Waiting   int  // waiting time observed at selection
}

// PhaseEvent represents a phase change to be emitted to the signal output.
type PhaseEvent struct {
	Timestamp time.Time
	Cycle     string // identifier shared by the GREEN, YELLOW and RED of one cycle
	Lane      string
	Phase     Phase
	Duration  int // hold in time-units; 0 for RED
	Queued    int
	Waiting   int
	Starved   bool
}
