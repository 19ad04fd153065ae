package feed

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/sweeney/signal-controller/internal/clock"
	"github.com/sweeney/signal-controller/internal/logic"
)

// SimConfig controls simulated traffic.
type SimConfig struct {
	Interval      time.Duration `yaml:"interval"`        // time between steps
	ArrivalChance float64       `yaml:"arrival_chance"`  // per lane per step
	MaxBatch      int           `yaml:"max_batch"`       // arrivals are 1..MaxBatch vehicles
	DepartPerStep int           `yaml:"depart_per_step"` // departures from the GREEN lane per step
	Seed          int64         `yaml:"seed"`            // 0 seeds from the clock
}

// DefaultSimConfig returns the default simulation: every second each lane has
// an even chance of 1-3 new vehicles and the GREEN lane discharges two.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		Interval:      time.Second,
		ArrivalChance: 0.5,
		MaxBatch:      3,
		DepartPerStep: 2,
	}
}

// Simulator generates random arrivals and discharges vehicles from the lane
// that currently shows GREEN. It learns the active lane as a signal sink.
type Simulator struct {
	lanes  *logic.Lanes
	passed PassRecorder
	cfg    SimConfig
	rng    *rand.Rand

	mu    sync.Mutex
	green string
}

// NewSimulator creates a simulator over lanes. passed may be nil.
func NewSimulator(lanes *logic.Lanes, passed PassRecorder, cfg SimConfig) *Simulator {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if cfg.MaxBatch < 1 {
		cfg.MaxBatch = 1
	}
	return &Simulator{
		lanes:  lanes,
		passed: passed,
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// OnPhaseChange tracks which lane is GREEN. Vehicles do not move on YELLOW.
func (s *Simulator) OnPhaseChange(event logic.PhaseEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.Phase == logic.PhaseGreen {
		s.green = event.Lane
	} else if s.green == event.Lane {
		s.green = ""
	}
	return nil
}

// Green returns the lane the simulator believes is GREEN, "" if none.
func (s *Simulator) Green() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.green
}

// Step runs one simulation step and returns the vehicles added and discharged.
func (s *Simulator) Step() (arrived, departed int) {
	for _, l := range s.lanes.All() {
		if s.rng.Float64() >= s.cfg.ArrivalChance {
			continue
		}
		n := s.rng.Intn(s.cfg.MaxBatch) + 1
		for i := 0; i < n; i++ {
			l.AddVehicle()
		}
		arrived += n
	}

	green := s.Green()
	if green == "" {
		return arrived, 0
	}
	for i := 0; i < s.cfg.DepartPerStep; i++ {
		if !s.lanes.RemoveVehicle(green) {
			break
		}
		departed++
	}
	if departed > 0 && s.passed != nil {
		s.passed.AddPassed(green, departed)
	}
	return arrived, departed
}

// Run steps the simulation on clk until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context, clk clock.Clock) error {
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := clk.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("feed: simulator started interval=%v arrival_chance=%.2f", interval, s.cfg.ArrivalChance)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			s.Step()
		}
	}
}
