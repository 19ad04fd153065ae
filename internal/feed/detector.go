package feed

import (
	"context"
	"log"
	"time"

	"github.com/sweeney/signal-controller/internal/clock"
	"github.com/sweeney/signal-controller/internal/gpio"
)

// loopState tracks debounce state for a single induction loop.
type loopState struct {
	// Current stable (debounced) occupancy
	stable bool
	// Pending occupancy during debounce
	pending    bool
	hasPending bool
	// Time when pending occupancy was first observed
	pendingSince time.Time
	// Whether we have established a baseline
	baselined bool
}

// LoopDetector turns debounced induction loop edges into queue updates:
// a vehicle entering the arrival loop joins the queue, a vehicle entering
// the stop-line loop leaves it.
type LoopDetector struct {
	laneIDs  []string
	counter  Counter
	passed   PassRecorder
	debounce time.Duration

	arrival  []loopState
	stopLine []loopState

	// Set once every loop of every lane has a baseline
	baselined bool
}

// NewLoopDetector creates a detector for lanes wired in laneIDs order.
// passed may be nil.
func NewLoopDetector(laneIDs []string, c Counter, passed PassRecorder, debounce time.Duration) *LoopDetector {
	return &LoopDetector{
		laneIDs:  laneIDs,
		counter:  c,
		passed:   passed,
		debounce: debounce,
		arrival:  make([]loopState, len(laneIDs)),
		stopLine: make([]loopState, len(laneIDs)),
	}
}

// Process applies one detector frame taken at now and returns the number of
// arrivals and departures it produced. No updates are made until every loop
// has a baseline, so vehicles parked on a loop at startup are not counted.
// Lanes missing from a short frame never baseline.
func (d *LoopDetector) Process(frame []gpio.Sample, now time.Time) (arrived, departed int) {
	n := len(frame)
	if n > len(d.laneIDs) {
		n = len(d.laneIDs)
	}

	if !d.baselined {
		for i := 0; i < n; i++ {
			d.processLoop(&d.arrival[i], frame[i].Arrival, now)
			d.processLoop(&d.stopLine[i], frame[i].StopLine, now)
		}
		d.baselined = d.allBaselined()
		return 0, 0
	}

	for i := 0; i < n; i++ {
		lane := d.laneIDs[i]
		if d.processLoop(&d.arrival[i], frame[i].Arrival, now) {
			if d.counter.AddVehicle(lane) {
				arrived++
			}
		}
		if d.processLoop(&d.stopLine[i], frame[i].StopLine, now) {
			if d.counter.RemoveVehicle(lane) {
				departed++
				if d.passed != nil {
					d.passed.AddPassed(lane, 1)
				}
			}
		}
	}
	return arrived, departed
}

// Baselined reports whether every loop has settled and edges are being counted.
func (d *LoopDetector) Baselined() bool {
	return d.baselined
}

func (d *LoopDetector) allBaselined() bool {
	for i := range d.laneIDs {
		if !d.arrival[i].baselined || !d.stopLine[i].baselined {
			return false
		}
	}
	return true
}

// processLoop handles debounce logic for a single loop.
// Returns true when the loop becomes occupied after baseline.
func (d *LoopDetector) processLoop(ls *loopState, occupied bool, now time.Time) bool {
	if !ls.baselined {
		if !ls.hasPending || ls.pending != occupied {
			// Start observing, or restart after a change
			ls.pending = occupied
			ls.hasPending = true
			ls.pendingSince = now
			return false
		}
		if now.Sub(ls.pendingSince) >= d.debounce {
			ls.stable = occupied
			ls.baselined = true
			ls.hasPending = false
		}
		return false
	}

	if occupied == ls.stable {
		ls.hasPending = false
		return false
	}

	if !ls.hasPending || ls.pending != occupied {
		ls.pending = occupied
		ls.hasPending = true
		ls.pendingSince = now
		return false
	}

	if now.Sub(ls.pendingSince) >= d.debounce {
		ls.stable = occupied
		ls.hasPending = false
		return occupied
	}
	return false
}

// Run polls reader on clk until ctx is cancelled. Read errors are logged and
// polling continues.
func (d *LoopDetector) Run(ctx context.Context, reader gpio.Reader, clk clock.Clock, poll time.Duration) error {
	ticker := clk.NewTicker(poll)
	defer ticker.Stop()

	log.Printf("feed: loop detectors started lanes=%v poll=%v debounce=%v", d.laneIDs, poll, d.debounce)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			frame, err := reader.Read()
			if err != nil {
				log.Printf("feed: detector read error: %v", err)
				continue
			}
			if len(frame) != len(d.laneIDs) {
				log.Printf("feed: detector frame has %d lanes, expected %d", len(frame), len(d.laneIDs))
			}
			d.Process(frame, clk.Now())
		}
	}
}
