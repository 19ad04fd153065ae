//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealReader reads loop detectors from actual hardware using the Linux GPIO character device.
type RealReader struct {
	chip  *gpiocdev.Chip
	lines *gpiocdev.Lines
	lanes int
	raw   []int
}

// NewRealReader requests the arrival and stop-line pins of every lane.
// Detector cards pull their output low while a vehicle is over the loop, so
// lines are requested active-low and read as logical occupancy.
func NewRealReader(chipName string, pins []LanePins) (*RealReader, error) {
	if len(pins) == 0 {
		return nil, fmt.Errorf("no detector pins configured")
	}

	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	offsets := make([]int, 0, 2*len(pins))
	for _, p := range pins {
		offsets = append(offsets, p.Arrival, p.StopLine)
	}

	lines, err := chip.RequestLines(offsets, gpiocdev.AsInput, gpiocdev.AsActiveLow, gpiocdev.WithPullUp)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request detector pins %v: %w", offsets, err)
	}

	return &RealReader{
		chip:  chip,
		lines: lines,
		lanes: len(pins),
		raw:   make([]int, len(offsets)),
	}, nil
}

// Read returns the logical occupancy of every lane's loops.
func (r *RealReader) Read() ([]Sample, error) {
	if err := r.lines.Values(r.raw); err != nil {
		return nil, fmt.Errorf("read detector pins: %w", err)
	}

	samples := make([]Sample, r.lanes)
	for i := range samples {
		samples[i] = Sample{
			Arrival:  r.raw[2*i] == 1,
			StopLine: r.raw[2*i+1] == 1,
		}
	}
	return samples, nil
}

// Close releases the detector lines. The lines were held active-low with the
// internal pull-up enabled for the detector cards' open-collector outputs;
// they are handed back as plain inputs with pull-down, the boot default for
// these pins, so the pull-up no longer drives the card outputs after exit.
func (r *RealReader) Close() error {
	var errs []error

	if r.lines != nil {
		if err := r.lines.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure detector pins: %w", err))
		}
		if err := r.lines.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close detector pins: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
