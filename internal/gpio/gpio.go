// Package gpio provides induction loop detector input with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Reader reads loop detector states.
type Reader interface {
	// Read returns one Sample per configured lane, in lane order.
	Read() ([]Sample, error)

	// Close releases GPIO resources.
	Close() error
}

// Sample is the occupancy of one lane's two loops (already in logical form).
type Sample struct {
	Arrival  bool // true = vehicle over the upstream arrival loop
	StopLine bool // true = vehicle over the stop-line loop
}

// LanePins holds the BCM pin numbers of one lane's loops.
type LanePins struct {
	Arrival  int `yaml:"arrival"`
	StopLine int `yaml:"stop_line"`
}

// DefaultChip is the GPIO chip loop detectors are wired to.
const DefaultChip = "gpiochip0"

// DefaultPins is the wiring for the four default lanes (North, South, East, West).
var DefaultPins = []LanePins{
	{Arrival: 5, StopLine: 6},
	{Arrival: 13, StopLine: 19},
	{Arrival: 20, StopLine: 21},
	{Arrival: 23, StopLine: 24},
}
