// Package config loads the controller configuration from a YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/signal-controller/internal/feed"
	"github.com/sweeney/signal-controller/internal/gpio"
	"github.com/sweeney/signal-controller/internal/logic"
	"github.com/sweeney/signal-controller/internal/mqtt"
)

// Vehicle feed modes.
const (
	FeedSim  = "sim"  // simulated arrivals and departures
	FeedGPIO = "gpio" // induction loop detectors
	FeedMQTT = "mqtt" // detector messages on the vehicles topic
	FeedNone = "none" // queues never change
)

// ErrInvalidConfig is returned for configurations the controller cannot run with.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete controller configuration.
type Config struct {
	Lanes         []string       `yaml:"lanes"`
	Timing        logic.Timing   `yaml:"timing"`
	Unit          time.Duration  `yaml:"unit"`           // wall time of one time-unit
	Feed          string         `yaml:"feed"`           // sim, gpio, mqtt or none
	Heartbeat     time.Duration  `yaml:"heartbeat"`      // 0 disables
	DispatchQueue int            `yaml:"dispatch_queue"` // buffered phase events
	MQTT          MQTTConfig     `yaml:"mqtt"`
	HTTP          HTTPConfig     `yaml:"http"`
	Sim           feed.SimConfig `yaml:"sim"`
	GPIO          GPIOConfig     `yaml:"gpio"`
}

// MQTTConfig contains MQTT broker settings.
type MQTTConfig struct {
	Broker     string `yaml:"broker"`      // empty disables MQTT
	ClientID   string `yaml:"client_id"`   // empty generates one
	BufferSize int    `yaml:"buffer_size"` // messages kept while offline
}

// HTTPConfig contains status server settings.
type HTTPConfig struct {
	Addr         string        `yaml:"addr"` // empty disables the server
	LiveInterval time.Duration `yaml:"live_interval"`
}

// GPIOConfig contains loop detector wiring, one entry per lane in lane order.
type GPIOConfig struct {
	Chip     string          `yaml:"chip"`
	Pins     []gpio.LanePins `yaml:"pins"`
	Poll     time.Duration   `yaml:"poll"`
	Debounce time.Duration   `yaml:"debounce"`
}

// Default returns the built-in configuration.
func Default() Config {
	lanes := make([]string, len(logic.DefaultLaneIDs))
	copy(lanes, logic.DefaultLaneIDs)
	pins := make([]gpio.LanePins, len(gpio.DefaultPins))
	copy(pins, gpio.DefaultPins)

	return Config{
		Lanes:         lanes,
		Timing:        logic.DefaultTiming(),
		Unit:          time.Second,
		Feed:          FeedSim,
		Heartbeat:     15 * time.Minute,
		DispatchQueue: 64,
		MQTT: MQTTConfig{
			Broker:     "tcp://localhost:1883",
			BufferSize: mqtt.DefaultBufferSize,
		},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			LiveInterval: time.Second,
		},
		Sim: feed.DefaultSimConfig(),
		GPIO: GPIOConfig{
			Chip:     gpio.DefaultChip,
			Pins:     pins,
			Poll:     100 * time.Millisecond,
			Debounce: 250 * time.Millisecond,
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
// Unknown keys are rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Marshal encodes cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Validate reports the first problem that would stop the controller from
// starting. Lane and timing errors wrap the logic package sentinels.
func (c Config) Validate() error {
	if _, err := logic.NewLanes(c.Lanes); err != nil {
		return fmt.Errorf("%w: lanes: %w", ErrInvalidConfig, err)
	}
	if err := c.Timing.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Unit <= 0 {
		return fmt.Errorf("%w: unit must be positive, got %v", ErrInvalidConfig, c.Unit)
	}
	if c.Heartbeat < 0 {
		return fmt.Errorf("%w: heartbeat must not be negative, got %v", ErrInvalidConfig, c.Heartbeat)
	}
	if c.DispatchQueue < 1 {
		return fmt.Errorf("%w: dispatch_queue must be at least 1, got %d", ErrInvalidConfig, c.DispatchQueue)
	}
	if c.MQTT.Broker != "" && c.MQTT.BufferSize < 1 {
		return fmt.Errorf("%w: mqtt.buffer_size must be at least 1, got %d", ErrInvalidConfig, c.MQTT.BufferSize)
	}

	switch c.Feed {
	case FeedNone:
	case FeedSim:
		if c.Sim.Interval <= 0 {
			return fmt.Errorf("%w: sim.interval must be positive, got %v", ErrInvalidConfig, c.Sim.Interval)
		}
		if c.Sim.ArrivalChance < 0 || c.Sim.ArrivalChance > 1 {
			return fmt.Errorf("%w: sim.arrival_chance must be within [0, 1], got %v", ErrInvalidConfig, c.Sim.ArrivalChance)
		}
		if c.Sim.MaxBatch < 1 {
			return fmt.Errorf("%w: sim.max_batch must be at least 1, got %d", ErrInvalidConfig, c.Sim.MaxBatch)
		}
		if c.Sim.DepartPerStep < 0 {
			return fmt.Errorf("%w: sim.depart_per_step must not be negative, got %d", ErrInvalidConfig, c.Sim.DepartPerStep)
		}
	case FeedGPIO:
		if len(c.GPIO.Pins) != len(c.Lanes) {
			return fmt.Errorf("%w: gpio.pins has %d entries for %d lanes", ErrInvalidConfig, len(c.GPIO.Pins), len(c.Lanes))
		}
		if c.GPIO.Poll <= 0 {
			return fmt.Errorf("%w: gpio.poll must be positive, got %v", ErrInvalidConfig, c.GPIO.Poll)
		}
		if c.GPIO.Debounce < 0 {
			return fmt.Errorf("%w: gpio.debounce must not be negative, got %v", ErrInvalidConfig, c.GPIO.Debounce)
		}
	case FeedMQTT:
		if c.MQTT.Broker == "" {
			return fmt.Errorf("%w: feed mqtt needs mqtt.broker", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown feed %q (want sim, gpio, mqtt or none)", ErrInvalidConfig, c.Feed)
	}
	return nil
}
