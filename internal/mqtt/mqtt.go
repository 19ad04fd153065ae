// Package mqtt provides MQTT publishing of signal phases and the MQTT vehicle
// feed, with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/signal-controller/internal/logic"
)

// Topic is the MQTT topic for phase change events.
const Topic = "traffic/signal/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "traffic/signal/system"

// TopicVehicles is the MQTT topic vehicle detectors publish arrivals and departures to.
const TopicVehicles = "traffic/signal/vehicles"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a phase change event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.PhaseEvent) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// VehicleSubscriber delivers vehicle feed messages.
type VehicleSubscriber interface {
	// SubscribeVehicles registers handler for messages on TopicVehicles.
	// Malformed messages are logged and dropped before reaching handler.
	SubscribeVehicles(handler func(VehicleEvent)) error
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload for a phase change.
type Payload struct {
	Signal SignalPayload `json:"signal"`
}

// SignalPayload contains the phase change details.
type SignalPayload struct {
	Timestamp string `json:"timestamp"`
	Cycle     string `json:"cycle"`
	Lane      string `json:"lane"`
	Phase     string `json:"phase"`
	DurationS int    `json:"duration_s"`
	Queued    int    `json:"queued"`
	Waiting   int    `json:"waiting"`
	Starved   bool   `json:"starved"`
}

// FormatPayload creates the JSON payload for a phase change event.
func FormatPayload(event logic.PhaseEvent) ([]byte, error) {
	payload := Payload{
		Signal: SignalPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Cycle:     event.Cycle,
			Lane:      event.Lane,
			Phase:     string(event.Phase),
			DurationS: event.Duration,
			Queued:    event.Queued,
			Waiting:   event.Waiting,
			Starved:   event.Starved,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp,omitempty"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// WillPayload is the retained last-will message the broker publishes if the
// controller disappears without a SHUTDOWN.
func WillPayload() []byte {
	data, _ := json.Marshal(SystemPayload{System: SystemPayloadInner{Event: "OFFLINE"}})
	return data
}

// VehicleEventType is the kind of vehicle feed message.
type VehicleEventType string

const (
	VehicleArrive VehicleEventType = "ARRIVE"
	VehicleDepart VehicleEventType = "DEPART"
)

// VehicleEvent is a single arrival or departure reported by a detector.
type VehicleEvent struct {
	Lane  string
	Event VehicleEventType
	Count int // number of vehicles, at least 1
}

// VehiclePayload is the JSON payload on TopicVehicles.
type VehiclePayload struct {
	Vehicle VehiclePayloadInner `json:"vehicle"`
}

// VehiclePayloadInner contains the vehicle feed details.
type VehiclePayloadInner struct {
	Lane  string `json:"lane"`
	Event string `json:"event"`
	Count int    `json:"count,omitempty"`
}

// ErrBadVehiclePayload is returned for vehicle messages that cannot be applied.
var ErrBadVehiclePayload = errors.New("bad vehicle payload")

// MaxVehicleCount is the largest batch a single vehicle message may report.
const MaxVehicleCount = 100

// ParseVehiclePayload decodes a vehicle feed message. A missing count means 1.
// Lane ids are not checked here; unknown lanes are dropped by the feed.
func ParseVehiclePayload(data []byte) (VehicleEvent, error) {
	var p VehiclePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return VehicleEvent{}, fmt.Errorf("%w: %v", ErrBadVehiclePayload, err)
	}
	if p.Vehicle.Lane == "" {
		return VehicleEvent{}, fmt.Errorf("%w: missing lane", ErrBadVehiclePayload)
	}

	ev := VehicleEvent{Lane: p.Vehicle.Lane, Event: VehicleEventType(p.Vehicle.Event), Count: p.Vehicle.Count}
	switch ev.Event {
	case VehicleArrive, VehicleDepart:
	default:
		return VehicleEvent{}, fmt.Errorf("%w: unknown event %q", ErrBadVehiclePayload, p.Vehicle.Event)
	}
	if ev.Count < 0 {
		return VehicleEvent{}, fmt.Errorf("%w: negative count %d", ErrBadVehiclePayload, ev.Count)
	}
	if ev.Count > MaxVehicleCount {
		return VehicleEvent{}, fmt.Errorf("%w: count %d exceeds %d", ErrBadVehiclePayload, ev.Count, MaxVehicleCount)
	}
	if ev.Count == 0 {
		ev.Count = 1
	}
	return ev, nil
}

// FormatVehiclePayload creates the JSON payload for a vehicle feed message.
func FormatVehiclePayload(ev VehicleEvent) ([]byte, error) {
	return json.Marshal(VehiclePayload{Vehicle: VehiclePayloadInner{
		Lane:  ev.Lane,
		Event: string(ev.Event),
		Count: ev.Count,
	}})
}
