// Package feed implements the vehicle feeds that update lane queue counts:
// a traffic simulator, induction loop detectors, and MQTT detector messages.
package feed

import (
	"log"

	"github.com/sweeney/signal-controller/internal/mqtt"
)

// Counter is the vehicle feed's view of the lanes. *logic.Lanes implements it.
// Both methods report false for an unknown lane id and never fail otherwise.
type Counter interface {
	AddVehicle(id string) bool
	RemoveVehicle(id string) bool
}

// PassRecorder counts vehicles that cleared the stop line.
type PassRecorder interface {
	AddPassed(lane string, n int)
}

// MQTTHandler returns a handler applying vehicle feed messages to c.
// Unknown lanes and counts above mqtt.MaxVehicleCount are logged and dropped.
// A departure stops at the first vehicle the lane does not have. passed may be nil.
func MQTTHandler(c Counter, passed PassRecorder) func(mqtt.VehicleEvent) {
	return func(ev mqtt.VehicleEvent) {
		if ev.Count > mqtt.MaxVehicleCount {
			log.Printf("feed: dropping %s of %d vehicles on %q", ev.Event, ev.Count, ev.Lane)
			return
		}
		switch ev.Event {
		case mqtt.VehicleArrive:
			for i := 0; i < ev.Count; i++ {
				if !c.AddVehicle(ev.Lane) {
					log.Printf("feed: dropping arrival for unknown lane %q", ev.Lane)
					return
				}
			}
		case mqtt.VehicleDepart:
			n := 0
			for n < ev.Count && c.RemoveVehicle(ev.Lane) {
				n++
			}
			if n > 0 && passed != nil {
				passed.AddPassed(ev.Lane, n)
			}
		}
	}
}
