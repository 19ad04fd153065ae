package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/signal-controller/internal/logic"
)

func testEvent(lane string, phase logic.Phase) logic.PhaseEvent {
	return logic.PhaseEvent{
		Timestamp: time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC),
		Cycle:     "c0ffee",
		Lane:      lane,
		Phase:     phase,
		Duration:  8,
		Queued:    5,
		Waiting:   3,
	}
}

func TestFormatPayload(t *testing.T) {
	payload, err := FormatPayload(testEvent("East", logic.PhaseGreen))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed Payload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Signal.Timestamp != "2026-02-02T22:18:12Z" {
		t.Errorf("unexpected timestamp: %s", parsed.Signal.Timestamp)
	}
	if parsed.Signal.Lane != "East" {
		t.Errorf("unexpected lane: %s", parsed.Signal.Lane)
	}
	if parsed.Signal.Phase != "GREEN" {
		t.Errorf("unexpected phase: %s", parsed.Signal.Phase)
	}
	if parsed.Signal.DurationS != 8 {
		t.Errorf("unexpected duration: %d", parsed.Signal.DurationS)
	}
	if parsed.Signal.Cycle != "c0ffee" {
		t.Errorf("unexpected cycle: %s", parsed.Signal.Cycle)
	}
}

func TestFormatPayloadExactJSON(t *testing.T) {
	ev := testEvent("West", logic.PhaseYellow)
	ev.Duration = 2
	ev.Starved = true

	payload, err := FormatPayload(ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"signal":{"timestamp":"2026-02-02T22:18:12Z","cycle":"c0ffee","lane":"West","phase":"YELLOW","duration_s":2,"queued":5,"waiting":3,"starved":true}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(payload), expected)
	}
}

func TestFormatPayloadAllPhases(t *testing.T) {
	for _, p := range []logic.Phase{logic.PhaseGreen, logic.PhaseYellow, logic.PhaseRed} {
		t.Run(string(p), func(t *testing.T) {
			payload, err := FormatPayload(testEvent("North", p))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var parsed Payload
			if err := json.Unmarshal(payload, &parsed); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if parsed.Signal.Phase != string(p) {
				t.Errorf("phase: got %s, want %s", parsed.Signal.Phase, p)
			}
		})
	}
}

func TestFormatPayloadTimezoneConversion(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	ev := testEvent("North", logic.PhaseRed)
	ev.Timestamp = time.Date(2026, 2, 3, 0, 30, 0, 0, loc)

	payload, _ := FormatPayload(ev)
	var parsed Payload
	json.Unmarshal(payload, &parsed)
	if parsed.Signal.Timestamp != "2026-02-02T22:30:00Z" {
		t.Errorf("expected UTC timestamp, got %s", parsed.Signal.Timestamp)
	}
}

func TestTopics(t *testing.T) {
	if Topic != "traffic/signal/events" {
		t.Errorf("unexpected topic: %s", Topic)
	}
	if TopicSystem != "traffic/signal/system" {
		t.Errorf("unexpected system topic: %s", TopicSystem)
	}
	if TopicVehicles != "traffic/signal/vehicles" {
		t.Errorf("unexpected vehicles topic: %s", TopicVehicles)
	}
}

func TestFormatSystemPayloadExactJSON(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 3, 10, 30, 45, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "SIGTERM",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-02-03T10:30:45Z","event":"SHUTDOWN","reason":"SIGTERM"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(payload), expected)
	}
}

func TestFormatSystemPayloadRawPassthrough(t *testing.T) {
	raw := []byte(`{"status":{"event":"STARTUP"}}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: "STARTUP", RawPayload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != string(raw) {
		t.Errorf("expected raw payload, got %s", payload)
	}
}

func TestFormatSystemPayloadReconnectedOmitsReason(t *testing.T) {
	payload, _ := FormatSystemPayload(SystemEvent{
		Timestamp: time.Date(2026, 2, 10, 14, 30, 0, 0, time.UTC),
		Event:     "RECONNECTED",
	})
	expected := `{"system":{"timestamp":"2026-02-10T14:30:00Z","event":"RECONNECTED"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(payload), expected)
	}
}

func TestWillPayload(t *testing.T) {
	expected := `{"system":{"event":"OFFLINE"}}`
	if got := string(WillPayload()); got != expected {
		t.Errorf("unexpected will payload:\ngot:  %s\nwant: %s", got, expected)
	}
}

func TestParseVehiclePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    VehicleEvent
		wantErr bool
	}{
		{"arrive", `{"vehicle":{"lane":"North","event":"ARRIVE"}}`, VehicleEvent{Lane: "North", Event: VehicleArrive, Count: 1}, false},
		{"depart with count", `{"vehicle":{"lane":"East","event":"DEPART","count":3}}`, VehicleEvent{Lane: "East", Event: VehicleDepart, Count: 3}, false},
		{"unknown lane passes", `{"vehicle":{"lane":"Nowhere","event":"ARRIVE"}}`, VehicleEvent{Lane: "Nowhere", Event: VehicleArrive, Count: 1}, false},
		{"missing lane", `{"vehicle":{"event":"ARRIVE"}}`, VehicleEvent{}, true},
		{"bad event", `{"vehicle":{"lane":"North","event":"HONK"}}`, VehicleEvent{}, true},
		{"negative count", `{"vehicle":{"lane":"North","event":"ARRIVE","count":-1}}`, VehicleEvent{}, true},
		{"largest batch", `{"vehicle":{"lane":"North","event":"ARRIVE","count":100}}`, VehicleEvent{Lane: "North", Event: VehicleArrive, Count: MaxVehicleCount}, false},
		{"oversized count", `{"vehicle":{"lane":"North","event":"DEPART","count":2000000000}}`, VehicleEvent{}, true},
		{"max int64 count", `{"vehicle":{"lane":"North","event":"DEPART","count":9223372036854775807}}`, VehicleEvent{}, true},
		{"not json", `ARRIVE North`, VehicleEvent{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVehiclePayload([]byte(tt.payload))
			if tt.wantErr {
				if !errors.Is(err, ErrBadVehiclePayload) {
					t.Errorf("expected ErrBadVehiclePayload, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFormatVehiclePayloadParses(t *testing.T) {
	ev := VehicleEvent{Lane: "South", Event: VehicleDepart, Count: 2}
	payload, err := FormatVehiclePayload(ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := ParseVehiclePayload(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != ev {
		t.Errorf("got %+v, want %+v", got, ev)
	}
}

func TestFakePublisher(t *testing.T) {
	f := NewFakePublisher()

	if err := f.Publish(testEvent("North", logic.PhaseGreen)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.Events) != 1 || len(f.Payloads) != 1 {
		t.Fatalf("expected 1 event and payload, got %d/%d", len(f.Events), len(f.Payloads))
	}
	if f.Events[0].Lane != "North" {
		t.Errorf("unexpected lane: %s", f.Events[0].Lane)
	}

	if err := f.PublishSystem(SystemEvent{Event: "STARTUP", Retained: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.SystemEvents) != 1 || !f.SystemEvents[0].Retained {
		t.Errorf("expected retained STARTUP, got %+v", f.SystemEvents)
	}
}

func TestFakePublisherErrors(t *testing.T) {
	f := NewFakePublisher()
	f.PublishError = errors.New("simulated error")
	f.PublishSystemError = errors.New("simulated system error")

	if err := f.Publish(testEvent("North", logic.PhaseGreen)); err == nil {
		t.Error("expected publish error")
	}
	if err := f.PublishSystem(SystemEvent{Event: "HEARTBEAT"}); err == nil {
		t.Error("expected system publish error")
	}
	if len(f.Events) != 0 || len(f.SystemEvents) != 0 {
		t.Error("failed publishes should not be recorded")
	}
}

func TestFakePublisherCloseAndReset(t *testing.T) {
	f := NewFakePublisher()
	f.Connected = true
	f.Publish(testEvent("North", logic.PhaseGreen))
	f.Close()
	if !f.Closed {
		t.Error("expected Closed after Close()")
	}
	if !f.IsConnected() {
		t.Error("expected IsConnected to follow Connected")
	}

	f.Reset()
	if f.Closed || f.Connected || len(f.Events) != 0 || len(f.Payloads) != 0 {
		t.Error("Reset did not clear state")
	}
}

func TestFakePublisherDeliver(t *testing.T) {
	f := NewFakePublisher()

	// No handler yet: dropped silently
	f.Deliver([]byte(`{"vehicle":{"lane":"North","event":"ARRIVE"}}`))

	var got []VehicleEvent
	f.SubscribeVehicles(func(ev VehicleEvent) { got = append(got, ev) })

	f.Deliver([]byte(`{"vehicle":{"lane":"North","event":"ARRIVE"}}`))
	f.Deliver([]byte(`garbage`))
	f.Deliver([]byte(`{"vehicle":{"lane":"West","event":"DEPART","count":2}}`))

	if len(got) != 2 {
		t.Fatalf("expected 2 delivered events, got %d", len(got))
	}
	if got[0].Lane != "North" || got[0].Event != VehicleArrive {
		t.Errorf("event 0: %+v", got[0])
	}
	if got[1].Lane != "West" || got[1].Count != 2 {
		t.Errorf("event 1: %+v", got[1])
	}
}

func TestFakePublisherPreservesEventOrder(t *testing.T) {
	f := NewFakePublisher()
	phases := []logic.Phase{logic.PhaseGreen, logic.PhaseYellow, logic.PhaseRed}
	for _, p := range phases {
		f.Publish(testEvent("South", p))
	}
	for i, p := range phases {
		if f.Events[i].Phase != p {
			t.Errorf("event %d: got %s, want %s", i, f.Events[i].Phase, p)
		}
	}
}
