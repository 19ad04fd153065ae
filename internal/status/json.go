package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string     `json:"event,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	ActiveLane    string     `json:"active_lane"`
	ActivePhase   string     `json:"active_phase"`
	Cycle         string     `json:"cycle,omitempty"`
	Cycles        int        `json:"cycles"`
	PhaseChanges  int        `json:"phase_changes"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	MQTT          MQTTStatus `json:"mqtt"`
	Lanes         []LaneJSON `json:"lanes"`
	Totals        TotalsJSON `json:"totals"`
	Config        ConfigJSON `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// LaneJSON is the JSON representation of one lane.
type LaneJSON struct {
	ID      string `json:"id"`
	Phase   string `json:"phase"`
	Queued  int    `json:"queued"`
	Waiting int    `json:"waiting"`
	Served  int    `json:"served"`
	Passed  int    `json:"passed"`
}

// TotalsJSON sums the lane counters.
type TotalsJSON struct {
	Queued int `json:"queued"`
	Passed int `json:"passed"`
}

// ConfigJSON is the JSON representation of controller config.
type ConfigJSON struct {
	MinGreen            int    `json:"min_green"`
	MaxGreen            int    `json:"max_green"`
	Yellow              int    `json:"yellow"`
	StarvationThreshold int    `json:"starvation_threshold"`
	StarvationBonus     int    `json:"starvation_bonus"`
	UnitMs              int64  `json:"unit_ms"`
	Feed                string `json:"feed"`
	HeartbeatMs         int64  `json:"heartbeat_ms"`
	Broker              string `json:"broker"`
	HTTPPort            string `json:"http_port"`
}

func buildInner(snap Snapshot) StatusInner {
	active := string(snap.ActivePhase)
	if active == "" {
		active = "RED"
	}

	lanes := make([]LaneJSON, 0, len(snap.Lanes))
	for _, l := range snap.Lanes {
		lanes = append(lanes, LaneJSON{
			ID:      l.ID,
			Phase:   string(l.Phase),
			Queued:  l.Queued,
			Waiting: l.Waiting,
			Served:  l.Served,
			Passed:  l.Passed,
		})
	}

	t := snap.Config.Timing
	return StatusInner{
		ActiveLane:    snap.ActiveLane,
		ActivePhase:   active,
		Cycle:         snap.Cycle,
		Cycles:        snap.Cycles,
		PhaseChanges:  snap.PhaseChanges,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Lanes:         lanes,
		Totals:        TotalsJSON{Queued: snap.TotalQueued(), Passed: snap.TotalPassed()},
		Config: ConfigJSON{
			MinGreen:            t.MinGreen,
			MaxGreen:            t.MaxGreen,
			Yellow:              t.Yellow,
			StarvationThreshold: t.StarvationThreshold,
			StarvationBonus:     t.StarvationBonus,
			UnitMs:              snap.Config.UnitMs,
			Feed:                snap.Config.Feed,
			HeartbeatMs:         snap.Config.HeartbeatMs,
			Broker:              snap.Config.Broker,
			HTTPPort:            snap.Config.HTTPPort,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
