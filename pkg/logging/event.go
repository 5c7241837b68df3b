package logging

import (
	"encoding/json"
	"time"
)

// Event is the canonical structured event written by the mocking pipeline.
// Required fields: Timestamp, RunID, Source, EventType, Summary.
// Optional fields use omitempty tags.
type Event struct {
	Timestamp time.Time       `json:"ts"`
	RunID     string          `json:"run_id"`
	Source    string          `json:"source"`
	EventType string          `json:"event_type"`
	Summary   string          `json:"summary"`
	Component string          `json:"component,omitempty"`
	Tags      []string        `json:"tags,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

const (
	EventMockDecision    = "mock_decision"
	EventRulesChanged    = "rules_changed"
	EventRelayConnection = "relay_connection"
)

// MockDecisionData is the data payload for mock_decision events.
type MockDecisionData struct {
	Primitive  string `json:"primitive"` // "fetch", "transport", "xhr"
	Method     string `json:"method"`
	URL        string `json:"url"`
	Outcome    string `json:"outcome"`
	Status     int    `json:"status,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// RulesChangedData is the data payload for rules_changed events.
type RulesChangedData struct {
	Kind    string `json:"kind"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// RelayConnectionData is the data payload for relay_connection events.
type RelayConnectionData struct {
	Action string `json:"action"` // "opened", "closed"
	Codec  string `json:"codec"`
	Peers  int    `json:"peers"`
}
