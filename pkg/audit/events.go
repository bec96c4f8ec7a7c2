package audit

import "time"

// EventType categorizes audit events for filtering and alerting.
type EventType string

const (
	// Connection events
	EventConnectionOpened EventType = "connection_opened"
	EventConnectionClosed EventType = "connection_closed"
	EventConnectionFailed EventType = "connection_failed"

	// Query events
	EventQuerySubmitted EventType = "query_submitted"
	EventQueryExecuted  EventType = "query_executed"
	EventQueryFailed    EventType = "query_failed"

	// LLM events
	EventLLMRequest  EventType = "llm_request"
	EventLLMResponse EventType = "llm_response"
	EventLLMError    EventType = "llm_error"

	// Security events
	EventPIIDetected           EventType = "pii_detected"
	EventPolicyViolation       EventType = "policy_violation"
	EventAccessDenied          EventType = "access_denied"
	EventDataBoundaryViolation EventType = "data_boundary_violation"

	// System events
	EventServerStarted EventType = "server_started"
	EventServerStopped EventType = "server_stopped"
	EventValidationRun EventType = "validation_run"
	EventConfigChanged EventType = "config_changed"
)

// Severity levels for audit events.
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Event is one audit record. Events are created and appended exactly
// once, never mutated. Details must only hold non-sensitive scalar or
// array values — counts, hashes, identifiers — never model data.
type Event struct {
	EventID   string    `json:"event_id"`
	EventType EventType `json:"event_type"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`

	// Correlation ids
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	Details map[string]any `json:"details"`

	// Tamper evidence
	PreviousHash string `json:"previous_hash"`
	Signature    string `json:"signature,omitempty"`
}

// Options carries the optional fields of an event. The zero value is
// valid: info severity is applied when Severity is empty.
type Options struct {
	Severity  Severity
	UserID    string
	SessionID string
	RequestID string
	Details   map[string]any
}
