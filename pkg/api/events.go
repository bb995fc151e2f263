package api

import "time"

type (
	// EventType names an audit or lifecycle event
	EventType string

	// AuditEvent describes a completed flow to the audit collaborators.
	// Ownership transfers to the publisher once the flow hands it off.
	AuditEvent struct {
		Payload   map[string]any `json:"payload"`
		EventType EventType      `json:"event_type"`
		Source    string         `json:"source"`
		TraceID   string         `json:"correlation_id"`
		UserID    string         `json:"user_id,omitempty"`
		Timestamp time.Time      `json:"timestamp"`
	}

	// FlowEvent is broadcast on the in-process hub when a flow starts or
	// finishes; the websocket stream forwards these to subscribers
	FlowEvent struct {
		Type      EventType   `json:"type"`
		Flow      FlowName    `json:"flow"`
		TraceID   string      `json:"trace_id"`
		Degraded  []EngineKey `json:"degraded,omitempty"`
		Error     string      `json:"error,omitempty"`
		Timestamp time.Time   `json:"timestamp"`
	}
)

// AuditSource is the source recorded on every audit event this service emits
const AuditSource = "orchestrator"

const (
	EventFlowStarted   EventType = "FLOW_STARTED"
	EventFlowCompleted EventType = "FLOW_COMPLETED"
	EventFlowFailed    EventType = "FLOW_FAILED"

	EventRAGQuery           EventType = "RAG_QUERY"
	EventUserOnboarded      EventType = "USER_ONBOARDED"
	EventEligibilityChecked EventType = "ELIGIBILITY_CHECKED"
	EventPolicyIngested     EventType = "POLICY_INGESTED"
	EventVoiceQuery         EventType = "VOICE_QUERY"
	EventSimulationRun      EventType = "SIMULATION_RUN"
)

// NewAuditEvent constructs an audit event stamped with the current time
func NewAuditEvent(
	typ EventType, cc Correlation, userID string, payload map[string]any,
) AuditEvent {
	return AuditEvent{
		EventType: typ,
		Source:    AuditSource,
		TraceID:   cc.TraceID,
		UserID:    userID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}
