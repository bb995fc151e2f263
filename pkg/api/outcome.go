package api

import (
	"encoding/json"
	"time"
)

type (
	// OutcomeCategory classifies the result of one engine call
	OutcomeCategory string

	// Outcome is the typed result of a single downstream call. Transport
	// errors, application errors and circuit rejections all surface here as
	// failed outcomes; callers never inspect untyped envelope fields.
	Outcome struct {
		Data     json.RawMessage `json:"data,omitempty"`
		Engine   EngineKey       `json:"engine"`
		Category OutcomeCategory `json:"category"`
		Reason   string          `json:"reason,omitempty"`
		Status   int             `json:"status,omitempty"`
		Elapsed  time.Duration   `json:"-"`
	}
)

const (
	// OutcomeOK is a 2xx response with a success envelope
	OutcomeOK OutcomeCategory = "ok"

	// OutcomeTransport covers timeouts, refused connections and non-2xx
	// statuses
	OutcomeTransport OutcomeCategory = "transport_failure"

	// OutcomeApplication is a well-formed envelope with success=false
	OutcomeApplication OutcomeCategory = "application_failure"

	// OutcomeCircuitOpen means the breaker rejected the call before any
	// network attempt was made
	OutcomeCircuitOpen OutcomeCategory = "circuit_open"
)

// OK returns true if the call succeeded
func (o Outcome) OK() bool {
	return o.Category == OutcomeOK
}

// Failed returns true for any non-success category
func (o Outcome) Failed() bool {
	return o.Category != OutcomeOK
}

// Attempted returns true if a network call was actually made
func (o Outcome) Attempted() bool {
	return o.Category != OutcomeCircuitOpen
}

// Success constructs an OK outcome for an engine
func Success(engine EngineKey, data json.RawMessage) Outcome {
	return Outcome{Engine: engine, Category: OutcomeOK, Data: data}
}

// Failure constructs a failed outcome with the given category and reason
func Failure(engine EngineKey, cat OutcomeCategory, reason string) Outcome {
	return Outcome{Engine: engine, Category: cat, Reason: reason}
}
