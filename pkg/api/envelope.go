package api

import "encoding/json"

type (
	// EngineKey identifies a registered downstream engine
	EngineKey string

	// Correlation carries the identifiers propagated through every
	// downstream call made on behalf of a single inbound request. It is
	// created once per request and passed by value, never mutated.
	Correlation struct {
		TraceID   string `json:"trace_id"`
		Principal string `json:"principal,omitempty"`
	}

	// Response is the envelope returned by every orchestrator endpoint
	Response struct {
		Data    any     `json:"data,omitempty"`
		Message string  `json:"message,omitempty"`
		Errors  []Error `json:"errors,omitempty"`
		TraceID string  `json:"trace_id,omitempty"`
		Success bool    `json:"success"`
	}

	// Envelope is the shape every engine response is expected in. Data is
	// kept raw so flows can extract fields without committing to a schema
	Envelope struct {
		Data    json.RawMessage `json:"data,omitempty"`
		Errors  json.RawMessage `json:"errors,omitempty"`
		Message string          `json:"message,omitempty"`
		Success bool            `json:"success"`
	}

	// Error describes a single structured error in a Response
	Error struct {
		Code    ErrorCode `json:"code"`
		Message string    `json:"message"`
		Detail  string    `json:"detail,omitempty"`
	}

	ErrorCode string
)

const (
	ErrCodeAuthRequired      ErrorCode = "AUTH_REQUIRED"
	ErrCodeRateLimit         ErrorCode = "RATE_LIMIT"
	ErrCodeBurstLimit        ErrorCode = "BURST_LIMIT"
	ErrCodeBadRequest        ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeEngineUnavailable ErrorCode = "ENGINE_UNAVAILABLE"
	ErrCodeEngineTimeout     ErrorCode = "ENGINE_TIMEOUT"
	ErrCodeCircuitOpen       ErrorCode = "CIRCUIT_OPEN"
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// OK creates a successful Response wrapping the provided data
func OK(data any) Response {
	return Response{Success: true, Data: data}
}

// Fail creates a failed Response carrying a single structured error
func Fail(code ErrorCode, message string) Response {
	return Response{
		Success: false,
		Message: message,
		Errors:  []Error{{Code: code, Message: message}},
	}
}
