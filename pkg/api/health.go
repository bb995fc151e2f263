package api

import "time"

type (
	// HealthStatus is the probe verdict for a single engine
	HealthStatus string

	// CircuitStatus is a breaker state machine's current state
	CircuitStatus string

	// EngineHealth is one engine's entry in a health report
	EngineHealth struct {
		Engine EngineKey    `json:"engine"`
		Status HealthStatus `json:"status"`
		Uptime float64      `json:"uptime_seconds,omitempty"`
	}

	// HealthReport aggregates a full probe sweep
	HealthReport struct {
		Engines   []EngineHealth `json:"engines"`
		Total     int            `json:"total"`
		Healthy   int            `json:"healthy"`
		Unhealthy int            `json:"unhealthy"`
	}

	// HealthResponse describes this service's own health endpoint
	HealthResponse struct {
		Service       string       `json:"service"`
		Version       string       `json:"version"`
		Status        HealthStatus `json:"status"`
		UptimeSeconds float64      `json:"uptime_seconds"`
	}

	// BreakerState is the externally visible snapshot of one engine's
	// circuit breaker
	BreakerState struct {
		OpenedAt      *time.Time    `json:"opened_at,omitempty"`
		State         CircuitStatus `json:"state"`
		Failures      int           `json:"failures"`
		ProbeInFlight bool          `json:"probe_in_flight,omitempty"`
	}
)

const (
	HealthHealthy     HealthStatus = "healthy"
	HealthUnreachable HealthStatus = "unreachable"

	CircuitClosed   CircuitStatus = "closed"
	CircuitOpen     CircuitStatus = "open"
	CircuitHalfOpen CircuitStatus = "half_open"
)
