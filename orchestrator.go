// Package orchestrator identifies the composite request orchestrator service.
package orchestrator

const (
	Name    = "orchestrator"
	Version = "1.0.0"
)
