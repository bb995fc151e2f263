// Package flow defines the composite flow catalog and the executor that
// drives flow definitions against live engines through the call client.
package flow

import (
	"time"

	"github.com/tidwall/gjson"

	"github.com/civicmesh/orchestrator/pkg/api"
)

type (
	// Definition declares one composite flow: an ordered list of step
	// groups plus result assembly and audit hooks. Definitions are built
	// once at startup and immutable at runtime.
	Definition struct {
		Name   api.FlowName
		Groups []Group

		// Finish assembles the unified response payload from state
		Finish func(*State) map[string]any

		// Audit describes the flow's audit event; a zero event type
		// suppresses publication
		Audit func(*State, api.FlowResult) (api.EventType, string, map[string]any)
	}

	// Group is one sequential step or a parallel set, or a branch whose
	// effective step is selected at runtime from a closed route table
	Group struct {
		Branch *Branch
		Steps  []Step
	}

	// Branch models agent-style routing: the route set is closed and
	// declared here; only the selection is dynamic, resolved once per
	// invocation from state produced by earlier steps
	Branch struct {
		Select  func(*State) string
		Routes  map[string]Step
		Default Step
	}

	// Step is a single engine call within a flow
	Step struct {
		// Build produces the outbound payload; returning false skips the
		// step without failure. A nil Build sends an empty payload.
		Build func(*State) (any, bool)

		// Collect folds a successful outcome's data back into state
		Collect func(*State, gjson.Result)

		// Check validates a successful response; a non-nil error converts
		// the outcome into an application failure
		Check func(gjson.Result) error

		// PathFn overrides Path when the endpoint depends on state; the
		// target engine never changes at runtime
		PathFn func(*State) string

		Name     string
		Engine   api.EngineKey
		Path     string
		Timeout  time.Duration
		Critical bool
	}
)

// Single wraps one step as a sequential group
func Single(s Step) Group {
	return Group{Steps: []Step{s}}
}

// Parallel wraps steps as a concurrently executed group
func Parallel(steps ...Step) Group {
	return Group{Steps: steps}
}

// Routed wraps a branch as a group
func Routed(b Branch) Group {
	return Group{Branch: &b}
}

func (s *Step) path(st *State) string {
	if s.PathFn != nil {
		return s.PathFn(st)
	}
	return s.Path
}
