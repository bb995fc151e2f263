package flow

import (
	"github.com/tidwall/gjson"

	"github.com/civicmesh/orchestrator/pkg/api"
)

// State is the transient per-request execution record. It is created at flow
// start and discarded once the response is produced and the audit event is
// queued. Step outputs are folded in between groups, never concurrently, so
// access needs no locking.
type State struct {
	Correlation api.Correlation
	Input       any
	outputs     map[string]gjson.Result
	vars        map[string]any
}

func newState(cc api.Correlation, input any) *State {
	return &State{
		Correlation: cc,
		Input:       input,
		outputs:     map[string]gjson.Result{},
		vars:        map[string]any{},
	}
}

// Out returns a completed step's parsed output; a missing step yields a
// zero Result whose getters return zero values
func (s *State) Out(step string) gjson.Result {
	return s.outputs[step]
}

// Has reports whether a step completed and produced output
func (s *State) Has(step string) bool {
	_, ok := s.outputs[step]
	return ok
}

// Set stores a derived value computed by a Collect hook
func (s *State) Set(key string, value any) {
	s.vars[key] = value
}

// Var retrieves a derived value, or nil
func (s *State) Var(key string) any {
	return s.vars[key]
}

// Str retrieves a derived string value, or ""
func (s *State) Str(key string) string {
	v, _ := s.vars[key].(string)
	return v
}

// Strs retrieves a derived string slice value, or nil
func (s *State) Strs(key string) []string {
	v, _ := s.vars[key].([]string)
	return v
}

func (s *State) collect(step string, data gjson.Result) {
	s.outputs[step] = data
}
