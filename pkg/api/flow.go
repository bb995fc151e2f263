package api

type (
	// FlowName identifies one of the composite flow definitions
	FlowName string

	// StepStatus records how a step ended up in the execution record
	StepStatus string

	// StepRecord is one entry in a flow execution's ordered step history
	StepRecord struct {
		Step     string          `json:"step"`
		Engine   EngineKey       `json:"engine"`
		Status   StepStatus      `json:"status"`
		Category OutcomeCategory `json:"category,omitempty"`
		Reason   string          `json:"reason,omitempty"`
		Elapsed  float64         `json:"elapsed_ms,omitempty"`
	}

	// FlowResult is the unified result of one flow execution
	FlowResult struct {
		Data        map[string]any  `json:"data,omitempty"`
		Completed   []StepRecord    `json:"completed"`
		Degraded    []EngineKey     `json:"degraded,omitempty"`
		AbortStep   string          `json:"abort_step,omitempty"`
		AbortCode   OutcomeCategory `json:"abort_category,omitempty"`
		AbortStatus int             `json:"abort_status,omitempty"`
		Err         string          `json:"error,omitempty"`
		Success     bool            `json:"success"`
	}
)

const (
	// StepCompleted means the step's call returned an OK outcome
	StepCompleted StepStatus = "completed"

	// StepFailed means the call was attempted and failed
	StepFailed StepStatus = "failed"

	// StepRejected means the breaker failed the step fast; no call was made
	StepRejected StepStatus = "circuit_open"

	// StepSkipped means the step elected not to run (missing inputs,
	// disabled option); never a failure
	StepSkipped StepStatus = "skipped"

	// StepNotRun means a preceding critical failure aborted the flow before
	// this step's group was reached
	StepNotRun StepStatus = "not_run"
)

const (
	FlowQuery            FlowName = "query"
	FlowOnboard          FlowName = "onboard"
	FlowCheckEligibility FlowName = "check-eligibility"
	FlowIngestPolicy     FlowName = "ingest-policy"
	FlowVoiceQuery       FlowName = "voice-query"
	FlowSimulate         FlowName = "simulate"
)
