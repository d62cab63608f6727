package model

import (
	"time"
)

// LoopState is a state of the synthesis/validation retry loop.
type LoopState string

const (
	StateSynthesizing LoopState = "SYNTHESIZING"
	StateValidating   LoopState = "VALIDATING"
	StatePassed       LoopState = "PASSED"
	StateRetry        LoopState = "RETRY"
	StateExhausted    LoopState = "EXHAUSTED"
	// StateDeclined marks an off-topic query that never entered the loop.
	StateDeclined LoopState = "DECLINED"
)

// Terminal reports whether the loop stops in this state.
func (s LoopState) Terminal() bool {
	return s == StatePassed || s == StateExhausted || s == StateDeclined
}

// AppState stores per-invocation state for the Eino Graph.
// Concurrency model:
//   - This struct is registered as Graph Local State via compose.WithGenLocalState.
//   - All reads/writes happen only inside Eino state handlers:
//     WithStatePreHandler, WithStatePostHandler, or compose.ProcessState.
//   - Eino serializes access to state within these handlers, so no additional
//     mutex/atomic is required as long as you never touch it outside handlers.
type AppState struct {
	Input          QueryInput
	Profile        CountryProfile
	Member         *MemberProfile
	Classification ClassificationResult

	ToolIDs     []string
	ToolResults ToolResults // frozen once the invoker node completes

	Attempt           int
	LoopState         LoopState
	SynthesisHistory  []SynthesisAttempt  // append-only
	ValidationHistory []ValidationOutcome // append-only, paired with SynthesisHistory
	SynthesisStarted  time.Time

	// Estimated prompt tokens of the current synthesis input, used when the
	// endpoint reports no usage.
	SynthesisPromptEstimate int

	StartedAt time.Time
	// Accumulated total LLM cost (USD) across model invocations for this query
	TotalCostUSD float64
}

// QueryInput represents one member query. Immutable once received.
type QueryInput struct {
	RequestID string   `json:"request_id,omitempty"`
	MemberID  string   `json:"member_id"`
	Country   string   `json:"country"`
	Query     string   `json:"query"`
	Amount    *float64 `json:"amount,omitempty"`
}

// ToolPlan is the tool selector's output.
type ToolPlan struct {
	ToolIDs []string
}

// QueryResult is assembled once by the finalizer and never mutated after return.
type QueryResult struct {
	RequestID         string               `json:"request_id"`
	ResponseText      string               `json:"response_text"`
	Citations         []Citation           `json:"citations"`
	ToolsUsed         []string             `json:"tools_used"`
	ToolResults       ToolResults          `json:"tool_results,omitempty"`
	Attempts          int                  `json:"attempts"`
	SynthesisHistory  []SynthesisAttempt   `json:"synthesis_history"`
	ValidationHistory []ValidationOutcome  `json:"validation_history"`
	Classification    ClassificationResult `json:"classification"`
	FinalState        LoopState            `json:"final_state"`
	Validated         bool                 `json:"validated"`
	NeedsReview       bool                 `json:"needs_review"`
	TotalCostUSD      float64              `json:"total_cost_usd"`
	DurationS         float64              `json:"duration_s"`
}

// FinalValidation returns the last validation outcome, if any.
func (r *QueryResult) FinalValidation() (ValidationOutcome, bool) {
	if len(r.ValidationHistory) == 0 {
		return ValidationOutcome{}, false
	}
	return r.ValidationHistory[len(r.ValidationHistory)-1], true
}
