package model

import "context"

// Citation references the authority behind a calculator figure.
type Citation struct {
	Source string `json:"source"`
	Title  string `json:"title"`
	URL    string `json:"url,omitempty"`
}

// ToolResult is the outcome of one calculator invocation: either a value with
// its authority and citations, or an error message.
type ToolResult struct {
	Value           string     `json:"value,omitempty"`
	SourceAuthority string     `json:"source_authority,omitempty"`
	Citations       []Citation `json:"citations,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// Failed reports whether the invocation errored.
func (r ToolResult) Failed() bool {
	return r.Error != ""
}

// ToolResults maps tool id to its result. Built once by the invoker; every
// later stage only reads it.
type ToolResults map[string]ToolResult

// FailedTools returns the ids of tools that errored, in the given order.
func (r ToolResults) FailedTools(order []string) []string {
	var failed []string
	for _, id := range order {
		if res, ok := r[id]; ok && res.Failed() {
			failed = append(failed, id)
		}
	}
	return failed
}

// HasFailure reports whether any tool result carries an error.
func (r ToolResults) HasFailure() bool {
	for _, res := range r {
		if res.Failed() {
			return true
		}
	}
	return false
}

// CalcRequest is one call to the external calculation service.
type CalcRequest struct {
	ToolID   string
	Function string
	MemberID string
	Country  string
	Amount   *float64
}

// CalcResponse is the success envelope of a calculation.
type CalcResponse struct {
	Value     string
	Authority string
	Citations []Citation
}

// Calculator is the external calculation service boundary.
type Calculator interface {
	Calculate(ctx context.Context, req CalcRequest) (*CalcResponse, error)
}
