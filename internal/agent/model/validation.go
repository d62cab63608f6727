package model

// Severity levels used by validation violations.
const (
	SeverityCritical = "CRITICAL"
	SeverityHigh     = "HIGH"
	SeverityMedium   = "MEDIUM"
	SeverityLow      = "LOW"
)

// Violation codes raised outside of the judge model.
const (
	CodeToolExecutionFailed = "TOOL-EXECUTION-FAILED"
	CodeEmptyResponse       = "EMPTY-RESPONSE"
	CodeForbiddenPhrase     = "FORBIDDEN-PHRASE"
	CodeMissingFigures      = "MISSING-FIGURES"
)

// Validator identifiers recorded on every outcome.
const (
	ValidatorLLMJudge        = "LLM_JUDGE"
	ValidatorToolCheck       = "TOOL_CHECK"
	ValidatorKeywordFallback = "KEYWORD_FALLBACK"
)

type Violation struct {
	Code     string `json:"code"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
	Evidence string `json:"evidence,omitempty"`
}

// SynthesisAttempt records one synthesis call of the retry loop.
type SynthesisAttempt struct {
	AttemptNumber int     `json:"attempt_number"`
	ResponseText  string  `json:"response_text"`
	InputTokens   int     `json:"input_tokens"`
	OutputTokens  int     `json:"output_tokens"`
	CostUSD       float64 `json:"cost_usd"`
	DurationS     float64 `json:"duration_s"`
}

// ValidationOutcome is paired 1:1 with a SynthesisAttempt.
type ValidationOutcome struct {
	Passed        bool        `json:"passed"`
	Confidence    float64     `json:"confidence"`
	Violations    []Violation `json:"violations"`
	Reasoning     string      `json:"reasoning"`
	ValidatorUsed string      `json:"validator_used"`
	InputTokens   int         `json:"input_tokens"`
	OutputTokens  int         `json:"output_tokens"`
	CostUSD       float64     `json:"cost_usd"`
	DurationS     float64     `json:"duration_s"`
}

// HasViolation reports whether a violation with the given code and severity exists.
func (v ValidationOutcome) HasViolation(code, severity string) bool {
	for _, x := range v.Violations {
		if x.Code == code && x.Severity == severity {
			return true
		}
	}
	return false
}
