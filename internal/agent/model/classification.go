package model

// ClassificationMethod names the cascade stage that produced a result.
type ClassificationMethod string

const (
	MethodRegex            ClassificationMethod = "regex"
	MethodEmbedding        ClassificationMethod = "embedding"
	MethodLLM              ClassificationMethod = "llm"
	MethodErrorFallback    ClassificationMethod = "error_fallback"
	MethodLLMFallbackError ClassificationMethod = "llm_fallback_error"
)

// Topic labels produced by the classifier.
const (
	LabelRetirementTax     = "retirement_tax"
	LabelPensionBenefit    = "pension_benefit"
	LabelProjection        = "retirement_projection"
	LabelContribution      = "contribution"
	LabelWithdrawal        = "withdrawal"
	LabelGeneralRetirement = "general_retirement"
	LabelWeather           = "weather"
	LabelFood              = "food"
	LabelEntertainment     = "entertainment"
	LabelSports            = "sports"
	LabelOffTopic          = "off_topic"
)

// ClassificationResult is produced once per query by the classifier and is
// never mutated afterwards.
type ClassificationResult struct {
	IsOnTopic  bool                 `json:"is_on_topic"`
	Label      string               `json:"label"`
	Confidence float64              `json:"confidence"`
	Method     ClassificationMethod `json:"method"`
	Reasoning  string               `json:"reasoning,omitempty"`
	LatencyMs  float64              `json:"latency_ms"`
	CostUSD    float64              `json:"cost_usd"`
	Cached     bool                 `json:"cached"`
}

// Definitive reports whether the result may be cached: fail-open fallbacks
// are retried on the next identical query instead.
func (r ClassificationResult) Definitive() bool {
	return r.Method != MethodErrorFallback && r.Method != MethodLLMFallbackError
}
