package model

import (
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
)

// Pricing defines USD cost per 1M tokens for input/output.
type Pricing struct {
	InputPerM  float64
	OutputPerM float64
}

// defaultPricing provides hardcoded USD pricing per 1M tokens (text tokens).
var defaultPricing = map[string]Pricing{
	// Source: Gemini pricing (Standard; text).
	"gemini-2.5-pro":        {InputPerM: 1.25, OutputPerM: 10.00},
	"gemini-2.5-flash":      {InputPerM: 0.30, OutputPerM: 2.50},
	"gemini-2.5-flash-lite": {InputPerM: 0.10, OutputPerM: 0.40},
	"gemini-embedding-001":  {InputPerM: 0.15},
	"text-embedding-004":    {},
}

// CostEnabled returns whether to compute/log cost.
func CostEnabled() bool {
	//always enable cost computation.
	return true
}

// ResolvePricing returns hardcoded pricing for a model.
func ResolvePricing(model string) Pricing {
	p, ok := defaultPricing[model]
	if !ok {
		// fallback to zero pricing if unknown
		return Pricing{}
	}
	return p
}

// ComputeCost converts token usage to USD cost using per-1M Pricing.
func ComputeCost(usage *schema.TokenUsage, p Pricing) (inputCost, outputCost, total float64) {
	if usage == nil {
		return 0, 0, 0
	}
	return ComputeTokenCost(usage.PromptTokens, usage.CompletionTokens, p)
}

// ComputeTokenCost is ComputeCost for raw token counts.
func ComputeTokenCost(promptTokens, completionTokens int, p Pricing) (inputCost, outputCost, total float64) {
	inputCost = p.InputPerM * float64(promptTokens) / 1_000_000.0
	outputCost = p.OutputPerM * float64(completionTokens) / 1_000_000.0
	total = inputCost + outputCost
	return
}

// EstimateTokens approximates a token count (~4 characters per token) for
// endpoints that do not report usage, e.g. embeddings.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return n/4 + 1
}

// UsageOf extracts prompt/completion token counts from a model message.
func UsageOf(msg *schema.Message) (prompt, completion int) {
	if msg == nil || msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return 0, 0
	}
	return msg.ResponseMeta.Usage.PromptTokens, msg.ResponseMeta.Usage.CompletionTokens
}
