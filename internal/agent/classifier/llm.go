package classifier

import (
	"context"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/retirement-advisor-poc/server/internal/agent/graph/parsers"
	"github.com/retirement-advisor-poc/server/internal/agent/graph/prompts"
	"github.com/retirement-advisor-poc/server/internal/agent/model"
	errx "github.com/retirement-advisor-poc/server/internal/core/error"
	logx "github.com/retirement-advisor-poc/server/pkg/logger"
)

var promptLabels = []string{
	model.LabelRetirementTax,
	model.LabelPensionBenefit,
	model.LabelProjection,
	model.LabelContribution,
	model.LabelWithdrawal,
	model.LabelGeneralRetirement,
	model.LabelWeather,
	model.LabelFood,
	model.LabelEntertainment,
	model.LabelSports,
	model.LabelOffTopic,
}

type llmStage struct {
	chat      einomodel.BaseChatModel
	modelName string
}

func (s *llmStage) classify(ctx context.Context, query string) model.ClassificationResult {
	system, err := prompts.RenderClassifierSystem(ctx, promptLabels)
	if err != nil {
		logx.Error().Err(err).Str("component", "classifier").Msg("render classifier prompt")
		return fallback(model.MethodLLMFallbackError, err.Error())
	}

	msgs := []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(query),
	}
	out, err := s.chat.Generate(ctx, msgs)
	if err != nil {
		err = errx.WrapLLM(err)
		logx.Warn().Err(err).Str("component", "classifier").Msg("classifier model call failed")
		return fallback(model.MethodLLMFallbackError, err.Error())
	}
	if out == nil {
		return fallback(model.MethodLLMFallbackError, "classifier model returned nil")
	}

	cost := s.cost(system, query, out)
	parsed := parsers.ParseClassification(out.Content)
	if parsed.NoJudgment() {
		logx.Warn().Str("component", "classifier").Strs("errors", parsed.Errors).Msg("unparseable classifier output")
		res := fallback(model.MethodLLMFallbackError, "unparseable classifier output")
		res.CostUSD = cost
		return res
	}

	j := parsed.Value
	label := j.Label
	if label == "" {
		label = model.LabelGeneralRetirement
		if !*j.IsOnTopic {
			label = model.LabelOffTopic
		}
	}
	return model.ClassificationResult{
		IsOnTopic:  *j.IsOnTopic,
		Label:      label,
		Confidence: j.Confidence,
		Method:     model.MethodLLM,
		Reasoning:  j.Reasoning,
		CostUSD:    cost,
	}
}

// cost falls back to estimated tokens when the endpoint reports no usage.
func (s *llmStage) cost(system, query string, out *schema.Message) float64 {
	if !model.CostEnabled() {
		return 0
	}
	prompt, completion := model.UsageOf(out)
	if prompt == 0 && completion == 0 {
		prompt = model.EstimateTokens(system + "\n" + query)
		completion = model.EstimateTokens(strings.TrimSpace(out.Content))
	}
	_, _, total := model.ComputeTokenCost(prompt, completion, model.ResolvePricing(s.modelName))
	return total
}
