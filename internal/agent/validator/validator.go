// Package validator judges synthesized answers: a deterministic tool-failure
// veto, then an LLM judge, then a keyword heuristic when the judge is
// unavailable.
package validator

import (
	"context"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/retirement-advisor-poc/server/internal/agent/graph/conversations"
	"github.com/retirement-advisor-poc/server/internal/agent/graph/parsers"
	"github.com/retirement-advisor-poc/server/internal/agent/model"
	errx "github.com/retirement-advisor-poc/server/internal/core/error"
	logx "github.com/retirement-advisor-poc/server/pkg/logger"
)

// Request is one validation call.
type Request struct {
	RequestID   string
	Query       string
	Draft       string
	Profile     model.CountryProfile
	Member      *model.MemberProfile
	ToolIDs     []string
	ToolResults model.ToolResults
}

type Validator struct {
	judge     einomodel.BaseChatModel
	modelName string
	mm        *conversations.MessagesManager
	keywords  *KeywordChecker
}

// New returns a validator; a nil judge always uses the keyword heuristic.
func New(judge einomodel.BaseChatModel, modelName string, mm *conversations.MessagesManager) *Validator {
	return &Validator{
		judge:     judge,
		modelName: modelName,
		mm:        mm,
		keywords:  NewKeywordChecker(DefaultForbiddenPhrases),
	}
}

// Validate never returns an error. Tool failures veto before any model call.
func (v *Validator) Validate(ctx context.Context, req Request) model.ValidationOutcome {
	start := time.Now()

	if out, vetoed := ToolVeto(req.ToolIDs, req.ToolResults); vetoed {
		out.DurationS = time.Since(start).Seconds()
		logx.Warn().Str("request_id", req.RequestID).Int("violations", len(out.Violations)).Msg("tool failure veto")
		return out
	}

	if strings.TrimSpace(req.Draft) == "" {
		out := v.keywords.Check(req.Draft, req.ToolResults, "empty draft")
		out.DurationS = time.Since(start).Seconds()
		return out
	}

	if v.judge == nil {
		out := v.keywords.Check(req.Draft, req.ToolResults, "no judge model configured")
		out.DurationS = time.Since(start).Seconds()
		return out
	}

	out, err := v.callJudge(ctx, req)
	if err != nil {
		logx.Warn().Err(err).Str("request_id", req.RequestID).Msg("judge unavailable, using keyword fallback")
		fb := v.keywords.Check(req.Draft, req.ToolResults, err.Error())
		fb.InputTokens, fb.OutputTokens, fb.CostUSD = out.InputTokens, out.OutputTokens, out.CostUSD
		fb.DurationS = time.Since(start).Seconds()
		return fb
	}
	out.DurationS = time.Since(start).Seconds()
	return out
}

// callJudge returns token usage even on a parse failure so the spend is not lost.
func (v *Validator) callJudge(ctx context.Context, req Request) (model.ValidationOutcome, error) {
	msgs, err := v.mm.BuildJudgeMessages(ctx, conversations.JudgeInput{
		Query:       req.Query,
		Draft:       req.Draft,
		Profile:     req.Profile,
		Member:      req.Member,
		ToolIDs:     req.ToolIDs,
		ToolResults: req.ToolResults,
	})
	if err != nil {
		return model.ValidationOutcome{}, err
	}

	resp, err := v.judge.Generate(ctx, msgs)
	if err != nil {
		return model.ValidationOutcome{}, errx.WrapLLM(fmt.Errorf("judge call: %w", err))
	}
	if resp == nil {
		return model.ValidationOutcome{}, fmt.Errorf("judge call: empty response")
	}

	var usage model.ValidationOutcome
	usage.InputTokens, usage.OutputTokens, usage.CostUSD = v.cost(msgs, resp)

	parsed := parsers.ParseValidation(resp.Content)
	if parsed.NoJudgment() {
		return usage, fmt.Errorf("unparseable judge output: %s", strings.Join(parsed.Errors, "; "))
	}

	j := parsed.Value
	out := usage
	out.Passed = *j.Passed
	out.Confidence = j.Confidence
	out.Violations = j.Violations
	out.Reasoning = j.Reasoning
	out.ValidatorUsed = model.ValidatorLLMJudge
	// A judge that passes an answer while reporting a critical issue is overruled.
	for _, x := range out.Violations {
		if x.Severity == model.SeverityCritical {
			out.Passed = false
			break
		}
	}
	if out.Violations == nil {
		out.Violations = []model.Violation{}
	}
	return out, nil
}

func (v *Validator) cost(in []*schema.Message, out *schema.Message) (prompt, completion int, usd float64) {
	prompt, completion = model.UsageOf(out)
	if prompt == 0 && completion == 0 {
		for _, m := range in {
			prompt += model.EstimateTokens(m.Content)
		}
		completion = model.EstimateTokens(out.Content)
	}
	if model.CostEnabled() {
		_, _, usd = model.ComputeTokenCost(prompt, completion, model.ResolvePricing(v.modelName))
	}
	return prompt, completion, usd
}

// ToolVeto fails validation deterministically when any tool result carries
// an error. No model is consulted and no cost is incurred.
func ToolVeto(order []string, results model.ToolResults) (model.ValidationOutcome, bool) {
	if !results.HasFailure() {
		return model.ValidationOutcome{}, false
	}
	failed := results.FailedTools(order)
	// ids that errored but were not in order still veto
	if len(failed) == 0 {
		for id, r := range results {
			if r.Failed() {
				failed = append(failed, id)
			}
		}
	}

	out := model.ValidationOutcome{
		Passed:        false,
		Confidence:    1.0,
		ValidatorUsed: model.ValidatorToolCheck,
		Reasoning:     fmt.Sprintf("%d calculator tool(s) failed; the answer cannot be verified", len(failed)),
	}
	for _, id := range failed {
		out.Violations = append(out.Violations, model.Violation{
			Code:     model.CodeToolExecutionFailed,
			Severity: model.SeverityCritical,
			Detail:   fmt.Sprintf("tool %s failed", id),
			Evidence: results[id].Error,
		})
	}
	return out, true
}
