package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/retirement-advisor-poc/server/internal/agent/model"
)

//go:embed template/classifier_prompt.txt
var classifierSystemPrompt string

//go:embed template/synthesis_prompt.txt
var synthesisSystemPrompt string

//go:embed template/judge_prompt.txt
var judgeSystemPrompt string

// MemberPlaceholder replaces the member's name in everything sent to a model.
const MemberPlaceholder = "[MEMBER]"

// SynthesisVars carries everything the synthesis template needs.
type SynthesisVars struct {
	Config        model.AdvisorPromptConfig
	Profile       model.CountryProfile
	MemberContext string
	ToolContext   string
	Feedback      string
}

// JudgeVars carries everything the judge template needs.
type JudgeVars struct {
	Profile       model.CountryProfile
	Query         string
	MemberContext string
	ToolContext   string
	Draft         string
}

// RenderClassifierSystem renders the LLM-stage classification prompt.
func RenderClassifierSystem(ctx context.Context, labels []string) (string, error) {
	return render(ctx, "classifier", classifierSystemPrompt, map[string]any{
		"Labels": strings.Join(labels, ", "),
	})
}

// RenderSynthesisSystem renders the synthesis system prompt.
func RenderSynthesisSystem(ctx context.Context, v SynthesisVars) (string, error) {
	return render(ctx, "synthesis", synthesisSystemPrompt, map[string]any{
		"AdvisorName":    v.Config.AdvisorName,
		"Organisation":   v.Config.Organisation,
		"CountryName":    v.Profile.DisplayName,
		"CurrencyCode":   v.Profile.CurrencyCode,
		"CurrencySymbol": v.Profile.CurrencySymbol,
		"AccountTerm":    v.Profile.AccountTerm,
		"BalanceTerm":    v.Profile.BalanceTerm,
		"Regulators":     strings.Join(v.Profile.RegulatorNames, ", "),
		"Placeholder":    MemberPlaceholder,
		"MemberContext":  v.MemberContext,
		"ToolContext":    v.ToolContext,
		"Feedback":       v.Feedback,
	})
}

// RenderJudgeSystem renders the judge prompt.
func RenderJudgeSystem(ctx context.Context, v JudgeVars) (string, error) {
	return render(ctx, "judge", judgeSystemPrompt, map[string]any{
		"CountryName":   v.Profile.DisplayName,
		"CurrencyCode":  v.Profile.CurrencyCode,
		"Regulators":    strings.Join(v.Profile.RegulatorNames, ", "),
		"Query":         v.Query,
		"MemberContext": v.MemberContext,
		"ToolContext":   v.ToolContext,
		"Draft":         v.Draft,
	})
}

// render formats through the Eino prompt component so prompt callbacks fire.
func render(ctx context.Context, name, tmpl string, vars map[string]any) (string, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(tmpl),
	)
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("%s prompt render: %w", name, err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("%s prompt render: empty result", name)
	}
	return strings.TrimSpace(msgs[0].Content), nil
}
