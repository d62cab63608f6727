package conversations

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/retirement-advisor-poc/server/internal/agent/graph/prompts"
	"github.com/retirement-advisor-poc/server/internal/agent/model"
)

// MessagesManager builds the model inputs of the synthesis/validation loop.
// Everything it emits is already redacted: the member is only ever called
// prompts.MemberPlaceholder.
type MessagesManager struct {
	promptCfg     model.AdvisorPromptConfig
	maxFeedback   int
	maxValueChars int
}

func NewMessagesManager(promptCfg model.AdvisorPromptConfig) *MessagesManager {
	return &MessagesManager{
		promptCfg:     promptCfg,
		maxFeedback:   5,
		maxValueChars: 2000,
	}
}

// SynthesisInput is what one synthesis attempt sees.
type SynthesisInput struct {
	Query             string
	Profile           model.CountryProfile
	Member            *model.MemberProfile
	ToolIDs           []string
	ToolResults       model.ToolResults
	ValidationHistory []model.ValidationOutcome
}

// JudgeInput is what one validation call sees.
type JudgeInput struct {
	Query       string
	Draft       string
	Profile     model.CountryProfile
	Member      *model.MemberProfile
	ToolIDs     []string
	ToolResults model.ToolResults
}

// =========== Function for Synthesis ===========
func (mm *MessagesManager) BuildSynthesisMessages(ctx context.Context, in SynthesisInput) ([]*schema.Message, error) {
	sys, err := prompts.RenderSynthesisSystem(ctx, prompts.SynthesisVars{
		Config:        mm.promptCfg,
		Profile:       in.Profile,
		MemberContext: mm.MemberContext(in.Member, in.Profile),
		ToolContext:   mm.ToolContext(in.ToolIDs, in.ToolResults),
		Feedback:      mm.Feedback(in.ValidationHistory),
	})
	if err != nil {
		return nil, err
	}
	return []*schema.Message{
		schema.SystemMessage(sys),
		schema.UserMessage(in.Query),
	}, nil
}

// =========== Function for Judge ===========
func (mm *MessagesManager) BuildJudgeMessages(ctx context.Context, in JudgeInput) ([]*schema.Message, error) {
	sys, err := prompts.RenderJudgeSystem(ctx, prompts.JudgeVars{
		Profile:       in.Profile,
		Query:         in.Query,
		MemberContext: mm.MemberContext(in.Member, in.Profile),
		ToolContext:   mm.ToolContext(in.ToolIDs, in.ToolResults),
		Draft:         in.Draft,
	})
	if err != nil {
		return nil, err
	}
	return []*schema.Message{
		schema.SystemMessage(sys),
		schema.UserMessage("Review the draft answer and respond with the JSON verdict."),
	}, nil
}

// MemberContext renders the member profile without identifying names.
func (mm *MessagesManager) MemberContext(m *model.MemberProfile, p model.CountryProfile) string {
	if m == nil {
		return "No member profile available."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "member: %s\n", prompts.MemberPlaceholder)
	fmt.Fprintf(&b, "country: %s\n", p.DisplayName)
	if m.Age > 0 {
		fmt.Fprintf(&b, "age: %d\n", m.Age)
	}
	if m.RetirementAge > 0 {
		fmt.Fprintf(&b, "planned retirement age: %d\n", m.RetirementAge)
	}
	fmt.Fprintf(&b, "%s: %s%.2f %s\n", p.BalanceTerm, p.CurrencySymbol, m.Balance, p.CurrencyCode)
	if m.AnnualIncome > 0 {
		fmt.Fprintf(&b, "annual income: %s%.2f %s\n", p.CurrencySymbol, m.AnnualIncome, p.CurrencyCode)
	}
	return strings.TrimSpace(b.String())
}

// ToolContext renders tool results in selection order; ids missing from
// order are appended sorted.
func (mm *MessagesManager) ToolContext(order []string, results model.ToolResults) string {
	if len(results) == 0 {
		return "No calculator results."
	}
	var b strings.Builder
	for _, id := range orderedIDs(order, results) {
		r := results[id]
		if r.Failed() {
			fmt.Fprintf(&b, "[%s] ERROR: %s\n", id, r.Error)
			continue
		}
		fmt.Fprintf(&b, "[%s] %s\n", id, truncate(r.Value, mm.maxValueChars))
		if r.SourceAuthority != "" {
			fmt.Fprintf(&b, "  authority: %s\n", r.SourceAuthority)
		}
		for _, c := range r.Citations {
			fmt.Fprintf(&b, "  source: %s - %s\n", c.Source, c.Title)
		}
	}
	return strings.TrimSpace(b.String())
}

// Feedback summarises the violations of prior attempts, most recent last.
func (mm *MessagesManager) Feedback(history []model.ValidationOutcome) string {
	if len(history) == 0 {
		return ""
	}
	var b strings.Builder
	for i, v := range trimTail(history, mm.maxFeedback) {
		attempt := len(history) - min(len(history), mm.maxFeedback) + i + 1
		fmt.Fprintf(&b, "Attempt %d:", attempt)
		if v.Reasoning != "" {
			fmt.Fprintf(&b, " %s", v.Reasoning)
		}
		b.WriteString("\n")
		for _, x := range v.Violations {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", x.Severity, x.Code, x.Detail)
		}
	}
	return strings.TrimSpace(b.String())
}

// ====================== Helper function ======================
func trimTail[T any](items []T, max int) []T {
	if max <= 0 || len(items) <= max {
		return items
	}
	return items[len(items)-max:]
}

func orderedIDs(order []string, results model.ToolResults) []string {
	ids := make([]string, 0, len(results))
	seen := make(map[string]bool, len(results))
	for _, id := range order {
		if _, ok := results[id]; ok && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	var rest []string
	for id := range results {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return append(ids, rest...)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
