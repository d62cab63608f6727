package validator

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/retirement-advisor-poc/server/internal/agent/model"
)

// KeywordConfidence is reported by the heuristic: it is a weaker signal than
// the judge.
const KeywordConfidence = 0.5

var DefaultForbiddenPhrases = []string{
	"guaranteed return",
	"guarantee you",
	"risk-free",
	"you should invest in",
	"i recommend buying",
	"you should buy",
	"cannot lose",
}

// KeywordChecker is the cheap deterministic fallback used when the judge
// cannot be reached or returns nothing usable.
type KeywordChecker struct {
	forbidden []string
}

func NewKeywordChecker(forbidden []string) *KeywordChecker {
	lower := make([]string, len(forbidden))
	for i, p := range forbidden {
		lower[i] = strings.ToLower(p)
	}
	return &KeywordChecker{forbidden: lower}
}

// Check applies the heuristic. reason records why the judge was skipped.
func (k *KeywordChecker) Check(draft string, results model.ToolResults, reason string) model.ValidationOutcome {
	out := model.ValidationOutcome{
		Confidence:    KeywordConfidence,
		ValidatorUsed: model.ValidatorKeywordFallback,
		Violations:    []model.Violation{},
	}

	text := strings.TrimSpace(draft)
	if text == "" {
		out.Violations = append(out.Violations, model.Violation{
			Code:     model.CodeEmptyResponse,
			Severity: model.SeverityHigh,
			Detail:   "the draft answer is empty",
		})
	}

	lower := strings.ToLower(text)
	for _, p := range k.forbidden {
		if strings.Contains(lower, p) {
			out.Violations = append(out.Violations, model.Violation{
				Code:     model.CodeForbiddenPhrase,
				Severity: model.SeverityHigh,
				Detail:   fmt.Sprintf("draft contains forbidden phrase %q", p),
				Evidence: p,
			})
		}
	}

	if text != "" && expectsFigures(results) && !hasDigit(text) {
		out.Violations = append(out.Violations, model.Violation{
			Code:     model.CodeMissingFigures,
			Severity: model.SeverityMedium,
			Detail:   "calculator results contain figures but the draft quotes none",
		})
	}

	out.Passed = len(out.Violations) == 0
	out.Reasoning = "keyword heuristic"
	if reason != "" {
		out.Reasoning += " (" + reason + ")"
	}
	return out
}

func expectsFigures(results model.ToolResults) bool {
	for _, r := range results {
		if !r.Failed() && hasDigit(r.Value) {
			return true
		}
	}
	return false
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}
