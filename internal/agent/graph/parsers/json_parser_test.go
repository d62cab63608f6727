package parsers

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retirement-advisor-poc/server/internal/agent/model"
)

func TestParseClassificationStrategies(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		strategy string
		onTopic  bool
	}{
		{
			name:     "plain json",
			content:  `{"is_on_topic": true, "label": "Retirement_Tax", "confidence": 0.9, "reasoning": "tax on super"}`,
			strategy: "plain",
			onTopic:  true,
		},
		{
			name:     "fenced block",
			content:  "Here you go:\n```json\n{\"is_on_topic\": false, \"label\": \"weather\", \"confidence\": 0.8}\n```",
			strategy: "fenced",
			onTopic:  false,
		},
		{
			name:     "embedded in prose",
			content:  `I think {"is_on_topic": true, "label": "general_retirement", "confidence": 0.6, "reasoning": "mentions {pension}"} is right.`,
			strategy: "embedded",
			onTopic:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := ParseClassification(tt.content)
			require.False(t, out.NoJudgment(), "errors: %v", out.Errors)
			assert.Equal(t, tt.strategy, out.Strategy)
			require.NotNil(t, out.Value.IsOnTopic)
			assert.Equal(t, tt.onTopic, *out.Value.IsOnTopic)
		})
	}
}

func TestParseClassificationNormalisesLabel(t *testing.T) {
	out := ParseClassification(`{"is_on_topic": true, "label": " Retirement_Tax ", "confidence": 0.9}`)
	require.False(t, out.NoJudgment())
	assert.Equal(t, "retirement_tax", out.Value.Label)
}

func TestParseClassificationNoJudgment(t *testing.T) {
	for _, content := range []string{
		"",
		"the query is on topic",
		`{"label": "x", "confidence": 0.5}`,
		`{"is_on_topic": true, "confidence": 1.7}`,
		`{"is_on_topic": tru`,
	} {
		out := ParseClassification(content)
		assert.True(t, out.NoJudgment(), "content %q", content)
	}
}

func TestParseEmbeddedSkipsInvalidCandidate(t *testing.T) {
	content := `first {"oops": } then {"is_on_topic": false, "label": "food", "confidence": 0.7}`
	out := ParseClassification(content)
	require.False(t, out.NoJudgment())
	assert.Equal(t, "food", out.Value.Label)
	assert.NotEmpty(t, out.Errors)
}

func TestParseValidation(t *testing.T) {
	content := "```\n" + `{"passed": false, "confidence": 0.85, "violations": [{"code": "missing-figures", "severity": "high", "detail": "no tax amount"}], "reasoning": "incomplete"}` + "\n```"
	out := ParseValidation(content)
	require.False(t, out.NoJudgment())
	require.NotNil(t, out.Value.Passed)
	assert.False(t, *out.Value.Passed)
	require.Len(t, out.Value.Violations, 1)
	assert.Equal(t, "MISSING-FIGURES", out.Value.Violations[0].Code)
	assert.Equal(t, model.SeverityHigh, out.Value.Violations[0].Severity)
}

func TestParseValidationUnknownSeverityBecomesMedium(t *testing.T) {
	out := ParseValidation(`{"passed": true, "confidence": 0.9, "violations": [{"code": "TONE", "severity": "meh"}]}`)
	require.False(t, out.NoJudgment())
	assert.Equal(t, model.SeverityMedium, out.Value.Violations[0].Severity)
}

func TestParseJSONTruncatesOversizedContent(t *testing.T) {
	big := `{"is_on_topic": true, "confidence": 0.9}` + strings.Repeat(" ", maxContentLen)
	out := ParseClassification(big)
	assert.False(t, out.NoJudgment())
}

func TestMatchBraceIgnoresStrings(t *testing.T) {
	s := `{"a": "}{", "b": {"c": 1}}`
	assert.Equal(t, len(s)-1, matchBrace(s, 0))
	assert.Equal(t, -1, matchBrace(`{"a": 1`, 0))
}
