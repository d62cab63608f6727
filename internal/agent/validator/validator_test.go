package validator

import (
	"context"
	"errors"
	"net/http"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retirement-advisor-poc/server/internal/agent/graph/conversations"
	"github.com/retirement-advisor-poc/server/internal/agent/model"
	errx "github.com/retirement-advisor-poc/server/internal/core/error"
)

type fakeJudge struct {
	content string
	err     error
	usage   *schema.TokenUsage
	calls   int
	lastIn  []*schema.Message
}

func (f *fakeJudge) Generate(_ context.Context, in []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	f.calls++
	f.lastIn = in
	if f.err != nil {
		return nil, f.err
	}
	msg := schema.AssistantMessage(f.content, nil)
	if f.usage != nil {
		msg.ResponseMeta = &schema.ResponseMeta{Usage: f.usage}
	}
	return msg, nil
}

func (f *fakeJudge) Stream(ctx context.Context, in []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, in, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

var auProfile = model.CountryProfile{Code: "AU", DisplayName: "Australia", CurrencyCode: "AUD", RegulatorNames: []string{"ATO"}}

func newValidator(judge einomodel.BaseChatModel) *Validator {
	return New(judge, "gemini-2.5-flash", conversations.NewMessagesManager(model.AdvisorPromptConfig{}))
}

func okRequest() Request {
	return Request{
		Query:       "How much tax will I pay?",
		Draft:       "Based on ATO rules you would pay $7,500 in tax.",
		Profile:     auProfile,
		ToolIDs:     []string{"au_tax"},
		ToolResults: model.ToolResults{"au_tax": {Value: "Tax payable: $7,500", SourceAuthority: "ATO"}},
	}
}

func TestToolFailureVetoSkipsJudge(t *testing.T) {
	judge := &fakeJudge{content: `{"passed": true, "confidence": 0.99, "violations": [], "reasoning": "fine"}`}
	v := newValidator(judge)

	req := okRequest()
	req.ToolIDs = []string{"au_tax", "au_preservation"}
	req.ToolResults = model.ToolResults{
		"au_tax":          {Error: "function au_calculate_withdrawal_tax timed out"},
		"au_preservation": {Value: "Preservation age 60"},
	}
	out := v.Validate(context.Background(), req)

	assert.False(t, out.Passed)
	assert.True(t, out.HasViolation(model.CodeToolExecutionFailed, model.SeverityCritical))
	assert.Equal(t, model.ValidatorToolCheck, out.ValidatorUsed)
	assert.Zero(t, out.CostUSD)
	assert.Zero(t, out.InputTokens)
	assert.Zero(t, out.OutputTokens)
	assert.Zero(t, judge.calls)
	require.Len(t, out.Violations, 1)
	assert.Equal(t, "function au_calculate_withdrawal_tax timed out", out.Violations[0].Evidence)
}

func TestToolVetoIgnoresOrderGaps(t *testing.T) {
	out, vetoed := ToolVeto(nil, model.ToolResults{"x": {Error: "boom"}})
	assert.True(t, vetoed)
	assert.True(t, out.HasViolation(model.CodeToolExecutionFailed, model.SeverityCritical))

	_, vetoed = ToolVeto([]string{"a"}, model.ToolResults{"a": {Value: "1"}})
	assert.False(t, vetoed)
}

func TestJudgeVerdicts(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		wantPassed bool
		wantCodes  []string
	}{
		{
			name:       "passed",
			content:    `{"passed": true, "confidence": 0.92, "violations": [], "reasoning": "accurate"}`,
			wantPassed: true,
		},
		{
			name:       "failed in prose",
			content:    "Verdict: {\"passed\": false, \"confidence\": 0.8, \"violations\": [{\"code\": \"missing-citation\", \"severity\": \"high\", \"detail\": \"no ATO reference\"}], \"reasoning\": \"uncited\"}",
			wantPassed: false,
			wantCodes:  []string{"MISSING-CITATION"},
		},
		{
			name:       "critical overrules pass",
			content:    `{"passed": true, "confidence": 0.7, "violations": [{"code": "INVENTED-FIGURE", "severity": "CRITICAL", "detail": "x"}], "reasoning": "r"}`,
			wantPassed: false,
			wantCodes:  []string{"INVENTED-FIGURE"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			judge := &fakeJudge{
				content: tt.content,
				usage:   &schema.TokenUsage{PromptTokens: 2000, CompletionTokens: 200},
			}
			out := newValidator(judge).Validate(context.Background(), okRequest())

			assert.Equal(t, tt.wantPassed, out.Passed)
			assert.Equal(t, model.ValidatorLLMJudge, out.ValidatorUsed)
			assert.Equal(t, 2000, out.InputTokens)
			assert.Equal(t, 200, out.OutputTokens)
			// 2000*0.30/1M + 200*2.50/1M
			assert.InDelta(t, 0.0011, out.CostUSD, 1e-12)
			var codes []string
			for _, v := range out.Violations {
				codes = append(codes, v.Code)
			}
			assert.Equal(t, tt.wantCodes, codes)
			assert.Equal(t, 1, judge.calls)
		})
	}
}

func TestJudgeSeesDraftAndResults(t *testing.T) {
	judge := &fakeJudge{content: `{"passed": true, "confidence": 0.9, "violations": [], "reasoning": "ok"}`}
	newValidator(judge).Validate(context.Background(), okRequest())

	require.NotEmpty(t, judge.lastIn)
	assert.Contains(t, judge.lastIn[0].Content, "you would pay $7,500")
	assert.Contains(t, judge.lastIn[0].Content, "[au_tax] Tax payable: $7,500")
}

func TestJudgeFailureFallsBackToKeywords(t *testing.T) {
	t.Run("call error", func(t *testing.T) {
		out := newValidator(&fakeJudge{err: errors.New("429 rate limited")}).Validate(context.Background(), okRequest())
		assert.True(t, out.Passed)
		assert.Equal(t, model.ValidatorKeywordFallback, out.ValidatorUsed)
		assert.Equal(t, KeywordConfidence, out.Confidence)
		assert.Contains(t, out.Reasoning, "429")
		assert.Contains(t, out.Reasoning, errx.LLMErrorMessage)
	})

	t.Run("unparseable output keeps spend", func(t *testing.T) {
		judge := &fakeJudge{
			content: "Looks good to me!",
			usage:   &schema.TokenUsage{PromptTokens: 100, CompletionTokens: 10},
		}
		out := newValidator(judge).Validate(context.Background(), okRequest())
		assert.Equal(t, model.ValidatorKeywordFallback, out.ValidatorUsed)
		assert.Equal(t, 100, out.InputTokens)
		assert.Greater(t, out.CostUSD, 0.0)
	})

	t.Run("no judge", func(t *testing.T) {
		req := okRequest()
		req.Draft = "This is a risk-free strategy with a guaranteed return."
		out := New(nil, "", conversations.NewMessagesManager(model.AdvisorPromptConfig{})).Validate(context.Background(), req)
		assert.False(t, out.Passed)
		assert.Equal(t, model.ValidatorKeywordFallback, out.ValidatorUsed)
		assert.True(t, out.HasViolation(model.CodeForbiddenPhrase, model.SeverityHigh))
	})
}

func TestKeywordChecker(t *testing.T) {
	k := NewKeywordChecker(DefaultForbiddenPhrases)
	figures := model.ToolResults{"t": {Value: "$1,200 per month"}}

	tests := []struct {
		name     string
		draft    string
		results  model.ToolResults
		passed   bool
		wantCode string
	}{
		{"clean", "You will receive $1,200 per month.", figures, true, ""},
		{"empty", "  ", figures, false, model.CodeEmptyResponse},
		{"forbidden", "You Should Buy more units, $5 each.", figures, false, model.CodeForbiddenPhrase},
		{"missing figures", "You will receive a monthly payment.", figures, false, model.CodeMissingFigures},
		{"no figures expected", "Your fund is preserved until retirement.", model.ToolResults{"t": {Value: "preserved"}}, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := k.Check(tt.draft, tt.results, "")
			assert.Equal(t, tt.passed, out.Passed)
			assert.Equal(t, model.ValidatorKeywordFallback, out.ValidatorUsed)
			if tt.wantCode != "" {
				require.NotEmpty(t, out.Violations)
				assert.Equal(t, tt.wantCode, out.Violations[0].Code)
			} else {
				assert.Empty(t, out.Violations)
			}
		})
	}
}

func TestEmptyDraftSkipsJudge(t *testing.T) {
	judge := &fakeJudge{content: `{"passed": true, "confidence": 0.9, "violations": [], "reasoning": "ok"}`}
	req := okRequest()
	req.Draft = ""

	out := newValidator(judge).Validate(context.Background(), req)
	assert.Zero(t, judge.calls)
	assert.False(t, out.Passed)
	assert.Equal(t, model.ValidatorKeywordFallback, out.ValidatorUsed)
	assert.True(t, out.HasViolation(model.CodeEmptyResponse, model.SeverityHigh))
}

func TestJudgeCallErrorIsBadGateway(t *testing.T) {
	v := newValidator(&fakeJudge{err: errors.New("503 unavailable")})
	_, err := v.callJudge(context.Background(), okRequest())
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, errx.StatusOf(err))
	assert.Equal(t, errx.LLMErrorMessage, errx.MessageOf(err))
}
