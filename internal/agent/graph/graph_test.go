package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retirement-advisor-poc/server/internal/agent/classifier"
	"github.com/retirement-advisor-poc/server/internal/agent/country"
	"github.com/retirement-advisor-poc/server/internal/agent/finalizer"
	"github.com/retirement-advisor-poc/server/internal/agent/graph/conversations"
	"github.com/retirement-advisor-poc/server/internal/agent/graph/prompts"
	"github.com/retirement-advisor-poc/server/internal/agent/graph/tools"
	"github.com/retirement-advisor-poc/server/internal/agent/model"
	"github.com/retirement-advisor-poc/server/internal/agent/validator"
	errx "github.com/retirement-advisor-poc/server/internal/core/error"
)

const (
	judgePass = `{"passed": true, "confidence": 0.92, "violations": [], "reasoning": "Figures match the calculator output."}`
	judgeFail = "```json\n" + `{"passed": false, "confidence": 0.8, "violations": [{"code": "UNSUPPORTED-FIGURE", "severity": "HIGH", "detail": "quotes a rate not in the results"}], "reasoning": "Draft invents a tax rate."}` + "\n```"
)

// scriptedChat replies with replies[i] on the i-th call and repeats the last one.
type scriptedChat struct {
	mu      sync.Mutex
	replies []string
	err     error
	usage   *schema.TokenUsage
	inputs  [][]*schema.Message
}

func (s *scriptedChat) Generate(_ context.Context, in []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, in)
	if s.err != nil {
		return nil, s.err
	}
	i := len(s.inputs) - 1
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	msg := schema.AssistantMessage(s.replies[i], nil)
	if s.usage != nil {
		msg.ResponseMeta = &schema.ResponseMeta{Usage: s.usage}
	}
	return msg, nil
}

func (s *scriptedChat) Stream(ctx context.Context, in []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := s.Generate(ctx, in, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (s *scriptedChat) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inputs)
}

type fakeCalculator struct {
	mu    sync.Mutex
	fail  map[string]error
	calls []string
}

func (f *fakeCalculator) Calculate(_ context.Context, req model.CalcRequest) (*model.CalcResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.ToolID)
	f.mu.Unlock()
	if err := f.fail[req.ToolID]; err != nil {
		return nil, err
	}
	return &model.CalcResponse{
		Value:     "Estimated tax payable: $7,500 on a $50,000 withdrawal",
		Authority: "Australian Taxation Office",
		Citations: []model.Citation{{Source: "ATO", Title: "Super lump sum tax table", URL: "https://www.ato.gov.au"}},
	}, nil
}

type fakeMembers struct {
	member *model.MemberProfile
	err    error
}

func (f fakeMembers) Get(_ context.Context, _, _ string) (*model.MemberProfile, error) {
	return f.member, f.err
}

type memAudit struct {
	mu   sync.Mutex
	recs []model.AuditRecord
	err  error
}

func (a *memAudit) Record(_ context.Context, rec model.AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, rec)
	return a.err
}

var priya = &model.MemberProfile{
	MemberID: "AU-1001", Country: "AU", FirstName: "Priya", LastName: "Sharma",
	Age: 58, Balance: 420000, AnnualIncome: 95000, RetirementAge: 65,
}

type harness struct {
	synth   *scriptedChat
	judge   *scriptedChat
	calc    *fakeCalculator
	audit   *memAudit
	reg     *prometheus.Registry
	runner  *Runner
	profile model.CountryProfile
}

type harnessOpts struct {
	synth       *scriptedChat
	judge       *scriptedChat
	calc        *fakeCalculator
	members     model.MemberRepository
	maxAttempts int
}

func newHarness(t *testing.T, o harnessOpts) *harness {
	t.Helper()
	if o.synth == nil {
		o.synth = &scriptedChat{replies: []string{"[MEMBER], you would pay about $7,500 in tax on a $50,000 withdrawal."}}
	}
	if o.judge == nil {
		o.judge = &scriptedChat{replies: []string{judgePass}}
	}
	if o.calc == nil {
		o.calc = &fakeCalculator{}
	}
	if o.members == nil {
		o.members = fakeMembers{member: priya}
	}

	countries, err := country.Default()
	require.NoError(t, err)
	registry, err := tools.NewRegistry(o.calc, tools.DefaultSpecs)
	require.NoError(t, err)
	selector, err := tools.NewSelector(tools.DefaultRules)
	require.NoError(t, err)

	cls := classifier.New(model.ClassifierConfig{
		Model:         "gemini-2.5-flash-lite",
		HighThreshold: 0.75,
		LowThreshold:  0.40,
		CacheSize:     16,
	}, classifier.Deps{})

	mm := conversations.NewMessagesManager(model.AdvisorPromptConfig{AdvisorName: "SuperAdvisor", Organisation: "Test Fund"})
	redactor := finalizer.NewRedactor()

	runnable, err := BuildGraph(context.Background(), &GraphConfig{
		Classifier:         cls,
		Countries:          countries,
		Members:            o.members,
		Selector:           selector,
		Invoker:            tools.NewInvoker(registry, 0),
		MessagesManager:    mm,
		SynthesisModel:     o.synth,
		SynthesisModelName: "gemini-2.5-flash",
		Validator:          validator.New(o.judge, "gemini-2.5-flash", mm),
		Finalizer:          finalizer.New(redactor),
		Redactor:           redactor,
		MaxAttempts:        o.maxAttempts,
	})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	audit := &memAudit{}
	profile, _ := countries.Resolve("AU")
	return &harness{
		synth:   o.synth,
		judge:   o.judge,
		calc:    o.calc,
		audit:   audit,
		reg:     reg,
		profile: profile,
		runner: NewRunner(runnable, RunnerOptions{
			Countries:  countries,
			Audit:      audit,
			Stats:      cls,
			Registerer: reg,
		}),
	}
}

func assertLoopInvariants(t *testing.T, res *model.QueryResult, maxAttempts int) {
	t.Helper()
	assert.Len(t, res.ValidationHistory, len(res.SynthesisHistory))
	assert.Equal(t, len(res.SynthesisHistory), res.Attempts)
	assert.GreaterOrEqual(t, res.Attempts, 1)
	assert.LessOrEqual(t, res.Attempts, maxAttempts)
	for i, a := range res.SynthesisHistory {
		assert.Equal(t, i+1, a.AttemptNumber)
	}
}

func TestTaxQueryPassesFirstAttempt(t *testing.T) {
	h := newHarness(t, harnessOpts{
		synth: &scriptedChat{
			replies: []string{"[MEMBER], you would pay about $7,500 in tax on a $50,000 withdrawal."},
			usage:   &schema.TokenUsage{PromptTokens: 1000, CompletionTokens: 200},
		},
	})

	res, err := h.runner.Invoke(context.Background(), model.QueryInput{
		MemberID: "AU-1001",
		Country:  "au",
		Query:    "How much tax will I pay if I withdraw $50,000 from my super?",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, res.RequestID)
	assert.Equal(t, model.MethodRegex, res.Classification.Method)
	assert.True(t, res.Classification.IsOnTopic)
	assert.Equal(t, model.RegexConfidence, res.Classification.Confidence)
	assert.Contains(t, res.ToolsUsed, "au_tax")

	assert.Equal(t, model.StatePassed, res.FinalState)
	assert.True(t, res.Validated)
	assert.False(t, res.NeedsReview)
	assertLoopInvariants(t, res, 3)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, model.ValidatorLLMJudge, res.ValidationHistory[0].ValidatorUsed)

	assert.True(t, strings.HasPrefix(res.ResponseText, "Hi Priya,"))
	assert.Contains(t, res.ResponseText, "Priya, you would pay about $7,500")
	assert.NotContains(t, res.ResponseText, prompts.MemberPlaceholder)
	assert.Contains(t, res.ResponseText, "**References**")
	assert.Contains(t, res.ResponseText, finalizer.Disclaimer)
	require.Len(t, res.Citations, 1)
	assert.Equal(t, "ATO", res.Citations[0].Source)

	// 1000 prompt + 200 completion tokens at flash pricing, plus the judge estimate
	assert.Greater(t, res.TotalCostUSD, 0.0008)
	assert.InDelta(t, 0.0008, res.SynthesisHistory[0].CostUSD, 1e-9)

	require.Len(t, h.audit.recs, 1)
	rec := h.audit.recs[0]
	assert.Equal(t, res.RequestID, rec.RequestID)
	assert.Equal(t, "AU", rec.Country)
	assert.Equal(t, string(model.StatePassed), rec.FinalState)
	assert.Equal(t, model.ValidatorLLMJudge, rec.ValidatorUsed)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.runner.metrics.queries.WithLabelValues("PASSED", "true")))
}

func TestMemberNameNeverReachesModels(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	res, err := h.runner.Invoke(context.Background(), model.QueryInput{
		MemberID: "AU-1001",
		Country:  "AU",
		Query:    "I'm Priya Sharma, how much tax do I pay if I withdraw from my super?",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatePassed, res.FinalState)

	for _, calls := range [][][]*schema.Message{h.synth.inputs, h.judge.inputs} {
		require.NotEmpty(t, calls)
		for _, msgs := range calls {
			for _, m := range msgs {
				assert.NotContains(t, m.Content, "Priya")
				assert.NotContains(t, m.Content, "Sharma")
			}
		}
	}
	assert.Contains(t, res.ResponseText, "Priya")
}

func TestOffTopicQueryIsDeclinedWithoutLoop(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	res, err := h.runner.Invoke(context.Background(), model.QueryInput{
		MemberID: "AU-1001",
		Country:  "AU",
		Query:    "What's the weather like today?",
	})
	require.NoError(t, err)

	assert.False(t, res.Classification.IsOnTopic)
	assert.Equal(t, model.MethodRegex, res.Classification.Method)
	assert.Equal(t, model.StateDeclined, res.FinalState)
	assert.Equal(t, finalizer.DeclineMessage(res.Classification.Label, h.profile), res.ResponseText)

	assert.Zero(t, res.Attempts)
	assert.Empty(t, res.SynthesisHistory)
	assert.Empty(t, res.ValidationHistory)
	assert.Empty(t, res.ToolsUsed)
	assert.Zero(t, res.TotalCostUSD)
	assert.Zero(t, h.synth.Calls())
	assert.Zero(t, h.judge.Calls())
	assert.Empty(t, h.calc.calls)

	require.Len(t, h.audit.recs, 1)
	assert.False(t, h.audit.recs[0].IsOnTopic)
}

func TestToolFailureIsIsolatedAndVetoed(t *testing.T) {
	calc := &fakeCalculator{fail: map[string]error{"au_tax": errors.New("function au_calculate_withdrawal_tax: division by zero")}}
	h := newHarness(t, harnessOpts{calc: calc})

	// tax and benefit keywords select two tools
	res, err := h.runner.Invoke(context.Background(), model.QueryInput{
		MemberID: "AU-1001",
		Country:  "AU",
		Query:    "What tax applies to my super withdrawal, and am I eligible for access at 58?",
	})
	require.NoError(t, err)

	require.Equal(t, []string{"au_tax", "au_preservation"}, res.ToolsUsed)
	require.Len(t, res.ToolResults, 2)
	assert.Contains(t, res.ToolResults["au_tax"].Error, "division by zero")
	assert.False(t, res.ToolResults["au_preservation"].Failed())
	assert.NotEmpty(t, res.ToolResults["au_preservation"].Value)
	// tools run once, never per attempt
	assert.Len(t, calc.calls, 2)

	assert.Zero(t, h.judge.Calls())
	assertLoopInvariants(t, res, 3)
	for _, v := range res.ValidationHistory {
		assert.False(t, v.Passed)
		assert.Equal(t, model.ValidatorToolCheck, v.ValidatorUsed)
		assert.True(t, v.HasViolation(model.CodeToolExecutionFailed, model.SeverityCritical))
		assert.Zero(t, v.CostUSD)
	}

	assert.True(t, res.NeedsReview)
	assert.False(t, res.Validated)
	assert.Contains(t, res.ResponseText, finalizer.ToolFailureMessage)
}

func TestRejectedDraftsExhaustAttempts(t *testing.T) {
	synth := &scriptedChat{replies: []string{
		"Draft one: you pay 15% tax.",
		"Draft two: you pay 17% tax.",
		"Draft three: you would pay about $7,500.",
	}}
	h := newHarness(t, harnessOpts{
		synth:       synth,
		judge:       &scriptedChat{replies: []string{judgeFail}},
		maxAttempts: 3,
	})

	res, err := h.runner.Invoke(context.Background(), model.QueryInput{
		MemberID: "AU-1001",
		Country:  "AU",
		Query:    "How much tax will I pay if I withdraw $50,000 from my super?",
	})
	require.NoError(t, err)

	assert.Equal(t, model.StateExhausted, res.FinalState)
	assert.Equal(t, 3, res.Attempts)
	assertLoopInvariants(t, res, 3)
	assert.Equal(t, 3, h.judge.Calls())

	assert.Contains(t, res.ResponseText, "Draft three")
	assert.NotContains(t, res.ResponseText, "Draft one")
	assert.False(t, res.Validated)
	assert.True(t, res.NeedsReview)

	final, ok := res.FinalValidation()
	require.True(t, ok)
	assert.False(t, final.Passed)
	assert.Equal(t, "Draft invents a tax rate.", final.Reasoning)

	// every retry sees every earlier rejection
	require.Len(t, synth.inputs, 3)
	assert.NotContains(t, synth.inputs[0][0].Content, "Attempt 1:")
	assert.Contains(t, synth.inputs[1][0].Content, "Attempt 1:")
	assert.Contains(t, synth.inputs[2][0].Content, "Attempt 1:")
	assert.Contains(t, synth.inputs[2][0].Content, "Attempt 2:")
	assert.Contains(t, synth.inputs[2][0].Content, "UNSUPPORTED-FIGURE")
}

func TestRetryThenPass(t *testing.T) {
	h := newHarness(t, harnessOpts{
		synth: &scriptedChat{replies: []string{"First: about 15%.", "Second: about $7,500 in tax."}},
		judge: &scriptedChat{replies: []string{judgeFail, judgePass}},
	})

	res, err := h.runner.Invoke(context.Background(), model.QueryInput{
		MemberID: "AU-1001",
		Country:  "AU",
		Query:    "How much tax will I pay if I withdraw $50,000 from my super?",
	})
	require.NoError(t, err)

	assert.Equal(t, model.StatePassed, res.FinalState)
	assert.Equal(t, 2, res.Attempts)
	assertLoopInvariants(t, res, 3)
	assert.True(t, res.Validated)
	assert.Contains(t, res.ResponseText, "Second: about $7,500")
}

func TestMaxAttemptsIsConfigurable(t *testing.T) {
	h := newHarness(t, harnessOpts{
		judge:       &scriptedChat{replies: []string{judgeFail}},
		maxAttempts: 1,
	})

	res, err := h.runner.Invoke(context.Background(), model.QueryInput{
		MemberID: "AU-1001",
		Country:  "AU",
		Query:    "How much tax will I pay if I withdraw $50,000 from my super?",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StateExhausted, res.FinalState)
	assertLoopInvariants(t, res, 1)
}

func TestSynthesisOutageExhaustsWithoutJudge(t *testing.T) {
	h := newHarness(t, harnessOpts{
		synth: &scriptedChat{err: errors.New("503 model overloaded")},
	})

	res, err := h.runner.Invoke(context.Background(), model.QueryInput{
		MemberID: "AU-1001",
		Country:  "AU",
		Query:    "How much tax will I pay if I withdraw $50,000 from my super?",
	})
	require.NoError(t, err)

	assert.Equal(t, model.StateExhausted, res.FinalState)
	assertLoopInvariants(t, res, 3)
	assert.Zero(t, h.judge.Calls())
	for _, v := range res.ValidationHistory {
		assert.True(t, v.HasViolation(model.CodeEmptyResponse, model.SeverityHigh))
	}
	assert.Contains(t, res.ResponseText, finalizer.NoAnswerMessage)
	assert.True(t, res.NeedsReview)
}

func TestMissingMemberProfileStillAnswers(t *testing.T) {
	h := newHarness(t, harnessOpts{
		members: fakeMembers{err: errx.WrapPostgres(errors.New("connection refused"))},
	})

	res, err := h.runner.Invoke(context.Background(), model.QueryInput{
		MemberID: "AU-404",
		Country:  "AU",
		Query:    "How much tax will I pay if I withdraw $50,000 from my super?",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatePassed, res.FinalState)
	assert.True(t, strings.HasPrefix(res.ResponseText, "Hello,"))
	assert.Contains(t, h.synth.inputs[0][0].Content, "No member profile available.")
}

func TestInvokeRejectsBadInput(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	tests := []struct {
		name string
		in   model.QueryInput
	}{
		{"empty query", model.QueryInput{MemberID: "AU-1001", Country: "AU", Query: "   "}},
		{"empty member", model.QueryInput{Country: "AU", Query: "How much tax on my super?"}},
		{"unknown country", model.QueryInput{MemberID: "X", Country: "FR", Query: "How much tax on my super?"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.runner.Invoke(context.Background(), tt.in)
			require.Error(t, err)
			assert.Equal(t, http.StatusBadRequest, errx.StatusOf(err))
		})
	}
	assert.Zero(t, h.synth.Calls())
	assert.Empty(t, h.audit.recs)
}

func TestAuditFailureDoesNotFailQuery(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.audit.err = errors.New("insert failed")

	res, err := h.runner.Invoke(context.Background(), model.QueryInput{
		MemberID: "AU-1001",
		Country:  "AU",
		Query:    "What's the weather like today?",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StateDeclined, res.FinalState)
}

func TestClassifierStatsAfterQueries(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := h.runner.Invoke(ctx, model.QueryInput{MemberID: "AU-1001", Country: "AU", Query: "What's the weather like today?"})
		require.NoError(t, err)
	}

	snap, ok := h.runner.ClassifierStats()
	require.True(t, ok)
	assert.Equal(t, int64(1), snap.CacheHits)
	assert.GreaterOrEqual(t, snap.Total, int64(1))

	removed, ok, err := h.runner.ClearClassifierCache(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, removed)

	_, err = h.runner.Invoke(ctx, model.QueryInput{MemberID: "AU-1001", Country: "AU", Query: "What's the weather like today?"})
	require.NoError(t, err)
	snap, _ = h.runner.ClassifierStats()
	assert.Equal(t, int64(1), snap.CacheHits, "a cleared cache must be recomputed")
}

func TestConcurrentQueries(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	queries := []string{
		"How much tax will I pay if I withdraw $50,000 from my super?",
		"What's the weather like today?",
	}

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.runner.Invoke(context.Background(), model.QueryInput{
				MemberID: fmt.Sprintf("AU-%d", i),
				Country:  "AU",
				Query:    queries[i%2],
			})
			if err != nil {
				errs <- err
				return
			}
			if !res.FinalState.Terminal() {
				errs <- fmt.Errorf("non-terminal state %s", res.FinalState)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
