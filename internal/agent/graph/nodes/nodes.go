package nodes

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/retirement-advisor-poc/server/internal/agent/country"
	"github.com/retirement-advisor-poc/server/internal/agent/finalizer"
	"github.com/retirement-advisor-poc/server/internal/agent/graph/conversations"
	"github.com/retirement-advisor-poc/server/internal/agent/graph/tools"
	"github.com/retirement-advisor-poc/server/internal/agent/model"
	"github.com/retirement-advisor-poc/server/internal/agent/validator"
	errx "github.com/retirement-advisor-poc/server/internal/core/error"
	logx "github.com/retirement-advisor-poc/server/pkg/logger"
)

// QueryClassifier is the cascade classifier seen by the graph.
type QueryClassifier interface {
	Classify(ctx context.Context, query string) model.ClassificationResult
}

// ================ Classification ================

// NewClassifierPreHandler resets the per-query state and resolves the country.
func NewClassifierPreHandler(countries *country.Resolver) func(context.Context, model.QueryInput, *model.AppState) (model.QueryInput, error) {
	return func(ctx context.Context, in model.QueryInput, s *model.AppState) (model.QueryInput, error) {
		profile, ok := countries.Resolve(in.Country)
		if !ok {
			return in, errx.InvalidInput(fmt.Sprintf("unsupported country %q", in.Country))
		}
		*s = model.AppState{
			Input:     in,
			Profile:   profile,
			StartedAt: time.Now(),
		}
		return in, nil
	}
}

// NewClassifierNode runs the cascade; it never fails.
func NewClassifierNode(c QueryClassifier) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.QueryInput) (model.ClassificationResult, error) {
		return c.Classify(ctx, in.Query), nil
	})
}

// NewClassifierPostHandler stores the classification and its cost.
func NewClassifierPostHandler() func(context.Context, model.ClassificationResult, *model.AppState) (model.ClassificationResult, error) {
	return func(ctx context.Context, out model.ClassificationResult, state *model.AppState) (model.ClassificationResult, error) {
		state.Classification = out
		// a cache hit reports the original spend; nothing was paid for this query
		if !out.Cached {
			state.TotalCostUSD += out.CostUSD
		}
		logx.Debug().
			Str("request_id", state.Input.RequestID).
			Str("node", NodeClassifier).
			Str("method", string(out.Method)).
			Str("label", out.Label).
			Bool("on_topic", out.IsOnTopic).
			Bool("cached", out.Cached).
			Msg("Query classified")
		return out, nil
	}
}

// NewTopicCondition routes off-topic queries around the whole loop.
func NewTopicCondition() func(context.Context, model.ClassificationResult) (string, error) {
	return func(ctx context.Context, in model.ClassificationResult) (string, error) {
		if !in.IsOnTopic {
			logx.Debug().Str("label", in.Label).Msg("Routing to Decline - off-topic query")
			return NodeDecline, nil
		}
		return NodeMemberLoader, nil
	}
}

// NewDeclineNode answers an off-topic query with the canned template. No
// model is called.
func NewDeclineNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, cls model.ClassificationResult) (*model.QueryResult, error) {
		var res *model.QueryResult
		err := compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
			state.LoopState = model.StateDeclined
			res = &model.QueryResult{
				RequestID:         state.Input.RequestID,
				ResponseText:      finalizer.DeclineMessage(cls.Label, state.Profile),
				Citations:         []model.Citation{},
				ToolsUsed:         []string{},
				Attempts:          0,
				SynthesisHistory:  []model.SynthesisAttempt{},
				ValidationHistory: []model.ValidationOutcome{},
				Classification:    cls,
				FinalState:        model.StateDeclined,
				TotalCostUSD:      state.TotalCostUSD,
				DurationS:         time.Since(state.StartedAt).Seconds(),
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}
		return res, nil
	})
}

// ================ Member & tools ================

// NewMemberLoaderNode looks up the member profile. A missing or unreachable
// profile is not fatal: the answer is produced without member context.
func NewMemberLoaderNode(members model.MemberRepository) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ model.ClassificationResult) (*model.MemberProfile, error) {
		if members == nil {
			return nil, nil
		}
		var in model.QueryInput
		if err := compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
			in = state.Input
			return nil
		}); err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}

		m, err := members.Get(ctx, in.MemberID, in.Country)
		if err != nil {
			logx.Warn().Err(err).
				Str("request_id", in.RequestID).
				Int("status", errx.StatusOf(err)).
				Msg("Member profile unavailable - continuing without member context")
			return nil, nil
		}
		return m, nil
	})
}

func NewMemberLoaderPostHandler() func(context.Context, *model.MemberProfile, *model.AppState) (*model.MemberProfile, error) {
	return func(ctx context.Context, out *model.MemberProfile, state *model.AppState) (*model.MemberProfile, error) {
		state.Member = out
		return out, nil
	}
}

func NewToolSelectorNode(sel *tools.Selector) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ *model.MemberProfile) (model.ToolPlan, error) {
		var plan model.ToolPlan
		err := compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
			plan.ToolIDs = sel.Select(state.Input.Query, state.Profile)
			return nil
		})
		if err != nil {
			return model.ToolPlan{}, fmt.Errorf("failed to access state: %w", err)
		}
		return plan, nil
	})
}

func NewToolSelectorPostHandler() func(context.Context, model.ToolPlan, *model.AppState) (model.ToolPlan, error) {
	return func(ctx context.Context, out model.ToolPlan, state *model.AppState) (model.ToolPlan, error) {
		state.ToolIDs = out.ToolIDs
		logx.Debug().Str("request_id", state.Input.RequestID).Strs("tool_ids", out.ToolIDs).Msg("Tools selected")
		return out, nil
	}
}

func NewToolInvokerNode(inv *tools.Invoker) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, plan model.ToolPlan) (model.ToolResults, error) {
		var in model.QueryInput
		if err := compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
			in = state.Input
			return nil
		}); err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}
		return inv.Invoke(ctx, in, plan.ToolIDs), nil
	})
}

// NewToolInvokerPostHandler freezes the tool results and opens attempt 1.
func NewToolInvokerPostHandler() func(context.Context, model.ToolResults, *model.AppState) (model.ToolResults, error) {
	return func(ctx context.Context, out model.ToolResults, state *model.AppState) (model.ToolResults, error) {
		state.ToolResults = out
		state.Attempt = 1
		state.LoopState = model.StateSynthesizing
		if failed := out.FailedTools(state.ToolIDs); len(failed) > 0 {
			logx.Warn().Str("request_id", state.Input.RequestID).Strs("failed_tools", failed).Msg("Tool failures recorded")
		}
		return out, nil
	}
}

// ================ Synthesis ⇄ validation loop ================

func NewSynthesisAssemblerPreHandler() func(context.Context, model.ToolResults, *model.AppState) (model.ToolResults, error) {
	return func(ctx context.Context, in model.ToolResults, state *model.AppState) (model.ToolResults, error) {
		state.LoopState = model.StateSynthesizing
		state.SynthesisStarted = time.Now()
		return in, nil
	}
}

// NewSynthesisAssemblerNode builds the synthesis prompt from the unchanged
// tool results and every prior validation outcome.
func NewSynthesisAssemblerNode(mm *conversations.MessagesManager, redactor finalizer.Redactor) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, results model.ToolResults) ([]*schema.Message, error) {
		var in conversations.SynthesisInput
		err := compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
			in = conversations.SynthesisInput{
				Query:             redactor.Redact(state.Input.Query, state.Member),
				Profile:           state.Profile,
				Member:            state.Member,
				ToolIDs:           state.ToolIDs,
				ToolResults:       results,
				ValidationHistory: append([]model.ValidationOutcome(nil), state.ValidationHistory...),
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}

		msgs, err := mm.BuildSynthesisMessages(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("build synthesis messages: %w", err)
		}

		estimate := 0
		for _, m := range msgs {
			estimate += model.EstimateTokens(m.Content)
		}
		err = compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
			state.SynthesisPromptEstimate = estimate
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}
		return msgs, nil
	})
}

// NewSynthesisChatModelPostHandler records the attempt and its usage cost.
func NewSynthesisChatModelPostHandler(modelName string) func(context.Context, *schema.Message, *model.AppState) (*schema.Message, error) {
	return func(ctx context.Context, out *schema.Message, state *model.AppState) (*schema.Message, error) {
		if out == nil {
			out = schema.AssistantMessage("", nil)
		}
		promptTokens, completionTokens := model.UsageOf(out)
		if promptTokens == 0 && completionTokens == 0 && out.Content != "" {
			promptTokens = state.SynthesisPromptEstimate
			completionTokens = model.EstimateTokens(out.Content)
		}

		var totalC float64
		if model.CostEnabled() {
			var inC, outC float64
			inC, outC, totalC = model.ComputeTokenCost(promptTokens, completionTokens, model.ResolvePricing(modelName))
			if out.Extra == nil {
				out.Extra = map[string]any{}
			}
			out.Extra["usage_cost"] = map[string]any{
				"currency":          "USD",
				"model":             modelName,
				"prompt_tokens":     promptTokens,
				"completion_tokens": completionTokens,
				"input_cost":        inC,
				"output_cost":       outC,
				"total_cost":        totalC,
			}
			logx.Debug().
				Str("request_id", state.Input.RequestID).
				Str("node", NodeSynthesisChatModel).
				Str("model", modelName).
				Int("attempt", state.Attempt).
				Int("prompt_tokens", promptTokens).
				Int("completion_tokens", completionTokens).
				Float64("total_cost_usd", totalC).
				Msg("LLM usage")
			state.TotalCostUSD += totalC
		}

		state.SynthesisHistory = append(state.SynthesisHistory, model.SynthesisAttempt{
			AttemptNumber: state.Attempt,
			ResponseText:  out.Content,
			InputTokens:   promptTokens,
			OutputTokens:  completionTokens,
			CostUSD:       totalC,
			DurationS:     time.Since(state.SynthesisStarted).Seconds(),
		})
		state.LoopState = model.StateValidating
		return out, nil
	}
}

func NewValidatorNode(v *validator.Validator, redactor finalizer.Redactor) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, draft *schema.Message) (model.ValidationOutcome, error) {
		var req validator.Request
		err := compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
			req = validator.Request{
				RequestID:   state.Input.RequestID,
				Query:       redactor.Redact(state.Input.Query, state.Member),
				Profile:     state.Profile,
				Member:      state.Member,
				ToolIDs:     state.ToolIDs,
				ToolResults: state.ToolResults,
			}
			return nil
		})
		if err != nil {
			return model.ValidationOutcome{}, fmt.Errorf("failed to access state: %w", err)
		}
		if draft != nil {
			req.Draft = draft.Content
		}
		return v.Validate(ctx, req), nil
	})
}

// NewValidatorPostHandler pairs the outcome with the current attempt and
// takes the loop transition.
func NewValidatorPostHandler(maxAttempts int) func(context.Context, model.ValidationOutcome, *model.AppState) (model.ValidationOutcome, error) {
	return func(ctx context.Context, out model.ValidationOutcome, state *model.AppState) (model.ValidationOutcome, error) {
		state.ValidationHistory = append(state.ValidationHistory, out)
		state.TotalCostUSD += out.CostUSD
		state.LoopState = NextLoopState(state.Attempt, maxAttempts, out.Passed)

		logx.Debug().
			Str("request_id", state.Input.RequestID).
			Str("node", NodeValidator).
			Int("attempt", state.Attempt).
			Bool("passed", out.Passed).
			Str("validator", out.ValidatorUsed).
			Int("violations", len(out.Violations)).
			Str("next_state", string(state.LoopState)).
			Msg("Draft validated")
		return out, nil
	}
}

// NewValidationCondition routes to another attempt or to the finalizer.
func NewValidationCondition() func(context.Context, model.ValidationOutcome) (string, error) {
	return func(ctx context.Context, _ model.ValidationOutcome) (string, error) {
		var next model.LoopState
		if err := compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
			next = state.LoopState
			return nil
		}); err != nil {
			return "", fmt.Errorf("failed to access state: %w", err)
		}

		switch next {
		case model.StateRetry:
			return NodeRetry, nil
		case model.StatePassed, model.StateExhausted:
			return NodeFinalizer, nil
		default:
			return "", fmt.Errorf("unexpected loop state %q after validation", next)
		}
	}
}

// NewRetryNode opens the next attempt and feeds the frozen tool results back
// to the assembler.
func NewRetryNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ model.ValidationOutcome) (model.ToolResults, error) {
		var results model.ToolResults
		err := compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
			state.Attempt++
			results = state.ToolResults
			logx.Debug().Str("request_id", state.Input.RequestID).Int("attempt", state.Attempt).Msg("Retrying synthesis")
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}
		return results, nil
	})
}

// ================ Finalization ================

// NewFinalizerNode assembles the QueryResult from the terminal loop state.
func NewFinalizerNode(f *finalizer.Finalizer) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, final model.ValidationOutcome) (*model.QueryResult, error) {
		var res *model.QueryResult
		err := compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
			if len(state.SynthesisHistory) != len(state.ValidationHistory) || len(state.SynthesisHistory) == 0 {
				return fmt.Errorf("history mismatch: %d synthesis attempts, %d validations",
					len(state.SynthesisHistory), len(state.ValidationHistory))
			}
			last := state.SynthesisHistory[len(state.SynthesisHistory)-1]

			out := f.Finalize(finalizer.Input{
				Text:        last.ResponseText,
				State:       state.LoopState,
				Final:       final,
				Member:      state.Member,
				ToolIDs:     state.ToolIDs,
				ToolResults: state.ToolResults,
			})

			res = &model.QueryResult{
				RequestID:         state.Input.RequestID,
				ResponseText:      out.Text,
				Citations:         out.Citations,
				ToolsUsed:         append([]string{}, state.ToolIDs...),
				ToolResults:       state.ToolResults,
				Attempts:          len(state.SynthesisHistory),
				SynthesisHistory:  append([]model.SynthesisAttempt(nil), state.SynthesisHistory...),
				ValidationHistory: append([]model.ValidationOutcome(nil), state.ValidationHistory...),
				Classification:    state.Classification,
				FinalState:        state.LoopState,
				Validated:         out.Validated,
				NeedsReview:       out.NeedsReview,
				TotalCostUSD:      state.TotalCostUSD,
				DurationS:         time.Since(state.StartedAt).Seconds(),
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("finalize: %w", err)
		}
		return res, nil
	})
}
