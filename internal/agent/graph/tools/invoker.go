package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/tool"

	"github.com/retirement-advisor-poc/server/internal/agent/model"
	logx "github.com/retirement-advisor-poc/server/pkg/logger"
)

// Invoker executes the selected calculator tools one after the other. A
// failing tool is recorded under its own id and never stops the others.
type Invoker struct {
	registry *Registry
	timeout  time.Duration
}

// NewInvoker returns an invoker; timeout bounds each tool call when > 0.
func NewInvoker(registry *Registry, timeout time.Duration) *Invoker {
	return &Invoker{registry: registry, timeout: timeout}
}

// Invoke returns a result for every requested id. Without an explicit amount
// the first currency amount written in the query is passed on.
func (v *Invoker) Invoke(ctx context.Context, in model.QueryInput, ids []string) model.ToolResults {
	results := make(model.ToolResults, len(ids))
	amount := in.Amount
	if amount == nil {
		if a, ok := ExtractAmount(in.Query); ok {
			amount = &a
			logx.Debug().Str("request_id", in.RequestID).Float64("amount", a).Msg("amount taken from query")
		}
	}
	args, err := json.Marshal(CalcInput{
		MemberID: in.MemberID,
		Country:  in.Country,
		Amount:   amount,
	})
	if err != nil {
		for _, id := range ids {
			results[id] = model.ToolResult{Error: fmt.Sprintf("encode arguments: %v", err)}
		}
		return results
	}

	for _, id := range ids {
		start := time.Now()
		res := v.invokeOne(ctx, id, string(args))
		ev := logx.Debug()
		if res.Failed() {
			ev = logx.Warn().Str("error", res.Error)
		}
		ev.Str("request_id", in.RequestID).
			Str("tool_id", id).
			Dur("duration", time.Since(start)).
			Msg("tool invoked")
		results[id] = res
	}
	return results
}

func (v *Invoker) invokeOne(ctx context.Context, id, args string) (res model.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("tool_id", id).Msgf("tool panic recovered: %v", r)
			res = model.ToolResult{Error: fmt.Sprintf("tool panicked: %v", r)}
		}
	}()

	t, ok := v.registry.Tool(id)
	if !ok {
		return model.ToolResult{Error: fmt.Sprintf("unknown tool %q", id)}
	}
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	// Report the call to the tool handlers of the running graph.
	ctx = einocb.ReuseHandlers(ctx, &einocb.RunInfo{
		Name:      id,
		Type:      "Calculator",
		Component: components.ComponentOfTool,
	})
	ctx = einocb.OnStart(ctx, &tool.CallbackInput{ArgumentsInJSON: args})

	raw, err := t.InvokableRun(ctx, args)
	if err != nil {
		einocb.OnError(ctx, err)
		return model.ToolResult{Error: err.Error()}
	}
	einocb.OnEnd(ctx, &tool.CallbackOutput{Response: raw})

	var out CalcOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return model.ToolResult{Error: fmt.Sprintf("decode %s result: %v", id, err)}
	}
	return model.ToolResult{
		Value:           out.Value,
		SourceAuthority: out.Authority,
		Citations:       out.Citations,
	}
}
