package nodes

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retirement-advisor-poc/server/internal/agent/finalizer"
	"github.com/retirement-advisor-poc/server/internal/agent/graph/conversations"
	"github.com/retirement-advisor-poc/server/internal/agent/model"
)

var assemblerResults = model.ToolResults{"au_tax": {Value: "Tax payable: $7,500", SourceAuthority: "ATO"}}

func newAssembler() *compose.Lambda {
	mm := conversations.NewMessagesManager(model.AdvisorPromptConfig{AdvisorName: "SuperAdvisor"})
	return NewSynthesisAssemblerNode(mm, finalizer.NewRedactor())
}

func TestSynthesisAssemblerRecordsPromptEstimate(t *testing.T) {
	ctx := context.Background()
	st := &model.AppState{
		Input:   model.QueryInput{MemberID: "AU-1001", Country: "AU", Query: "I'm Priya, how is my super taxed?"},
		Profile: model.CountryProfile{Code: "AU", DisplayName: "Australia", CurrencyCode: "AUD"},
		Member:  &model.MemberProfile{MemberID: "AU-1001", FirstName: "Priya", LastName: "Sharma"},
		ToolIDs: []string{"au_tax"},
	}

	g := compose.NewGraph[model.ToolResults, []*schema.Message](compose.WithGenLocalState(func(context.Context) *model.AppState {
		return st
	}))
	var estimate int
	require.NoError(t, g.AddLambdaNode("assemble", newAssembler(),
		compose.WithStatePostHandler[[]*schema.Message, *model.AppState](func(_ context.Context, out []*schema.Message, state *model.AppState) ([]*schema.Message, error) {
			estimate = state.SynthesisPromptEstimate
			return out, nil
		})))
	require.NoError(t, g.AddEdge(compose.START, "assemble"))
	require.NoError(t, g.AddEdge("assemble", compose.END))
	r, err := g.Compile(ctx)
	require.NoError(t, err)

	msgs, err := r.Invoke(ctx, assemblerResults)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "I'm [MEMBER], how is my super taxed?", msgs[1].Content)

	want := 0
	for _, m := range msgs {
		want += model.EstimateTokens(m.Content)
	}
	assert.Equal(t, want, estimate)
	assert.Positive(t, estimate)
}

func TestSynthesisAssemblerNeedsState(t *testing.T) {
	ctx := context.Background()
	g := compose.NewGraph[model.ToolResults, []*schema.Message]()
	require.NoError(t, g.AddLambdaNode("assemble", newAssembler()))
	require.NoError(t, g.AddEdge(compose.START, "assemble"))
	require.NoError(t, g.AddEdge("assemble", compose.END))
	r, err := g.Compile(ctx)
	require.NoError(t, err)

	_, err = r.Invoke(ctx, assemblerResults)
	assert.ErrorContains(t, err, "failed to access state")
}
