package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/retirement-advisor-poc/server/internal/agent/classifier"
	"github.com/retirement-advisor-poc/server/internal/agent/country"
	"github.com/retirement-advisor-poc/server/internal/agent/finalizer"
	"github.com/retirement-advisor-poc/server/internal/agent/graph/conversations"
	"github.com/retirement-advisor-poc/server/internal/agent/graph/nodes"
	"github.com/retirement-advisor-poc/server/internal/agent/graph/observers"
	"github.com/retirement-advisor-poc/server/internal/agent/graph/tools"
	"github.com/retirement-advisor-poc/server/internal/agent/model"
	"github.com/retirement-advisor-poc/server/internal/agent/validator"
	errx "github.com/retirement-advisor-poc/server/internal/core/error"
	logx "github.com/retirement-advisor-poc/server/pkg/logger"
)

// Config holds everything needed to compose the full advisory graph end-to-end.
// This is a convenience layer over GraphConfig that also constructs the
// Gemini models, classifier, tool registry and validator.
type Config struct {
	APIKey         string
	BaseURL        string
	Classifier     model.ClassifierConfig
	SynthesisModel model.SynthesisModelConfig
	JudgeModel     model.JudgeModelConfig
	Retry          model.RetryConfig
	Prompt         model.AdvisorPromptConfig
	ToolTimeout    time.Duration

	Calculator         model.Calculator
	Members            model.MemberRepository
	Audit              model.AuditSink
	ClassificationSink model.ClassificationCacheStore
	Registerer         prometheus.Registerer
}

// GraphConfig holds all configuration needed to build the graph
type GraphConfig struct {
	Classifier         nodes.QueryClassifier
	Countries          *country.Resolver
	Members            model.MemberRepository
	Selector           *tools.Selector
	Invoker            *tools.Invoker
	MessagesManager    *conversations.MessagesManager
	SynthesisModel     einomodel.BaseChatModel
	SynthesisModelName string
	Validator          *validator.Validator
	Finalizer          *finalizer.Finalizer
	Redactor           finalizer.Redactor
	MaxAttempts        int
}

// GraphBuilder handles the construction of the advisory graph
type GraphBuilder struct {
	config *GraphConfig
	graph  *compose.Graph[model.QueryInput, *model.QueryResult]
}

// BuildResponseGraph creates the Gemini models, wires every collaborator,
// builds the graph, and returns a Runner.
func BuildResponseGraph(ctx context.Context, cfg Config) (*Runner, error) {
	if cfg.Calculator == nil {
		return nil, fmt.Errorf("calculator is nil")
	}

	cms, err := nodes.NewChatModels(ctx, nodes.ChatModelConfig{
		APIKey:        cfg.APIKey,
		BaseURL:       cfg.BaseURL,
		ClassifierCfg: &cfg.Classifier,
		SynthesisCfg:  &cfg.SynthesisModel,
		JudgeCfg:      &cfg.JudgeModel,
	})
	if err != nil {
		return nil, err
	}

	countries, err := country.Default()
	if err != nil {
		return nil, err
	}

	registry, err := tools.NewRegistry(cfg.Calculator, tools.DefaultSpecs)
	if err != nil {
		return nil, err
	}
	if err := registry.CheckProfiles(countries.Profiles()); err != nil {
		return nil, err
	}
	selector, err := tools.NewSelector(tools.DefaultRules)
	if err != nil {
		return nil, err
	}

	cls := classifier.New(cfg.Classifier, classifier.Deps{
		Embedder:    cms.Embedder,
		ChatModel:   cms.Classifier,
		SharedCache: cfg.ClassificationSink,
		Registerer:  cfg.Registerer,
	})

	mm := conversations.NewMessagesManager(cfg.Prompt)
	redactor := finalizer.NewRedactor()

	runnable, err := BuildGraph(ctx, &GraphConfig{
		Classifier:         cls,
		Countries:          countries,
		Members:            cfg.Members,
		Selector:           selector,
		Invoker:            tools.NewInvoker(registry, cfg.ToolTimeout),
		MessagesManager:    mm,
		SynthesisModel:     cms.Synthesis,
		SynthesisModelName: cms.SynthesisModelName,
		Validator:          validator.New(cms.Judge, cms.JudgeModelName, mm),
		Finalizer:          finalizer.New(redactor),
		Redactor:           redactor,
		MaxAttempts:        cfg.Retry.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}

	logx.Debug().Msg("Advisory graph built successfully")
	return NewRunner(runnable, RunnerOptions{
		Countries:  countries,
		Audit:      cfg.Audit,
		Stats:      cls,
		Registerer: cfg.Registerer,
	}), nil
}

// BuildGraph constructs and returns the compiled advisory graph
func BuildGraph(ctx context.Context, config *GraphConfig) (compose.Runnable[model.QueryInput, *model.QueryResult], error) {
	if config == nil {
		return nil, fmt.Errorf("graph config is nil")
	}
	if config.Classifier == nil || config.Countries == nil {
		return nil, fmt.Errorf("classifier and country resolver are required")
	}
	if config.Selector == nil || config.Invoker == nil {
		return nil, fmt.Errorf("tool selector and invoker are required")
	}
	if config.SynthesisModel == nil || config.MessagesManager == nil {
		return nil, fmt.Errorf("synthesis model and messages manager are required")
	}
	if config.Validator == nil || config.Finalizer == nil {
		return nil, fmt.Errorf("validator and finalizer are required")
	}

	builder := &GraphBuilder{
		config: config,
		graph: compose.NewGraph[model.QueryInput, *model.QueryResult](
			compose.WithGenLocalState(func(ctx context.Context) *model.AppState {
				return &model.AppState{}
			}),
		),
	}

	if err := builder.addNodes(); err != nil {
		return nil, err
	}
	if err := builder.addEdges(); err != nil {
		return nil, err
	}
	if err := builder.addBranches(); err != nil {
		return nil, err
	}

	return builder.compile(ctx)
}

// addNodes adds all processing nodes to the graph
func (b *GraphBuilder) addNodes() error {
	c := b.config
	maxAttempts := nodes.NormalizeMaxAttempts(c.MaxAttempts)

	steps := []struct {
		name string
		add  func() error
	}{
		{nodes.NodeClassifier, func() error {
			return b.graph.AddLambdaNode(nodes.NodeClassifier,
				nodes.NewClassifierNode(c.Classifier),
				compose.WithStatePreHandler(nodes.NewClassifierPreHandler(c.Countries)),
				compose.WithStatePostHandler(nodes.NewClassifierPostHandler()),
			)
		}},
		{nodes.NodeDecline, func() error {
			return b.graph.AddLambdaNode(nodes.NodeDecline, nodes.NewDeclineNode())
		}},
		{nodes.NodeMemberLoader, func() error {
			return b.graph.AddLambdaNode(nodes.NodeMemberLoader,
				nodes.NewMemberLoaderNode(c.Members),
				compose.WithStatePostHandler(nodes.NewMemberLoaderPostHandler()),
			)
		}},
		{nodes.NodeToolSelector, func() error {
			return b.graph.AddLambdaNode(nodes.NodeToolSelector,
				nodes.NewToolSelectorNode(c.Selector),
				compose.WithStatePostHandler(nodes.NewToolSelectorPostHandler()),
			)
		}},
		{nodes.NodeToolInvoker, func() error {
			return b.graph.AddLambdaNode(nodes.NodeToolInvoker,
				nodes.NewToolInvokerNode(c.Invoker),
				compose.WithStatePostHandler(nodes.NewToolInvokerPostHandler()),
			)
		}},
		{nodes.NodeSynthesisAssembler, func() error {
			return b.graph.AddLambdaNode(nodes.NodeSynthesisAssembler,
				nodes.NewSynthesisAssemblerNode(c.MessagesManager, c.Redactor),
				compose.WithStatePreHandler(nodes.NewSynthesisAssemblerPreHandler()),
			)
		}},
		{nodes.NodeSynthesisChatModel, func() error {
			return b.graph.AddChatModelNode(nodes.NodeSynthesisChatModel,
				nodes.NewSynthesisChatModelNode(c.SynthesisModel),
				compose.WithStatePostHandler(nodes.NewSynthesisChatModelPostHandler(c.SynthesisModelName)),
			)
		}},
		{nodes.NodeValidator, func() error {
			return b.graph.AddLambdaNode(nodes.NodeValidator,
				nodes.NewValidatorNode(c.Validator, c.Redactor),
				compose.WithStatePostHandler(nodes.NewValidatorPostHandler(maxAttempts)),
			)
		}},
		{nodes.NodeRetry, func() error {
			return b.graph.AddLambdaNode(nodes.NodeRetry, nodes.NewRetryNode())
		}},
		{nodes.NodeFinalizer, func() error {
			return b.graph.AddLambdaNode(nodes.NodeFinalizer, nodes.NewFinalizerNode(c.Finalizer))
		}},
	}

	for _, s := range steps {
		if err := s.add(); err != nil {
			logx.Error().Err(err).Str("node", s.name).Msg("Error adding node")
			return fmt.Errorf("error adding node %s: %w", s.name, err)
		}
	}
	return nil
}

// addEdges creates the main flow connections between nodes
func (b *GraphBuilder) addEdges() error {
	edges := [][2]string{
		{compose.START, nodes.NodeClassifier},
		{nodes.NodeDecline, compose.END},
		{nodes.NodeMemberLoader, nodes.NodeToolSelector},
		{nodes.NodeToolSelector, nodes.NodeToolInvoker},
		{nodes.NodeToolInvoker, nodes.NodeSynthesisAssembler},
		{nodes.NodeSynthesisAssembler, nodes.NodeSynthesisChatModel},
		{nodes.NodeSynthesisChatModel, nodes.NodeValidator},
		{nodes.NodeRetry, nodes.NodeSynthesisAssembler},
		{nodes.NodeFinalizer, compose.END},
	}

	for _, edge := range edges {
		if err := b.graph.AddEdge(edge[0], edge[1]); err != nil {
			logx.Error().Err(err).Str("from", edge[0]).Str("to", edge[1]).Msg("Error adding edge")
			return fmt.Errorf("error adding edge %s -> %s: %w", edge[0], edge[1], err)
		}
	}
	return nil
}

// addBranches creates conditional routing branches
func (b *GraphBuilder) addBranches() error {
	topicBranch := compose.NewGraphBranch(
		nodes.NewTopicCondition(),
		map[string]bool{
			nodes.NodeDecline:      true,
			nodes.NodeMemberLoader: true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeClassifier, topicBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding topic branch")
		return fmt.Errorf("error adding topic branch: %w", err)
	}

	loopBranch := compose.NewGraphBranch(
		nodes.NewValidationCondition(),
		map[string]bool{
			nodes.NodeRetry:     true,
			nodes.NodeFinalizer: true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeValidator, loopBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding validation branch")
		return fmt.Errorf("error adding validation branch: %w", err)
	}

	return nil
}

// compile finalizes and compiles the graph
func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[model.QueryInput, *model.QueryResult], error) {
	// Four nodes per loop iteration plus the linear prefix; the retry loop is
	// bounded by MaxAttempts, this is only a safety net.
	maxSteps := 10 + nodes.NormalizeMaxAttempts(b.config.MaxAttempts)*4
	if maxSteps < 20 {
		maxSteps = 20
	}

	runnable, err := b.graph.Compile(ctx, compose.WithMaxRunSteps(maxSteps))
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Int("max_steps", maxSteps).Msg("Graph compiled successfully")
	return runnable, nil
}

// StatsProvider exposes classifier counters and cache control.
type StatsProvider interface {
	Snapshot() classifier.Snapshot
	ClearCache(ctx context.Context) (int, error)
}

// RunnerOptions are the optional collaborators of a Runner.
type RunnerOptions struct {
	Countries  *country.Resolver
	Audit      model.AuditSink
	Stats      StatsProvider
	Registerer prometheus.Registerer
}

// Runner executes the compiled graph for one member query at a time and is
// safe for concurrent use.
type Runner struct {
	runnable  compose.Runnable[model.QueryInput, *model.QueryResult]
	countries *country.Resolver
	audit     model.AuditSink
	stats     StatsProvider
	metrics   *runMetrics
}

func NewRunner(runnable compose.Runnable[model.QueryInput, *model.QueryResult], opts RunnerOptions) *Runner {
	return &Runner{
		runnable:  runnable,
		countries: opts.Countries,
		audit:     opts.Audit,
		stats:     opts.Stats,
		metrics:   newRunMetrics(opts.Registerer),
	}
}

// Invoke validates the query, runs the graph and writes the audit row.
func (r *Runner) Invoke(ctx context.Context, in model.QueryInput) (*model.QueryResult, error) {
	in.Query = strings.TrimSpace(in.Query)
	in.Country = strings.ToUpper(strings.TrimSpace(in.Country))
	in.MemberID = strings.TrimSpace(in.MemberID)
	if in.Query == "" {
		return nil, errx.InvalidInput("query must not be empty")
	}
	if in.MemberID == "" {
		return nil, errx.InvalidInput("member_id must not be empty")
	}
	if r.countries != nil {
		if _, ok := r.countries.Resolve(in.Country); !ok {
			return nil, errx.InvalidInput(fmt.Sprintf("unsupported country %q", in.Country))
		}
	}
	if in.RequestID == "" {
		in.RequestID = uuid.NewString()
	}

	out, err := r.runnable.Invoke(ctx, in, compose.WithCallbacks(observers.NewAllCallbacks()))
	if err != nil {
		logx.Error().Err(err).Str("request_id", in.RequestID).Msg("Graph invocation failed")
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("graph returned no result")
	}

	r.metrics.observe(out)
	logx.Info().
		Str("request_id", out.RequestID).
		Str("country", in.Country).
		Str("final_state", string(out.FinalState)).
		Int("attempts", out.Attempts).
		Bool("validated", out.Validated).
		Float64("total_cost_usd", out.TotalCostUSD).
		Float64("duration_s", out.DurationS).
		Msg("Query answered")

	if r.audit != nil {
		if err := r.audit.Record(ctx, model.NewAuditRecord(in, out, time.Now())); err != nil {
			logx.Warn().Err(err).Str("request_id", out.RequestID).Msg("Audit record failed")
		}
	}
	return out, nil
}

// ClassifierStats returns the classifier counters, if available.
func (r *Runner) ClassifierStats() (classifier.Snapshot, bool) {
	if r.stats == nil {
		return classifier.Snapshot{}, false
	}
	return r.stats.Snapshot(), true
}

// ClearClassifierCache drops cached classifications. ok is false when no
// classifier is attached.
func (r *Runner) ClearClassifierCache(ctx context.Context) (removed int, ok bool, err error) {
	if r.stats == nil {
		return 0, false, nil
	}
	removed, err = r.stats.ClearCache(ctx)
	return removed, true, err
}
