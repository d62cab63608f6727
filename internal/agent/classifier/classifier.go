package classifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/retirement-advisor-poc/server/internal/agent/model"
	logx "github.com/retirement-advisor-poc/server/pkg/logger"
)

// Deps are the external collaborators of the cascade. Any of them may be nil:
// a missing embedder skips the embedding stage, a missing chat model makes
// the LLM stage fail open.
type Deps struct {
	Embedder    embedding.Embedder
	ChatModel   einomodel.BaseChatModel
	SharedCache model.ClassificationCacheStore
	Registerer  prometheus.Registerer

	Rules              []Rule
	OnTopicArchetypes  []Archetype
	OffTopicArchetypes []Archetype
}

// Classifier decides whether a query is in the retirement domain using three
// ordered stages of increasing cost: regex, embedding similarity and an LLM.
// It is safe for concurrent use.
type Classifier struct {
	cfg        model.ClassifierConfig
	regex      *RegexStage
	embedder   embedding.Embedder
	archetypes *archetypeIndex
	llm        *llmStage
	cache      *resultCache
	metrics    *metrics
}

func New(cfg model.ClassifierConfig, deps Deps) *Classifier {
	rules := deps.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	on, off := deps.OnTopicArchetypes, deps.OffTopicArchetypes
	if on == nil {
		on = DefaultOnTopicArchetypes
	}
	if off == nil {
		off = DefaultOffTopicArchetypes
	}

	c := &Classifier{
		cfg:      cfg,
		regex:    NewRegexStage(rules),
		embedder: deps.Embedder,
		cache:    newResultCache(cfg.CacheSize, cfg.CacheTTL, deps.SharedCache),
		metrics:  newMetrics(deps.Registerer),
	}
	if deps.Embedder != nil {
		c.archetypes = newArchetypeIndex(deps.Embedder, on, off)
	}
	if deps.ChatModel != nil {
		c.llm = &llmStage{chat: deps.ChatModel, modelName: cfg.Model}
	}
	return c
}

// Classify never returns an error: every failure maps to the fail-open
// policy in model.UnclassifiableDefault.
func (c *Classifier) Classify(ctx context.Context, query string) (res model.ClassificationResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "classifier").Msgf("panic recovered: %v", r)
			res = fallback(model.MethodErrorFallback, fmt.Sprintf("classifier panic: %v", r))
			res.LatencyMs = sinceMs(start)
			c.metrics.observe(res)
		}
	}()

	if cached, ok := c.cache.get(ctx, query); ok {
		cached.Cached = true
		c.metrics.observeHit()
		logx.Debug().Str("component", "classifier").Str("method", string(cached.Method)).Msg("classification cache hit")
		return cached
	}

	res = c.cascade(ctx, query, start)
	c.metrics.observe(res)
	c.cache.put(ctx, query, res)

	logx.Debug().
		Str("component", "classifier").
		Str("method", string(res.Method)).
		Str("label", res.Label).
		Bool("on_topic", res.IsOnTopic).
		Float64("confidence", res.Confidence).
		Float64("latency_ms", res.LatencyMs).
		Float64("cost_usd", res.CostUSD).
		Msg("query classified")
	return res
}

func (c *Classifier) cascade(ctx context.Context, query string, start time.Time) model.ClassificationResult {
	if strings.TrimSpace(query) == "" {
		res := fallback(model.MethodErrorFallback, "empty query")
		res.LatencyMs = sinceMs(start)
		return res
	}

	if rule, ok := c.regex.Match(query); ok {
		return model.ClassificationResult{
			IsOnTopic:  rule.OnTopic,
			Label:      rule.Label,
			Confidence: model.RegexConfidence,
			Method:     model.MethodRegex,
			Reasoning:  "matched pattern " + rule.Pattern.String(),
		}
	}

	var cost float64
	if c.archetypes != nil {
		v, embedCost, err := c.classifyEmbedding(ctx, query)
		cost += embedCost
		switch {
		case err != nil:
			logx.Warn().Err(err).Str("component", "classifier").Msg("embedding stage failed, falling through to LLM")
		case v.Definitive:
			return model.ClassificationResult{
				IsOnTopic:  v.OnTopic,
				Label:      v.Label,
				Confidence: clampUnit(v.Confidence),
				Method:     model.MethodEmbedding,
				Reasoning:  fmt.Sprintf("best on-topic similarity %.3f, best off-topic similarity %.3f", v.BestOn, v.BestOff),
				LatencyMs:  sinceMs(start),
				CostUSD:    cost,
			}
		default:
			logx.Debug().Str("component", "classifier").
				Float64("best_on", v.BestOn).Float64("best_off", v.BestOff).
				Msg("borderline embedding similarity")
		}
	}

	res := c.classifyLLM(ctx, query)
	res.CostUSD += cost
	res.LatencyMs = sinceMs(start)
	return res
}

func (c *Classifier) classifyEmbedding(ctx context.Context, query string) (embeddingVerdict, float64, error) {
	pricing := model.ResolvePricing(c.cfg.EmbeddingModel)
	// the warm-up is charged to the query that triggered it
	warmTokens, err := c.archetypes.ensure(ctx)
	_, _, warmCost := model.ComputeTokenCost(warmTokens, 0, pricing)
	if err != nil {
		return embeddingVerdict{}, warmCost, err
	}
	vecs, err := c.embedder.EmbedStrings(ctx, []string{query})
	if err != nil {
		return embeddingVerdict{}, warmCost, fmt.Errorf("embed query: %w", err)
	}
	_, _, cost := model.ComputeTokenCost(model.EstimateTokens(query), 0, pricing)
	cost += warmCost
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return embeddingVerdict{}, cost, fmt.Errorf("embed query: empty vector")
	}
	return c.archetypes.judge(vecs[0], c.cfg.HighThreshold, c.cfg.LowThreshold), cost, nil
}

func (c *Classifier) classifyLLM(ctx context.Context, query string) model.ClassificationResult {
	if c.llm == nil {
		return fallback(model.MethodLLMFallbackError, "no classifier model configured")
	}
	return c.llm.classify(ctx, query)
}

// Snapshot returns the accumulated per-stage counters.
func (c *Classifier) Snapshot() Snapshot {
	s := c.metrics.snapshot()
	s.CacheEntries = c.cache.len()
	return s
}

// ClearCache drops every cached classification, local and shared. Counters
// are left untouched.
func (c *Classifier) ClearCache(ctx context.Context) (int, error) {
	n, err := c.cache.purge(ctx)
	if err != nil {
		return n, fmt.Errorf("clear classification cache: %w", err)
	}
	logx.Info().Str("component", "classifier").Int("removed", n).Msg("classification cache cleared")
	return n, nil
}

func fallback(method model.ClassificationMethod, reason string) model.ClassificationResult {
	return model.ClassificationResult{
		IsOnTopic:  bool(model.UnclassifiableDefault),
		Label:      model.LabelGeneralRetirement,
		Confidence: model.UnclassifiableConfidence,
		Method:     method,
		Reasoning:  reason,
	}
}

func sinceMs(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
