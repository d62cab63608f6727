package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/cloudwego/eino/components/embedding"

	"github.com/retirement-advisor-poc/server/internal/agent/model"
)

// Archetype is a canonical example query for the embedding stage.
type Archetype struct {
	Text  string
	Label string
}

var DefaultOnTopicArchetypes = []Archetype{
	{"How much tax do I pay when I withdraw from my retirement account?", model.LabelRetirementTax},
	{"When can I access my superannuation?", model.LabelWithdrawal},
	{"How much state pension will I receive?", model.LabelPensionBenefit},
	{"Will my savings last through retirement?", model.LabelProjection},
	{"How much should I contribute to my 401k each year?", model.LabelContribution},
	{"What is my pension balance likely to be at 65?", model.LabelProjection},
	{"Am I eligible for social security benefits?", model.LabelPensionBenefit},
	{"What happens to my provident fund when I change jobs?", model.LabelGeneralRetirement},
}

var DefaultOffTopicArchetypes = []Archetype{
	{"What's the weather forecast for tomorrow?", model.LabelWeather},
	{"Give me a recipe for chocolate cake", model.LabelFood},
	{"Recommend a good movie to watch tonight", model.LabelEntertainment},
	{"Who won the football match last night?", model.LabelSports},
	{"Write a poem about the ocean", model.LabelOffTopic},
	{"How do I fix my car's flat tyre?", model.LabelOffTopic},
}

var errNoArchetypes = errors.New("archetype set is empty")

// embeddingVerdict is the outcome of the similarity stage. Definitive is false
// for borderline queries which fall through to the LLM stage.
type embeddingVerdict struct {
	Definitive bool
	OnTopic    bool
	Label      string
	Confidence float64
	BestOn     float64
	BestOff    float64
}

// archetypeIndex holds the archetype vectors. They are embedded lazily on the
// first call and kept for the process lifetime; a failed warm-up leaves the
// index cold so the next call retries.
type archetypeIndex struct {
	embedder embedding.Embedder
	on, off  []Archetype

	mu        sync.RWMutex
	warmed    bool
	onVecs    [][]float64
	offVecs   [][]float64
	warmCalls int
}

func newArchetypeIndex(e embedding.Embedder, on, off []Archetype) *archetypeIndex {
	return &archetypeIndex{embedder: e, on: on, off: off}
}

// ensure warms the index when cold. It returns the estimated input tokens of
// the warm-up call, zero when the index was already warm.
func (a *archetypeIndex) ensure(ctx context.Context) (int, error) {
	a.mu.RLock()
	ok := a.warmed
	a.mu.RUnlock()
	if ok {
		return 0, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.warmed {
		return 0, nil
	}
	if len(a.on) == 0 || len(a.off) == 0 {
		return 0, errNoArchetypes
	}
	a.warmCalls++

	texts := make([]string, 0, len(a.on)+len(a.off))
	tokens := 0
	for _, x := range a.on {
		texts = append(texts, x.Text)
		tokens += model.EstimateTokens(x.Text)
	}
	for _, x := range a.off {
		texts = append(texts, x.Text)
		tokens += model.EstimateTokens(x.Text)
	}
	vecs, err := a.embedder.EmbedStrings(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed archetypes: %w", err)
	}
	if len(vecs) != len(texts) {
		return tokens, fmt.Errorf("embed archetypes: got %d vectors for %d texts", len(vecs), len(texts))
	}
	a.onVecs = vecs[:len(a.on)]
	a.offVecs = vecs[len(a.on):]
	a.warmed = true
	return tokens, nil
}

// judge compares a query vector against both archetype sets.
func (a *archetypeIndex) judge(vec []float64, high, low float64) embeddingVerdict {
	a.mu.RLock()
	defer a.mu.RUnlock()

	bestOn, onIdx := best(vec, a.onVecs)
	bestOff, offIdx := best(vec, a.offVecs)
	v := embeddingVerdict{BestOn: bestOn, BestOff: bestOff}

	switch {
	case bestOn > high:
		v.Definitive, v.OnTopic, v.Confidence = true, true, bestOn
		v.Label = a.on[onIdx].Label
	case bestOff > bestOn && bestOn < low:
		v.Definitive, v.OnTopic, v.Confidence = true, false, bestOff
		v.Label = a.off[offIdx].Label
	}
	return v
}

func best(vec []float64, set [][]float64) (float64, int) {
	top, idx := -1.0, -1
	for i, s := range set {
		if sim := cosine(vec, s); sim > top {
			top, idx = sim, i
		}
	}
	return top, idx
}

// cosine returns 0 for mismatched or zero-length vectors.
func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
