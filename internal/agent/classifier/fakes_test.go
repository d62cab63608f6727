package classifier

import (
	"context"
	"errors"
	"sync"

	"github.com/cloudwego/eino/components/embedding"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/retirement-advisor-poc/server/internal/agent/model"
)

type fakeEmbedder struct {
	mu      sync.Mutex
	vecs    map[string][]float64
	failFor int // fail the first n calls
	panics  bool
	calls   int
}

func (f *fakeEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panics {
		panic("embedder exploded")
	}
	if f.calls <= f.failFor {
		return nil, errors.New("embedding endpoint unavailable")
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v, ok := f.vecs[t]
		if !ok {
			v = []float64{0.5, 0.5}
		}
		out[i] = v
	}
	return out, nil
}

type fakeChat struct {
	mu      sync.Mutex
	content string
	err     error
	usage   *schema.TokenUsage
	calls   int
}

func (f *fakeChat) Generate(_ context.Context, _ []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	msg := schema.AssistantMessage(f.content, nil)
	if f.usage != nil {
		msg.ResponseMeta = &schema.ResponseMeta{Usage: f.usage}
	}
	return msg, nil
}

func (f *fakeChat) Stream(ctx context.Context, in []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, in, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (f *fakeChat) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type mapStore struct {
	mu   sync.Mutex
	data map[string]model.ClassificationResult
	sets int
}

func (s *mapStore) Get(_ context.Context, q string) (*model.ClassificationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data[q]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *mapStore) Set(_ context.Context, q string, r model.ClassificationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = map[string]model.ClassificationResult{}
	}
	s.data[q] = r
	s.sets++
	return nil
}

func (s *mapStore) Clear(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.data)
	s.data = nil
	return n, nil
}
