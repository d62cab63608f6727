package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/retirement-advisor-poc/server/internal/agent/model"
	logx "github.com/retirement-advisor-poc/server/pkg/logger"
)

// ChatModelConfig holds the configuration for chat model creation
type ChatModelConfig struct {
	APIKey          string
	BaseURL         string
	ClassifierCfg   *model.ClassifierConfig
	SynthesisCfg    *model.SynthesisModelConfig
	JudgeCfg        *model.JudgeModelConfig
	ThinkingBudget  int32
	IncludeThoughts bool
}

// ChatModels holds the classifier, synthesis and judge models plus the
// embedder, all sharing one Gemini client.
type ChatModels struct {
	Classifier *gemini.ChatModel
	Synthesis  *gemini.ChatModel
	Judge      *gemini.ChatModel
	Embedder   *GeminiEmbedder

	ClassifierModelName string
	SynthesisModelName  string
	JudgeModelName      string
}

// NewChatModels creates every Gemini-backed model with the given configuration
func NewChatModels(ctx context.Context, config ChatModelConfig) (*ChatModels, error) {
	if config.ClassifierCfg == nil || config.SynthesisCfg == nil || config.JudgeCfg == nil {
		return nil, fmt.Errorf("chat model configs are required")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = config.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	var thinking *genai.ThinkingConfig
	if config.ThinkingBudget > 0 {
		thinking = &genai.ThinkingConfig{
			IncludeThoughts: config.IncludeThoughts,
			ThinkingBudget:  genai.Ptr(config.ThinkingBudget),
		}
	}

	newModel := func(name string, temperature float32, maxTokens int) (*gemini.ChatModel, error) {
		return gemini.NewChatModel(ctx, &gemini.Config{
			Client:         client,
			Model:          name,
			Temperature:    &temperature,
			MaxTokens:      &maxTokens,
			ThinkingConfig: thinking,
		})
	}

	classifierModel, err := newModel(config.ClassifierCfg.Model, config.ClassifierCfg.Temperature, config.ClassifierCfg.MaxTokens)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating classifier model")
		return nil, fmt.Errorf("error creating classifier model: %w", err)
	}

	synthesisModel, err := newModel(config.SynthesisCfg.Model, config.SynthesisCfg.Temperature, config.SynthesisCfg.MaxTokens)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating synthesis model")
		return nil, fmt.Errorf("error creating synthesis model: %w", err)
	}

	judgeModel, err := newModel(config.JudgeCfg.Model, config.JudgeCfg.Temperature, config.JudgeCfg.MaxTokens)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating judge model")
		return nil, fmt.Errorf("error creating judge model: %w", err)
	}

	return &ChatModels{
		Classifier:          classifierModel,
		Synthesis:           synthesisModel,
		Judge:               judgeModel,
		Embedder:            NewGeminiEmbedder(client, config.ClassifierCfg.EmbeddingModel),
		ClassifierModelName: config.ClassifierCfg.Model,
		SynthesisModelName:  config.SynthesisCfg.Model,
		JudgeModelName:      config.JudgeCfg.Model,
	}, nil
}

// NewSynthesisChatModelNode wraps the synthesis model so that a failed call
// yields an empty draft instead of aborting the graph; the validator then
// rejects the empty draft and the retry loop continues.
func NewSynthesisChatModelNode(chatModel einomodel.BaseChatModel) einomodel.BaseChatModel {
	return &resilientChatModel{inner: chatModel}
}

type resilientChatModel struct {
	inner einomodel.BaseChatModel
}

const extraSynthesisError = "synthesis_error"

func (m *resilientChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	out, err := m.inner.Generate(ctx, input, opts...)
	if err != nil {
		logx.Warn().Err(err).Str("node", NodeSynthesisChatModel).Msg("synthesis call failed, continuing with empty draft")
		msg := schema.AssistantMessage("", nil)
		msg.Extra = map[string]any{extraSynthesisError: err.Error()}
		return msg, nil
	}
	if out == nil {
		return schema.AssistantMessage("", nil), nil
	}
	return out, nil
}

func (m *resilientChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return m.inner.Stream(ctx, input, opts...)
}
