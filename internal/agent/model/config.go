package model

import "time"

// ================ Config ================
type ClassifierConfig struct {
	Model          string        `envconfig:"CLASSIFIER_MODEL" default:"gemini-2.5-flash-lite"`
	MaxTokens      int           `envconfig:"CLASSIFIER_MAX_TOKENS" default:"300"`
	Temperature    float32       `envconfig:"CLASSIFIER_TEMPERATURE" default:"0"`
	EmbeddingModel string        `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`
	HighThreshold  float64       `envconfig:"CLASSIFIER_HIGH_THRESHOLD" default:"0.75"`
	LowThreshold   float64       `envconfig:"CLASSIFIER_LOW_THRESHOLD" default:"0.40"`
	CacheSize      int           `envconfig:"CLASSIFIER_CACHE_SIZE" default:"1000"`
	CacheTTL       time.Duration `envconfig:"CLASSIFIER_CACHE_TTL" default:"1h"`
}

type SynthesisModelConfig struct {
	Model       string  `envconfig:"SYNTHESIS_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"SYNTHESIS_MAX_TOKENS" default:"1500"`
	Temperature float32 `envconfig:"SYNTHESIS_TEMPERATURE" default:"0.3"`
}

type JudgeModelConfig struct {
	Model       string  `envconfig:"JUDGE_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"JUDGE_MAX_TOKENS" default:"800"`
	Temperature float32 `envconfig:"JUDGE_TEMPERATURE" default:"0"`
}

type RetryConfig struct {
	MaxAttempts int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
}

type AdvisorPromptConfig struct {
	AdvisorName  string `envconfig:"PROMPT_ADVISOR_NAME" default:"SuperAdvisor"`
	Organisation string `envconfig:"PROMPT_ORGANISATION" default:"Retirement Member Services"`
}
