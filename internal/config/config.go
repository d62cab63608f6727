package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/retirement-advisor-poc/server/internal/agent/model"
	"github.com/retirement-advisor-poc/server/internal/core"
	"github.com/retirement-advisor-poc/server/internal/server"
	pkgpostgres "github.com/retirement-advisor-poc/server/pkg/postgres"
	pkgredis "github.com/retirement-advisor-poc/server/pkg/redis"
)

const (
	ModeServer = "server"
	ModeDemo   = "demo"
)

// AppConfig defines all configurable parameters of the advisor, sourced
// from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	Mode        string `envconfig:"APP_MODE" default:"server"`

	// Infrastructure
	Redis    pkgredis.Config `envconfig:"REDIS"`
	Postgres pkgpostgres.Config
	Server   server.Config

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Agent configs
	Classifier  model.ClassifierConfig
	Synthesis   model.SynthesisModelConfig
	Judge       model.JudgeModelConfig
	Retry       model.RetryConfig
	Prompt      model.AdvisorPromptConfig
	ToolTimeout time.Duration `envconfig:"TOOL_TIMEOUT" default:"10s"`
}

// Load reads envFile when it exists, then processes the environment.
func Load(envFile string) (*AppConfig, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("load %s: %w", envFile, err)
			}
		}
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process environment config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) Validate() error {
	if c.Mode != ModeServer && c.Mode != ModeDemo {
		return fmt.Errorf("APP_MODE must be %q or %q, got %q", ModeServer, ModeDemo, c.Mode)
	}
	if c.Classifier.LowThreshold < 0 || c.Classifier.HighThreshold > 1 || c.Classifier.LowThreshold >= c.Classifier.HighThreshold {
		return fmt.Errorf("classifier thresholds must satisfy 0 <= low < high <= 1, got low=%.2f high=%.2f",
			c.Classifier.LowThreshold, c.Classifier.HighThreshold)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	return nil
}

func (c *AppConfig) Env() core.Environment {
	return core.ParseEnvironment(c.Environment)
}
