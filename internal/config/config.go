package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TokenEnv names the environment variable holding the bot token.
const TokenEnv = "TELEGRAM_BOT_TOKEN"

// Config holds the bot configuration.
type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	RAG      RAGConfig      `yaml:"rag"`
	Bot      BotConfig      `yaml:"bot"`
	Ops      OpsConfig      `yaml:"ops"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// TelegramConfig holds Telegram transport settings.
type TelegramConfig struct {
	Token          string `yaml:"token"`
	PollTimeoutSec int    `yaml:"poll_timeout_sec"`
	Debug          bool   `yaml:"debug"`
}

// OpenAIConfig holds per-session model client settings. The API key itself
// is never configured here: every user brings their own.
type OpenAIConfig struct {
	BaseURL           string  `yaml:"base_url"`
	TextModel         string  `yaml:"text_model"`
	TranscribeModel   string  `yaml:"transcribe_model"`
	ImageModel        string  `yaml:"image_model"`
	EmbeddingModel    string  `yaml:"embedding_model"`
	ImageSize         string  `yaml:"image_size"`
	Temperature       float32 `yaml:"temperature"` // 0 = provider default
	MaxTokens         int     `yaml:"max_tokens"`  // 0 = provider default
	RequestTimeoutSec int     `yaml:"request_timeout_sec"`
}

// RAGConfig holds document question answering settings.
type RAGConfig struct {
	TopK int `yaml:"top_k"`
}

// BotConfig holds conversation settings.
type BotConfig struct {
	OnboardingPauseMS int `yaml:"onboarding_pause_ms"`
}

// OpsConfig holds the health/metrics listener. Empty Addr disables it.
type OpsConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Env   string `yaml:"env"`   // local, dev, prod
	Level string `yaml:"level"` // debug, info, warn, error
}

// RequestTimeout returns the model request timeout.
func (c OpenAIConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// OnboardingPause returns the delay between onboarding messages.
func (c BotConfig) OnboardingPause() time.Duration {
	return time.Duration(c.OnboardingPauseMS) * time.Millisecond
}

// Load reads configuration from path. A missing file yields defaults.
// The token from TELEGRAM_BOT_TOKEN overrides the file value.
func Load(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(filepath.Clean(path))
	switch {
	case err == nil:
		data = expandEnvVars(data)
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if tok := os.Getenv(TokenEnv); tok != "" {
		cfg.Telegram.Token = tok
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Path returns the config path from CONFIG_PATH, defaulting to config.yaml.
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config.yaml"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Telegram.PollTimeoutSec <= 0 {
		c.Telegram.PollTimeoutSec = 60
	}
	if c.OpenAI.TextModel == "" {
		c.OpenAI.TextModel = "gpt-3.5-turbo-0125"
	}
	if c.OpenAI.TranscribeModel == "" {
		c.OpenAI.TranscribeModel = "whisper-1"
	}
	if c.OpenAI.ImageModel == "" {
		c.OpenAI.ImageModel = "dall-e-3"
	}
	if c.OpenAI.EmbeddingModel == "" {
		c.OpenAI.EmbeddingModel = "text-embedding-ada-002"
	}
	if c.OpenAI.ImageSize == "" {
		c.OpenAI.ImageSize = "1024x1024"
	}
	if c.OpenAI.RequestTimeoutSec <= 0 {
		c.OpenAI.RequestTimeoutSec = 120
	}
	if c.RAG.TopK <= 0 {
		c.RAG.TopK = 4
	}
	if c.Bot.OnboardingPauseMS < 0 {
		c.Bot.OnboardingPauseMS = 0
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "prod"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("%s not set", TokenEnv)
	}
	if c.OpenAI.Temperature < 0 || c.OpenAI.Temperature > 2 {
		return fmt.Errorf("openai.temperature must be between 0 and 2, got %v", c.OpenAI.Temperature)
	}
	if c.OpenAI.MaxTokens < 0 {
		return fmt.Errorf("openai.max_tokens must not be negative, got %d", c.OpenAI.MaxTokens)
	}
	switch c.Logging.Env {
	case "local", "dev", "prod":
	default:
		return fmt.Errorf("logging.env must be local, dev or prod, got %q", c.Logging.Env)
	}
	return nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
