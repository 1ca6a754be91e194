// Package config loads the drafter's JSON configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	DefaultProvider          = "gemini"
	DefaultGeminiModel       = "gemini-2.5-flash"
	DefaultServerAddr        = ":8080"
	DefaultMaxAttempts       = 3
	DefaultBaseDelayMS       = 1000
	DefaultMaxUploadBytes    = 20 << 20
	DefaultGenerationTimeout = 300
)

// Config 顶层配置。
type Config struct {
	LLM        *LLMConfig       `json:"llm,omitempty"`
	Retry      RetryConfig      `json:"retry"`
	Limits     LimitsConfig     `json:"limits"`
	Generation GenerationConfig `json:"generation"`
	ServerAddr string           `json:"server_addr,omitempty"`
}

// LLMConfig 生成模块的模型配置。api_key 为空时从 api_key_env 指定的环境变量读取。
type LLMConfig struct {
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
	APIKey    string `json:"api_key,omitempty"`
	APIKeyEnv string `json:"api_key_env,omitempty"`
	BaseURL   string `json:"base_url,omitempty"`
}

type RetryConfig struct {
	MaxAttempts int `json:"max_attempts,omitempty"`
	BaseDelayMS int `json:"base_delay_ms,omitempty"`
}

type LimitsConfig struct {
	MaxUploadBytes int64 `json:"max_upload_bytes,omitempty"`
}

type GenerationConfig struct {
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// BaseDelay returns the first backoff interval.
func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMS) * time.Millisecond
}

// Timeout bounds one generation or dialogue turn.
func (g GenerationConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}

// Load reads path and applies defaults. A missing file yields the defaults
// so the mock provider can run without any configuration.
func Load(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, err
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LLM == nil {
		c.LLM = &LLMConfig{}
	}
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		c.LLM.Provider = DefaultProvider
	}
	if c.LLM.Model == "" && c.LLM.Provider == "gemini" {
		c.LLM.Model = DefaultGeminiModel
	}
	if c.LLM.APIKey == "" && c.LLM.APIKeyEnv != "" {
		c.LLM.APIKey = os.Getenv(c.LLM.APIKeyEnv)
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if c.Retry.BaseDelayMS <= 0 {
		c.Retry.BaseDelayMS = DefaultBaseDelayMS
	}
	if c.Limits.MaxUploadBytes <= 0 {
		c.Limits.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.Generation.TimeoutSeconds <= 0 {
		c.Generation.TimeoutSeconds = DefaultGenerationTimeout
	}
	if c.ServerAddr == "" {
		c.ServerAddr = DefaultServerAddr
	}
}

// Validate checks the provider choice; credentials are checked when the
// client is built.
func (c Config) Validate() error {
	switch c.LLM.Provider {
	case "gemini", "openai", "deepseek", "mock":
	default:
		return fmt.Errorf("llm provider %s not supported", c.LLM.Provider)
	}
	if c.LLM.Provider == "deepseek" && c.LLM.BaseURL == "" {
		// DeepSeek 提供 OpenAI 兼容接口，需填写 base_url。
		return errors.New("llm provider deepseek requires base_url (OpenAI-compatible endpoint)")
	}
	return nil
}
