// Package config loads and validates runtime settings from a YAML file, a
// .env file and the process environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Helper providers that can back planning and research decisions.
const (
	HelperGemini     = "gemini"
	HelperOpenRouter = "openrouter"
	HelperAnthropic  = "anthropic"
)

// Research deciders.
const (
	DeciderLLM       = "llm"
	DeciderHeuristic = "heuristic"
)

// History backends.
const (
	HistoryMemory = "memory"
	HistoryRedis  = "redis"
)

// Config is the complete runtime configuration.
type Config struct {
	Model     ModelConfig     `yaml:"model"`
	Keys      KeysConfig      `yaml:"keys"`
	Helper    HelperConfig    `yaml:"helper"`
	Lookup    LookupConfig    `yaml:"lookup"`
	Research  ResearchConfig  `yaml:"research"`
	History   HistoryConfig   `yaml:"history"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
	// Prompts replaces built-in prompt templates by name.
	Prompts map[string]string `yaml:"prompts"`
}

type ModelConfig struct {
	Default       string `yaml:"default"`
	WebSearch     bool   `yaml:"web_search"`
	GeminiURL     string `yaml:"gemini_url"`
	OpenRouterURL string `yaml:"openrouter_url"`
}

// KeysConfig holds credentials. They are normally supplied by environment.
type KeysConfig struct {
	OpenRouter string `yaml:"openrouter"`
	Gemini     string `yaml:"gemini"`
	Anthropic  string `yaml:"anthropic"`
}

type HelperConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	Decider  string `yaml:"decider"`
}

type LookupConfig struct {
	CacheSize       int           `yaml:"cache_size"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	ArxivMaxResults int           `yaml:"arxiv_max_results"`
}

type ResearchConfig struct {
	MaxIterations int `yaml:"max_iterations"`
	TokenBudget   int `yaml:"token_budget"`
	// Encoding names a tiktoken encoding; empty approximates by rune count.
	Encoding string `yaml:"encoding"`
}

type HistoryConfig struct {
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Environment string `yaml:"environment"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Default:   "gemini-2.5-flash-preview-05-20#thinking-enabled",
			WebSearch: true,
		},
		Helper: HelperConfig{
			Provider: HelperGemini,
			Model:    "gemini-2.0-flash",
			Decider:  DeciderLLM,
		},
		Lookup: LookupConfig{
			CacheSize:       256,
			CacheTTL:        10 * time.Minute,
			ArxivMaxResults: 2,
		},
		Research: ResearchConfig{
			MaxIterations: 4,
			TokenBudget:   6000,
			Encoding:      "cl100k_base",
		},
		History: HistoryConfig{
			Backend: HistoryMemory,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "shard:generation:",
				TTL:    24 * time.Hour,
			},
		},
		Server: ServerConfig{Addr: ":8787"},
		Telemetry: TelemetryConfig{
			Environment: "local",
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load builds a configuration from defaults, the optional YAML file at path,
// the given .env files (".env" when none) and the environment.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("OPENROUTER_API_KEY", &c.Keys.OpenRouter)
	str("GEMINI_API_KEY", &c.Keys.Gemini)
	str("ANTHROPIC_API_KEY", &c.Keys.Anthropic)
	str("SHARD_MODEL", &c.Model.Default)
	str("SHARD_HELPER_PROVIDER", &c.Helper.Provider)
	str("SHARD_HELPER_MODEL", &c.Helper.Model)
	str("SHARD_SERVER_ADDR", &c.Server.Addr)
	str("SHARD_LOG_LEVEL", &c.Log.Level)
	str("SHARD_LOG_FORMAT", &c.Log.Format)
	if v, ok := lookup("SHARD_REDIS_ADDR"); ok && strings.TrimSpace(v) != "" {
		c.History.Backend = HistoryRedis
		c.History.Redis.Addr = strings.TrimSpace(v)
	}
	if v, ok := lookup("SHARD_WEB_SEARCH"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SHARD_WEB_SEARCH: %w", err)
		}
		c.Model.WebSearch = b
	}
	return nil
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	v := NewValidator()
	v.RequireNonEmpty("model.default", c.Model.Default)
	v.ValidateOneOf("helper.provider", c.Helper.Provider, HelperGemini, HelperOpenRouter, HelperAnthropic)
	v.RequireNonEmpty("helper.model", c.Helper.Model)
	v.ValidateOneOf("helper.decider", c.Helper.Decider, DeciderLLM, DeciderHeuristic)
	v.RequireNonEmptyIf(c.Helper.Provider == HelperAnthropic, "keys.anthropic", c.Keys.Anthropic, "when the anthropic helper is selected")
	v.RequirePositive("lookup.cache_size", c.Lookup.CacheSize)
	v.RequirePositiveDuration("lookup.cache_ttl", c.Lookup.CacheTTL)
	v.ValidateRange("lookup.arxiv_max_results", c.Lookup.ArxivMaxResults, 1, 5)
	v.ValidateRange("research.max_iterations", c.Research.MaxIterations, 1, 4)
	v.RequirePositive("research.token_budget", c.Research.TokenBudget)
	v.ValidateOneOf("history.backend", c.History.Backend, HistoryMemory, HistoryRedis)
	if c.History.Backend == HistoryRedis {
		if err := ValidateRedisConfig(c.History.Redis.Addr, c.History.Redis.DB, c.History.Redis.Prefix); err != nil {
			v.errors = append(v.errors, ValidationError{Field: "history.redis", Message: err.Error()})
		}
	}
	v.ValidateAddr("server.addr", c.Server.Addr)
	v.ValidateOneOf("log.level", strings.ToLower(c.Log.Level), "debug", "info", "warn", "warning", "error")
	v.ValidateOneOf("log.format", strings.ToLower(c.Log.Format), "json", "text")
	return v.Error()
}

// ValidateRedisConfig validates Redis configuration
func ValidateRedisConfig(addr string, db int, prefix string) error {
	v := NewValidator()

	v.RequireNonEmpty("addr", addr)
	v.ValidateDBNumber("db", db)
	v.RequireNonEmpty("prefix", prefix)

	return v.Error()
}
