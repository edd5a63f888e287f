// Package config provides configuration management for capsule.
// It loads settings from environment variables with the CAPSULE_ prefix
// and provides sensible defaults for all configuration options.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration settings for the capsule application.
type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	LLM        LLMConfig
	Knowledge  KnowledgeConfig
	Onboarding OnboardingConfig
	Backup     BackupConfig
	Log        LogConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port           int      // Server port (default: 6464)
	Host           string   // Server host (default: 127.0.0.1)
	RateLimit      float64  // Requests per second per client (default: 10)
	RateBurst      int      // Burst size (default: 20)
	AllowedOrigins []string // Extra websocket origins besides same-host (default: none)
	APIToken       string   // Bearer token for /api; empty disables auth (local use)
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	Engine      string // Storage engine: sqlite or postgres (default: sqlite)
	DataPath    string // Directory holding the SQLite diary (default: ./data)
	PostgresDSN string // Connection string, required when Engine is postgres
}

// SQLitePath returns the path of the SQLite diary file.
func (s StorageConfig) SQLitePath() string {
	return filepath.Join(s.DataPath, "capsule.db")
}

// LLMConfig contains chat model provider configuration.
type LLMConfig struct {
	Provider        string        // gemini, openai, anthropic, ollama (default: gemini)
	GeminiAPIKey    string        // CAPSULE_GEMINI_API_KEY, falls back to GEMINI_API_KEY
	GeminiModel     string        // default: gemini-2.0-flash
	OpenAIAPIKey    string        // OpenAI API key
	OpenAIModel     string        // default: gpt-4o-mini
	OpenAIBaseURL   string        // optional OpenAI-compatible endpoint
	AnthropicAPIKey string        // Anthropic API key
	AnthropicModel  string        // default: claude-haiku-4-5-20251001
	OllamaURL       string        // default: http://localhost:11434
	OllamaModel     string        // default: qwen2.5:7b
	Timeout         time.Duration // Per-request timeout (default: 60s)
}

// KnowledgeConfig bounds the knowledge summary.
type KnowledgeConfig struct {
	MaxValuesPerType int // Values shown per tag type (default: 3)
	MaxPreviewChars  int // Characters per type preview (default: 50)
}

// OnboardingConfig locates the onboarding question set.
type OnboardingConfig struct {
	QuestionsPath string // YAML file; empty uses the built-in questions
}

// BackupConfig contains backup configuration.
type BackupConfig struct {
	BackupPath             string        // Path to backup directory (default: ./backups)
	BackupVerify           bool          // Verify backups after creation (default: true)
	BackupInterval         time.Duration // Snapshot interval while serving; 0 disables (default: 0)
	BackupRetentionHourly  int           // Number of hourly backups to keep (default: 24)
	BackupRetentionDaily   int           // Number of daily backups to keep (default: 7)
	BackupRetentionWeekly  int           // Number of weekly backups to keep (default: 4)
	BackupRetentionMonthly int           // Number of monthly backups to keep (default: 12)
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string // debug, info, warn, error (default: info)
	Development bool   // Console encoder instead of JSON (default: false)
}

// Supported storage engines and providers.
var (
	StorageEngines = []string{"sqlite", "postgres"}
	LLMProviders   = []string{"gemini", "openai", "anthropic", "ollama"}
)

// LoadConfig loads configuration from environment variables with sensible defaults.
// All environment variables use the CAPSULE_ prefix.
func LoadConfig() (*Config, error) {
	cfg := buildBaseConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown engines or providers and nonsensical limits.
// Provider credentials are checked separately by LLMConfig.Validate, since
// not every command talks to a model.
func (c *Config) Validate() error {
	var errs []error

	if !contains(StorageEngines, c.Storage.Engine) {
		errs = append(errs, fmt.Errorf("config: unknown storage engine %q (want one of %s)",
			c.Storage.Engine, strings.Join(StorageEngines, ", ")))
	}
	if c.Storage.Engine == "postgres" && c.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("config: CAPSULE_POSTGRES_DSN is required for the postgres engine"))
	}
	if !contains(LLMProviders, c.LLM.Provider) {
		errs = append(errs, fmt.Errorf("config: unknown LLM provider %q (want one of %s)",
			c.LLM.Provider, strings.Join(LLMProviders, ", ")))
	}
	if c.Knowledge.MaxValuesPerType < 1 {
		errs = append(errs, errors.New("config: CAPSULE_KNOWLEDGE_MAX_VALUES must be at least 1"))
	}
	if c.Knowledge.MaxPreviewChars < 1 {
		errs = append(errs, errors.New("config: CAPSULE_KNOWLEDGE_MAX_CHARS must be at least 1"))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: invalid port %d", c.Server.Port))
	}

	return errors.Join(errs...)
}

// Validate checks that the selected provider has the credentials it needs.
func (l LLMConfig) Validate() error {
	switch l.Provider {
	case "gemini":
		if l.GeminiAPIKey == "" {
			return errors.New("config: CAPSULE_GEMINI_API_KEY (or GEMINI_API_KEY) is required for the gemini provider")
		}
	case "openai":
		if l.OpenAIAPIKey == "" && l.OpenAIBaseURL == "" {
			return errors.New("config: CAPSULE_OPENAI_API_KEY is required for the openai provider")
		}
	case "anthropic":
		if l.AnthropicAPIKey == "" {
			return errors.New("config: CAPSULE_ANTHROPIC_API_KEY is required for the anthropic provider")
		}
	case "ollama":
		// Local server, no credentials.
	default:
		return fmt.Errorf("config: unknown LLM provider %q", l.Provider)
	}
	return nil
}

// buildBaseConfig constructs a Config with values from environment variables
// and defaults.
func buildBaseConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           getEnvInt("CAPSULE_PORT", 6464),
			Host:           getEnv("CAPSULE_HOST", "127.0.0.1"),
			RateLimit:      getEnvFloat("CAPSULE_RATE_LIMIT", 10),
			RateBurst:      getEnvInt("CAPSULE_RATE_BURST", 20),
			AllowedOrigins: getEnvList("CAPSULE_ALLOWED_ORIGINS"),
			APIToken:       getEnv("CAPSULE_API_TOKEN", ""),
		},
		Storage: StorageConfig{
			Engine:      getEnv("CAPSULE_STORAGE_ENGINE", "sqlite"),
			DataPath:    getEnv("CAPSULE_DATA_PATH", "./data"),
			PostgresDSN: getEnv("CAPSULE_POSTGRES_DSN", ""),
		},
		LLM: LLMConfig{
			Provider:        getEnv("CAPSULE_LLM_PROVIDER", "gemini"),
			GeminiAPIKey:    getEnv("CAPSULE_GEMINI_API_KEY", os.Getenv("GEMINI_API_KEY")),
			GeminiModel:     getEnv("CAPSULE_GEMINI_MODEL", "gemini-2.0-flash"),
			OpenAIAPIKey:    getEnv("CAPSULE_OPENAI_API_KEY", ""),
			OpenAIModel:     getEnv("CAPSULE_OPENAI_MODEL", "gpt-4o-mini"),
			OpenAIBaseURL:   getEnv("CAPSULE_OPENAI_BASE_URL", ""),
			AnthropicAPIKey: getEnv("CAPSULE_ANTHROPIC_API_KEY", ""),
			AnthropicModel:  getEnv("CAPSULE_ANTHROPIC_MODEL", "claude-haiku-4-5-20251001"),
			OllamaURL:       getEnv("CAPSULE_OLLAMA_URL", "http://localhost:11434"),
			OllamaModel:     getEnv("CAPSULE_OLLAMA_MODEL", "qwen2.5:7b"),
			Timeout:         getEnvDuration("CAPSULE_LLM_TIMEOUT", 60*time.Second),
		},
		Knowledge: KnowledgeConfig{
			MaxValuesPerType: getEnvInt("CAPSULE_KNOWLEDGE_MAX_VALUES", 3),
			MaxPreviewChars:  getEnvInt("CAPSULE_KNOWLEDGE_MAX_CHARS", 50),
		},
		Onboarding: OnboardingConfig{
			QuestionsPath: getEnv("CAPSULE_QUESTIONS_PATH", ""),
		},
		Backup: BackupConfig{
			BackupPath:             getEnv("CAPSULE_BACKUP_PATH", "./backups"),
			BackupVerify:           getEnvBool("CAPSULE_BACKUP_VERIFY", true),
			BackupInterval:         getEnvDurationOrZero("CAPSULE_BACKUP_INTERVAL"),
			BackupRetentionHourly:  getEnvInt("CAPSULE_BACKUP_RETENTION_HOURLY", 24),
			BackupRetentionDaily:   getEnvInt("CAPSULE_BACKUP_RETENTION_DAILY", 7),
			BackupRetentionWeekly:  getEnvInt("CAPSULE_BACKUP_RETENTION_WEEKLY", 4),
			BackupRetentionMonthly: getEnvInt("CAPSULE_BACKUP_RETENTION_MONTHLY", 12),
		},
		Log: LogConfig{
			Level:       getEnv("CAPSULE_LOG_LEVEL", "info"),
			Development: getEnvBool("CAPSULE_LOG_DEVELOPMENT", false),
		},
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration ("30s", "2m") or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

// getEnvDurationOrZero is getEnvDuration with a zero default, so "0"
// and unset both disable the feature.
func getEnvDurationOrZero(key string) time.Duration {
	return getEnvDuration(key, 0)
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
// If the environment variable exists but cannot be parsed as a boolean,
// it returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
