// Package config loads process configuration from environment variables.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// DefaultSystemPrompt is used when no prompt file is configured. It instructs
// the model to emit the fixed handover confirmation format once a user agrees
// to be contacted by a coach.
const DefaultSystemPrompt = `You are the Strength Club assistant. You help visitors with questions
about coaching programs, pricing, and scheduling.

When a visitor agrees to be contacted by a coach, collect their details and
confirm them back in exactly this format, one field per line:

Name: <full name>
Mobile: <contact number>
Email: <email address>
Goal: <primary goal>
Plan: <coaching option of interest>

If you cannot help with a request, say so plainly so the conversation can be
handed to a human.`

// SMTP holds outbound mail settings. An empty Host disables delivery.
type SMTP struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

// Config is the configuration to start the server.
type Config struct {
	// Addr is the binding address, e.g. ":8100".
	Addr string
	// DataDir is the root of the durable document store.
	DataDir string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	Temperature   float64
	MaxTokens     int
	// MaxContextTokens bounds the transcript sent to the provider; oldest
	// non-system turns are dropped first.
	MaxContextTokens int
	// RequestTimeout bounds a single provider call.
	RequestTimeout time.Duration

	SystemPromptFile string
	SystemPrompt     string

	SessionTTL           time.Duration
	SessionSweepInterval time.Duration

	// ConversationRetention deletes conversations not updated within this
	// window. Zero keeps everything.
	ConversationRetention time.Duration

	MaxMessageLength int

	BrandName string
	Mail      SMTP
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// FromEnv loads configuration from environment variables, applying defaults
// for anything unset.
func FromEnv() *Config {
	c := &Config{
		Addr:    getEnv("CONCIERGE_ADDR", ":8100"),
		DataDir: getEnv("CONCIERGE_DATA_DIR", "data"),

		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:      getEnv("OPENAI_MODEL", "gpt-4o"),
		Temperature:      getEnvFloat("OPENAI_TEMPERATURE", 0.7),
		MaxTokens:        getEnvInt("OPENAI_MAX_TOKENS", 500),
		MaxContextTokens: getEnvInt("CONCIERGE_MAX_CONTEXT_TOKENS", 6000),
		RequestTimeout:   time.Duration(getEnvInt("CONCIERGE_REQUEST_TIMEOUT_SECONDS", 30)) * time.Second,

		SystemPromptFile: os.Getenv("CONCIERGE_SYSTEM_PROMPT_FILE"),

		SessionTTL:           time.Duration(getEnvInt("CONCIERGE_SESSION_LIFETIME_HOURS", 24)) * time.Hour,
		SessionSweepInterval: time.Duration(getEnvInt("CONCIERGE_SESSION_SWEEP_MINUTES", 60)) * time.Minute,

		ConversationRetention: time.Duration(getEnvInt("CONCIERGE_CONVERSATION_RETENTION_DAYS", 0)) * 24 * time.Hour,

		MaxMessageLength: getEnvInt("CONCIERGE_MAX_MESSAGE_LENGTH", 10000),

		BrandName: getEnv("CONCIERGE_BRAND_NAME", "Strength Club"),
		Mail: SMTP{
			Host:      os.Getenv("CONCIERGE_SMTP_HOST"),
			Port:      getEnvInt("CONCIERGE_SMTP_PORT", 587),
			Username:  os.Getenv("CONCIERGE_SMTP_USERNAME"),
			Password:  os.Getenv("CONCIERGE_SMTP_PASSWORD"),
			FromEmail: getEnv("CONCIERGE_MAIL_FROM_EMAIL", "hello@strengthclub.com.au"),
			FromName:  getEnv("CONCIERGE_MAIL_FROM_NAME", "Strength Club"),
		},
	}
	return c
}

// Validate resolves the data directory and the system prompt. A missing
// provider key is not fatal here; the server starts and reports degraded
// health instead.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data directory is required")
	}
	abs, err := filepath.Abs(c.DataDir)
	if err != nil {
		return errors.Wrapf(err, "unable to resolve data directory %s", c.DataDir)
	}
	c.DataDir = abs

	if c.SystemPrompt == "" {
		prompt, err := c.loadSystemPrompt()
		if err != nil {
			return err
		}
		c.SystemPrompt = prompt
	}

	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = 10000
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 24 * time.Hour
	}
	return nil
}

func (c *Config) loadSystemPrompt() (string, error) {
	if c.SystemPromptFile == "" {
		return DefaultSystemPrompt, nil
	}
	raw, err := os.ReadFile(c.SystemPromptFile)
	if err != nil {
		return "", errors.Wrapf(err, "unable to read system prompt file %s", c.SystemPromptFile)
	}
	return string(raw), nil
}
