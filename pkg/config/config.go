// Package config loads upiledger settings from an optional JSON file, a .env
// file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/ArionMiles/upiledger/pkg/backoff"
)

// ClientSecretFile is the default path to the Google OAuth credentials JSON file.
const ClientSecretFile = "data/client_secret.json"

// Classifier providers.
const (
	ClassifierGemini  = "gemini"
	ClassifierOpenAI  = "openai"
	ClassifierBedrock = "bedrock"
	ClassifierNone    = "none"
)

// Config holds the application configuration.
type Config struct {
	// UserID owns every transaction ingested by this process.
	// Environment variable: UPILEDGER_USER_ID
	UserID string `koanf:"UPILEDGER_USER_ID"`

	// GmailQuery overrides the default HDFC alerts search.
	// Environment variable: UPILEDGER_GMAIL_QUERY
	GmailQuery string `koanf:"UPILEDGER_GMAIL_QUERY"`

	// GmailMaxResults caps messages per fetch.
	// Environment variable: UPILEDGER_GMAIL_MAX_RESULTS
	GmailMaxResults int64 `koanf:"UPILEDGER_GMAIL_MAX_RESULTS"`

	// PollInterval is how often the server re-reads Gmail. Zero disables polling.
	// Environment variable: UPILEDGER_POLL_INTERVAL
	PollInterval time.Duration `koanf:"UPILEDGER_POLL_INTERVAL"`

	// TemplatesFile adds bank templates after the built-in HDFC ones.
	// Environment variable: UPILEDGER_TEMPLATES_FILE
	TemplatesFile string `koanf:"UPILEDGER_TEMPLATES_FILE"`

	// Classifier selects the categorization provider: gemini, openai, bedrock or none.
	// Environment variable: UPILEDGER_CLASSIFIER
	Classifier string `koanf:"UPILEDGER_CLASSIFIER"`

	GeminiAPIKey string `koanf:"GEMINI_API_KEY"`
	GeminiModel  string `koanf:"GEMINI_MODEL"`

	OpenAIAPIKey  string `koanf:"OPENAI_API_KEY"`
	OpenAIModel   string `koanf:"OPENAI_MODEL"`
	OpenAIBaseURL string `koanf:"OPENAI_BASE_URL"`

	BedrockRegion  string `koanf:"BEDROCK_REGION"`
	BedrockModelID string `koanf:"BEDROCK_MODEL_ID"`

	// Retry settings for rate-limited remote calls.
	Retry RetryConfig `koanf:",squash"`

	// RecategorizeConcurrency bounds parallel classifier calls during bulk re-categorization.
	// Environment variable: RECATEGORIZE_CONCURRENCY
	RecategorizeConcurrency int `koanf:"RECATEGORIZE_CONCURRENCY"`

	// DatabaseURL is a PostgreSQL connection string. Empty keeps data in memory.
	// Environment variable: DATABASE_URL
	DatabaseURL string `koanf:"DATABASE_URL"`

	// DatabaseMaxConns caps the connection pool.
	// Environment variable: DATABASE_MAX_CONNS
	DatabaseMaxConns int32 `koanf:"DATABASE_MAX_CONNS"`

	// HTTPAddr is the listen address of the API server.
	// Environment variable: HTTP_ADDR
	HTTPAddr string `koanf:"HTTP_ADDR"`

	// Google Sheets export.
	GSheetsID    string `koanf:"GSHEETS_ID"`
	GSheetsTitle string `koanf:"GSHEETS_TITLE"`
	GSheetsName  string `koanf:"GSHEETS_NAME"`
}

// MaxRetryAttempts is the hard bound on RETRY_MAX_ATTEMPTS.
const MaxRetryAttempts = 5

// RetryConfig mirrors backoff.Policy with environment-friendly units.
type RetryConfig struct {
	// MaxAttempts counts every call, the first included. At most MaxRetryAttempts.
	MaxAttempts uint    `koanf:"RETRY_MAX_ATTEMPTS"`
	BaseDelayMS int     `koanf:"RETRY_BASE_DELAY_MS"`
	Multiplier  float64 `koanf:"RETRY_MULTIPLIER"`
	MaxJitterMS int     `koanf:"RETRY_MAX_JITTER_MS"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	p := backoff.DefaultPolicy()
	return Config{
		UserID:           "default",
		GmailMaxResults:  20,
		Classifier:       ClassifierGemini,
		HTTPAddr:         ":8080",
		DatabaseMaxConns: 10,
		GSheetsTitle:     "UPI Ledger",
		GSheetsName:      "Transactions",
		Retry: RetryConfig{
			MaxAttempts: p.MaxAttempts,
			BaseDelayMS: int(p.BaseDelay / time.Millisecond),
			Multiplier:  p.Multiplier,
			MaxJitterMS: int(p.MaxJitter / time.Millisecond),
		},
		RecategorizeConcurrency: 4,
	}
}

// Load reads configuration. A .env file in the working directory is applied
// to the environment first; path, when non-empty, names a JSON file whose
// keys are the same as the environment variable names.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), kjson.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", nil), nil); err != nil {
		return nil, fmt.Errorf("loading config from environment: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Classifier = strings.ToLower(strings.TrimSpace(cfg.Classifier))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required combinations of settings.
func (c *Config) Validate() error {
	var errs []error

	if c.UserID == "" {
		errs = append(errs, errors.New("UPILEDGER_USER_ID must not be empty"))
	}

	switch c.Classifier {
	case ClassifierGemini, ClassifierOpenAI, ClassifierBedrock, ClassifierNone:
	default:
		errs = append(errs, fmt.Errorf("unknown UPILEDGER_CLASSIFIER %q", c.Classifier))
	}

	if err := c.Policy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retry settings: %w", err))
	}
	if c.Retry.MaxAttempts > MaxRetryAttempts {
		errs = append(errs, fmt.Errorf("RETRY_MAX_ATTEMPTS must be at most %d, got %d", MaxRetryAttempts, c.Retry.MaxAttempts))
	}
	if c.GmailMaxResults < 0 {
		errs = append(errs, errors.New("UPILEDGER_GMAIL_MAX_RESULTS must not be negative"))
	}
	if c.RecategorizeConcurrency < 1 {
		errs = append(errs, errors.New("RECATEGORIZE_CONCURRENCY must be at least 1"))
	}
	if c.PollInterval < 0 {
		errs = append(errs, errors.New("UPILEDGER_POLL_INTERVAL must not be negative"))
	}

	return errors.Join(errs...)
}

// ValidateClassifier checks that the selected classifier has its credentials.
// Commands that never classify skip it.
func (c *Config) ValidateClassifier() error {
	switch c.Classifier {
	case ClassifierGemini:
		if c.GeminiAPIKey == "" {
			return errors.New("GEMINI_API_KEY is required for the gemini classifier")
		}
	case ClassifierOpenAI:
		if c.OpenAIAPIKey == "" {
			return errors.New("OPENAI_API_KEY is required for the openai classifier")
		}
	case ClassifierBedrock:
		if c.BedrockRegion == "" {
			return errors.New("BEDROCK_REGION is required for the bedrock classifier")
		}
	}
	return nil
}

// Policy returns the retry policy described by the Retry settings.
func (c *Config) Policy() backoff.Policy {
	return backoff.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   time.Duration(c.Retry.BaseDelayMS) * time.Millisecond,
		Multiplier:  c.Retry.Multiplier,
		MaxJitter:   time.Duration(c.Retry.MaxJitterMS) * time.Millisecond,
	}
}
