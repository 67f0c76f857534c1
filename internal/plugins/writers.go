package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/ArionMiles/upiledger/pkg/api"
	"github.com/ArionMiles/upiledger/pkg/backoff"
	csvwriter "github.com/ArionMiles/upiledger/pkg/writer/csv"
	jsonwriter "github.com/ArionMiles/upiledger/pkg/writer/json"
	sheetswriter "github.com/ArionMiles/upiledger/pkg/writer/sheets"
)

// FileConfig configures the file-based writers.
type FileConfig struct {
	FilePath      string `json:"filePath"`
	BatchSize     int    `json:"batchSize,omitempty"`
	FlushInterval int    `json:"flushInterval,omitempty"` // seconds
}

func fileSchema(what string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"filePath": map[string]any{
				"type":        "string",
				"description": "Path to the " + what + " output file",
			},
			"batchSize": map[string]any{
				"type":        "integer",
				"description": "Number of transactions to buffer before writing (default: 50)",
				"default":     50,
			},
			"flushInterval": map[string]any{
				"type":        "integer",
				"description": "Interval in seconds between automatic flushes (default: 30)",
				"default":     30,
			},
		},
		"required": []string{"filePath"},
	}
}

// CSVPlugin exports to a CSV file.
type CSVPlugin struct{}

func (p *CSVPlugin) Name() string                 { return "csv" }
func (p *CSVPlugin) Description() string          { return "Export transactions to a CSV file" }
func (p *CSVPlugin) RequiredScopes() []string     { return nil }
func (p *CSVPlugin) ConfigSchema() map[string]any { return fileSchema("CSV") }

// NewWriter creates a CSV writer.
func (p *CSVPlugin) NewWriter(_ context.Context, _ *http.Client, config json.RawMessage, logger *slog.Logger) (api.Writer, error) {
	var cfg FileConfig
	if err := decode(p.Name(), config, &cfg); err != nil {
		return nil, err
	}
	if cfg.FilePath == "" {
		return nil, errors.New("filePath is required")
	}

	return csvwriter.New(csvwriter.Config{
		FilePath:      cfg.FilePath,
		BatchSize:     cfg.BatchSize,
		FlushInterval: time.Duration(cfg.FlushInterval) * time.Second,
	}, logger)
}

// JSONPlugin exports to a JSON file.
type JSONPlugin struct{}

func (p *JSONPlugin) Name() string                 { return "json" }
func (p *JSONPlugin) Description() string          { return "Export transactions to a JSON file" }
func (p *JSONPlugin) RequiredScopes() []string     { return nil }
func (p *JSONPlugin) ConfigSchema() map[string]any { return fileSchema("JSON") }

// NewWriter creates a JSON writer.
func (p *JSONPlugin) NewWriter(_ context.Context, _ *http.Client, config json.RawMessage, logger *slog.Logger) (api.Writer, error) {
	var cfg FileConfig
	if err := decode(p.Name(), config, &cfg); err != nil {
		return nil, err
	}
	if cfg.FilePath == "" {
		return nil, errors.New("filePath is required")
	}

	return jsonwriter.New(jsonwriter.Config{
		FilePath:      cfg.FilePath,
		BatchSize:     cfg.BatchSize,
		FlushInterval: time.Duration(cfg.FlushInterval) * time.Second,
	}, logger)
}

// SheetsConfig configures the Google Sheets writer.
type SheetsConfig struct {
	SheetTitle    string       `json:"sheetTitle,omitempty"`
	SheetID       string       `json:"sheetId,omitempty"`
	SheetName     string       `json:"sheetName"`
	BatchSize     int          `json:"batchSize,omitempty"`
	FlushInterval int          `json:"flushInterval,omitempty"` // seconds
	Retry         *RetryConfig `json:"retry,omitempty"`
}

// RetryConfig is the JSON form of a backoff.Policy.
type RetryConfig struct {
	MaxAttempts uint    `json:"maxAttempts"`
	BaseDelayMS int     `json:"baseDelayMs"`
	Multiplier  float64 `json:"multiplier"`
	MaxJitterMS int     `json:"maxJitterMs"`
}

// Policy converts c to a backoff.Policy.
func (c RetryConfig) Policy() backoff.Policy {
	return backoff.Policy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   time.Duration(c.BaseDelayMS) * time.Millisecond,
		Multiplier:  c.Multiplier,
		MaxJitter:   time.Duration(c.MaxJitterMS) * time.Millisecond,
	}
}

// SheetsPlugin exports to Google Sheets.
type SheetsPlugin struct{}

func (p *SheetsPlugin) Name() string        { return "sheets" }
func (p *SheetsPlugin) Description() string { return "Export transactions to Google Sheets" }

// RequiredScopes returns the OAuth scopes needed by this plugin.
func (p *SheetsPlugin) RequiredScopes() []string {
	return []string{sheetsapi.SpreadsheetsScope}
}

// ConfigSchema returns a JSON schema describing the plugin's configuration.
func (p *SheetsPlugin) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"sheetTitle": map[string]any{
				"type":        "string",
				"description": "Title for a new spreadsheet (used if sheetId is not provided)",
			},
			"sheetId": map[string]any{
				"type":        "string",
				"description": "ID of an existing spreadsheet to use",
			},
			"sheetName": map[string]any{
				"type":        "string",
				"description": "Name of the sheet/tab within the spreadsheet",
			},
			"batchSize": map[string]any{
				"type":        "integer",
				"description": "Number of rows per append call (default: 50)",
				"default":     50,
			},
			"flushInterval": map[string]any{
				"type":        "integer",
				"description": "Interval in seconds between automatic flushes (default: 30)",
				"default":     30,
			},
			"retry": map[string]any{
				"type":        "object",
				"description": "Backoff for rate-limited appends: maxAttempts, baseDelayMs, multiplier, maxJitterMs",
			},
		},
		"required": []string{"sheetName"},
	}
}

// NewWriter creates a Sheets writer.
func (p *SheetsPlugin) NewWriter(ctx context.Context, httpClient *http.Client, config json.RawMessage, logger *slog.Logger) (api.Writer, error) {
	var cfg SheetsConfig
	if err := decode(p.Name(), config, &cfg); err != nil {
		return nil, err
	}
	if cfg.SheetName == "" {
		return nil, errors.New("sheetName is required")
	}
	if cfg.SheetID == "" && cfg.SheetTitle == "" {
		return nil, errors.New("either sheetId or sheetTitle is required")
	}
	if httpClient == nil {
		return nil, errors.New("sheets writer needs an authenticated client")
	}

	wcfg := sheetswriter.Config{
		SheetTitle:    cfg.SheetTitle,
		SheetID:       cfg.SheetID,
		SheetName:     cfg.SheetName,
		BatchSize:     cfg.BatchSize,
		FlushInterval: time.Duration(cfg.FlushInterval) * time.Second,
	}
	if cfg.Retry != nil {
		policy := cfg.Retry.Policy()
		wcfg.Policy = &policy
	}

	return sheetswriter.New(ctx, httpClient, wcfg, logger)
}
