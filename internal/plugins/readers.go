package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/ArionMiles/upiledger/pkg/api"
	"github.com/ArionMiles/upiledger/pkg/reader/gmail"
	"github.com/ArionMiles/upiledger/pkg/reader/mbox"
)

// GmailConfig configures the Gmail reader.
type GmailConfig struct {
	Query        string `json:"query,omitempty"`
	MaxResults   int64  `json:"maxResults,omitempty"`
	PollInterval int    `json:"pollInterval,omitempty"` // seconds
}

// GmailPlugin reads bank alerts from Gmail.
type GmailPlugin struct{}

func (p *GmailPlugin) Name() string        { return "gmail" }
func (p *GmailPlugin) Description() string { return "Read bank notification emails from Gmail" }

// RequiredScopes returns the OAuth scopes needed by this plugin.
func (p *GmailPlugin) RequiredScopes() []string {
	return []string{gmailapi.GmailReadonlyScope}
}

// ConfigSchema returns a JSON schema describing the plugin's configuration.
func (p *GmailPlugin) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Gmail search query",
				"default":     gmail.DefaultQuery,
			},
			"maxResults": map[string]any{
				"type":        "integer",
				"description": "Maximum messages per fetch",
				"default":     gmail.DefaultMaxResults,
			},
			"pollInterval": map[string]any{
				"type":        "integer",
				"description": "Seconds between polls when watching (default: 300)",
				"default":     300,
			},
		},
	}
}

// NewReader creates a Gmail reader.
func (p *GmailPlugin) NewReader(ctx context.Context, httpClient *http.Client, config json.RawMessage, logger *slog.Logger) (api.Reader, error) {
	var cfg GmailConfig
	if err := decode(p.Name(), config, &cfg); err != nil {
		return nil, err
	}
	if httpClient == nil {
		return nil, errors.New("gmail reader needs an authenticated client")
	}

	return gmail.New(ctx, httpClient, gmail.Config{
		Query:      cfg.Query,
		MaxResults: cfg.MaxResults,
		Interval:   time.Duration(cfg.PollInterval) * time.Second,
	}, logger)
}

// MboxConfig configures the mbox reader.
type MboxConfig struct {
	Path string `json:"path"`
	From string `json:"from,omitempty"`
}

// MboxPlugin reads a local mbox archive.
type MboxPlugin struct{}

func (p *MboxPlugin) Name() string             { return "mbox" }
func (p *MboxPlugin) Description() string      { return "Read bank notification emails from an mbox file" }
func (p *MboxPlugin) RequiredScopes() []string { return nil }

// ConfigSchema returns a JSON schema describing the plugin's configuration.
func (p *MboxPlugin) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the mbox file",
			},
			"from": map[string]any{
				"type":        "string",
				"description": "Only read messages whose sender contains this address",
			},
		},
		"required": []string{"path"},
	}
}

// NewReader creates an mbox reader.
func (p *MboxPlugin) NewReader(_ context.Context, _ *http.Client, config json.RawMessage, logger *slog.Logger) (api.Reader, error) {
	var cfg MboxConfig
	if err := decode(p.Name(), config, &cfg); err != nil {
		return nil, err
	}
	return mbox.New(mbox.Config{Path: cfg.Path, From: cfg.From}, logger)
}
