package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ArionMiles/upiledger/internal/plugins"
	"github.com/ArionMiles/upiledger/pkg/api"
	"github.com/ArionMiles/upiledger/pkg/client"
)

// authorizedClient returns an OAuth client when the named plugins need Google
// scopes, and nil otherwise. It never prompts; run setup first.
func (a *app) authorizedClient(ctx context.Context, registry *plugins.Registry, secretsPath, readerName, writerName string) (*http.Client, error) {
	scopes, err := registry.Scopes(readerName, writerName)
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		return nil, nil
	}

	httpClient, err := client.Load(ctx, secretsPath, scopes...)
	if err != nil {
		return nil, fmt.Errorf("creating oauth client (run 'upiledger setup'): %w", err)
	}
	return httpClient, nil
}

// readerConfig returns raw unless it is empty, in which case the reader's
// settings are derived from the application config.
func (a *app) readerConfig(name string, raw string, mboxPath, from string) (json.RawMessage, error) {
	if raw != "" {
		return json.RawMessage(raw), nil
	}

	var v any
	switch name {
	case "gmail":
		v = plugins.GmailConfig{
			Query:        a.cfg.GmailQuery,
			MaxResults:   a.cfg.GmailMaxResults,
			PollInterval: int(a.cfg.PollInterval.Seconds()),
		}
	case "mbox":
		v = plugins.MboxConfig{Path: mboxPath, From: from}
	default:
		return nil, nil
	}
	return json.Marshal(v)
}

// writerConfig returns raw unless it is empty, in which case the writer's
// settings are derived from the application config and the output path.
func (a *app) writerConfig(name, raw, outPath string) (json.RawMessage, error) {
	if raw != "" {
		return json.RawMessage(raw), nil
	}

	var v any
	switch name {
	case "csv", "json":
		v = plugins.FileConfig{FilePath: outPath}
	case "sheets":
		p := a.cfg.Policy()
		v = plugins.SheetsConfig{
			SheetID:    a.cfg.GSheetsID,
			SheetTitle: a.cfg.GSheetsTitle,
			SheetName:  a.cfg.GSheetsName,
			Retry: &plugins.RetryConfig{
				MaxAttempts: p.MaxAttempts,
				BaseDelayMS: int(p.BaseDelay.Milliseconds()),
				Multiplier:  p.Multiplier,
				MaxJitterMS: int(p.MaxJitter.Milliseconds()),
			},
		}
	default:
		return nil, nil
	}
	return json.Marshal(v)
}

// openReader creates the named reader plugin.
func (a *app) openReader(ctx context.Context, registry *plugins.Registry, secretsPath, name string, config json.RawMessage) (api.Reader, error) {
	httpClient, err := a.authorizedClient(ctx, registry, secretsPath, name, "")
	if err != nil {
		return nil, err
	}
	reader, err := registry.CreateReader(ctx, name, httpClient, config, a.logger.With("reader", name))
	if err != nil {
		return nil, fmt.Errorf("creating %s reader: %w", name, err)
	}
	return reader, nil
}

// openWriter creates the named writer plugin.
func (a *app) openWriter(ctx context.Context, registry *plugins.Registry, secretsPath, name string, config json.RawMessage) (api.Writer, error) {
	httpClient, err := a.authorizedClient(ctx, registry, secretsPath, "", name)
	if err != nil {
		return nil, err
	}
	writer, err := registry.CreateWriter(ctx, name, httpClient, config, a.logger.With("writer", name))
	if err != nil {
		return nil, fmt.Errorf("creating %s writer: %w", name, err)
	}
	return writer, nil
}
