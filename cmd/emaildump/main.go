// Command emaildump fetches alert emails and dumps their decoded text to files.
// It is used to collect samples for parser tests and new bank templates.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/ArionMiles/upiledger/pkg/api"
	"github.com/ArionMiles/upiledger/pkg/client"
	"github.com/ArionMiles/upiledger/pkg/config"
	"github.com/ArionMiles/upiledger/pkg/extract"
	"github.com/ArionMiles/upiledger/pkg/logging"
	"github.com/ArionMiles/upiledger/pkg/parser"
	"github.com/ArionMiles/upiledger/pkg/reader/gmail"
	"github.com/ArionMiles/upiledger/pkg/reader/mbox"
)

type options struct {
	dir         string
	mboxPath    string
	query       string
	maxResults  int64
	secretsPath string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := &options{}
	cmd := &cobra.Command{
		Use:          "emaildump",
		Short:        "Dump the decoded text of alert emails for test fixtures",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := logging.Setup(logging.DefaultConfig())
			return run(cmd.Context(), opts, logger)
		},
	}

	cmd.Flags().StringVar(&opts.dir, "dir", filepath.Join("testdata", "dump"), "output directory")
	cmd.Flags().StringVar(&opts.mboxPath, "mbox", "", "read this mbox file instead of Gmail")
	cmd.Flags().StringVar(&opts.query, "query", gmail.DefaultQuery, "Gmail search query")
	cmd.Flags().Int64Var(&opts.maxResults, "max", 10, "maximum messages to fetch from Gmail")
	cmd.Flags().StringVar(&opts.secretsPath, "secrets", config.ClientSecretFile, "Google OAuth client secret file")

	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options, logger *slog.Logger) error {
	reader, err := newReader(ctx, opts, logger)
	if err != nil {
		return err
	}

	emails, err := reader.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetching emails: %w", err)
	}

	if err := os.MkdirAll(opts.dir, 0o755); err != nil {
		return fmt.Errorf("creating dump directory: %w", err)
	}

	p := parser.Default()
	dumped, unmatched := 0, 0
	for _, email := range emails {
		text := extract.Content(email)
		if text == "" {
			logger.Warn("empty message body", "message_id", email.ID)
			continue
		}

		name := sanitizeFilename(fmt.Sprintf("%s_%s.txt", email.ID, email.Snippet))
		path := filepath.Join(opts.dir, name)
		if _, err := os.Stat(path); err == nil {
			logger.Debug("file already exists, skipping", "file", name)
			continue
		}
		if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
		dumped++

		// Flag samples no template understands; those need a new template.
		if _, err := p.Parse(text, email.ID); errors.Is(err, parser.ErrNoMatch) {
			unmatched++
			logger.Warn("no template matches", "file", name)
		} else if err != nil {
			logger.Warn("template matched but parsing failed", "file", name, "error", err)
		} else {
			logger.Info("dumped email", "file", name)
		}
	}

	logger.Info("email dump complete", "dumped", dumped, "unmatched", unmatched, "directory", opts.dir)
	return nil
}

func newReader(ctx context.Context, opts *options, logger *slog.Logger) (api.Reader, error) {
	if opts.mboxPath != "" {
		return mbox.New(mbox.Config{Path: opts.mboxPath}, logger)
	}

	httpClient, err := client.New(ctx, opts.secretsPath, gmailapi.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("creating http client: %w", err)
	}
	return gmail.New(ctx, httpClient, gmail.Config{
		Query:      opts.query,
		MaxResults: opts.maxResults,
	}, logger)
}

var (
	unsafeChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f\s]`)
	underscores = regexp.MustCompile(`_+`)
)

func sanitizeFilename(name string) string {
	name = unsafeChars.ReplaceAllString(name, "_")
	name = underscores.ReplaceAllString(name, "_")

	name = strings.Trim(name, "_")
	if len(name) > 200 {
		name = name[:200]
	}
	return name
}
