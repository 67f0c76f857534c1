package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/ArionMiles/upiledger/internal/plugins"
	"github.com/ArionMiles/upiledger/pkg/client"
	"github.com/ArionMiles/upiledger/pkg/config"
)

func newStatusCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check configuration, credentials and API access",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd.OutOrStdout(), flags)
		},
	}
}

// checklist prints one line per check and remembers whether any failed.
type checklist struct {
	out    io.Writer
	allOK  bool
	indent string
}

func (c *checklist) ok(label, format string, args ...any) {
	fmt.Fprintf(c.out, "%s%s: ✓ %s\n", c.indent, label, fmt.Sprintf(format, args...))
}

func (c *checklist) warn(label, format string, args ...any) {
	fmt.Fprintf(c.out, "%s%s: ⚠ %s\n", c.indent, label, fmt.Sprintf(format, args...))
}

func (c *checklist) fail(label string, err error) {
	fmt.Fprintf(c.out, "%s%s: ✗ %v\n", c.indent, label, err)
	c.allOK = false
}

func runStatus(ctx context.Context, out io.Writer, flags *globalFlags) error {
	fmt.Fprintln(out, "=== upiledger status ===")
	fmt.Fprintln(out)

	c := &checklist{out: out, allOK: true}

	a, err := newApp(flags)
	if err != nil {
		c.fail("Configuration", err)
		printFinalStatus(out, false)
		return nil
	}
	c.ok("Configuration", "user %s, classifier %s", a.cfg.UserID, a.cfg.Classifier)

	checkCredentials(c, flags.secretsPath)
	tokenOK := checkToken(c)
	checkTemplates(c, a)
	checkClassifier(c, a.cfg)
	checkDatabase(ctx, c, a)
	a.close()

	if tokenOK {
		checkAPIConnectivity(ctx, c, flags.secretsPath, a.cfg)
	}

	printFinalStatus(out, c.allOK)
	return nil
}

func checkCredentials(c *checklist, secretsPath string) {
	label := fmt.Sprintf("Credentials file (%s)", secretsPath)
	if _, err := os.Stat(secretsPath); errors.Is(err, fs.ErrNotExist) {
		c.fail(label, errors.New("not found"))
		return
	}
	c.ok(label, "found")
}

func checkToken(c *checklist) bool {
	label := fmt.Sprintf("OAuth token (%s)", client.TokenFile)
	token, err := client.TokenFromFile(client.TokenFile)
	if errors.Is(err, fs.ErrNotExist) {
		c.fail(label, errors.New("not found (run 'upiledger setup')"))
		return false
	}
	if err != nil {
		c.fail(label, err)
		return false
	}

	if !token.Expiry.IsZero() && token.Expiry.Before(time.Now()) {
		c.warn(label, "expired (will refresh on next run)")
	} else {
		c.ok(label, "valid (expires: %s)", token.Expiry.Format(time.RFC3339))
	}
	return true
}

func checkTemplates(c *checklist, a *app) {
	p, err := a.newParser()
	if err != nil {
		c.fail("Bank templates", err)
		return
	}
	c.ok("Bank templates", "%d loaded", p.Templates())
}

func checkClassifier(c *checklist, cfg *config.Config) {
	if cfg.Classifier == config.ClassifierNone {
		c.warn("Classifier", "disabled, debits are categorized as Other")
		return
	}
	if err := cfg.ValidateClassifier(); err != nil {
		c.fail("Classifier", err)
		return
	}
	c.ok("Classifier", "%s configured", cfg.Classifier)
}

func checkDatabase(ctx context.Context, c *checklist, a *app) {
	if a.cfg.DatabaseURL == "" {
		c.warn("Database", "DATABASE_URL not set, using in-memory store")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	st, err := a.openStore(ctx)
	if err != nil {
		c.fail("Database", err)
		return
	}
	refs, err := st.References(ctx, a.cfg.UserID)
	if err != nil {
		c.fail("Database", err)
		return
	}
	c.ok("Database", "connected, %d transactions stored", len(refs))
}

func checkAPIConnectivity(ctx context.Context, c *checklist, secretsPath string, cfg *config.Config) {
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, "API connectivity:")
	c.indent = "  "
	defer func() { c.indent = "" }()

	scopes, err := plugins.Default().Scopes("gmail", "sheets")
	if err != nil {
		c.fail("Scopes", err)
		return
	}
	httpClient, err := client.Load(ctx, secretsPath, scopes...)
	if err != nil {
		c.fail("OAuth client", err)
		return
	}

	if err := testGmailAPI(ctx, httpClient); err != nil {
		c.fail("Gmail API", err)
	} else {
		c.ok("Gmail API", "connected")
	}

	if cfg.GSheetsID == "" {
		c.warn("Sheets API", "GSHEETS_ID not set, a new spreadsheet is created on export")
		return
	}
	if err := testSheetsAPI(ctx, httpClient, cfg.GSheetsID); err != nil {
		c.fail("Sheets API", err)
	} else {
		c.ok("Sheets API", "spreadsheet %s reachable", cfg.GSheetsID)
	}
}

func printFinalStatus(out io.Writer, allOK bool) {
	fmt.Fprintln(out)
	if allOK {
		fmt.Fprintln(out, "Status: ✓ Ready to run")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Run 'upiledger ingest' to import transactions.")
		return
	}
	fmt.Fprintln(out, "Status: ✗ Configuration issues detected")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Fix the issues above, then run 'upiledger status' again.")
}

func testGmailAPI(ctx context.Context, httpClient *http.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}
	if _, err := svc.Users.Labels.List("me").Context(ctx).Do(); err != nil {
		return fmt.Errorf("API call failed: %w", err)
	}
	return nil
}

func testSheetsAPI(ctx context.Context, httpClient *http.Client, spreadsheetID string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	svc, err := sheets.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}
	if _, err := svc.Spreadsheets.Get(spreadsheetID).Fields("spreadsheetId").Context(ctx).Do(); err != nil {
		return fmt.Errorf("API call failed: %w", err)
	}
	return nil
}
