package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/upiledger/internal/daemon"
	"github.com/ArionMiles/upiledger/internal/plugins"
	"github.com/ArionMiles/upiledger/pkg/orchestrator"
	"github.com/ArionMiles/upiledger/pkg/report"
)

type ingestOptions struct {
	reader       string
	readerConfig string
	mboxPath     string
	from         string
	watch        bool
}

func newIngestCommand(flags *globalFlags) *cobra.Command {
	opts := &ingestOptions{}

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Import transactions from bank alert emails",
		Long: `Fetch alert emails, extract UPI transactions, categorize them and
store the ones not seen before. Use --mbox to read a local mailbox export
instead of Gmail, and --watch to keep polling.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.mboxPath != "" && !cmd.Flags().Changed("reader") {
				opts.reader = "mbox"
			}
			return runIngest(cmd, flags, opts)
		},
	}

	cmd.Flags().StringVar(&opts.reader, "reader", "gmail", "mail source plugin (gmail, mbox)")
	cmd.Flags().StringVar(&opts.readerConfig, "reader-config", "", "raw JSON config for the reader plugin")
	cmd.Flags().StringVar(&opts.mboxPath, "mbox", "", "read this mbox file instead of Gmail")
	cmd.Flags().StringVar(&opts.from, "from", "", "only read mbox messages from this sender")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "keep polling until interrupted (UPILEDGER_POLL_INTERVAL)")

	return cmd
}

func runIngest(cmd *cobra.Command, flags *globalFlags, opts *ingestOptions) error {
	ctx := cmd.Context()

	a, err := newApp(flags)
	if err != nil {
		return err
	}
	defer a.close()

	coord, _, err := a.newCoordinator(ctx)
	if err != nil {
		return err
	}

	registry := plugins.Default()
	readerCfg, err := a.readerConfig(opts.reader, opts.readerConfig, opts.mboxPath, opts.from)
	if err != nil {
		return fmt.Errorf("building reader config: %w", err)
	}
	reader, err := a.openReader(ctx, registry, flags.secretsPath, opts.reader, readerCfg)
	if err != nil {
		return err
	}

	runner := daemon.New(coord, a.cfg.UserID, a.logger)

	if opts.watch {
		a.logger.Info("watching for new transactions", "reader", opts.reader, "interval", a.cfg.PollInterval)
		return runner.Poll(ctx, reader, a.cfg.PollInterval)
	}

	res, err := runner.RunOnce(ctx, reader)
	if res != nil {
		printIngestResult(cmd.OutOrStdout(), res)
	}
	return err
}

func printIngestResult(out io.Writer, res *orchestrator.Result) {
	fmt.Fprintf(out, "Saved %d, skipped %d, failed %d\n", len(res.Saved), res.Skipped, len(res.Errors))

	if len(res.Saved) > 0 {
		fmt.Fprintln(out)
		_ = report.NewFormatter(report.DefaultLanguage).WriteTransactions(out, res.Saved)
	}

	if len(res.Errors) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Failures:")
		for _, e := range res.Errors {
			fmt.Fprintf(out, "  %s\t%s\t%v\n", e.SourceID, e.Reason, e.Err)
		}
	}
}
