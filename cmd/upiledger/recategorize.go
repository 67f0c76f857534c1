package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/upiledger/pkg/api"
)

func newRecategorizeCommand(flags *globalFlags) *cobra.Command {
	var (
		filter filterFlags
		all    bool
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "recategorize",
		Short: "Run stored transactions through the classifier again",
		Long: `Re-categorize stored transactions concurrently. By default only
transactions labelled Other or not labelled at all are sent; --all sends
every matching transaction.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			f, err := filter.parse()
			if err != nil {
				return err
			}

			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			cat, err := a.newCategorizer(ctx)
			if err != nil {
				return err
			}

			txns, err := st.List(ctx, a.cfg.UserID, f)
			if err != nil {
				return fmt.Errorf("listing transactions: %w", err)
			}

			var targets []*api.Transaction
			for _, t := range txns {
				if all || t.Category == "" || t.Category == api.Other {
					targets = append(targets, t)
				}
			}
			if len(targets) == 0 {
				fmt.Fprintln(out, "Nothing to re-categorize.")
				return nil
			}

			a.logger.Info("re-categorizing", "count", len(targets), "concurrency", a.cfg.RecategorizeConcurrency)
			labels, err := cat.CategorizeAll(ctx, targets, a.cfg.RecategorizeConcurrency)
			if err != nil {
				return fmt.Errorf("re-categorizing: %w", err)
			}

			changed := 0
			for i, t := range targets {
				if labels[i] == t.Category {
					continue
				}
				fmt.Fprintf(out, "%s\t%s\t%s -> %s\n", t.Reference, t.Counterparty, displayCategory(t.Category), labels[i])
				if dryRun {
					changed++
					continue
				}
				if err := st.UpdateCategory(ctx, a.cfg.UserID, t.ID, labels[i]); err != nil {
					return fmt.Errorf("updating %s: %w", t.Reference, err)
				}
				changed++
			}

			verb := "Updated"
			if dryRun {
				verb = "Would update"
			}
			fmt.Fprintf(out, "%s %d of %d transactions\n", verb, changed, len(targets))
			return nil
		},
	}

	filter.register(cmd)
	cmd.Flags().BoolVar(&all, "all", false, "re-categorize every matching transaction, not only Other")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print changes without saving them")

	return cmd
}

func displayCategory(c api.Category) string {
	if c == "" {
		return "(none)"
	}
	return string(c)
}
