package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/upiledger/pkg/report"
	"github.com/ArionMiles/upiledger/pkg/store"
)

// filterFlags are the transaction filter flags shared by list, export and recategorize.
type filterFlags struct {
	query    string
	period   string
	txnType  string
	category string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.query, "query", "q", "", "search counterparty and reference")
	cmd.Flags().StringVar(&f.period, "period", "all", "today, week, month or all")
	cmd.Flags().StringVar(&f.txnType, "type", "", "credit or debit")
	cmd.Flags().StringVar(&f.category, "category", "", "only this category")
}

func (f *filterFlags) parse() (store.Filter, error) {
	return store.ParseFilter(f.query, f.period, f.txnType, f.category)
}

func newListCommand(flags *globalFlags) *cobra.Command {
	var (
		filter  filterFlags
		summary bool
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored transactions",
		Args:  cobra.NoArgs,
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
			txns, err := st.List(ctx, a.cfg.UserID, f)
			if err != nil {
				return fmt.Errorf("listing transactions: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if summary {
					return enc.Encode(report.Summarize(txns))
				}
				return enc.Encode(txns)
			}

			fm := report.NewFormatter(report.DefaultLanguage)
			if summary {
				return fm.WriteSummary(out, report.Summarize(txns))
			}
			if len(txns) == 0 {
				fmt.Fprintln(out, "No transactions found.")
				return nil
			}
			return fm.WriteTransactions(out, txns)
		},
	}

	filter.register(cmd)
	cmd.Flags().BoolVar(&summary, "summary", false, "print totals and the category breakdown")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}
