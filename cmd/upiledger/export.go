package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/upiledger/internal/plugins"
	"github.com/ArionMiles/upiledger/pkg/api"
)

func newExportCommand(flags *globalFlags) *cobra.Command {
	var (
		filter       filterFlags
		writerName   string
		writerConfig string
		outPath      string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored transactions to CSV, JSON or Google Sheets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			f, err := filter.parse()
			if err != nil {
				return err
			}
			if outPath == "" {
				outPath = "transactions." + writerName
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

			registry := plugins.Default()
			cfg, err := a.writerConfig(writerName, writerConfig, outPath)
			if err != nil {
				return fmt.Errorf("building writer config: %w", err)
			}
			writer, err := a.openWriter(ctx, registry, flags.secretsPath, writerName, cfg)
			if err != nil {
				return err
			}

			ch := make(chan *api.Transaction, len(txns))
			for _, t := range txns {
				ch <- t
			}
			close(ch)

			if err := writer.Write(ctx, ch); err != nil {
				return fmt.Errorf("exporting: %w", err)
			}

			dest := outPath
			if writerName == "sheets" {
				dest = "Google Sheets"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d transactions to %s\n", len(txns), dest)
			return nil
		},
	}

	filter.register(cmd)
	cmd.Flags().StringVarP(&writerName, "writer", "w", "csv", "export plugin (csv, json, sheets)")
	cmd.Flags().StringVar(&writerConfig, "writer-config", "", "raw JSON config for the writer plugin")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file for csv and json (default transactions.<writer>)")

	return cmd
}
