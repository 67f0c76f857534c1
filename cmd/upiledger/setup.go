package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/upiledger/internal/plugins"
	"github.com/ArionMiles/upiledger/pkg/client"
)

func newSetupCommand(flags *globalFlags) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Authorize Gmail and Google Sheets access",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSetup(cmd, flags.secretsPath, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "discard the saved token and authorize again")

	return cmd
}

func runSetup(cmd *cobra.Command, secretsPath string, force bool) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "=== upiledger setup ===")
	fmt.Fprintln(out)

	if _, err := os.Stat(secretsPath); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("credentials file not found: %s\n\nTo get your credentials:\n"+
			"1. Go to https://console.cloud.google.com/apis/credentials\n"+
			"2. Create an OAuth 2.0 Client ID (Desktop application)\n"+
			"3. Download the JSON file and save it as '%s'", secretsPath, secretsPath)
	}

	if !force {
		if _, err := os.Stat(client.TokenFile); err == nil {
			fmt.Fprintf(out, "Already authorized. Token file exists: %s\n\n", client.TokenFile)
			fmt.Fprintln(out, "To authorize again, run: upiledger setup --force")
			return nil
		}
	} else {
		if err := os.Remove(client.TokenFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing existing token: %w", err)
		}
		fmt.Fprintln(out, "Forcing re-authorization...")
		fmt.Fprintln(out)
	}

	scopes, err := plugins.Default().Scopes("gmail", "sheets")
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "Required permissions:")
	fmt.Fprintln(out, "  - Gmail: read bank alert emails")
	fmt.Fprintln(out, "  - Sheets: export transactions to a spreadsheet")
	fmt.Fprintln(out)

	if _, err := client.New(cmd.Context(), secretsPath, scopes...); err != nil {
		return fmt.Errorf("authorization failed: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Token saved to: %s\n\n", client.TokenFile)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintln(out, "  1. Run 'upiledger status' to check your configuration")
	fmt.Fprintln(out, "  2. Run 'upiledger ingest' to import transactions")
	return nil
}
