package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/upiledger/pkg/config"
	"github.com/ArionMiles/upiledger/pkg/logging"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath  string
	secretsPath string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "upiledger",
		Short: "Track UPI transactions from bank alert emails",
		Long: `upiledger reads UPI alert emails from Gmail or an mbox file,
extracts the transactions, categorizes them and stores them for reporting.`,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			logging.Setup(logging.DefaultConfig())
		},
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "optional JSON config file")
	rootCmd.PersistentFlags().StringVar(&flags.secretsPath, "secrets", config.ClientSecretFile, "Google OAuth client secret file")

	rootCmd.AddCommand(
		newSetupCommand(flags),
		newStatusCommand(flags),
		newIngestCommand(flags),
		newRecategorizeCommand(flags),
		newListCommand(flags),
		newExportCommand(flags),
		newServeCommand(flags),
	)

	return rootCmd
}
