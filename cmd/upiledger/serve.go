package main

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ArionMiles/upiledger/internal/daemon"
	"github.com/ArionMiles/upiledger/internal/plugins"
	"github.com/ArionMiles/upiledger/pkg/api"
	"github.com/ArionMiles/upiledger/pkg/client"
	"github.com/ArionMiles/upiledger/pkg/reader/gmail"
	"github.com/ArionMiles/upiledger/pkg/server"
)

func newServeCommand(flags *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard API and poll Gmail in the background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()
			if addr != "" {
				a.cfg.HTTPAddr = addr
			}

			coord, cat, err := a.newCoordinator(ctx)
			if err != nil {
				return err
			}
			runner := daemon.New(coord, a.cfg.UserID, a.logger)

			// Gmail access is optional: without a saved token, /api/ingest
			// only works with a bearer token.
			var reader api.Reader
			readerCfg, err := a.readerConfig("gmail", "", "", "")
			if err != nil {
				return err
			}
			if r, err := a.openReader(ctx, plugins.Default(), flags.secretsPath, "gmail", readerCfg); err != nil {
				a.logger.Warn("gmail reader unavailable", "error", err)
			} else {
				reader = r
			}

			gin.SetMode(gin.ReleaseMode)
			srv, err := server.New(server.Config{Addr: a.cfg.HTTPAddr, UserID: a.cfg.UserID}, server.Deps{
				Store:       a.store,
				Categorizer: cat,
				Ingester:    runner,
				Reader:      reader,
				ReaderForToken: func(ctx context.Context, token string) (api.Reader, error) {
					return gmail.New(ctx, client.NewFromToken(ctx, token), gmail.Config{
						Query:      a.cfg.GmailQuery,
						MaxResults: a.cfg.GmailMaxResults,
					}, a.logger)
				},
			}, a.logger)
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Run(gctx) })
			if reader != nil && a.cfg.PollInterval > 0 {
				g.Go(func() error { return runner.Poll(gctx, reader, a.cfg.PollInterval) })
			}
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default HTTP_ADDR)")

	return cmd
}
