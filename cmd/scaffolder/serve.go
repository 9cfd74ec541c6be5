package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/site-scaffolder/internal/api"
	"github.com/example/site-scaffolder/internal/brief"
	"github.com/example/site-scaffolder/internal/orchestrator"
	"github.com/example/site-scaffolder/internal/relay"
	"github.com/example/site-scaffolder/internal/store"
)

func newServeCmd(a *app) *cobra.Command {
	var addr, dbPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("db") {
				a.cfg.Store.DatabasePath = dbPath
			}
			return serve(cmd.Context(), a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, e.g. :8080")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	cfg, logger := a.cfg, a.logger

	client, release, err := a.completionClient(ctx)
	if err != nil {
		return err
	}
	defer release()

	st, err := store.Open(cfg.Store.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	hub := relay.NewHub(logger)
	orch := orchestrator.New(client, append(a.orchestratorOptions(), orchestrator.WithRelay(hub))...)

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewServer(api.Deps{
			Completion:     client,
			Orchestrator:   orch,
			Store:          st,
			Hub:            hub,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			BriefLimits: brief.Limits{
				MaxBytes: cfg.Brief.MaxBytes,
				MaxPages: cfg.Brief.MaxPages,
				Timeout:  cfg.GetBriefTimeout(),
			},
			Logger: logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GetShutdownTimeout())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
