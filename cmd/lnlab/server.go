package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/artpar/lnlab/internal/shell/api"
	"github.com/artpar/lnlab/internal/shell/workers"
)

// =============================================================================
// Server
// =============================================================================

// Server runs the HTTP API and the background reconciler.
type Server struct {
	config     *Config
	app        *app
	httpServer *http.Server
	reconciler *workers.Reconciler
	logger     *slog.Logger
}

// NewServer creates a server over an opened app.
func NewServer(cfg *Config, a *app, logger *slog.Logger) *Server {
	handler := api.NewHandler(a.orch, api.Defaults{
		BitcoinNodes:   cfg.Defaults.BitcoinNodes,
		LightningNodes: cfg.Defaults.LightningNodes,
	}, logger)

	return &Server{
		config: cfg,
		app:    a,
		httpServer: &http.Server{
			Addr:         cfg.Server.Address(),
			Handler:      handler.Routes(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		reconciler: workers.NewReconciler(a.orch, cfg.WorkerConfig(), logger),
		logger:     logger,
	}
}

// Start starts the server and blocks until ctx is done or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	if err := s.app.orch.CheckRuntime(ctx); err != nil {
		// The reconciler keeps retrying; commands fail fast until Docker is back.
		s.logger.Warn("docker is not reachable", "error", err)
	}

	s.reconciler.Start()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server",
			"address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.reconciler.Stop()
		return &exitError{code: ExitCommandError, err: err}
	case <-ctx.Done():
		s.logger.Info("received shutdown signal")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.reconciler.Stop()

	s.logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// Serve Command
// =============================================================================

func (c *cli) newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background reconciler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c.logger.Info("starting lnlab", "version", Version, "config", c.configPath)
			return c.withApp(cmd.Context(), func(a *app) error {
				return NewServer(c.cfg, a, c.logger).Start(cmd.Context())
			})
		},
	}
}
