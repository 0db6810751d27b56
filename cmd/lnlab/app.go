package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/artpar/lnlab/internal/core/template"
	"github.com/artpar/lnlab/internal/shell/docker"
	"github.com/artpar/lnlab/internal/shell/orchestrator"
	"github.com/artpar/lnlab/internal/shell/portalloc"
	"github.com/artpar/lnlab/internal/shell/store"
)

// newDockerClient opens the runtime client. Tests swap in a fake.
var newDockerClient = func(host string) (docker.Client, error) {
	return docker.NewDockerClient(host)
}

// app bundles the opened resources behind one orchestrator.
type app struct {
	store  store.Store
	docker docker.Client
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
}

// openApp opens the database and the Docker client and loads persisted
// port reservations. The caller must Close the app.
func openApp(ctx context.Context, cfg *Config, logger *slog.Logger) (*app, error) {
	templates, err := template.Load()
	if err != nil {
		return nil, &exitError{code: ExitConfigError, err: err}
	}

	if dir := filepath.Dir(cfg.Database.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &exitError{code: ExitDatabaseError, err: fmt.Errorf("create data directory: %w", err)}
		}
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, &exitError{code: ExitDatabaseError, err: err}
	}

	d, err := newDockerClient(cfg.Docker.Host)
	if err != nil {
		s.Close()
		return nil, &exitError{code: ExitDockerError, err: err}
	}

	alloc := portalloc.New(cfg.Ports.Start, cfg.Ports.Ceiling, logger)
	orch := orchestrator.New(s, d, alloc, templates, cfg.OrchestratorConfig(), logger)
	if err := orch.Init(ctx); err != nil {
		s.Close()
		d.Close()
		return nil, &exitError{code: ExitDatabaseError, err: err}
	}

	return &app{
		store:  s,
		docker: d,
		orch:   orch,
		logger: logger,
	}, nil
}

// Close releases the Docker client and the database.
func (a *app) Close() {
	if err := a.docker.Close(); err != nil {
		a.logger.Error("Docker client close error", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("database close error", "error", err)
	}
}

// withApp opens the app for the duration of fn.
func (c *cli) withApp(ctx context.Context, fn func(*app) error) error {
	a, err := openApp(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
