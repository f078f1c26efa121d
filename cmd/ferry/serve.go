package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haukened/ferry/internal/config"
	"github.com/haukened/ferry/internal/httpx"
	"github.com/haukened/ferry/internal/janitor"
	"github.com/haukened/ferry/internal/metrics"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ferry HTTP server (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}
}

func serve(ctx context.Context, opts *rootOptions) error {
	cfg, logger := opts.cfg, opts.logger
	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Error("close runtime", "error", err)
		}
	}()
	rt.metrics.Start(ctx)

	if _, created, err := rt.svc.Bootstrap(ctx); err != nil {
		return err
	} else if created && !cfg.RevealBootstrapKey {
		logger.Warn("bootstrap key created but reveal is disabled; use `ferry keys bootstrap` to read it")
	}

	if cfg.SweepInterval > 0 {
		j := janitor.New(rt.svc, rt.metrics, janitor.Config{Interval: cfg.SweepInterval, Logger: logger})
		j.Start(ctx)
		defer j.Stop()
	}

	srv := newServer(cfg, buildHandler(cfg, rt))
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.Addr, "pid", os.Getpid(), "blob_backend", cfg.BlobBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func buildHandler(cfg *config.Config, rt *runtime) http.Handler {
	h := httpx.New(rt.svc, int64(cfg.MaxUploadBytes), rt.ready)
	h.DefaultExpireMinutes = cfg.DefaultExpireMinutes
	h.RevealBootstrapKey = cfg.RevealBootstrapKey
	h.Logger = rt.svc.Logger
	h.Metrics = metrics.Handler(rt.metrics, cfg.MetricsToken)
	return h.Router()
}

// newServer bounds header reads and idle connections. Bodies are not given a
// deadline since uploads and downloads may be large.
func newServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}
