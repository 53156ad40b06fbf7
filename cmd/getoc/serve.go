package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/OceanOptics/getOC/internal/api"
	"github.com/OceanOptics/getOC/internal/api/middleware"
	"github.com/OceanOptics/getOC/internal/provider/resilience"
)

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the image list resolve API",
		Long: `serve exposes POST /v1/image-lists, which resolves points of interest into
image lists without downloading, and the ops endpoints /v1/ops/health and
/v1/ops/providers.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd)
		},
	}
	f := cmd.Flags()
	f.String("addr", ":8080", "listen address")
	f.StringSlice("allowed-origin", nil, "CORS origin allowed to call the API (repeatable)")
	f.DurationP("delay", "d", time.Second, "delay between Ocean-Color Browser queries")
	return cmd
}

func (a *app) serve(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if err := a.setup(ctx, cmd); err != nil {
		return err
	}
	defer a.shutdown()

	metrics, err := middleware.NewMetrics()
	if err != nil {
		return err
	}

	health := resilience.NewRegistry()
	platforms := newPlatformRegistry(platformDeps{
		run:    a.cfg,
		logger: a.logger,
		health: health,
	})

	router := api.NewRouter(api.RouterConfig{
		Version:        Version,
		Logger:         a.logger,
		Platforms:      platforms,
		Health:         health,
		Metrics:        metrics,
		AllowedOrigins: a.cfg.Serve.AllowedOrigins,
		ResolveTimeout: a.cfg.Serve.ResolveTimeout,
	})

	server := &http.Server{
		Addr:              a.cfg.Serve.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      a.cfg.Serve.ResolveTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("server forced to shutdown")
		return err
	}

	a.logger.Info().Msg("server stopped")
	return nil
}
