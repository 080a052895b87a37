package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	pergolahttp "github.com/aretw0/pergola/pkg/adapters/http"
)

// NewServeHandler mounts the thread API and the metrics endpoint.
func NewServeHandler(app *App) http.Handler {
	r := chi.NewRouter()
	if path := app.Config.Server.MetricsPath; path != "" {
		r.Handle(path, promhttp.HandlerFor(app.Metrics, promhttp.HandlerOpts{}))
	}
	r.Mount("/", pergolahttp.NewHandler(app.Engine, pergolahttp.WithLogger(app.Logger)))
	return r
}

// Serve runs the HTTP server until ctx is cancelled.
func Serve(ctx context.Context, app *App, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewServeHandler(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)

	lifecycle.Go(ctx, func(ctx context.Context) error {
		app.Logger.Info("HTTP server listening", "address", addr, "graph", app.Engine.Graph().Name())
		serverErrors <- srv.ListenAndServe()
		return nil
	})

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		app.Logger.Info("shutdown signal received, stopping HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return fmt.Errorf("graceful shutdown did not complete: %w", err)
		}
		return nil
	}
}
