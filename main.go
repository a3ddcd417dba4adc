package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Zachkp/about-me/internal/config"
	"github.com/Zachkp/about-me/internal/live"
	"github.com/Zachkp/about-me/internal/logging"
	"github.com/Zachkp/about-me/internal/store"
	"github.com/Zachkp/about-me/internal/views"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "about-me",
		Short:         "Personal site backend with a page-view counter",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(newServeCmd(), newViewsCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

// setup loads configuration, configures logging and opens the ledger store.
func setup(ctx context.Context) (*config.Config, store.Backend, error) {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Error("could not load config")
		return nil, nil, err
	}
	if err := logging.Setup(os.Stderr, cfg.LogLevel, cfg.LogFormat); err != nil {
		log.WithError(err).Error("could not configure logging")
		return nil, nil, err
	}

	backend, err := store.Open(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("could not open view store")
		return nil, nil, err
	}
	return cfg, backend, nil
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, backend, err := setup(ctx)
	if err != nil {
		return err
	}
	defer backend.Close()

	gin.SetMode(cfg.GinMode)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hub := live.NewHub()
	go hub.Run(ctx)

	tracker := views.NewTracker(backend,
		views.WithMetrics(views.NewMetrics(reg)),
		views.WithListener(hub),
	)

	// First run creates the ledger; a broken store is logged but not fatal.
	log.WithField("views", tracker.GetCount(ctx)).Info("view ledger ready")

	r := newRouter(&server{
		tracker:  tracker,
		backend:  backend,
		hub:      hub,
		identity: newIdentityResolver(cfg),
		registry: reg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Port).Info("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Error("could not start server")
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
		return err
	}

	log.Info("server exiting")
	return nil
}
