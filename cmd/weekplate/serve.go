package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/weekplate/internal/app"
	"github.com/dukerupert/weekplate/internal/config"
	"github.com/dukerupert/weekplate/internal/logging"
)

func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.Setup(cfg.Log.Level, cfg.Log.Format), nil
}

func newServeCommand() *cobra.Command {
	var noWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with an embedded worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(!noWorker)
		},
	}
	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "Do not process generation jobs in this process")
	return cmd
}

func runServe(withWorker bool) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	a.Server.StartMaintenance(ctx, time.Hour)
	if withWorker {
		a.Worker.Start(ctx)
		defer a.Worker.Stop()
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      a.Server.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("weekplate listening", "addr", httpServer.Addr, "worker", withWorker)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Process generation jobs without serving HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			a.Worker.Start(ctx)
			logger.Info("worker started", "concurrency", cfg.Worker.Concurrency)
			<-ctx.Done()

			logger.Info("stopping worker")
			a.Worker.Stop()
			return nil
		},
	}
}
