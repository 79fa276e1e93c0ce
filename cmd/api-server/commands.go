package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"orderbroker/db/migrations"
	"orderbroker/internal/handlers"
	"orderbroker/internal/metrics"
	"orderbroker/internal/queue"
	"orderbroker/internal/scheduler"

	"github.com/spf13/cobra"
)

const sweepBatch = 100

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		sched, err := newScheduler(a)
		if err != nil {
			return err
		}

		metrics.Register()
		h := handlers.NewHandler(a.services, a.processor, a.catalog, cfg.Queue.BatchSize, a.logger)
		// ручной проход очереди не пересекается с плановым
		h.Tasks = sched
		srv := &http.Server{
			Addr:              cfg.Port,
			Handler:           handlers.NewRouter(h, cfg.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := sched.Run(ctx); err != nil {
				a.logger.Error("scheduler stopped", "err", err)
			}
		}()

		errCh := make(chan error, 1)
		go func() {
			a.logger.Info("starting server", "addr", cfg.Port)
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func newScheduler(a *app) (*scheduler.Scheduler, error) {
	s := scheduler.New(a.logger)
	sweep := a.cfg.SweepInterval()
	tasks := []scheduler.Task{
		{
			Name:     queue.DrainTask,
			Interval: a.cfg.Queue.Interval(),
			Run: func(ctx context.Context) error {
				_, err := a.processor.Drain(ctx, a.cfg.Queue.BatchSize)
				return err
			},
		},
		{
			Name:     "stale-recovery",
			Interval: sweep,
			Run: func(ctx context.Context) error {
				_, err := a.processor.RecoverStale(ctx)
				return err
			},
		},
		{
			Name:     "bid-expiry",
			Interval: sweep,
			Run: func(ctx context.Context) error {
				_, err := a.services.Bids.ExpireDue(ctx, sweepBatch)
				return err
			},
		},
		{
			Name:     "request-expiry",
			Interval: sweep,
			Run: func(ctx context.Context) error {
				_, err := a.services.Requests.ExpireDue(ctx, sweepBatch)
				return err
			},
		},
	}
	for _, t := range tasks {
		if err := s.Add(t); err != nil {
			return nil, err
		}
	}
	return s, nil
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return errors.New("databaseURL (DATABASE_URL or POSTGRES_CONN) is not set")
		}
		if err := migrations.Open(cfg.DatabaseURL); err != nil {
			return err
		}
		cmd.Println("migrations applied")
		return nil
	},
}

var drainBatch int

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Process one batch of the categorization queue and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := buildApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		batch := drainBatch
		if batch <= 0 {
			batch = cfg.Queue.BatchSize
		}
		summary, err := a.processor.Drain(cmd.Context(), batch)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

var retryFailedCmd = &cobra.Command{
	Use:   "retry-failed",
	Short: "Make permanently failed queue items eligible again",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := buildApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.processor.RetryFailed(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d items reset to pending\n", n)
		return nil
	},
}

func init() {
	drainCmd.Flags().IntVar(&drainBatch, "batch", 0, "batch size (defaults to queue.batchSize)")
}
