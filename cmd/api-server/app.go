package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"orderbroker/db"
	"orderbroker/db/migrations"
	"orderbroker/internal/catalog"
	"orderbroker/internal/classifier"
	"orderbroker/internal/config"
	"orderbroker/internal/logger"
	"orderbroker/internal/notify"
	"orderbroker/internal/queue"
	"orderbroker/internal/service"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// app собранные зависимости процесса
type app struct {
	cfg       *config.FileConfig
	logger    *slog.Logger
	store     db.Store
	catalog   *catalog.Catalog
	services  *service.Services
	processor *queue.Processor
	closers   []func() error
}

func buildApp(ctx context.Context, cfg *config.FileConfig) (*app, error) {
	a := &app{cfg: cfg, logger: logger.Init(cfg.LogLevel)}

	switch cfg.Storage {
	case "postgres":
		conn, err := sqlx.ConnectContext(ctx, "postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("cannot connect to DB: %w", err)
		}
		a.closers = append(a.closers, conn.Close)
		if cfg.RunMigrations {
			if err := migrations.Run(conn.DB); err != nil {
				a.Close()
				return nil, err
			}
		}
		a.store = db.NewStorage(conn)
	default:
		a.logger.Warn("using in-memory storage, data is lost on restart")
		a.store = db.NewMemoryStorage()
	}

	cat, err := catalog.Load(cfg.CategoriesPath)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.catalog = cat

	var notifier notify.Notifier = notify.NewLog(a.logger)
	if cfg.RedisAddr != "" {
		r, err := notify.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.NotifyChannelPrefix, a.logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, r.Close)
		notifier = r
	}

	a.services = service.New(a.store, cat, notifier, service.Settings{
		CommissionRate: cfg.CommissionRate,
		BidTTL:         cfg.BidTTL(),
		RequestTTL:     cfg.RequestTTL(),
		MinConfidence:  cfg.AI.MinConfidence,
	}, a.logger)

	cls, err := classifier.New(classifier.Config{
		Provider:          cfg.AI.Provider,
		Model:             cfg.AI.Model,
		APIKey:            cfg.AI.APIKey,
		BaseURL:           cfg.AI.BaseURL,
		Timeout:           cfg.AITimeout(),
		RequestsPerMinute: cfg.AI.RequestsPerMinute,
		CostPer1KTokens:   cfg.AI.CostPer1KTokens,
	}, a.logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.processor = queue.NewProcessor(a.store, cls, cat, a.services.Requests, queue.Options{
		MaxAttempts: cfg.Queue.MaxAttempts,
		Concurrency: cfg.Queue.Concurrency,
		BackoffBase: cfg.Queue.BackoffBase(),
		BackoffMax:  cfg.Queue.BackoffMax(),
		StaleAfter:  cfg.Queue.StaleAfter(),
	}, a.logger)

	a.logger.Info("application initialised",
		"storage", cfg.Storage,
		"ai_provider", cls.Provider(),
		"ai_model", cls.Model(),
		"categories", cat.Len(),
		"redis", cfg.RedisAddr != "",
	)
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
