// Command bursar serves the fee billing API and chat endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/api"
	audithook "github.com/xraph/bursar/audit_hook"
	"github.com/xraph/bursar/config"
	"github.com/xraph/bursar/directory"
	"github.com/xraph/bursar/entitymem"
	"github.com/xraph/bursar/notify"
	"github.com/xraph/bursar/observability"
	"github.com/xraph/bursar/reminder"
	"github.com/xraph/bursar/resolver"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/store/memory"
	"github.com/xraph/bursar/store/mongo"
	"github.com/xraph/bursar/store/postgres"
	"github.com/xraph/bursar/store/sqlite"
	"github.com/xraph/bursar/understanding"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "bursar:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
	}

	dir := directory.NewStatic()
	if cfg.Directory.File != "" {
		if dir, err = directory.LoadSeedFile(cfg.Directory.File); err != nil {
			return err
		}
	}
	students := directory.NewCachedStudents(dir, 1000, cfg.Directory.CacheTTL)
	classes := directory.NewCachedClasses(dir.ClassDirectory(), 1000, cfg.Directory.CacheTTL)

	var notifier notify.Notifier = notify.NewLogger(logger)
	if cfg.Notify.Backend == "redis" {
		notifier = notify.Multi{notifier, notify.NewRedis(rdb, cfg.Notify.Channel)}
	}

	metrics := observability.NewPrometheusFactory(nil)
	audit := audithook.New(audithook.RecorderFunc(func(_ context.Context, ev *audithook.AuditEvent) error {
		logger.Info("audit",
			"action", ev.Action,
			"resource", ev.Resource,
			"resource_id", ev.ResourceID,
			"school_id", ev.SchoolID,
			"outcome", ev.Outcome,
		)
		return nil
	}), audithook.WithLogger(logger))

	b := bursar.New(st,
		bursar.WithLogger(logger),
		bursar.WithStudents(students),
		bursar.WithNotifier(notifier),
		bursar.WithCurrency(cfg.Engine.Currency),
		bursar.WithDueDays(cfg.Engine.DueDays),
		bursar.WithPlugin(observability.NewMetricsExtension(metrics)),
		bursar.WithPlugin(audit),
	)
	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer func() {
		if err := b.Stop(); err != nil {
			logger.Error("stop engine", "error", err)
		}
	}()

	var mem entitymem.Store
	switch cfg.Memory.Backend {
	case "redis":
		mem = entitymem.NewRedis(rdb, cfg.Memory.TTL)
	default:
		mem = entitymem.NewMemory(cfg.Memory.Size, cfg.Memory.TTL)
	}

	ropts := []resolver.Option{
		resolver.WithDirectory(students, classes, dir),
		resolver.WithLogger(logger),
	}
	if cfg.Understanding.Enabled() {
		ropts = append(ropts, resolver.WithUnderstanding(understanding.NewOpenAI(understanding.Config{
			BaseURL: cfg.Understanding.BaseURL,
			APIKey:  cfg.Understanding.APIKey,
			Model:   cfg.Understanding.Model,
			Timeout: cfg.Understanding.Timeout,
			Intents: resolver.IntentNames(),
		}, logger)))
	}
	res := resolver.New(b, mem, ropts...)

	if cfg.Reminder.Enabled {
		sched := reminder.New(b, notifier, reminder.Config{
			Schedule:    cfg.Reminder.Schedule,
			Schools:     cfg.Reminder.Schools,
			OverdueOnly: cfg.Reminder.OverdueOnly,
		}, reminder.WithTerms(dir), reminder.WithLogger(logger))
		if err := sched.Start(); err != nil {
			return err
		}
		defer sched.Stop()
	}

	hopts := []api.Option{api.WithResolver(res), api.WithLogger(logger)}
	if cfg.Server.Metrics {
		hopts = append(hopts, api.WithMetrics(metrics))
	}
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.New(b, hopts...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("bursar listening", "addr", cfg.Server.Addr, "store", cfg.Store.Driver)
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

	logger.Info("bursar shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(cfg config.LogConfig) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return sqlite.Open(ctx, cfg.DSN)
	case "postgres":
		return postgres.Open(ctx, cfg.DSN)
	case "mongo":
		return mongo.Open(ctx, cfg.DSN, cfg.Database)
	default:
		return memory.New(), nil
	}
}
