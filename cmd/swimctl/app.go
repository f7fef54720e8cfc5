package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/swimctl/swimctl/config"
	"github.com/swimctl/swimctl/internal/ingest"
	"github.com/swimctl/swimctl/internal/queue/streams"
	"github.com/swimctl/swimctl/internal/runtime"
	"github.com/swimctl/swimctl/internal/store"
)

// app holds the dependencies shared by every subcommand.
type app struct {
	cfg   *config.Config
	store *store.Store
	tel   *runtime.Telemetry
	rdb   *redis.Client
}

func bootstrap(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	tel, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, runtime.TelemetryOptions{ServiceVersion: version})
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, tel: tel}

	storeLogger := log.New(log.Writer(), "[STORE] ", log.LstdFlags)
	st, err := store.Open(ctx, cfg.Storage.Driver, cfg.Storage.Target(), storeLogger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}
	a.store = st

	if cfg.Storage.Redis.Enabled {
		r := cfg.Storage.Redis
		a.rdb = redis.NewClient(&redis.Options{Addr: r.Addr(), Password: r.Password, DB: r.DB})
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis connection failed (%s): %w", r.Addr(), err)
		}
	}
	return a, nil
}

func (a *app) pipeline() *ingest.Pipeline {
	opts := []ingest.Option{
		ingest.WithPreviewCount(previewCount(a.cfg)),
		ingest.WithMeter(a.tel.Meter),
		ingest.WithTracer(a.tel.Tracer),
	}
	if a.rdb != nil {
		r := a.cfg.Storage.Redis
		opts = append(opts, ingest.WithPublisher(streams.NewFlightPublisher(streams.NewPublisher(a.rdb), r.Stream, r.MaxLen)))
	}
	logger := log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	return ingest.NewPipeline(logger, a.store, opts...)
}

// previewCount is the number of parsed records logged per run; previews are
// [DEBUG] lines and only appear at log_level debug.
func previewCount(cfg *config.Config) int {
	if !cfg.General.Debug() {
		return 0
	}
	return cfg.Feed.PreviewCount
}

func (a *app) job() *ingest.Job {
	return &ingest.Job{
		Pipeline:   a.pipeline(),
		Path:       a.cfg.Feed.XMLPath,
		MarkerPath: a.cfg.Feed.LastSuccessPath,
	}
}

func (a *app) lastSuccess() (time.Time, bool) {
	t, ok, err := ingest.ReadLastSuccess(a.cfg.Feed.LastSuccessPath)
	if err != nil {
		log.Printf("[WARN] unreadable last success marker: %v", err)
		return time.Time{}, false
	}
	return t, ok
}

func (a *app) Close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.tel.Shutdown(ctx)
}
