// Package app wires configured components into a runnable pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/cleared-dev/entrysync/internal/buildinfo"
	"github.com/cleared-dev/entrysync/internal/config"
	"github.com/cleared-dev/entrysync/internal/counter"
	"github.com/cleared-dev/entrysync/internal/encode"
	"github.com/cleared-dev/entrysync/internal/ledger"
	"github.com/cleared-dev/entrysync/internal/logging"
	"github.com/cleared-dev/entrysync/internal/pipeline"
	"github.com/cleared-dev/entrysync/internal/source"
	"github.com/cleared-dev/entrysync/internal/store"
	"github.com/cleared-dev/entrysync/internal/tracing"
	"github.com/cleared-dev/entrysync/internal/transport"
)

// Options adjust how New wires the application.
type Options struct {
	// BaseDir resolves relative paths in the config. Defaults to ".".
	BaseDir string
	// Source replaces the configured upstream database.
	Source source.Source
	// TraceWriter receives spans when tracing is enabled.
	TraceWriter io.Writer
}

// App holds every long-lived component of a configured deployment.
type App struct {
	Config   *config.Config
	Log      *logging.Logger
	DB       *gorm.DB
	Ledger   *ledger.Tracker
	Counters *counter.Store
	Source   source.Source
	Pipeline *pipeline.Pipeline
	Tracer   trace.Tracer

	closers []func() error
}

// OpenStore opens and migrates the ledger database.
func OpenStore(cfg *config.Config, baseDir string, log *logging.Logger) (*gorm.DB, error) {
	dsn := cfg.Database.DSN
	if cfg.Database.Driver == "sqlite" {
		dsn = Resolve(baseDir, dsn)
	}
	db, err := store.Open(cfg.Database.Driver, dsn, log)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(db, &ledger.SyncRecord{}, &counter.Counter{}); err != nil {
		_ = store.Close(db)
		return nil, err
	}
	return db, nil
}

// New builds the App. The caller must Close it.
func New(ctx context.Context, cfg *config.Config, log *logging.Logger, opts Options) (_ *App, err error) {
	if opts.BaseDir == "" {
		opts.BaseDir = "."
	}
	a := &App{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	start, err := cfg.Pipeline.StartDate()
	if err != nil {
		return nil, err
	}

	a.DB, err = OpenStore(cfg, opts.BaseDir, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { return store.Close(a.DB) })
	a.Ledger = ledger.NewTracker(a.DB, log)
	a.Counters = counter.NewStore(a.DB)

	a.Source = opts.Source
	if a.Source == nil {
		if cfg.Source.DSN == "" {
			return nil, errors.New("source.dsn (or ENTRYSYNC_SOURCE_DSN) is required")
		}
		pool, err := source.OpenPG(ctx, cfg.Source.DSN, cfg.Source.MaxConns)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		a.Source = source.NewPG(pool)
	}

	mailbox, closeMailbox, err := Mailbox(ctx, cfg.Transport, opts.BaseDir)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeMailbox)

	partners, err := Partners(cfg.Partners, encode.DefaultRegistry(), mailbox, opts.BaseDir)
	if err != nil {
		return nil, err
	}

	notifier, err := Notifier(cfg.Notify, log)
	if err != nil {
		return nil, err
	}

	locker, closeLocker, err := Locker(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeLocker)

	tp, shutdown, err := tracing.Setup(ctx, log, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     buildinfo.Version,
		Writer:      opts.TraceWriter,
	})
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}
	a.closers = append(a.closers, func() error { return shutdown(context.Background()) })
	a.Tracer = tracing.Tracer(tp)

	deps := pipeline.Deps{
		Source:   a.Source,
		Ledger:   a.Ledger,
		Counters: a.Counters,
		Notifier: notifier,
		Locker:   locker,
		Log:      log,
		Tracer:   a.Tracer,
	}
	if cfg.Pipeline.ArchiveDir != "" {
		deps.Archive = transport.DirMailbox{Root: Resolve(opts.BaseDir, cfg.Pipeline.ArchiveDir)}
	}
	if cfg.Pipeline.RunLogDir != "" {
		deps.RunLogDir = Resolve(opts.BaseDir, cfg.Pipeline.RunLogDir)
	}

	a.Pipeline = pipeline.New(pipeline.Options{
		SystemStartDate: start,
		MinLag:          cfg.Pipeline.MinLag,
		Workers:         cfg.Pipeline.Workers,
		SendTimeout:     cfg.Pipeline.SendTimeout,
		LockTTL:         cfg.Pipeline.LockTTL,
	}, partners, deps)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Resolve joins a relative path onto base. Absolute and empty paths pass through.
func Resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
