package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/entrysync/internal/app"
	"github.com/cleared-dev/entrysync/internal/lock"
	"github.com/cleared-dev/entrysync/internal/logging"
	"github.com/cleared-dev/entrysync/internal/pipeline"
	"github.com/cleared-dev/entrysync/internal/server"
)

func newServeCommand(configPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline on an interval and serve ops endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, *configPath, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServe(ctx context.Context, configPath, addr string) error {
	cfg, baseDir, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.Server.Addr
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	a, err := app.New(ctx, cfg, log, app.Options{BaseDir: baseDir})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancelRuns := context.WithCancel(ctx)
	defer cancelRuns()

	srv := server.New(a.Pipeline, a.Ledger, log)
	errc := make(chan error, 1)
	go func() { errc <- srv.Start(addr) }()

	interval := cfg.Pipeline.RunInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		schedule(ctx, log, a.Pipeline, interval)
	}()

	select {
	case <-ctx.Done():
	case err = <-errc:
		if err != nil {
			err = fmt.Errorf("server: %w", err)
		}
	}

	log.Info("shutting down")
	cancelRuns()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.SendTimeout+10*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Warn("server shutdown", "error", serr)
	}
	<-done
	return err
}

type runner interface {
	Run(ctx context.Context) (*pipeline.Result, error)
}

// schedule runs p immediately and then every interval until ctx ends.
func schedule(ctx context.Context, log *logging.Logger, p runner, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := p.Run(ctx); err != nil {
			if errors.Is(err, lock.ErrLocked) {
				log.Info("skipping scheduled run; another run holds the lock")
			} else if ctx.Err() == nil {
				log.Error("scheduled run failed", "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
