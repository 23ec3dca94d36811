package commands

import (
	"context"

	"gorm.io/gorm"

	"github.com/cleared-dev/entrysync/internal/app"
	"github.com/cleared-dev/entrysync/internal/config"
	"github.com/cleared-dev/entrysync/internal/store"
)

// withStore opens the state database named by the config and hands it to fn.
func withStore(ctx context.Context, configPath string, fn func(ctx context.Context, cfg *config.Config, db *gorm.DB) error) error {
	cfg, baseDir, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	db, err := app.OpenStore(cfg, baseDir, log)
	if err != nil {
		return err
	}
	defer store.Close(db)

	return fn(ctx, cfg, db)
}
