package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/entrysync/internal/buildinfo"
	"github.com/cleared-dev/entrysync/internal/config"
	"github.com/cleared-dev/entrysync/internal/logging"
)

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     "entrysync",
		Short:   "Customs entry billing export pipeline",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", buildinfo.Version, buildinfo.Commit, buildinfo.Date),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.FileName, "path to entrysync.yaml")

	rootCmd.AddCommand(
		newInitCommand(),
		newRunCommand(&configPath),
		newServeCommand(&configPath),
		newPreviewCommand(&configPath),
		newLedgerCommand(&configPath),
		newCounterCommand(&configPath),
		newRunsCommand(&configPath),
	)

	return rootCmd
}

// loadConfig reads, overlays the environment and validates the config.
// It returns the directory relative paths resolve against.
func loadConfig(path string) (*config.Config, string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, "", fmt.Errorf("resolving path: %w", err)
	}
	cfg, err := config.Load(abs)
	if err != nil {
		return nil, "", err
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, filepath.Dir(abs), nil
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	return logging.New(cfg.Logging.Mode)
}
