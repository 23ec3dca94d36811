package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/entrysync/internal/config"
)

func newInitCommand() *cobra.Command {
	var partner string
	var identifiers []string
	var format string

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new entrysync deployment",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			absDir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}

			return runInit(cmd, absDir, partner, format, identifiers)
		},
	}

	cmd.Flags().StringVar(&partner, "partner", "", "partner id (required)")
	_ = cmd.MarkFlagRequired("partner")
	cmd.Flags().StringSliceVar(&identifiers, "identifier", nil, "importer identifier codes belonging to the partner")
	cmd.Flags().StringVar(&format, "format", "fixed_width", "partner file format (fixed_width or xml)")

	return cmd
}

func runInit(cmd *cobra.Command, dir, partner, format string, identifiers []string) error {
	cfgPath := filepath.Join(dir, config.FileName)
	if _, err := os.Stat(cfgPath); err == nil {
		return fmt.Errorf("%s already exists", cfgPath)
	}

	cfg := config.Default(partner)
	cfg.Partners[0].Format = format
	if len(identifiers) > 0 {
		cfg.Partners[0].Identifiers = identifiers
	}

	dirs := []string{
		filepath.Join(cfg.Transport.Root, cfg.Transport.TestFolder),
		filepath.Join(cfg.Transport.Root, cfg.Transport.ProductionFolder),
		cfg.Pipeline.ArchiveDir,
		cfg.Pipeline.RunLogDir,
		"keys",
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	env := "# Secrets loaded at startup; values here override entrysync.yaml.\n" +
		"ENTRYSYNC_SOURCE_DSN=\n" +
		"ENTRYSYNC_DATABASE_DSN=\n" +
		"SENDGRID_API_KEY=\n" +
		"REDIS_ADDR=\n"
	if err := os.WriteFile(filepath.Join(dir, ".env.example"), []byte(env), 0o644); err != nil {
		return fmt.Errorf("writing .env.example: %w", err)
	}

	gitignore := ".env\n" + cfg.Database.DSN + "*\n" + cfg.Pipeline.ArchiveDir + "/\n" + cfg.Transport.Root + "/\n"
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(gitignore), 0o644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Initialized entrysync deployment at %s\n", dir)
	return nil
}
