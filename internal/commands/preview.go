package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cleared-dev/entrysync/internal/app"
	"github.com/cleared-dev/entrysync/internal/config"
	"github.com/cleared-dev/entrysync/internal/encode"
	"github.com/cleared-dev/entrysync/internal/report"
	"github.com/cleared-dev/entrysync/internal/rollup"
	"github.com/cleared-dev/entrysync/internal/source"
)

type previewOptions struct {
	entryID     int64
	partnerID   string
	format      string
	outPath     string
	fixturePath string
	batch       int64
}

func newPreviewCommand(configPath *string) *cobra.Command {
	var opts previewOptions

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Render an entry's partner file without dispatching it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreview(cmd.Context(), cmd.OutOrStdout(), *configPath, opts)
		},
	}
	cmd.Flags().Int64Var(&opts.entryID, "entry", 0, "upstream entry id (required)")
	_ = cmd.MarkFlagRequired("entry")
	cmd.Flags().StringVar(&opts.partnerID, "partner", "", "partner id (defaults to the first partner)")
	cmd.Flags().StringVar(&opts.format, "format", "", "fixed_width, xml or xlsx (defaults to the partner format)")
	cmd.Flags().StringVarP(&opts.outPath, "out", "o", "", "write to a file instead of stdout")
	cmd.Flags().StringVar(&opts.fixturePath, "fixture", "", "read entries from a YAML fixture file instead of the source database")
	cmd.Flags().Int64Var(&opts.batch, "batch", 0, "batch number to render")
	return cmd
}

func runPreview(ctx context.Context, stdout io.Writer, configPath string, opts previewOptions) error {
	cfg, baseDir, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	pc := cfg.Partners[0]
	if opts.partnerID != "" {
		var ok bool
		if pc, ok = cfg.Partner(opts.partnerID); !ok {
			return fmt.Errorf("unknown partner %q", opts.partnerID)
		}
	}
	format := opts.format
	if format == "" {
		format = pc.Format
	}
	if format == "xlsx" && opts.outPath == "" {
		return fmt.Errorf("xlsx previews need --out")
	}

	src, closeSrc, err := previewSource(ctx, cfg, opts.fixturePath)
	if err != nil {
		return err
	}
	defer closeSrc()

	entry, err := src.LoadEntry(ctx, opts.entryID)
	if err != nil {
		return err
	}
	decl, err := rollup.BuildDeclaration(entry, rollup.Options{
		BrokerID:    pc.BrokerID,
		PrefixDigit: pc.PrefixDigit(),
		BatchNumber: opts.batch,
	})
	if err != nil {
		return err
	}

	out := stdout
	if opts.outPath != "" {
		f, err := os.Create(opts.outPath)
		if err != nil {
			return fmt.Errorf("creating %s: %w", opts.outPath, err)
		}
		defer f.Close()
		out = f
	}

	if format == "xlsx" {
		return report.Write(out, entry, decl)
	}
	partners, err := app.Partners([]config.PartnerConfig{pc}, encode.DefaultRegistry(), nil, baseDir)
	if err != nil {
		return err
	}
	p := partners[0]
	enc, err := encode.DefaultRegistry().Lookup(format)
	if err != nil {
		return err
	}
	data, err := enc.Encode(decl, p.Settings)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

// previewSource opens the fixture file when given, else the source database.
func previewSource(ctx context.Context, cfg *config.Config, fixturePath string) (source.Source, func(), error) {
	if fixturePath != "" {
		fixtures, err := loadFixtures(fixturePath)
		if err != nil {
			return nil, nil, err
		}
		return source.NewMemory(fixtures...), func() {}, nil
	}
	if cfg.Source.DSN == "" {
		return nil, nil, fmt.Errorf("source.dsn (or ENTRYSYNC_SOURCE_DSN) is required without --fixture")
	}
	pool, err := source.OpenPG(ctx, cfg.Source.DSN, cfg.Source.MaxConns)
	if err != nil {
		return nil, nil, err
	}
	return source.NewPG(pool), pool.Close, nil
}

func loadFixtures(path string) ([]source.Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture: %w", err)
	}
	var doc struct {
		Entries []source.Fixture `yaml:"entries"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing fixture: %w", err)
	}
	return doc.Entries, nil
}
