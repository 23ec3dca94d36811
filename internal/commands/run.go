package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/entrysync/internal/app"
	"github.com/cleared-dev/entrysync/internal/pipeline"
)

func newRunCommand(configPath *string) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one export pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runOnce(ctx, cmd.OutOrStdout(), *configPath, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run result as JSON")
	return cmd
}

func runOnce(ctx context.Context, out io.Writer, configPath string, asJSON bool) error {
	cfg, baseDir, err := loadConfig(configPath)
	if err != nil {
		return err
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

	res, runErr := a.Pipeline.Run(ctx)
	if res != nil {
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
		} else {
			printResult(out, res)
		}
	}
	if runErr != nil {
		return runErr
	}
	if n := res.Count(pipeline.StatusFailed); n > 0 {
		return fmt.Errorf("%d entities failed to dispatch", n)
	}
	return nil
}

func printResult(out io.Writer, res *pipeline.Result) {
	fmt.Fprintf(out, "Run %s: selected %d, sent %d, skipped %d, failed %d\n",
		res.RunID, res.Selected, res.Count(pipeline.StatusSent),
		res.Count(pipeline.StatusSkipped), res.Count(pipeline.StatusFailed))
	if len(res.Outcomes) == 0 {
		return
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PARTNER\tENTITY\tENTRY\tSTATUS\tFILE\tDETAIL")
	for _, o := range res.Outcomes {
		detail := o.Reference
		if o.Error != "" {
			detail = o.Stage + ": " + o.Error
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n", o.Partner, o.EntityID, o.EntryNumber, o.Status, o.FileName, detail)
	}
	_ = tw.Flush()
}
