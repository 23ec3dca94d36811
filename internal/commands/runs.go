package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/entrysync/internal/app"
	"github.com/cleared-dev/entrysync/internal/runlog"
)

func newRunsCommand(configPath *string) *cobra.Command {
	var entityID int64

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show the run journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, baseDir, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			entries, err := runlog.Read(app.Resolve(baseDir, cfg.Pipeline.RunLogDir))
			if err != nil {
				return err
			}
			if entityID != 0 {
				entries = runlog.ForEntity(entries, entityID)
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tRUN\tPARTNER\tENTITY\tSTATUS\tFILE\tDETAIL")
			for _, e := range entries {
				detail := e.Reference
				if e.Details != "" {
					detail = e.Details
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
					e.Timestamp.UTC().Format(time.RFC3339), e.RunID, e.Partner, e.EntityID, e.Status, e.FileName, detail)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Int64Var(&entityID, "entity", 0, "only show one entity")
	return cmd
}
