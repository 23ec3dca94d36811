package commands

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/cleared-dev/entrysync/internal/config"
	"github.com/cleared-dev/entrysync/internal/counter"
)

func newCounterCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "counter",
		Short: "Inspect or seed batch counters",
	}
	cmd.AddCommand(newCounterShowCommand(configPath), newCounterSetCommand(configPath))
	return cmd
}

func newCounterShowCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show [name]",
		Short: "Show one counter or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), *configPath, func(ctx context.Context, _ *config.Config, db *gorm.DB) error {
				s := counter.NewStore(db)
				out := cmd.OutOrStdout()
				if len(args) == 1 {
					v, err := s.Current(ctx, args[0])
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%s\t%d\n", args[0], v)
					return nil
				}
				cs, err := s.List(ctx)
				if err != nil {
					return err
				}
				if len(cs) == 0 {
					fmt.Fprintln(out, "No counters.")
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tVALUE")
				for _, c := range cs {
					fmt.Fprintf(tw, "%s\t%d\n", c.Name, c.Value)
				}
				return tw.Flush()
			})
		},
	}
}

func newCounterSetCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "set <name> <value>",
		Short: "Overwrite a counter value",
		Long:  "Overwrite a counter value. The next batch number issued is value+1.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || value < 0 {
				return fmt.Errorf("invalid counter value %q", args[1])
			}
			return withStore(cmd.Context(), *configPath, func(ctx context.Context, _ *config.Config, db *gorm.DB) error {
				if err := counter.NewStore(db).Set(ctx, args[0], value); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Counter %s set to %d\n", args[0], value)
				return nil
			})
		},
	}
}
