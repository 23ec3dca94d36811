package commands

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/cleared-dev/entrysync/internal/config"
	"github.com/cleared-dev/entrysync/internal/ledger"
	"github.com/cleared-dev/entrysync/internal/logging"
)

func newLedgerCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the sync ledger",
	}
	cmd.AddCommand(newLedgerShowCommand(configPath), newLedgerRecentCommand(configPath))
	return cmd
}

func newLedgerShowCommand(configPath *string) *cobra.Command {
	var entityType string

	cmd := &cobra.Command{
		Use:   "show <entity-id>",
		Short: "Show sync records of one entity across partners",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid entity id %q", args[0])
			}
			return withStore(cmd.Context(), *configPath, func(ctx context.Context, _ *config.Config, db *gorm.DB) error {
				recs, err := ledger.NewTracker(db, logging.Nop()).ListForEntity(ctx, entityType, entityID)
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No sync records for %s %d.\n", entityType, entityID)
					return nil
				}
				printRecords(cmd.OutOrStdout(), recs)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&entityType, "type", ledger.EntityEntry, "entity type")
	return cmd
}

func newLedgerRecentCommand(configPath *string) *cobra.Command {
	var (
		partner string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List the most recently confirmed deliveries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			return withStore(cmd.Context(), *configPath, func(ctx context.Context, _ *config.Config, db *gorm.DB) error {
				recs, err := ledger.NewTracker(db, logging.Nop()).Recent(ctx, partner, limit)
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No confirmed deliveries.")
					return nil
				}
				printRecords(cmd.OutOrStdout(), recs)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&partner, "partner", "", "only show this trading partner")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of records")
	return cmd
}

func printRecords(out io.Writer, recs []ledger.SyncRecord) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTITY\tPARTNER\tSTATE\tBATCH\tFILE\tREFERENCE\tCONFIRMED")
	for _, r := range recs {
		confirmed := "-"
		if r.ConfirmedAt != nil {
			confirmed = r.ConfirmedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\t%s\n",
			r.EntityID, r.TradingPartner, r.State, r.BatchNumber, r.FileName, r.ExternalReference, confirmed)
	}
	_ = tw.Flush()
}
