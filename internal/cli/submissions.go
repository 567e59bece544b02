package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"dtp-claims/internal/domain"
	"dtp-claims/internal/publisher"
	"dtp-claims/internal/storage"
)

func newSubmissionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submissions",
		Short: "Inspect and reconcile the submission journal (needs --postgres-dsn)",
	}

	var runID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List journaled submissions of a run, or the unresolved ones of --chain-id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withJournal(cmd, func(ctx context.Context, rt *runtime, journal storage.SubmissionStore) error {
				var (
					subs []*domain.Submission
					err  error
				)
				if runID != "" {
					subs, err = journal.GetByRun(ctx, runID)
				} else {
					subs, err = journal.GetUnresolved(ctx, rt.chainID)
				}
				if err != nil {
					return err
				}
				return writeSubmissions(cmd.OutOrStdout(), subs)
			})
		},
	}
	list.Flags().StringVar(&runID, "run", "", "run id printed by create-claims")

	get := &cobra.Command{
		Use:   "get <tx-hash>",
		Short: "Print one journaled submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withJournal(cmd, func(ctx context.Context, rt *runtime, journal storage.SubmissionStore) error {
				s, err := journal.Get(ctx, rt.chainID, common.HexToHash(args[0]))
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("no submission %s on chain %d", args[0], rt.chainID)
				}
				if err != nil {
					return err
				}
				return writeSubmissions(cmd.OutOrStdout(), []*domain.Submission{s})
			})
		},
	}

	reconcile := &cobra.Command{
		Use:   "reconcile",
		Short: "Re-query unresolved submissions and record their outcome",
		Long: `Look up the receipt of every journaled submission on --chain-id whose
outcome is unknown (pending, timed out or cancelled). Mined transactions are
marked confirmed or reverted. Nothing is resubmitted; the still-unresolved
submissions are printed so they can be handled before publishing again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withJournal(cmd, func(ctx context.Context, rt *runtime, journal storage.SubmissionStore) error {
				client := publisher.NewClient(rt.resolver, rt.conn, publisher.Options{
					Logger:  rt.logger,
					Journal: journal,
				})
				open, err := client.Reconcile(ctx, rt.chainID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d submission(s) still unresolved\n", len(open))
				if len(open) == 0 {
					return nil
				}
				return writeSubmissions(cmd.OutOrStdout(), open)
			})
		},
	}

	cmd.AddCommand(list, get, reconcile)
	return cmd
}

func (a *app) withJournal(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime, journal storage.SubmissionStore) error) error {
	rt, err := a.runtime()
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, cancel := a.commandContext(cmd.Context(), true)
	defer cancel()

	journal, err := a.journal(ctx, rt)
	if err != nil {
		return err
	}
	if journal == nil {
		return fmt.Errorf("the submission journal needs --%s", keyPostgresDSN)
	}
	return fn(ctx, rt, journal)
}

func writeSubmissions(out io.Writer, subs []*domain.Submission) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TX\tSTATUS\tBLOCK\tCLAIMS\tFROM\tRUN\tSUBMITTED")
	for _, s := range subs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			s.TxHash.Hex(), s.Status, s.BlockNumber, s.ClaimCount, s.From.Hex(), s.RunID,
			time.UnixMilli(s.SubmittedAt).UTC().Format(time.RFC3339))
	}
	return w.Flush()
}
