package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/soyeahso/tally/internal/engine"
	"github.com/soyeahso/tally/internal/store"
	"github.com/spf13/cobra"
)

func newReceiptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receipts",
		Short: "Inspect the receipt ledger",
	}

	cmd.AddCommand(newReceiptsListCmd())
	cmd.AddCommand(newReceiptsSummaryCmd())
	return cmd
}

func newReceiptsListCmd() *cobra.Command {
	var (
		conversation string
		since        time.Duration
		limit        int
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List journaled receipts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, ok, err := openLedger(cmd)
			if err != nil || !ok {
				return err
			}
			defer db.Close()

			filter := store.ListFilter{Conversation: conversation, Limit: limit}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			receipts, err := db.ListReceipts(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), receipts)
			}
			printReceipts(cmd.OutOrStdout(), receipts)
			return nil
		},
	}

	cmd.Flags().StringVar(&conversation, "conversation", "", "only this conversation (e.g. telegram:42)")
	cmd.Flags().DurationVar(&since, "since", 0, "only receipts newer than this (e.g. 24h)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of receipts")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")

	return cmd
}

func newReceiptsSummaryCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show receipt counts and totals per conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, ok, err := openLedger(cmd)
			if err != nil || !ok {
				return err
			}
			defer db.Close()

			summaries, err := db.Summaries(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), summaries)
			}
			printSummaries(cmd.OutOrStdout(), summaries)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

// openLedger opens the configured ledger. It reports ok=false, after
// telling the user, when no ledger file exists yet.
func openLedger(cmd *cobra.Command) (*store.DB, bool, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, false, err
	}

	path := paths.LedgerPath(cfg.Ledger)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(cmd.OutOrStdout(), "No ledger at %s", path)
		if !cfg.Ledger.Enabled {
			fmt.Fprint(cmd.OutOrStdout(), " (ledger.enabled is false)")
		}
		fmt.Fprintln(cmd.OutOrStdout())
		return nil, false, nil
	}

	db, err := store.Open(cmd.Context(), path, log)
	if err != nil {
		return nil, false, err
	}
	return db, true, nil
}

func printReceipts(w io.Writer, receipts []store.Receipt) {
	if len(receipts) == 0 {
		fmt.Fprintln(w, "No receipts.")
		return
	}
	for i, r := range receipts {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s  %s  total %s",
			r.CommittedAt.Local().Format(time.DateTime), r.Conversation, engine.FormatAmount(r.Total))
		if r.SessionTotal.Valid {
			fmt.Fprintf(w, "  (session %s)", engine.FormatAmount(r.SessionTotal.Decimal))
		}
		fmt.Fprintln(w)
		for _, it := range r.Items {
			fmt.Fprintf(w, "    %s - %s\n", it.Name, engine.FormatAmount(it.Price))
		}
	}
}

func printSummaries(w io.Writer, summaries []store.ConversationSummary) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No receipts.")
		return
	}
	for _, s := range summaries {
		fmt.Fprintf(w, "%-32s %4d receipts %5d items  total %s  last %s\n",
			s.Conversation, s.Receipts, s.Items, engine.FormatAmount(s.Total),
			s.LastAt.Local().Format(time.DateTime))
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
