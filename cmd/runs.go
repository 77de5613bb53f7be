package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/listing-sync/internal/model"
	"github.com/sells-group/listing-sync/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the run log",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		region, _ := cmd.Flags().GetString("region")
		limit, _ := cmd.Flags().GetInt("limit")
		switch model.RunStatus(status) {
		case "", model.RunStatusRunning, model.RunStatusCompleted, model.RunStatusFailed:
		default:
			return eris.Errorf("runs list: unknown status %q", status)
		}

		runs, err := st.ListRuns(ctx, store.RunFilter{Status: model.RunStatus(status), Region: region, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No runs recorded.")
			return nil
		}
		formatRunsList(cmd.OutOrStdout(), runs)
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run with its per-unit breakdown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "runs show %s", args[0])
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(cmd.OutOrStdout(), run)
		}
		formatRunDetail(cmd.OutOrStdout(), run)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "only runs in this status (running, completed, failed)")
	runsListCmd.Flags().String("region", "", "only runs tagged with this region")
	runsListCmd.Flags().Int("limit", 20, "maximum runs to print")
	runsShowCmd.Flags().Bool("json", false, "print the stored run record as JSON")

	runsCmd.AddCommand(runsListCmd, runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList prints one line per run.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tREGION\tUNITS\tNEW\tPRICE\tSOLD\tERRORS\tUNWRITTEN\tSTARTED\tDURATION")
	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			truncateID(r.ID), r.Status, orDash(r.Region), len(r.Units),
			r.Counts.New, r.Counts.PriceChanged, r.Counts.Sold, r.Counts.Errors, r.Counts.Unwritten,
			r.StartedAt.UTC().Format("2006-01-02 15:04"), runDuration(r))
	}
	_ = w.Flush()
}

// formatRunDetail prints the run header followed by a table of unit reports.
func formatRunDetail(out io.Writer, r *model.Run) {
	_, _ = fmt.Fprintf(out, "run %s  %s  started %s  took %s\n",
		r.ID, r.Status, r.StartedAt.UTC().Format(time.RFC3339), runDuration(*r))
	_, _ = fmt.Fprintf(out, "new %d  active %d  price changed %d  sold %d  relisted %d  errors %d  unwritten %d\n\n",
		r.Counts.New, r.Counts.Updated, r.Counts.PriceChanged, r.Counts.Sold,
		r.Counts.Relisted, r.Counts.Errors, r.Counts.Unwritten)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "UNIT\tPROVIDER\tPAGES\tLISTINGS\tDROPPED\tSOLD CHECK\tRESULT")
	for _, u := range r.Details {
		result := "ok"
		switch {
		case u.Failed:
			result = "failed: " + strings.Join(u.Reasons, "; ")
		case !u.Complete:
			result = "partial"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%t\t%s\n",
			u.Unit, orDash(u.Provider), u.Pages, u.Listings, u.Dropped, u.SoldCheck, result)
	}
	_ = w.Flush()
}

func runDuration(r model.Run) string {
	if !r.Finished() {
		return "-"
	}
	return r.Duration.Round(time.Second).String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// truncateID shortens a run UUID to its first block.
func truncateID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
