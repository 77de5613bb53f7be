package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/listing-sync/internal/model"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Show configured routes with their live counters and weights",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		pool, closePool, err := buildRoutePool(ctx, cfg)
		if err != nil {
			return err
		}
		defer closePool()

		routes := pool.Snapshot(ctx)
		if len(routes) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No routes configured; requests go direct.")
			return nil
		}
		formatRoutes(cmd.OutOrStdout(), routes, cfg.Routes.MaxFailures)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(routesCmd)
}

// formatRoutes writes a table of routes. Credentials are never printed.
func formatRoutes(out io.Writer, routes []model.Route, maxFailures int) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tREGION\tENDPOINT\tRELIABILITY\tOK\tFAIL\tWEIGHT\tSTATE")
	_, _ = fmt.Fprintln(w, "--\t------\t--------\t-----------\t--\t----\t------\t-----")
	for _, r := range routes {
		state := "eligible"
		if maxFailures > 0 && r.Failures >= maxFailures {
			state = "excluded"
		}
		endpoint := r.Endpoint
		if r.Direct() {
			endpoint = "direct"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%d\t%d\t%.2f\t%s\n",
			r.ID, r.Region, endpoint, r.Reliability, r.Successes, r.Failures, r.Weight(), state)
	}
	_ = w.Flush()
}
