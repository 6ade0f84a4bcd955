package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/awmpietro/golang-cascade-escalation/internal/store"
)

func RunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect stored cascade runs",
	}
	cmd.PersistentFlags().String("db", "", "SQLite database holding the runs")

	list := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			limit, _ := cmd.Flags().GetInt("limit")
			runs, err := st.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(w, "No runs found.")
				return nil
			}

			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCASCADE\tSTATUS\tTIER\tCREATED")
			fmt.Fprintln(tw, "--\t-------\t------\t----\t-------")
			for _, r := range runs {
				tier := r.Tier
				if tier == "" {
					tier = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Cascade, r.Status, tier, r.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	list.Flags().Int("limit", 20, "max runs to list, 0 for all")

	show := &cobra.Command{
		Use:   "show [run-id]",
		Short: "Show a run with its history and audit events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			run, err := st.Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("run %s: %w", args[0], err)
			}
			evs, err := st.Events(cmd.Context(), run.CorrelationID)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return printJSON(w, map[string]any{"run": run, "events": evs})
			}

			fmt.Fprintf(w, "Run: %s\n", idColor.Sprint(run.ID))
			fmt.Fprintf(w, "Cascade: %s\n", run.Cascade)
			fmt.Fprintf(w, "Status: %s\n", statusText(run.Status))
			fmt.Fprintf(w, "Correlation: %s\n", run.CorrelationID)
			if run.Error != "" {
				fmt.Fprintf(w, "Error: %s\n", run.Error)
			}
			fmt.Fprintln(w, "History:")
			printHistory(w, run.History, nil)
			fmt.Fprintf(w, "Events: %d\n", len(evs))
			for _, ev := range evs {
				line := fmt.Sprintf("  %s %-10s %-10s %s", ev.When.Format("15:04:05.000"), ev.What, ev.How.Status, ev.Who)
				if ev.Why != "" {
					line += " (" + ev.Why + ")"
				}
				fmt.Fprintln(w, line)
			}
			return nil
		},
	}
	show.Flags().Bool("json", false, "print the run as JSON")

	cmd.AddCommand(list, show)
	return cmd
}

func openStore(cmd *cobra.Command) (*store.SQLite, error) {
	db, _ := cmd.Flags().GetString("db")
	if db == "" {
		return nil, fmt.Errorf("--db is required")
	}
	return store.OpenSQLite(cmd.Context(), db)
}
