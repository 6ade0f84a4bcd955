package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/awmpietro/golang-cascade-escalation/internal/cascade"
	"github.com/awmpietro/golang-cascade-escalation/internal/pipeline"
	"github.com/awmpietro/golang-cascade-escalation/internal/store"
)

func RenderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print a pipeline as Graphviz DOT, optionally colored by a stored run",
		Example: `  cascadectl render --pipeline approval.dot | dot -Tsvg > approval.svg
  cascadectl render --pipeline approval.dot --run 1b9d... --db runs.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("pipeline")
			dot, err := readPipeline(path)
			if err != nil {
				return err
			}
			p, err := pipeline.NewCompiler().Compile(dot)
			if err != nil {
				return fmt.Errorf("compile pipeline: %w", err)
			}

			var history []cascade.TierRecord
			if runID, _ := cmd.Flags().GetString("run"); runID != "" {
				db, _ := cmd.Flags().GetString("db")
				if db == "" {
					return fmt.Errorf("--run needs --db")
				}
				st, err := store.OpenSQLite(cmd.Context(), db)
				if err != nil {
					return err
				}
				defer st.Close() //nolint:errcheck
				run, err := st.Get(cmd.Context(), runID)
				if err != nil {
					return fmt.Errorf("run %s: %w", runID, err)
				}
				history = run.History
			}

			out, err := pipeline.Render(p, history)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().String("pipeline", "", "DOT pipeline file")
	cmd.Flags().String("run", "", "stored run whose outcome colors the tiers")
	cmd.Flags().String("db", "", "SQLite database holding the run")
	return cmd
}
