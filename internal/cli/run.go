package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/awmpietro/golang-cascade-escalation/internal/app"
	"github.com/awmpietro/golang-cascade-escalation/internal/bootstrap"
	"github.com/awmpietro/golang-cascade-escalation/internal/cascade"
	"github.com/awmpietro/golang-cascade-escalation/internal/transport/cascadedto"
)

func RunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a DOT pipeline as a cascade",
		Example: `  cascadectl run --pipeline approval.dot --input '{"score": 720}'
  cascadectl run --pipeline approval.dot --input @applicant.json --db runs.db --debug`,
		Args: cobra.NoArgs,
		RunE: runCascade,
	}
	cmd.Flags().String("pipeline", "", "DOT pipeline file")
	cmd.Flags().String("input", "", "input as JSON, or @file")
	cmd.Flags().String("traceparent", "", "W3C traceparent to continue")
	cmd.Flags().String("db", "", "SQLite database to record the run in")
	cmd.Flags().String("model-url", "", "model endpoint for model tiers")
	cmd.Flags().Duration("total-timeout", 0, "budget for the whole cascade")
	cmd.Flags().Bool("durable", false, "run attempts through a memoizing step runner")
	cmd.Flags().Bool("debug", false, "print the pipeline rendered as DOT")
	cmd.Flags().Bool("json", false, "print the response as JSON")
	return cmd
}

func runCascade(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("pipeline")
	dot, err := readPipeline(path)
	if err != nil {
		return err
	}
	rawInput, _ := cmd.Flags().GetString("input")
	input, err := parseInput(rawInput)
	if err != nil {
		return err
	}

	rt, err := runtimeFor(cmd)
	if err != nil {
		return err
	}
	if u, _ := cmd.Flags().GetString("model-url"); u != "" {
		rt.ModelURL = u
	}
	if d, _ := cmd.Flags().GetDuration("total-timeout"); d > 0 {
		rt.TotalTimeout = d
	}

	var extra []cascade.ExecutorOption
	var runner *cascade.MemoRunner
	if durable, _ := cmd.Flags().GetBool("durable"); durable {
		runner = cascade.NewMemoRunner()
		extra = append(extra, cascade.WithDurable(runner))
	}

	stack, err := bootstrap.Build(cmd.Context(), rt, loggerFor(cmd), extra...)
	if err != nil {
		return err
	}
	defer stack.Close() //nolint:errcheck

	traceparent, _ := cmd.Flags().GetString("traceparent")
	debug, _ := cmd.Flags().GetBool("debug")
	out, runErr := stack.Service.Run(cmd.Context(), app.RunRequest{
		PipelineDOT: dot,
		Input:       input,
		Traceparent: traceparent,
		Debug:       debug,
	})
	if out == nil {
		return runErr
	}

	w := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		if runErr != nil {
			if err := printJSON(w, cascadedto.ErrorBody("cascade failed", runErr, out)); err != nil {
				return err
			}
			return runErr
		}
		return printJSON(w, cascadedto.NewRunResponse(out, debug))
	}

	fmt.Fprintf(w, "cascade %s run %s\n", out.Cascade, idColor.Sprint(out.RunID))
	var skipped []string
	if out.Result != nil {
		skipped = out.Result.SkippedTiers
	}
	printHistory(w, out.History, skipped)
	if out.Result != nil {
		fmt.Fprintf(w, "resolved by %s in %s\n", okColor.Sprint(out.Result.Tier), out.Result.Metrics.TotalDuration.Round(time.Microsecond))
		fmt.Fprint(w, "value: ")
		if err := printJSON(w, out.Result.Value); err != nil {
			return err
		}
	}
	if out.Traceparent != "" {
		fmt.Fprintf(w, "traceparent: %s\n", out.Traceparent)
	}
	if runner != nil {
		fmt.Fprintf(w, "durable steps: %d\n", len(runner.Executed()))
	}
	if debug && out.DOT != "" {
		fmt.Fprintln(w, out.DOT)
	}
	return runErr
}
