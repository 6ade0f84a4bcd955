// Package cli implements the cascadectl commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/awmpietro/golang-cascade-escalation/internal/config"
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cascadectl",
		Short: "Run and inspect tiered escalation cascades",
		Long: `cascadectl runs DOT-defined cascades locally and inspects stored runs.

A cascade tries its tiers in order (code, generative, agentic, human by convention)
and escalates to the next tier whenever one fails, times out or misses its success
condition.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().Bool("verbose", false, "log cascade activity to stderr")

	root.AddCommand(RunCmd())
	root.AddCommand(RenderCmd())
	root.AddCommand(RunsCmd())
	return root
}

func loggerFor(cmd *cobra.Command) *slog.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	if !verbose {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// runtimeFor loads the environment config and points the store at --db when given.
func runtimeFor(cmd *cobra.Command) (config.Runtime, error) {
	rt, err := config.Load()
	if err != nil {
		return config.Runtime{}, err
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		rt.StoreDriver = config.StoreSQLite
		rt.StorePath = db
	}
	return rt, nil
}

func readPipeline(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("--pipeline is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read pipeline: %w", err)
	}
	return string(b), nil
}

// parseInput accepts inline JSON or @file.
func parseInput(raw string) (any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	data := []byte(raw)
	if strings.HasPrefix(raw, "@") {
		b, err := os.ReadFile(strings.TrimPrefix(raw, "@"))
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		data = b
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	return v, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
