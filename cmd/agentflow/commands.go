package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rendis/agentflow/internal/demo"
	"github.com/rendis/agentflow/internal/runner"
	"github.com/rendis/agentflow/pkg/mcp"
	"github.com/spf13/cobra"
)

// app is the state shared by every command, built once flags are parsed.
type app struct {
	settingsFile string
	envFile      string
	logLevel     string

	cfg    Config
	logger *slog.Logger
	runner *runner.Runner
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := loadConfig(a.settingsFile, a.envFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	a.cfg = cfg
	a.logger = newLogger(cmd.ErrOrStderr(), cfg.LogLevel)

	reg := runner.NewRegistry()
	if err := demo.Register(reg, demo.Options{
		ChunkSize:   cfg.ChunkSize,
		Concurrency: cfg.Concurrency,
		CallTimeout: time.Duration(cfg.CallTimeout),
		Logger:      a.logger,
	}); err != nil {
		return err
	}
	a.runner = runner.New(reg, runner.Config{
		MaxSteps: cfg.MaxSteps,
		Timeout:  time.Duration(cfg.Timeout),
		History:  cfg.History,
	}, a.logger)
	return nil
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "agentflow",
		Short:         "Run LLM workflows built from nodes, flows and actions",
		Version:       resolvedVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.settingsFile, "config", settingsPath(), "Settings file")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "Dotenv file with AGENTFLOW_* overrides")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(
		newListCmd(a),
		newRunCmd(a),
		newDiagramCmd(a),
		newServeCmd(a),
	)
	return root
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List bundled workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTART\tDESCRIPTION")
			for _, wf := range a.runner.Registry().List() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", wf.Name, wf.Build().Start(), wf.Description)
			}
			return w.Flush()
		},
	}
}

func newRunCmd(a *app) *cobra.Command {
	var (
		input     string
		inputFile string
		showGraph bool
	)
	cmd := &cobra.Command{
		Use:   "run <workflow>",
		Short: "Run a workflow and print its final shared state as JSON",
		Long: `Run a workflow and print its final shared state as JSON.

Examples:
  agentflow run qa --input '{"question":"how is shared state guarded?"}'
  agentflow run summarize --input-file article.json
  agentflow run review --input '{"topic":"channels"}' --diagram`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(input, inputFile)
			if err != nil {
				return err
			}

			run, runErr := a.runner.Run(cmd.Context(), args[0], data)
			if run == nil {
				return runErr
			}

			out := map[string]any{
				"run_id": run.ID,
				"status": run.Status,
				"trace":  run.Trace,
				"output": run.Output,
			}
			if run.Error != "" {
				out["error"] = run.Error
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}

			if showGraph {
				graph, err := a.runner.Diagram(cmd.Context(), args[0], run.ID, runner.FormatASCII)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), string(graph))
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "Initial shared state as a JSON object")
	cmd.Flags().StringVar(&inputFile, "input-file", "", "File holding the initial shared state as JSON")
	cmd.Flags().BoolVar(&showGraph, "diagram", false, "Print the graph with node statuses after the run")
	cmd.MarkFlagsMutuallyExclusive("input", "input-file")
	return cmd
}

func readInput(inline, file string) (map[string]any, error) {
	raw := []byte(inline)
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		raw = data
	}
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("input must be a JSON object: %w", err)
	}
	return out, nil
}

func newDiagramCmd(a *app) *cobra.Command {
	var (
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "diagram <workflow>",
		Short: "Render a workflow graph",
		Long: `Render a workflow graph as Mermaid, ASCII or PNG.

Examples:
  agentflow diagram review
  agentflow diagram triage --format ascii
  agentflow diagram qa --format png --output qa.png`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := runner.Format(format)
			if f == runner.FormatPNG && output == "" {
				return fmt.Errorf("png output needs --output")
			}
			data, err := a.runner.Diagram(cmd.Context(), args[0], "", f)
			if err != nil {
				return err
			}
			if output == "" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("write diagram: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Diagram written to %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", string(runner.FormatMermaid), "Output format: mermaid, ascii, png")
	cmd.Flags().StringVar(&output, "output", "", "Output file (default: stdout)")
	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the workflows as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			srv := mcp.NewServer(mcp.ServerDeps{
				Runner:  a.runner,
				Logger:  a.logger,
				Version: resolvedVersion(),
			})
			return srv.Serve(cmd.Context())
		},
	}
}
