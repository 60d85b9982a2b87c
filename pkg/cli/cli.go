// Package cli turns a flow definition into a runnable command-line program.
//
// The engine itself has no command-line surface; this package is the thin
// outer layer the example programs share. Each declared flow parameter
// becomes a flag on the run subcommand, and the engine backend is chosen
// with --store.
package cli

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/petrijr/stepflow"
	"github.com/petrijr/stepflow/pkg/api"
)

// New builds the command tree for the given flow:
//
//	<flow> run [flags]
//
// The run subcommand registers the flow, starts one run, and reports the
// outcome: terminal artifacts on success, the failing step and error on
// failure. The process exit code is 0 or 1 accordingly.
func New(flow *stepflow.FlowBuilder) *cobra.Command {
	name := strings.ToLower(string(flow.Name()))

	root := &cobra.Command{
		Use:           name,
		Short:         fmt.Sprintf("Run the %s flow", flow.Name()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCommand(flow))
	return root
}

// Main executes the flow's command tree and exits the process with 0 on
// success or 1 on any failure. Intended as the single call in an example
// program's main().
func Main(flow *stepflow.FlowBuilder) {
	cmd := New(flow)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRunCommand(flow *stepflow.FlowBuilder) *cobra.Command {
	var (
		store    string
		dbPath   string
		cardDir  string
		logLevel string
	)

	def := flow.Definition()

	// Flag storage per declared parameter.
	stringVals := make(map[api.Key]*string)
	intVals := make(map[api.Key]*int)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start one run of the flow and wait for it to finish",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), logLevel)
			if err != nil {
				return err
			}

			eng, cleanup, err := newEngine(store, dbPath, def.Name, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := flow.Register(eng); err != nil {
				return fmt.Errorf("registering flow %s: %w", def.Name, err)
			}

			params, err := collectParams(def.Params, stringVals, intVals)
			if err != nil {
				return err
			}

			run, err := stepflow.Run(cmd.Context(), eng, def.Name, params)
			if err != nil {
				if run != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "run %s failed at step %q: %v\n",
						run.ID, run.CurrentStep, err)
				}
				return err
			}

			reportRun(cmd, run)
			if cardDir != "" {
				if err := writeCards(cmd, run, cardDir); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&store, "store", "memory", "run store backend: memory or sqlite")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (default <flow>.db)")
	cmd.Flags().StringVar(&cardDir, "card-dir", "", "directory to write rendered HTML cards into")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")

	for i := range def.Params {
		spec := def.Params[i]
		flagName := string(spec.Name)
		switch spec.Kind {
		case api.ParamInt:
			dflt := 0
			if v, ok := spec.Default.(int); ok {
				dflt = v
			}
			intVals[spec.Name] = cmd.Flags().Int(flagName, dflt, spec.Help)
		case api.ParamFile:
			dflt, _ := spec.Default.(string)
			help := spec.Help
			if help == "" {
				help = "path to a file; the flow receives its contents"
			}
			stringVals[spec.Name] = cmd.Flags().String(flagName, dflt, help)
		default:
			dflt, _ := spec.Default.(string)
			stringVals[spec.Name] = cmd.Flags().String(flagName, dflt, spec.Help)
		}
	}

	return cmd
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

func newEngine(store, dbPath string, flow api.Name, logger *slog.Logger) (stepflow.Engine, func(), error) {
	obs := stepflow.NewLoggingObserver(logger)

	switch store {
	case "memory":
		return stepflow.NewInMemoryEngineWithObserver(obs), func() {}, nil
	case "sqlite":
		if dbPath == "" {
			dbPath = strings.ToLower(string(flow)) + ".db"
		}
		db, err := sql.Open("sqlite", dbPath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening %s: %w", dbPath, err)
		}
		eng, err := stepflow.NewSQLiteEngineWithObserver(db, obs)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return eng, func() { db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q (want memory or sqlite)", store)
	}
}

// collectParams resolves flag values into the run parameter overrides.
// File parameters hold a path on the command line; the flow receives the
// file's contents.
func collectParams(specs []api.ParamSpec, stringVals map[api.Key]*string, intVals map[api.Key]*int) (stepflow.Params, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	params := make(stepflow.Params, len(specs))
	for _, spec := range specs {
		switch spec.Kind {
		case api.ParamInt:
			params[spec.Name] = *intVals[spec.Name]
		case api.ParamFile:
			path := *stringVals[spec.Name]
			if path == "" {
				params[spec.Name] = ""
				continue
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("parameter %s: %w", spec.Name, err)
			}
			params[spec.Name] = string(data)
		default:
			params[spec.Name] = *stringVals[spec.Name]
		}
	}
	return params, nil
}

func reportRun(cmd *cobra.Command, run *api.Run) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s completed\n", run.ID)

	keys := make([]api.Key, 0, len(run.Artifacts))
	for k := range run.Artifacts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		fmt.Fprintf(out, "  %s = %v\n", k, run.Artifacts[k])
	}
}

func writeCards(cmd *cobra.Command, run *api.Run, dir string) error {
	if len(run.Cards) == 0 {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for step, html := range run.Cards {
		path := filepath.Join(dir, string(step)+".html")
		if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "card written to %s\n", path)
	}
	return nil
}
