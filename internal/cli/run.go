package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/planweave/planweave/internal/config"
	"github.com/planweave/planweave/internal/event"
	"github.com/planweave/planweave/internal/logging"
	"github.com/planweave/planweave/internal/memory"
	"github.com/planweave/planweave/internal/orchestrator"
	"github.com/planweave/planweave/internal/plan"
	"github.com/planweave/planweave/internal/planner"
	"github.com/planweave/planweave/internal/provider"
	"github.com/planweave/planweave/internal/tool"
)

var runCmd = &cobra.Command{
	Use:   "run <goal>",
	Short: "Plan and execute a goal",
	Long: `Plan a goal and execute the resulting steps with the built-in tools.

Examples:
  # Plan against an HTN domain file
  planweave run "research a topic" --domain domains/research.yaml

  # Force the generative strategy and dump the terminal plan
  planweave run "summarize https://example.com" --strategy generative --output json

  # Seed world state for method preconditions
  planweave run "research a topic" --state '{"cache_warm": true}'`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	runStateJSON string
	runOutput    string
	runQuiet     bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("strategy", "", "planning strategy (auto, htn, generative)")
	runCmd.Flags().String("domain", "", "HTN domain file")
	runCmd.Flags().Int("max-parallel", 0, "maximum concurrently running steps")
	runCmd.Flags().Int("timeout", 0, "per-step timeout in seconds (0 disables)")
	runCmd.Flags().StringVar(&runStateJSON, "state", "", "initial world state as a JSON object")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "text", "output format (text, json)")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "suppress step progress output")

	_ = viper.BindPFlag("planner.strategy", runCmd.Flags().Lookup("strategy"))
	_ = viper.BindPFlag("planner.domain_file", runCmd.Flags().Lookup("domain"))
	_ = viper.BindPFlag("executor.max_parallel", runCmd.Flags().Lookup("max-parallel"))
	_ = viper.BindPFlag("executor.step_timeout_seconds", runCmd.Flags().Lookup("timeout"))
}

func runRun(cmd *cobra.Command, args []string) error {
	goal := args[0]
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var state planner.State
	if runStateJSON != "" {
		if err := json.Unmarshal([]byte(runStateJSON), &state); err != nil {
			return fmt.Errorf("parse --state: %w", err)
		}
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	registry, err := builtinRegistry()
	if err != nil {
		return err
	}

	store, history, err := openMemory(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	strategies, err := buildStrategies(cfg, registry, store, history, logger)
	if err != nil {
		return err
	}

	bus := event.NewBus()
	if !runQuiet && runOutput != "json" {
		subscribeProgress(bus, cmd.OutOrStdout())
	}

	o, err := orchestrator.New(orchestrator.Options{
		Selector: planner.NewSelector(logger, strategies...),
		Registry: registry,
		Store:    store,
		History:  history,
		Bus:      bus,
		Logger:   logger,
		Executor: cfg.Executor,
		Replan:   cfg.Replan,
	})
	if err != nil {
		return err
	}

	p, execErr := o.Run(cmd.Context(), goal, state)
	if p != nil {
		if err := printPlan(cmd.OutOrStdout(), p, runOutput); err != nil {
			return err
		}
	}
	return execErr
}

// newLogger builds the run logger: a log directory under the data dir
// when file logging is enabled, stderr console output otherwise.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	runDir := ""
	if cfg.Logging.Enabled {
		runDir = filepath.Join(cfg.Paths.ResolveDataDir(), "logs")
	}
	return logging.NewLogger(runDir, cfg.Logging.Level)
}

func builtinRegistry() (*tool.Registry, error) {
	r := tool.NewRegistry()
	for _, t := range tool.Builtins() {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// openMemory opens the configured memory backend. The in-memory backend
// satisfies both interfaces; so does the SQLite store.
func openMemory(cfg *config.Config) (memory.Store, memory.History, error) {
	switch cfg.Memory.Backend {
	case "inmemory":
		m := memory.NewInMemory()
		return m, m, nil
	default:
		path := cfg.Memory.Path
		if path == "" {
			dir := cfg.Paths.ResolveDataDir()
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create data dir: %w", err)
			}
			path = filepath.Join(dir, "memory.db")
		}
		db, err := memory.NewSQLite(path)
		if err != nil {
			return nil, nil, err
		}
		return db, db, nil
	}
}

// buildStrategies assembles the strategy chain in selector order: HTN
// first when a domain file is configured, then the generative fallback
// when a provider backend is configured.
func buildStrategies(cfg *config.Config, registry *tool.Registry, store memory.Store, history memory.History, logger *logging.Logger) ([]planner.Strategy, error) {
	var strategies []planner.Strategy

	wantHTN := cfg.Planner.Strategy == "auto" || cfg.Planner.Strategy == "htn"
	if wantHTN && cfg.Planner.DomainFile != "" {
		domain, err := planner.LoadDomain(cfg.Planner.DomainFile)
		if err != nil {
			return nil, fmt.Errorf("load domain %s: %w", cfg.Planner.DomainFile, err)
		}
		strategies = append(strategies, planner.NewHTN(domain, registry, logger))
	}

	wantGenerative := cfg.Planner.Strategy == "auto" || cfg.Planner.Strategy == "generative"
	if wantGenerative && cfg.Provider.Backend != "none" {
		p, err := provider.New(provider.Options{
			Backend: cfg.Provider.Backend,
			Model:   cfg.Provider.Model,
			BaseURL: cfg.Provider.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, planner.NewGenerative(p, registry, store, history, logger))
	}

	if len(strategies) == 0 {
		return nil, fmt.Errorf("no planning strategy configured: set planner.domain_file or provider.backend")
	}
	return strategies, nil
}

// subscribeProgress prints one line per step lifecycle event.
func subscribeProgress(bus *event.Bus, w io.Writer) {
	bus.Subscribe(event.TypeStepStarted, func(e event.Event) {
		ev := e.(event.StepStartedEvent)
		fmt.Fprintf(w, "→ %s (%s) attempt %d\n", ev.StepID, ev.ToolID, ev.Attempt)
	})
	bus.Subscribe(event.TypeStepCompleted, func(e event.Event) {
		ev := e.(event.StepCompletedEvent)
		fmt.Fprintf(w, "✓ %s (%s) in %s\n", ev.StepID, ev.ToolID, ev.Duration.Round(time.Millisecond))
	})
	bus.Subscribe(event.TypeStepFailed, func(e event.Event) {
		ev := e.(event.StepFailedEvent)
		fmt.Fprintf(w, "✗ %s (%s): [%s] %s\n", ev.StepID, ev.ToolID, ev.ErrorKind, ev.Error)
	})
	bus.Subscribe(event.TypeStepSkipped, func(e event.Event) {
		ev := e.(event.StepSkippedEvent)
		fmt.Fprintf(w, "- %s skipped: %s\n", ev.StepID, ev.Reason)
	})
	bus.Subscribe(event.TypePlanReplanned, func(e event.Event) {
		ev := e.(event.PlanReplannedEvent)
		fmt.Fprintf(w, "↻ replanning round %d after %s: %s\n", ev.Round, ev.FailedStepID, ev.Reason)
	})
}

// printPlan renders the terminal plan.
func printPlan(w io.Writer, p *plan.Plan, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	case "text":
		fmt.Fprintf(w, "\nplan %s: %s [%s]\n", p.ID(), p.Goal(), p.Status())
		tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "STEP\tTOOL\tSTATUS\tDETAIL")
		for _, s := range p.Steps() {
			detail := ""
			if s.Error != nil {
				detail = s.Error.Message
			} else if s.Status == plan.StatusCompleted {
				detail = s.Duration().Round(time.Millisecond).String()
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.AssignedTool, s.Status, detail)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
