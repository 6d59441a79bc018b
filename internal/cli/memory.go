package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/planweave/planweave/internal/config"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and edit run memory",
	Long:  `Commands for the key/value memory store and the run history.`,
}

var memoryListCmd = &cobra.Command{
	Use:   "list [prefix]",
	Short: "List memory keys, optionally by prefix",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMemoryList,
}

var memoryGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the value stored under a key",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemoryGet,
}

var memorySetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store a value under a key",
	Long: `Store a value under a key. Keys of the form goal:<goal text> are fed
into generative planning prompts for that goal.`,
	Args: cobra.ExactArgs(2),
	RunE: runMemorySet,
}

var memoryDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Remove a key",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemoryDelete,
}

var memoryRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded plan executions, newest first",
	RunE:  runMemoryRuns,
}

var (
	memoryRunsGoal  string
	memoryRunsLimit int
)

func init() {
	rootCmd.AddCommand(memoryCmd)
	memoryCmd.AddCommand(memoryListCmd, memoryGetCmd, memorySetCmd, memoryDeleteCmd, memoryRunsCmd)

	memoryRunsCmd.Flags().StringVar(&memoryRunsGoal, "goal", "", "only runs for this goal")
	memoryRunsCmd.Flags().IntVarP(&memoryRunsLimit, "limit", "n", 20, "maximum runs to list")
}

func runMemoryList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	store, _, err := openMemory(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	prefix := ""
	if len(args) == 1 {
		prefix = args[0]
	}
	keys, err := store.Keys(cmd.Context(), prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		fmt.Fprintln(cmd.OutOrStdout(), k)
	}
	return nil
}

func runMemoryGet(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	store, _, err := openMemory(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	value, ok, err := store.Read(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("key %q not found", args[0])
	}
	fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}

func runMemorySet(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	store, _, err := openMemory(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.Write(cmd.Context(), args[0], args[1])
}

func runMemoryDelete(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	store, _, err := openMemory(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.Delete(cmd.Context(), args[0])
}

func runMemoryRuns(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	store, history, err := openMemory(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := history.RecentRuns(cmd.Context(), memoryRunsLimit)
	if err != nil {
		return err
	}
	if memoryRunsGoal != "" {
		runs, err = history.RunsForGoal(cmd.Context(), memoryRunsGoal, memoryRunsLimit)
		if err != nil {
			return err
		}
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tPLAN\tSTRATEGY\tSTATUS\tGOAL")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.CreatedAt.Local().Format(time.DateTime), r.PlanID, r.Strategy, r.Status, r.Goal)
	}
	return tw.Flush()
}
