// Package cli implements the planweave command line interface: thin glue
// between configuration and the orchestrator.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/planweave/planweave/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "planweave",
	Short: "Goal-driven plan execution engine",
	Long: `Planweave decomposes a goal into a dependency-ordered plan of tool
invocations, executes the plan with bounded parallelism, and replans
around step failures.

Plans come from an HTN domain file when one matches the goal, or from a
configured reasoning provider otherwise.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command under ctx, so an interrupt cancels
// in-flight plan execution.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default is "+config.ConfigFile()+")")
	rootCmd.PersistentFlags().String("log-level", "",
		"minimum log level (debug, info, warn, error)")
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if err := config.Init(cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "planweave: config: %v\n", err)
		os.Exit(1)
	}
}
