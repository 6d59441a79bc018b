package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the available tools",
	Long:  `List the built-in tools plans can delegate steps to, with their capabilities.`,
	RunE:  runTools,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, _ []string) error {
	registry, err := builtinRegistry()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCAPABILITIES\tDESCRIPTION")
	for _, spec := range registry.Specs() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", spec.ID, strings.Join(spec.Capabilities, ","), spec.Description)
	}
	return tw.Flush()
}
