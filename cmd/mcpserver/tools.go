package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"bch-mcp-server/mcp"
)

func newToolsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Print the tool catalogue",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := mcp.NewRegistry((&mcp.Backend{}).Operations()...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(reg.Tools())
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, tool := range reg.Tools() {
				fmt.Fprintf(tw, "%s\t%s\n", tool.Name, tool.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print full tool descriptors as JSON")
	return cmd
}
