// Package main is the entry point for the Bitcoin Cash MCP server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const serverName = "bch-mcp-server"

// Version information set at build time.
var version = "1.0.0"

var configFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mcpserver",
		Short: "Bitcoin Cash MCP server",
		Long: `mcpserver exposes Bitcoin Cash wallet, CashToken and escrow tools to
AI agents over the Model Context Protocol, on HTTP or stdio.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "Path to YAML config file (overrides CONFIG_FILE)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newToolsCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", serverName, version)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
