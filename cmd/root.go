// Package cmd provides the CLI commands for Lodestone.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/lodekb/lodestone/pkg/version"
)

var configPath string

// NewRootCmd creates the root command for the lodestone CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lodestone",
		Short: "Self-hosted knowledge base with hybrid search",
		Long: `Lodestone watches a managed directory tree, mirrors remote sources
into it, indexes the content into a hybrid dense+sparse vector store,
and serves search over HTTP, WebSocket, and MCP.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.SetVersionTemplate("lodestone version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "lodestone.yaml", "Path to the YAML config file")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
