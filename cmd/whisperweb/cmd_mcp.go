package main

import (
	"github.com/spf13/cobra"

	"github.com/jwulff/whisperweb/internal/mcpserver"
)

func newMCPCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve transcripts to MCP clients over stdio",
		Long: `Start a Model Context Protocol server on stdin/stdout exposing the
list_sessions and get_transcript tools. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := root.newLogger(cmd.ErrOrStderr())
			store, _, err := root.openStore(logger)
			if err != nil {
				return err
			}
			defer store.Close()

			logger.Info("MCP server running on stdio")
			return mcpserver.New(store, version, logger).ServeStdio()
		},
	}
}
