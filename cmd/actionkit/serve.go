package main

import (
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the action server",
	Long: `Start the actionkit server.

The server will:
  - Load configuration from actionkit.yaml (or --config)
  - Or load configuration from ACTIONKIT_* environment variables
  - Register the built-in system actions
  - Serve HTTP routes, and MCP tools when mcp.enabled is set
  - Reload actions on file changes or SIGHUP when dev.hot_reload is set

Environment variables:
  ACTIONKIT_SERVER_PORT       - Server port (default: 8080)
  ACTIONKIT_LOG_LEVEL         - Log level: debug, info, warn, error
  ACTIONKIT_AUDIT_DRIVER      - Audit sink: none, memory, sqlite, redis
  ACTIONKIT_REDIS_ADDRESS     - Redis address for audit and rate limits
  ACTIONKIT_MCP_ENABLED       - Expose actions as MCP tools

Examples:
  actionkit serve
  actionkit serve --config /etc/actionkit/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	// Run blocks until a signal, a server error or cancellation.
	return app.Run(cmd.Context())
}
