package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/artpar/actionkit/bootstrap"
	"github.com/artpar/actionkit/core/formatter"
)

var (
	// Global flags
	cfgFile      string
	outputFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "actionkit",
	Short: "Action runtime serving HTTP, MCP, event and cron triggers",
	Long: `actionkit runs registered actions behind guards, retries and audit.

Every action is reachable through the triggers it declares: HTTP routes,
MCP tools, bus events and cron schedules.

Quick start:
  actionkit serve       # Start the HTTP and MCP servers
  actionkit actions     # List registered actions and triggers

Operations:
  actionkit invoke <action> --input '{"k":"v"}'
  actionkit cron run <action>
  actionkit validate    # Validate configuration`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "actionkit.yaml", "config file path")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json or yaml")
}

// output resolves the --output formatter.
func output() (formatter.Formatter, error) {
	return formatter.Lookup(outputFormat)
}

// newApp builds the application from the --config flag. Callers own
// Shutdown.
func newApp() (*bootstrap.App, error) {
	app, err := bootstrap.New(bootstrap.Options{
		ConfigPath: cfgFile,
		Version:    version,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return app, nil
}
