package main

import (
	"context"
	"fmt"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/artpar/actionkit/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the actionkit configuration file.

Checks:
  - YAML syntax is valid
  - Values pass validation after defaults and env overrides
  - Redis is reachable (optional)

Examples:
  actionkit validate
  actionkit validate --config /etc/actionkit/config.yaml --check-redis`,
	RunE: runValidate,
}

var validateCheckRedis bool

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckRedis, "check-redis", false, "check if redis is reachable")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Validating %s...\n\n", cfgFile)

	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Fprintf(out, "  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Fprintf(out, "  %s Config file exists\n", checkMark)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(out, "  %s Config valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Fprintf(out, "  %s Config valid\n", checkMark)

	fmt.Fprintf(out, "  %s Listen: %s\n", checkMark, cfg.Server.Addr())
	fmt.Fprintf(out, "  %s Audit: %s\n", checkMark, cfg.Audit.Driver)
	fmt.Fprintf(out, "  %s Retry: %d attempts, %s backoff\n", checkMark, cfg.Retry.MaxAttempts, cfg.Retry.Backoff)
	fmt.Fprintf(out, "  %s API keys: %d\n", checkMark, len(cfg.Auth.Keys))
	if cfg.MCP.Enabled {
		fmt.Fprintf(out, "  %s MCP: %s\n", checkMark, cfg.MCP.Transport)
	}

	if validateCheckRedis {
		if !cfg.Redis.Enabled() {
			fmt.Fprintf(out, "  %s Redis not configured\n", crossMark)
		} else if err := checkRedis(cfg.Redis); err != nil {
			fmt.Fprintf(out, "  %s Redis reachable\n", crossMark)
			fmt.Fprintf(out, "      Error: %v\n", err)
		} else {
			fmt.Fprintf(out, "  %s Redis reachable\n", checkMark)
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration is valid.")
	return nil
}

func checkRedis(cfg config.RedisConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	defer client.Close()
	return client.Ping(ctx).Err()
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
