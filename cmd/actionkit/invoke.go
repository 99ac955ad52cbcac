package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artpar/actionkit/core/formatter"
	"github.com/artpar/actionkit/core/runtime"
	"github.com/artpar/actionkit/core/trigger"
)

var invokeCmd = &cobra.Command{
	Use:   "invoke <action>",
	Short: "Run one action and print the result",
	Long: `Run a registered action once with a manual trigger.

The command fails when the action fails.

Examples:
  actionkit invoke system.health
  actionkit invoke system.runs --input '{"limit": 5}' -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runInvoke,
}

var invokeInput string

func init() {
	rootCmd.AddCommand(invokeCmd)

	invokeCmd.Flags().StringVarP(&invokeInput, "input", "i", "", "action input as a JSON object")
}

func runInvoke(cmd *cobra.Command, args []string) error {
	f, err := output()
	if err != nil {
		return err
	}
	input := map[string]any{}
	if invokeInput != "" {
		if err := json.Unmarshal([]byte(invokeInput), &input); err != nil {
			return fmt.Errorf("parse --input: %w", err)
		}
	}

	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Shutdown()

	res := app.Executor.ExecuteKey(cmd.Context(), args[0], input, runtime.Options{Trigger: trigger.Manual})

	rec, err := formatter.ToRecord(res)
	if err != nil {
		return err
	}
	if err := f.Record(cmd.OutOrStdout(), rec, formatter.Options{}); err != nil {
		return err
	}
	if !res.Success {
		return errors.New(res.Error)
	}
	return nil
}
