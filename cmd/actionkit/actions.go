package main

import (
	"github.com/spf13/cobra"

	"github.com/artpar/actionkit/core/formatter"
)

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "List registered actions",
	Long: `List every registered action with its triggers.

Examples:
  actionkit actions
  actionkit actions -o json`,
	RunE: runActions,
}

func init() {
	rootCmd.AddCommand(actionsCmd)
}

func runActions(cmd *cobra.Command, args []string) error {
	f, err := output()
	if err != nil {
		return err
	}
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Shutdown()

	descs := app.Registry.Describe()
	records := make([]map[string]any, 0, len(descs))
	for _, d := range descs {
		triggers := make([]string, 0, len(d.Triggers))
		for _, tr := range d.Triggers {
			triggers = append(triggers, tr.String())
		}
		records = append(records, map[string]any{
			"action":      d.Key,
			"triggers":    triggers,
			"description": d.Description,
		})
	}

	return f.List(cmd.OutOrStdout(), records, formatter.Options{
		Columns: []string{"action", "triggers", "description"},
	})
}
