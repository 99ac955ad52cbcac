package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/artpar/actionkit/core/channel/cron"
	"github.com/artpar/actionkit/core/formatter"
)

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Inspect and run scheduled actions",
	Long: `Inspect and run scheduled actions.

actionkit does not keep a clock of its own. An external scheduler
(systemd timers, Kubernetes CronJobs, crontab) calls "cron run" and acts
on the printed decision.

Examples:
  actionkit cron list
  actionkit cron run reports.daily
  actionkit cron run --all -o json`,
}

var cronListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled actions",
	RunE:  runCronList,
}

var cronRunCmd = &cobra.Command{
	Use:   "run [action]",
	Short: "Run a scheduled action once",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCronRun,
}

var cronRunAll bool

func init() {
	rootCmd.AddCommand(cronCmd)
	cronCmd.AddCommand(cronListCmd)
	cronCmd.AddCommand(cronRunCmd)

	cronRunCmd.Flags().BoolVar(&cronRunAll, "all", false, "run every scheduled action")
}

func runCronList(cmd *cobra.Command, args []string) error {
	f, err := output()
	if err != nil {
		return err
	}
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Shutdown()

	records, err := formatter.ToRecords(app.Cron.Jobs())
	if err != nil {
		return err
	}
	return f.List(cmd.OutOrStdout(), records, formatter.Options{
		Columns: []string{"action", "schedule"},
	})
}

func runCronRun(cmd *cobra.Command, args []string) error {
	if cronRunAll == (len(args) == 1) {
		return fmt.Errorf("pass exactly one of an action or --all")
	}
	f, err := output()
	if err != nil {
		return err
	}

	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Shutdown()

	if cronRunAll {
		outcomes := app.Cron.RunAll(cmd.Context())
		jobs := make([]string, 0, len(outcomes))
		for id := range outcomes {
			jobs = append(jobs, id)
		}
		sort.Strings(jobs)

		records := make([]map[string]any, 0, len(jobs))
		failed := 0
		for _, id := range jobs {
			rec, err := formatter.ToRecord(outcomes[id])
			if err != nil {
				return err
			}
			rec["job"] = id
			records = append(records, rec)
			if outcomes[id].Decision == cron.DeadLetter {
				failed++
			}
		}
		if err := f.List(cmd.OutOrStdout(), records, formatter.Options{
			Columns: []string{"job", "decision", "attempts", "error"},
		}); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d jobs dead-lettered", failed, len(jobs))
		}
		return nil
	}

	outcome, err := app.Cron.Run(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	rec, err := formatter.ToRecord(outcome)
	if err != nil {
		return err
	}
	if err := f.Record(cmd.OutOrStdout(), rec, formatter.Options{}); err != nil {
		return err
	}
	if outcome.Decision == cron.DeadLetter {
		return fmt.Errorf("%s dead-lettered: %s", args[0], outcome.Error)
	}
	return nil
}
