package main

import (
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/artpar/actionkit/core/formatter"
)

// Overridden with -ldflags "-X main.version=..." in release builds.
var (
	version   = "dev"
	commit    = ""
	buildDate = ""
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := output()
		if err != nil {
			return err
		}
		return f.Record(cmd.OutOrStdout(), buildInfo(), formatter.Options{
			Columns: []string{"version", "commit", "built", "go"},
		})
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// buildInfo fills commit and build time from the embedded VCS stamp when
// they were not set at link time.
func buildInfo() map[string]any {
	rev, at := commit, buildDate
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch {
			case s.Key == "vcs.revision" && rev == "":
				rev = s.Value
			case s.Key == "vcs.time" && at == "":
				at = s.Value
			}
		}
	}
	info := map[string]any{"version": version, "go": runtime.Version()}
	if rev != "" {
		info["commit"] = rev
	}
	if at != "" {
		info["built"] = at
	}
	return info
}
