package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/appmon-dev/appmon/internal/eventlog"
	"github.com/appmon-dev/appmon/internal/stats"
)

var statsFlags struct {
	hours  float64
	format string
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Per-app usage sessions and totals derived from the log",
	RunE: func(cmd *cobra.Command, args []string) error {
		var renderer stats.Renderer
		switch statsFlags.format {
		case "text":
			renderer = stats.TextRenderer{}
		case "json":
			renderer = stats.JSONRenderer{}
		default:
			return fmt.Errorf("unknown format %q (expected text or json)", statsFlags.format)
		}

		var since time.Time
		if statsFlags.hours > 0 {
			since = time.Now().Add(-time.Duration(statsFlags.hours * float64(time.Hour)))
		}

		events, err := eventlog.Read(GetConfig().LogFile, eventlog.Query{Since: since})
		if err != nil {
			if errors.Is(err, eventlog.ErrNoSegments) {
				return fmt.Errorf("no event log at %s (is the monitor running?)", GetConfig().LogFile)
			}
			return err
		}

		data, err := renderer.Render(stats.Build(events, since))
		if err != nil {
			return err
		}
		os.Stdout.Write(data)
		return nil
	},
}

func init() {
	f := statsCmd.Flags()
	f.Float64Var(&statsFlags.hours, "hours", 24, "aggregate the last N hours; 0 for the whole log")
	f.StringVar(&statsFlags.format, "format", "text", "output format: text or json")
	rootCmd.AddCommand(statsCmd)
}
