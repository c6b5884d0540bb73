package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/appmon-dev/appmon/internal/eventlog"
	"github.com/appmon-dev/appmon/internal/stats"
)

var summaryHours float64

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Event stream totals for a time window",
	RunE: func(cmd *cobra.Command, args []string) error {
		var since time.Time
		if summaryHours > 0 {
			since = time.Now().Add(-time.Duration(summaryHours * float64(time.Hour)))
		}

		events, err := eventlog.Read(GetConfig().LogFile, eventlog.Query{Since: since})
		if err != nil {
			if errors.Is(err, eventlog.ErrNoSegments) {
				return fmt.Errorf("no event log at %s (is the monitor running?)", GetConfig().LogFile)
			}
			return err
		}

		s := stats.Build(events, since).Summary
		fmt.Printf("Events:      %d\n", s.TotalEvents)
		fmt.Printf("Launches:    %d\n", s.AppLaunches)
		fmt.Printf("Closes:      %d\n", s.AppCloses)
		if len(s.UniqueApps) == 0 {
			fmt.Println("Unique apps: (none)")
		} else {
			fmt.Printf("Unique apps: %d (%s)\n", len(s.UniqueApps), strings.Join(s.UniqueApps, ", "))
		}
		return nil
	},
}

func init() {
	summaryCmd.Flags().Float64Var(&summaryHours, "hours", 24, "summarize the last N hours; 0 for the whole log")
	rootCmd.AddCommand(summaryCmd)
}
