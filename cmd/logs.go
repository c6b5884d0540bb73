package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/appmon-dev/appmon/internal/eventlog"
)

var logsFlags struct {
	limit  int
	event  string
	app    string
	hours  float64
	format string
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print parsed events from the log, newest last",
	RunE: func(cmd *cobra.Command, args []string) error {
		if logsFlags.format != "text" && logsFlags.format != "json" {
			return fmt.Errorf("unknown format %q (expected text or json)", logsFlags.format)
		}

		q := eventlog.Query{
			Type:  logsFlags.event,
			App:   logsFlags.app,
			Limit: logsFlags.limit,
		}
		if logsFlags.hours > 0 {
			q.Since = time.Now().Add(-time.Duration(logsFlags.hours * float64(time.Hour)))
		}

		events, err := eventlog.Read(GetConfig().LogFile, q)
		if err != nil {
			if errors.Is(err, eventlog.ErrNoSegments) {
				return fmt.Errorf("no event log at %s (is the monitor running?)", GetConfig().LogFile)
			}
			return err
		}

		if logsFlags.format == "json" {
			return printEventsJSON(events)
		}
		for _, e := range events {
			fmt.Println(e.Line())
		}
		return nil
	},
}

// eventJSON is the machine-facing shape of one record. Field order inside
// the map is not meaningful here; the text form is the canonical one.
type eventJSON struct {
	Timestamp string            `json:"timestamp"`
	Level     string            `json:"level"`
	EventType string            `json:"event_type"`
	Fields    map[string]string `json:"fields"`
}

func printEventsJSON(events []eventlog.Event) error {
	out := make([]eventJSON, 0, len(events))
	for _, e := range events {
		fields := make(map[string]string, len(e.Fields))
		for _, f := range e.Fields {
			fields[f.Key] = f.Value
		}
		out = append(out, eventJSON{
			Timestamp: e.Time.Format(eventlog.TimeLayout),
			Level:     e.Level,
			EventType: e.Type,
			Fields:    fields,
		})
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func init() {
	f := logsCmd.Flags()
	f.IntVar(&logsFlags.limit, "limit", 100, "print at most the newest N matching events; 0 for all")
	f.StringVar(&logsFlags.event, "event", "", "only events of this type (active, proc_start, ...)")
	f.StringVar(&logsFlags.app, "app", "", "only events whose name contains this string")
	f.Float64Var(&logsFlags.hours, "hours", 0, "only events from the last N hours; 0 for all")
	f.StringVar(&logsFlags.format, "format", "text", "output format: text or json")
	rootCmd.AddCommand(logsCmd)
}
