package stats

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/appmon-dev/appmon/internal/eventlog"
)

// Renderer serializes a Report to bytes.
type Renderer interface {
	Render(r *Report) ([]byte, error)
}

// JSONRenderer renders a Report as indented JSON, shaped for machine
// consumers.
type JSONRenderer struct{}

func (JSONRenderer) Render(r *Report) ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// TextRenderer renders a Report as an aligned table for terminals.
type TextRenderer struct{}

func (TextRenderer) Render(r *Report) ([]byte, error) {
	var sb strings.Builder

	if !r.Since.IsZero() {
		fmt.Fprintf(&sb, "Usage since %s\n\n", r.Since.Format(eventlog.TimeLayout))
	}
	if len(r.Apps) == 0 {
		sb.WriteString("No sessions in the selected window.\n")
		return []byte(sb.String()), nil
	}

	fmt.Fprintf(&sb, "%-32s %9s %12s %12s %5s\n", "APP", "LAUNCHES", "TOTAL", "AVG", "OPEN")
	for _, a := range r.Apps {
		fmt.Fprintf(&sb, "%-32s %9d %12s %12s %5d\n",
			a.App,
			a.LaunchCount,
			formatSeconds(a.TotalDurationSec),
			formatSeconds(a.AvgDurationSec),
			a.OpenSessions,
		)
	}

	fmt.Fprintf(&sb, "\n%d events, %d launches, %d closes, %d unique apps\n",
		r.Summary.TotalEvents,
		r.Summary.AppLaunches,
		r.Summary.AppCloses,
		len(r.Summary.UniqueApps),
	)
	return []byte(sb.String()), nil
}

// formatSeconds renders a duration in seconds as a compact h/m/s string.
func formatSeconds(sec float64) string {
	d := time.Duration(sec * float64(time.Second)).Round(time.Second)
	if d == 0 {
		return "0s"
	}
	return d.String()
}
