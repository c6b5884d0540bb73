// Package stats replays event streams into per-app usage sessions and
// aggregate statistics. It only ever reads the log; sessions are derived
// on demand, never stored.
package stats

import (
	"sort"
	"time"

	"github.com/appmon-dev/appmon/internal/eventlog"
)

// Session is one contiguous interval during which an app was running or
// held focus.
type Session struct {
	App         string     `json:"app"`
	Start       time.Time  `json:"start"`
	End         *time.Time `json:"end"` // nil while open
	DurationSec float64    `json:"duration_sec"`
}

// Open reports whether the session never saw a close edge.
func (s Session) Open() bool {
	return s.End == nil
}

// AppStats aggregates the sessions of one app. Open sessions count toward
// OpenSessions only; durations cover closed sessions exclusively.
type AppStats struct {
	App              string  `json:"app"`
	LaunchCount      int     `json:"launch_count"`
	TotalDurationSec float64 `json:"total_duration_sec"`
	TotalDurationMin float64 `json:"total_duration_minutes"`
	AvgDurationSec   float64 `json:"avg_duration_sec"`
	OpenSessions     int     `json:"open_sessions"`
}

// Summary describes the replayed stream as a whole.
type Summary struct {
	TotalEvents int      `json:"total_events"`
	AppLaunches int      `json:"app_launches"`
	AppCloses   int      `json:"app_closes"`
	UniqueApps  []string `json:"unique_apps"`
}

// Report is the full output of one replay.
type Report struct {
	Since    time.Time  `json:"since,omitzero"`
	Apps     []AppStats `json:"apps"`
	Sessions []Session  `json:"sessions"`
	Summary  Summary    `json:"summary"`
}

// openState tracks one app's in-progress session.
type openState struct {
	start   time.Time
	pid     int  // pid of the opening edge; -1 when unknown
	byFocus bool // opened by a focus edge rather than proc_start
}

// Build replays events through a per-app state machine and returns the
// derived sessions and aggregates. Events older than since are excluded
// entirely; a close edge whose open fell before the window yields a session
// clipped to start at the boundary. Passing a zero since replays everything.
//
// Replaying the same events twice always yields an identical Report.
func Build(events []eventlog.Event, since time.Time) *Report {
	var (
		sessions []Session
		open     = make(map[string]*openState)
		launches = make(map[string]int)
		uniq     = make(map[string]bool)
		summary  Summary
		focus    string
	)

	closeAt := func(app string, at time.Time) {
		st := open[app]
		end := at
		sessions = append(sessions, Session{
			App:         app,
			Start:       st.start,
			End:         &end,
			DurationSec: at.Sub(st.start).Seconds(),
		})
		delete(open, app)
	}

	for _, e := range events {
		if !since.IsZero() && e.Time.Before(since) {
			continue
		}
		summary.TotalEvents++
		name, _ := e.Get("name")

		switch e.Type {
		case eventlog.TypeProcStart:
			summary.AppLaunches++
			if !usableName(name) {
				break
			}
			uniq[name] = true
			if _, running := open[name]; !running {
				open[name] = &openState{start: e.Time, pid: e.PID()}
				launches[name]++
			}
			// A second instance while one is open folds into the existing
			// session; per-app tracking collapses concurrent instances.

		case eventlog.TypeProcEnd:
			summary.AppCloses++
			if !usableName(name) {
				break
			}
			uniq[name] = true
			if st, running := open[name]; running {
				if st.byFocus || st.pid < 0 || e.PID() < 0 || st.pid == e.PID() {
					closeAt(name, e.Time)
				}
				// A different instance ended; the opening one lives on.
			} else if !since.IsZero() {
				// The opening edge predates the window: clip the session to
				// the boundary. Counted as a closed session, not a launch.
				end := e.Time
				sessions = append(sessions, Session{
					App:         name,
					Start:       since,
					End:         &end,
					DurationSec: e.Time.Sub(since).Seconds(),
				})
			}

		case eventlog.TypeActive, eventlog.TypeHeartbeat:
			// Focus moving away closes a focus-opened session; an app that
			// is still running (proc-opened) keeps its session until its
			// proc_end arrives.
			if focus != "" && focus != name {
				if st, running := open[focus]; running && st.byFocus {
					closeAt(focus, e.Time)
				}
			}
			if usableName(name) {
				if _, running := open[name]; !running {
					open[name] = &openState{start: e.Time, pid: e.PID(), byFocus: true}
					launches[name]++
				}
			}
			focus = name
		}
	}

	// Whatever is still open stays open-ended: End nil, no duration.
	var stillOpen []string
	for app := range open {
		stillOpen = append(stillOpen, app)
	}
	sort.Strings(stillOpen)
	for _, app := range stillOpen {
		sessions = append(sessions, Session{App: app, Start: open[app].start})
	}

	summary.UniqueApps = sortedNames(uniq)
	return &Report{
		Since:    since,
		Apps:     aggregate(sessions, launches),
		Sessions: sessions,
		Summary:  summary,
	}
}

// aggregate folds sessions into per-app statistics, ordered by total closed
// duration descending, then name, so equal inputs render identically.
func aggregate(sessions []Session, launches map[string]int) []AppStats {
	byApp := make(map[string]*AppStats)
	closed := make(map[string]int)
	for _, s := range sessions {
		a := byApp[s.App]
		if a == nil {
			a = &AppStats{App: s.App, LaunchCount: launches[s.App]}
			byApp[s.App] = a
		}
		if s.Open() {
			a.OpenSessions++
			continue
		}
		a.TotalDurationSec += s.DurationSec
		closed[s.App]++
	}

	apps := make([]AppStats, 0, len(byApp))
	for name, a := range byApp {
		a.TotalDurationMin = a.TotalDurationSec / 60
		if n := closed[name]; n > 0 {
			a.AvgDurationSec = a.TotalDurationSec / float64(n)
		}
		apps = append(apps, *a)
	}
	sort.Slice(apps, func(i, j int) bool {
		if apps[i].TotalDurationSec != apps[j].TotalDurationSec {
			return apps[i].TotalDurationSec > apps[j].TotalDurationSec
		}
		return apps[i].App < apps[j].App
	})
	return apps
}

// usableName reports whether a name field identifies an app. The "?"
// placeholder and empty values open no sessions.
func usableName(name string) bool {
	return name != "" && name != "?"
}

func sortedNames(set map[string]bool) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
