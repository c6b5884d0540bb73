// Package tracker turns consecutive samples into edge events. The step
// function is pure: it takes the previous state and one sample and returns
// the next state plus the records to emit, so synthetic sample sequences
// drive it deterministically in tests.
package tracker

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/appmon-dev/appmon/internal/eventlog"
	"github.com/appmon-dev/appmon/internal/sampler"
)

// Config selects which edges a Tracker derives and which it suppresses.
type Config struct {
	Active    bool          // derive foreground transitions
	Processes bool          // derive process start/stop edges
	Heartbeat time.Duration // re-emit the foreground state at this cadence; 0 disables

	IncludeSystem bool     // keep OS-owned processes in the tracked set
	Snapshot      bool     // emit a full-state dump every tick
	GUIOnly       bool     // suppress edges for processes without a visible window
	Ignore        []string // names whose edges are suppressed (unless whitelisted)
	Whitelist     []string // names always emitted, overriding Ignore and GUIOnly
}

// State is the monitor's memory between ticks. The zero value is the
// startup state: no known foreground app and, with LastProcs nil, a pending
// process baseline (the first process sample is adopted without edges).
type State struct {
	LastActive    *sampler.Foreground
	LastProcs     map[int32]sampler.Process
	LastWindowed  map[int32]bool // window owners at the previous tick
	LastHeartbeat time.Time
}

// Tracker derives edge events from sample pairs.
type Tracker struct {
	cfg       Config
	ignore    map[string]bool
	whitelist map[string]bool
}

// New builds a Tracker. Ignore and whitelist names are matched
// case-insensitively.
func New(cfg Config) *Tracker {
	t := &Tracker{
		cfg:       cfg,
		ignore:    make(map[string]bool, len(cfg.Ignore)),
		whitelist: make(map[string]bool, len(cfg.Whitelist)),
	}
	for _, name := range cfg.Ignore {
		t.ignore[strings.ToLower(name)] = true
	}
	for _, name := range cfg.Whitelist {
		t.whitelist[strings.ToLower(name)] = true
	}
	return t
}

// Step compares s against prev and returns the next state and the edge
// events to emit, in their fixed order: foreground edges, then proc_end
// (pid ascending), then proc_start (pid ascending), then snapshot records.
// A proc_start and proc_end for the same pid can never appear in one step:
// the two sides come from disjoint set differences.
func (t *Tracker) Step(prev State, s sampler.Sample, now time.Time) (State, []eventlog.Event) {
	next := prev
	var events []eventlog.Event

	if t.cfg.Active {
		if prev.LastHeartbeat.IsZero() {
			next.LastHeartbeat = now
			prev.LastHeartbeat = now
		}
		cur := s.Foreground
		switch {
		case foregroundChanged(prev.LastActive, cur):
			events = append(events, t.foregroundEvent(eventlog.TypeActive, cur, now))
			next.LastActive = cur
		case t.cfg.Heartbeat > 0 && now.Sub(prev.LastHeartbeat) >= t.cfg.Heartbeat:
			// Heartbeats re-emit the unchanged state to bound observation
			// gaps. Transitions deliberately do not reset this clock.
			events = append(events, t.foregroundEvent(eventlog.TypeHeartbeat, cur, now))
			next.LastHeartbeat = now
		}
	}

	if t.cfg.Processes && s.Processes != nil {
		tracked := t.trackedSet(s.Processes)
		if prev.LastProcs == nil {
			// Baseline tick: adopt the set silently. Edges for processes
			// that predate the monitor would be fabrications.
			next.LastProcs = tracked
		} else {
			for _, pid := range sortedPids(prev.LastProcs) {
				if _, alive := tracked[pid]; alive {
					continue
				}
				p := prev.LastProcs[pid]
				// The process is gone, so window ownership comes from the
				// previous tick's enumeration.
				if t.shouldEmit(p, prev.LastWindowed) {
					events = append(events, endEvent(p, now))
				}
			}
			for _, pid := range sortedPids(tracked) {
				if _, known := prev.LastProcs[pid]; known {
					continue
				}
				if p := tracked[pid]; t.shouldEmit(p, s.WindowOwners) {
					events = append(events, startEvent(p, now))
				}
			}
			next.LastProcs = tracked
		}
		next.LastWindowed = s.WindowOwners

		if t.cfg.Snapshot {
			events = append(events, eventlog.New(now, eventlog.TypeProcSnapshot,
				eventlog.F("count", strconv.Itoa(len(tracked)))))
			for _, pid := range sortedPids(tracked) {
				p := tracked[pid]
				if t.cfg.GUIOnly && s.WindowOwners != nil &&
					!s.WindowOwners[pid] && !t.whitelist[strings.ToLower(p.Name)] {
					continue
				}
				events = append(events, eventlog.New(now, eventlog.TypeProc,
					eventlog.F("pid", strconv.Itoa(int(p.PID))),
					eventlog.F("name", orUnknown(p.Name)),
					eventlog.F("user", orUnknown(p.User))))
			}
		}
	}

	return next, events
}

// foregroundChanged reports a focus transition. Only the pid is compared:
// title changes within one app are covered by heartbeats, not transitions.
func foregroundChanged(prev, cur *sampler.Foreground) bool {
	switch {
	case prev == nil && cur == nil:
		return false
	case prev == nil || cur == nil:
		return true
	default:
		return prev.PID != cur.PID
	}
}

// browserNames are apps whose window titles carry the page being viewed.
var browserNames = map[string]bool{
	"chrome.exe":  true,
	"msedge.exe":  true,
	"brave.exe":   true,
	"firefox.exe": true,
}

// browserSuffixes are stripped from a browser title to isolate the page.
var browserSuffixes = []string{
	" - Google Chrome",
	" - Microsoft Edge",
	" - Brave",
	" - Mozilla Firefox",
}

// foregroundEvent renders a foreground descriptor as an active or heartbeat
// record. Unknown parts become "?". Browser titles are split into the page
// title and the full window title; window_title stays last on the line
// because free-text values parse greedily.
func (t *Tracker) foregroundEvent(eventType string, fg *sampler.Foreground, now time.Time) eventlog.Event {
	pid, name, title := "?", "?", "?"
	if fg != nil {
		if fg.PID > 0 {
			pid = strconv.Itoa(int(fg.PID))
		}
		if fg.Name != "" {
			name = fg.Name
		}
		if fg.Title != "" {
			title = fg.Title
		}
	}
	ts := now.Format(eventlog.TimeLayout)

	if browserNames[strings.ToLower(name)] && title != "?" {
		page := title
		for _, suffix := range browserSuffixes {
			if strings.HasSuffix(page, suffix) {
				page = strings.TrimSuffix(page, suffix)
				break
			}
		}
		return eventlog.New(now, eventType,
			eventlog.F("pid", pid),
			eventlog.F("name", name),
			eventlog.F("page", page),
			eventlog.F("window_title", title),
			eventlog.F("ts", ts))
	}
	return eventlog.New(now, eventType,
		eventlog.F("pid", pid),
		eventlog.F("name", name),
		eventlog.F("title", title),
		eventlog.F("ts", ts))
}

// trackedSet filters the sampled process table down to what the monitor
// follows. System processes stay out unless configured in.
func (t *Tracker) trackedSet(procs map[int32]sampler.Process) map[int32]sampler.Process {
	if t.cfg.IncludeSystem {
		return procs
	}
	tracked := make(map[int32]sampler.Process, len(procs))
	for pid, p := range procs {
		if IsSystem(p) {
			continue
		}
		tracked[pid] = p
	}
	return tracked
}

// shouldEmit applies the noise filters to one process edge. The tracked set
// itself is not affected: a suppressed process still participates in the
// diff so its later disappearance is handled consistently.
func (t *Tracker) shouldEmit(p sampler.Process, windowed map[int32]bool) bool {
	if p.Helper {
		return false
	}
	name := strings.ToLower(p.Name)
	if t.cfg.GUIOnly && windowed != nil {
		// The window-owner set subsumes the ignore list here.
		return windowed[p.PID] || t.whitelist[name]
	}
	if t.ignore[name] && !t.whitelist[name] {
		return false
	}
	return true
}

// IsSystem reports whether p is OS infrastructure: the idle/kernel pids,
// their well-known names, or a service-account owner.
func IsSystem(p sampler.Process) bool {
	if p.PID == 0 || p.PID == 4 {
		return true
	}
	if p.Name == "System" || p.Name == "System Idle Process" {
		return true
	}
	if p.User != "" {
		user := strings.ToUpper(p.User)
		if i := strings.LastIndex(user, `\`); i >= 0 {
			user = user[i+1:]
		}
		switch user {
		case "SYSTEM", "LOCAL SERVICE", "NETWORK SERVICE":
			return true
		}
	}
	return false
}

func startEvent(p sampler.Process, now time.Time) eventlog.Event {
	started := "?"
	if !p.StartedAt.IsZero() {
		started = p.StartedAt.Format(eventlog.TimeLayout)
	}
	return eventlog.New(now, eventlog.TypeProcStart,
		eventlog.F("pid", strconv.Itoa(int(p.PID))),
		eventlog.F("name", orUnknown(p.Name)),
		eventlog.F("user", orUnknown(p.User)),
		eventlog.F("started_at", started))
}

func endEvent(p sampler.Process, now time.Time) eventlog.Event {
	return eventlog.New(now, eventlog.TypeProcEnd,
		eventlog.F("pid", strconv.Itoa(int(p.PID))),
		eventlog.F("name", orUnknown(p.Name)),
		eventlog.F("user", orUnknown(p.User)))
}

func orUnknown(s string) string {
	if s == "" {
		return "?"
	}
	return s
}

func sortedPids(m map[int32]sampler.Process) []int32 {
	pids := make([]int32, 0, len(m))
	for pid := range m {
		pids = append(pids, pid)
	}
	slices.Sort(pids)
	return pids
}
