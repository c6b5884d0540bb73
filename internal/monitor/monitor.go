// Package monitor owns the polling loop: sample, track, emit, sleep.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/appmon-dev/appmon/internal/config"
	"github.com/appmon-dev/appmon/internal/eventlog"
	"github.com/appmon-dev/appmon/internal/sampler"
	"github.com/appmon-dev/appmon/internal/tracker"
)

// minSleep bounds how fast the loop can spin, whatever the configured
// interval says.
const minSleep = 100 * time.Millisecond

// Monitor drives one run of the agent. Exactly one goroutine steps the
// tracker state; the writer's archiver is the only concurrency beneath it.
type Monitor struct {
	Sampler   sampler.Sampler
	Tracker   *tracker.Tracker
	Writer    *eventlog.Writer
	Mode      string
	Interval  time.Duration
	Heartbeat time.Duration
	Opts      sampler.Options
	RunID     string

	// Now is the loop clock. Defaults to time.Now; tests pin it.
	Now func() time.Time
}

// New assembles a Monitor from a validated configuration. It fails fast
// when the platform cannot provide what the mode needs.
func New(cfg config.Config, smp sampler.Sampler, w *eventlog.Writer) (*Monitor, error) {
	opts := sampler.Options{
		Foreground: cfg.Mode == config.ModeActive || cfg.Mode == config.ModeBoth,
		Processes:  cfg.Mode == config.ModeProcess || cfg.Mode == config.ModeBoth,
	}
	opts.Windows = opts.Processes && cfg.GUIOnly

	if opts.Foreground && !smp.SupportsForeground() {
		return nil, fmt.Errorf("mode %q needs foreground-window tracking, which this platform cannot provide; use --mode process", cfg.Mode)
	}

	t := tracker.New(tracker.Config{
		Active:        opts.Foreground,
		Processes:     opts.Processes,
		Heartbeat:     cfg.HeartbeatInterval(),
		IncludeSystem: cfg.IncludeSystem,
		Snapshot:      cfg.Snapshot && opts.Processes,
		GUIOnly:       cfg.GUIOnly,
		Ignore:        cfg.Ignore,
		Whitelist:     cfg.Whitelist,
	})

	return &Monitor{
		Sampler:   smp,
		Tracker:   t,
		Writer:    w,
		Mode:      cfg.Mode,
		Interval:  cfg.TickInterval(),
		Heartbeat: cfg.HeartbeatInterval(),
		Opts:      opts,
		RunID:     uuid.NewString(),
	}, nil
}

// Run executes the loop until ctx is cancelled. Each tick samples once,
// feeds the tracker and appends the resulting edges; the next tick is
// scheduled relative to completion, so a slow sample delays rather than
// piles up. Cancellation is checked at tick boundaries only: a sample in
// flight finishes, the stop breadcrumb is written, and the caller closes
// the writer.
//
// A write failure is fatal: the writer already retried, and running on
// while dropping records would be silent data loss.
func (m *Monitor) Run(ctx context.Context) error {
	now := m.Now
	if now == nil {
		now = time.Now
	}

	start := eventlog.New(now(), eventlog.TypeMonitorStart,
		eventlog.F("mode", m.Mode),
		eventlog.F("interval", m.Interval.String()),
		eventlog.F("heartbeat", m.Heartbeat.String()),
		eventlog.F("run", m.RunID))
	if err := m.Writer.Append(start); err != nil {
		return fmt.Errorf("writing start record: %w", err)
	}

	sleep := m.Interval
	if sleep < minSleep {
		sleep = minSleep
	}

	var state tracker.State
	for {
		s, err := m.Sampler.Sample(ctx, m.Opts)
		if err != nil {
			if ctx.Err() != nil {
				return m.stop(now(), "interrupt")
			}
			// One bad sample is survivable; say so in the log and move on.
			warn := eventlog.Event{
				Time:   now(),
				Level:  eventlog.LevelWarning,
				Type:   eventlog.TypeSampleError,
				Fields: []eventlog.Field{eventlog.F("error", err.Error())},
			}
			if werr := m.Writer.Append(warn); werr != nil {
				m.stop(now(), "write_error")
				return fmt.Errorf("writing event: %w", werr)
			}
		} else {
			var events []eventlog.Event
			state, events = m.Tracker.Step(state, s, now())
			for _, e := range events {
				if werr := m.Writer.Append(e); werr != nil {
					m.stop(now(), "write_error")
					return fmt.Errorf("writing event: %w", werr)
				}
			}
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return m.stop(now(), "interrupt")
		case <-timer.C:
		}
	}
}

// stop writes the lifecycle breadcrumb that ends a run.
func (m *Monitor) stop(t time.Time, reason string) error {
	e := eventlog.New(t, eventlog.TypeMonitorStop,
		eventlog.F("reason", reason),
		eventlog.F("run", m.RunID))
	if err := m.Writer.Append(e); err != nil {
		return fmt.Errorf("writing stop record: %w", err)
	}
	return nil
}
