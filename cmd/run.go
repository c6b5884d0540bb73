package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/appmon-dev/appmon/internal/config"
	"github.com/appmon-dev/appmon/internal/eventlog"
	"github.com/appmon-dev/appmon/internal/monitor"
	"github.com/appmon-dev/appmon/internal/sampler"
)

var runFlags struct {
	mode          string
	interval      float64
	heartbeat     float64
	stdout        bool
	includeSystem bool
	snapshot      bool
	guiOnly       bool
	noRotate      bool
	rotateEvery   string
	maxBytes      int64
	keep          int
	whitelist     []string
	ignore        []string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the activity monitor until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := overlayRunFlags(cmd, GetConfig())
		if err := c.Validate(); err != nil {
			return err
		}

		var mirror io.Writer
		if c.Stdout {
			mirror = os.Stdout
		}
		w, err := eventlog.NewWriter(eventlog.WriterOptions{
			Path:        c.LogFile,
			Rotate:      c.Rotate,
			RotateEvery: c.RotationInterval(),
			MaxBytes:    c.MaxBytes,
			Keep:        c.Keep,
			Mirror:      mirror,
		})
		if err != nil {
			return err
		}

		m, err := monitor.New(c, sampler.New(), w)
		if err != nil {
			w.Close()
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Only chat when a human is watching and the record stream is not
		// already on stdout.
		if !c.Stdout && term.IsTerminal(os.Stdout.Fd()) {
			fmt.Printf("Monitoring in %s mode every %s into %s (ctrl-c to stop)\n",
				c.Mode, c.TickInterval(), c.LogFile)
		}

		runErr := m.Run(ctx)
		if cerr := w.Close(); cerr != nil && runErr == nil {
			runErr = cerr
		}
		return runErr
	},
}

// overlayRunFlags applies explicitly-set run flags over the file/env config.
func overlayRunFlags(cmd *cobra.Command, c config.Config) config.Config {
	f := cmd.Flags()
	if f.Changed("mode") {
		c.Mode = runFlags.mode
	}
	if f.Changed("interval") {
		c.Interval = runFlags.interval
	}
	if f.Changed("heartbeat") {
		c.Heartbeat = runFlags.heartbeat
	}
	if f.Changed("stdout") {
		c.Stdout = runFlags.stdout
	}
	if f.Changed("include-system") {
		c.IncludeSystem = runFlags.includeSystem
	}
	if f.Changed("proc-snapshot") {
		c.Snapshot = runFlags.snapshot
	}
	if f.Changed("gui-only") {
		c.GUIOnly = runFlags.guiOnly
	}
	if runFlags.noRotate {
		c.Rotate = false
	}
	if f.Changed("rotate-every") {
		c.RotateEvery = runFlags.rotateEvery
	}
	if f.Changed("max-bytes") {
		c.MaxBytes = runFlags.maxBytes
	}
	if f.Changed("keep") {
		c.Keep = runFlags.keep
	}
	if f.Changed("whitelist") {
		c.Whitelist = runFlags.whitelist
	}
	if f.Changed("ignore") {
		c.Ignore = runFlags.ignore
	}
	return c
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.mode, "mode", config.ModeActive, "what to monitor: active, process or both")
	f.Float64Var(&runFlags.interval, "interval", 2.0, "polling interval in seconds")
	f.Float64Var(&runFlags.heartbeat, "heartbeat", 300, "re-log the active app every N seconds even if unchanged; 0 disables")
	f.BoolVar(&runFlags.stdout, "stdout", false, "also echo records to stdout")
	f.BoolVar(&runFlags.includeSystem, "include-system", false, "include system processes in process monitoring")
	f.BoolVar(&runFlags.snapshot, "proc-snapshot", false, "in process mode, also log a full snapshot each interval")
	f.BoolVar(&runFlags.guiOnly, "gui-only", false, "only log processes owning visible windows (or whitelisted)")
	f.BoolVar(&runFlags.noRotate, "no-rotate", false, "disable rotation; write a single unbounded file")
	f.StringVar(&runFlags.rotateEvery, "rotate-every", "1h", "rotate the active segment after this long")
	f.Int64Var(&runFlags.maxBytes, "max-bytes", 0, "rotate before the segment exceeds this many bytes; 0 disables")
	f.IntVar(&runFlags.keep, "keep", 0, "rotated segments to retain; 0 keeps all")
	f.StringSliceVar(&runFlags.whitelist, "whitelist", nil, "process names to always log, overriding other filters")
	f.StringSliceVar(&runFlags.ignore, "ignore", nil, "process names whose start/stop edges are suppressed")
	rootCmd.AddCommand(runCmd)
}
