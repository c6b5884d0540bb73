package sampler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// chromiumNames are the multi-process browsers whose child processes are
// classified as helpers via their command line.
var chromiumNames = map[string]bool{
	"chrome.exe":         true,
	"msedge.exe":         true,
	"brave.exe":          true,
	"msedgewebview2.exe": true,
}

// listProcesses builds the process table. Processes that disappear or deny
// access mid-read surface as CapabilityErrors and are skipped.
func listProcesses(ctx context.Context) (map[int32]Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	table := make(map[int32]Process, len(procs))
	for _, p := range procs {
		pr, err := describeProcess(ctx, p)
		if err != nil {
			var capErr *CapabilityError
			if errors.As(err, &capErr) {
				continue
			}
			return nil, err
		}
		table[pr.PID] = pr
	}
	return table, nil
}

// describeProcess resolves one process table row. A name the OS will not
// give up makes the row useless, so that is a CapabilityError; owner and
// start time stay best-effort.
func describeProcess(ctx context.Context, p *process.Process) (Process, error) {
	name, err := p.NameWithContext(ctx)
	if err != nil {
		return Process{}, &CapabilityError{PID: p.Pid, Err: err}
	}
	pr := Process{PID: p.Pid, Name: name}
	if user, err := p.UsernameWithContext(ctx); err == nil {
		pr.User = user
	}
	if ms, err := p.CreateTimeWithContext(ctx); err == nil && ms > 0 {
		pr.StartedAt = time.UnixMilli(ms)
	}
	if chromiumNames[strings.ToLower(name)] {
		pr.Helper = isBrowserHelper(ctx, p)
	}
	return pr, nil
}

// isBrowserHelper reports whether a Chromium-based browser process is a
// child (renderer, gpu, utility...). Children carry a --type= flag; the
// process the user launched has none, or the rare --type=browser.
func isBrowserHelper(ctx context.Context, p *process.Process) bool {
	args, err := p.CmdlineSliceWithContext(ctx)
	if err != nil {
		return false
	}
	for _, arg := range args {
		if strings.HasPrefix(arg, "--type=") {
			return arg != "--type=browser"
		}
	}
	return false
}

// processName resolves the executable name for a pid, for tying the
// foreground window back to a process. "" when the OS refuses.
func processName(ctx context.Context, pid int32) string {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return ""
	}
	name, err := p.NameWithContext(ctx)
	if err != nil {
		return ""
	}
	return name
}
