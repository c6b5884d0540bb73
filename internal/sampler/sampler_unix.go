//go:build !windows

package sampler

import (
	"context"
	"fmt"
	"time"
)

type osSampler struct{}

// New returns the sampler for platforms without a foreground-window API.
// Process monitoring works everywhere; active-window tracking needs the
// Win32 window manager, and callers gate on SupportsForeground.
func New() Sampler { return osSampler{} }

func (osSampler) SupportsForeground() bool { return false }

func (osSampler) Sample(ctx context.Context, opts Options) (Sample, error) {
	s := Sample{Taken: time.Now()}
	if opts.Processes {
		table, err := listProcesses(ctx)
		if err != nil {
			return Sample{}, fmt.Errorf("listing processes: %w", err)
		}
		s.Processes = table
	}
	return s, nil
}
