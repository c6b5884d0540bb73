// Package sampler reads OS activity state: the foreground window and the
// process table. Implementations are platform-specific and selected at
// build time; everything above this package goes through the Sampler
// interface, so tests substitute a fake.
package sampler

import (
	"context"
	"fmt"
	"time"
)

// Foreground describes the process owning the focused window.
type Foreground struct {
	PID   int32
	Name  string // executable name, e.g. chrome.exe; "" when unresolvable
	Title string // window title; "" when the window has none
}

// Process is one row of the process table.
type Process struct {
	PID       int32
	Name      string
	User      string    // owner; "" when unresolvable
	StartedAt time.Time // zero when unresolvable
	// Helper marks a Chromium-style child process (--type= on its command
	// line). Start/stop edges for helpers are noise; only the main browser
	// process represents the app.
	Helper bool
}

// Sample is one reading of OS state. It lives for a single tick and is
// never persisted.
type Sample struct {
	Taken      time.Time
	Foreground *Foreground // nil when no window has focus or unsupported
	Processes  map[int32]Process
	// WindowOwners holds the pids owning visible titled top-level windows.
	// nil when not collected or not supported on the platform.
	WindowOwners map[int32]bool
}

// Options selects what a call to Sample collects.
type Options struct {
	Foreground bool
	Processes  bool
	Windows    bool // collect WindowOwners (needed by the gui-only filter)
}

// Sampler reads activity state from the OS.
type Sampler interface {
	// Sample collects the parts of OS state selected by opts. Individual
	// processes the OS refuses access to are skipped, never fatal.
	Sample(ctx context.Context, opts Options) (Sample, error)
	// SupportsForeground reports whether this platform can resolve the
	// focused window. Active-mode monitoring requires it.
	SupportsForeground() bool
}

// CapabilityError marks a per-process access denial. The affected process
// is skipped and sampling continues.
type CapabilityError struct {
	PID int32
	Err error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("process %d not accessible: %v", e.PID, e.Err)
}

func (e *CapabilityError) Unwrap() error {
	return e.Err
}
