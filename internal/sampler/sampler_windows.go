//go:build windows

package sampler

import (
	"context"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32                       = windows.NewLazySystemDLL("user32.dll")
	procGetForegroundWindow      = user32.NewProc("GetForegroundWindow")
	procGetWindowTextW           = user32.NewProc("GetWindowTextW")
	procGetWindowTextLengthW     = user32.NewProc("GetWindowTextLengthW")
	procGetWindowThreadProcessId = user32.NewProc("GetWindowThreadProcessId")
	procEnumWindows              = user32.NewProc("EnumWindows")
	procIsWindowVisible          = user32.NewProc("IsWindowVisible")
)

type osSampler struct{}

// New returns the Windows sampler.
func New() Sampler { return osSampler{} }

func (osSampler) SupportsForeground() bool { return true }

func (osSampler) Sample(ctx context.Context, opts Options) (Sample, error) {
	s := Sample{Taken: time.Now()}
	if opts.Foreground {
		s.Foreground = foregroundWindow(ctx)
	}
	if opts.Processes {
		table, err := listProcesses(ctx)
		if err != nil {
			return Sample{}, fmt.Errorf("listing processes: %w", err)
		}
		s.Processes = table
	}
	if opts.Windows {
		s.WindowOwners = windowOwners()
	}
	return s, nil
}

// foregroundWindow resolves the focused window into a descriptor, or nil
// when no window has focus.
func foregroundWindow(ctx context.Context) *Foreground {
	hwnd, _, _ := procGetForegroundWindow.Call()
	if hwnd == 0 {
		return nil
	}
	var pid uint32
	procGetWindowThreadProcessId.Call(hwnd, uintptr(unsafe.Pointer(&pid)))
	fg := &Foreground{Title: windowText(hwnd)}
	if pid != 0 {
		fg.PID = int32(pid)
		fg.Name = processName(ctx, int32(pid))
	}
	return fg
}

func windowText(hwnd uintptr) string {
	n, _, _ := procGetWindowTextLengthW.Call(hwnd)
	if n == 0 {
		return ""
	}
	buf := make([]uint16, n+1)
	procGetWindowTextW.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	return windows.UTF16ToString(buf)
}

// windowOwners enumerates visible, titled top-level windows and returns the
// pids that own them. Untitled windows are rarely user-facing and are left
// out, matching the gui-only filter's intent.
func windowOwners() map[int32]bool {
	owners := make(map[int32]bool)
	cb := windows.NewCallback(func(hwnd, lparam uintptr) uintptr {
		if vis, _, _ := procIsWindowVisible.Call(hwnd); vis == 0 {
			return 1
		}
		if n, _, _ := procGetWindowTextLengthW.Call(hwnd); n == 0 {
			return 1
		}
		var pid uint32
		procGetWindowThreadProcessId.Call(hwnd, uintptr(unsafe.Pointer(&pid)))
		if pid != 0 {
			owners[int32(pid)] = true
		}
		return 1
	})
	procEnumWindows.Call(cb, 0)
	return owners
}
