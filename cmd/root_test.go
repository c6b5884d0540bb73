package cmd

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

// executeCommand runs a cobra command with the given args and captures
// combined cobra output (usage and errors).
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	buf := new(strings.Builder)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	_, err = root.ExecuteC()
	return buf.String(), err
}

// captureStdout redirects os.Stdout while fn runs. The commands print
// records with plain fmt, so cobra's out buffer never sees them.
func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()
	orig := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	os.Stdout = w

	runErr := fn()

	w.Close()
	os.Stdout = orig
	buf := new(strings.Builder)
	io.Copy(buf, r)
	r.Close()
	return buf.String(), runErr
}

// isolateConfig keeps the test away from any real config file or AAM_*
// environment.
func isolateConfig(t *testing.T) {
	t.Helper()
	t.Setenv("APPMON_CONFIG", filepath.Join(t.TempDir(), "no-config.json"))
	t.Setenv("AAM_MODE", "")
	t.Setenv("AAM_LOGFILE", "")
	t.Setenv("AAM_INTERVAL", "")
	t.Setenv("AAM_HEARTBEAT", "")
}

// writeSampleLog drops a small fixed event log into a temp dir and returns
// its path.
func writeSampleLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app-usage.log")
	content := strings.Join([]string{
		"2025-10-29 11:00:00 | INFO | proc_start pid=1 name=code.exe user=meera started_at=2025-10-29 10:59:59",
		"2025-10-29 11:05:00 | INFO | active pid=2 name=chrome.exe title=Example Domain ts=2025-10-29 11:05:00",
		"2025-10-29 11:30:00 | INFO | proc_end pid=1 name=code.exe user=meera",
	}, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}
