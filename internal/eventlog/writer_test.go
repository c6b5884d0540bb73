package eventlog

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// fakeClock is a manually-advanced clock for rotation tests. Now is safe to
// call from the archiver goroutine.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 10, 29, 11, 0, 0, 0, time.Local)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func mustAppend(t testing.TB, w *Writer, e Event) {
	t.Helper()
	if err := w.Append(e); err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func mustClose(t testing.TB, w *Writer) {
	t.Helper()
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// rotatedNames lists the rotated (non-active) segment files next to path.
func rotatedNames(t testing.TB, path string) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	base := filepath.Base(path)
	var names []string
	for _, ent := range entries {
		if ent.Name() != base && strings.HasPrefix(ent.Name(), base+".") {
			names = append(names, ent.Name())
		}
	}
	return names
}

func TestWriterAppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app-usage.log")
	w, err := NewWriter(WriterOptions{Path: path})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	ts := time.Date(2025, 10, 29, 11, 35, 10, 0, time.Local)
	mustAppend(t, w, New(ts, TypeActive, F("pid", "1234"), F("name", "chrome.exe"), F("title", "Example"), F("ts", "2025-10-29 11:35:10")))
	mustAppend(t, w, New(ts.Add(time.Second), TypeProcSnapshot, F("count", "3")))
	mustClose(t, w)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "2025-10-29 11:35:10 | INFO | active pid=1234 name=chrome.exe title=Example ts=2025-10-29 11:35:10\n" +
		"2025-10-29 11:35:11 | INFO | proc_snapshot count=3\n"
	if string(data) != want {
		t.Errorf("file contents = %q, want %q", data, want)
	}
}

func TestWriterCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "logs", "app-usage.log")
	w, err := NewWriter(WriterOptions{Path: path})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	mustClose(t, w)
	if _, err := os.Stat(path); err != nil {
		t.Errorf("active segment missing: %v", err)
	}
}

func TestWriterSizeRotation(t *testing.T) {
	clk := newFakeClock()
	path := filepath.Join(t.TempDir(), "app-usage.log")
	w, err := NewWriter(WriterOptions{Path: path, Rotate: true, MaxBytes: 1, Now: clk.Now})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	const n = 4
	for i := 0; i < n; i++ {
		clk.advance(time.Second)
		mustAppend(t, w, New(clk.Now(), TypeActive, F("pid", strconv.Itoa(i))))
	}
	mustClose(t, w)

	// Every append after the first forced a rotation; rotated segments were
	// compressed and the originals removed.
	rotated := rotatedNames(t, path)
	if len(rotated) != n-1 {
		t.Fatalf("rotated segments = %v, want %d", rotated, n-1)
	}
	for _, name := range rotated {
		if !strings.HasSuffix(name, ".zip") {
			t.Errorf("segment %q was not compressed", name)
		}
	}

	events, err := Read(path, Query{Type: TypeActive})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(events) != n {
		t.Fatalf("read %d events, want %d", len(events), n)
	}
	for i, e := range events {
		checkField(t, e, "pid", strconv.Itoa(i))
	}
}

func TestWriterIntervalRotation(t *testing.T) {
	clk := newFakeClock()
	path := filepath.Join(t.TempDir(), "app-usage.log")
	w, err := NewWriter(WriterOptions{Path: path, Rotate: true, RotateEvery: time.Hour, Now: clk.Now})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	mustAppend(t, w, New(clk.Now(), TypeActive, F("pid", "1")))
	clk.advance(30 * time.Minute)
	mustAppend(t, w, New(clk.Now(), TypeActive, F("pid", "2")))
	clk.advance(31 * time.Minute)
	// The segment is now older than the rotation interval, so this record
	// must land in a fresh one.
	mustAppend(t, w, New(clk.Now(), TypeActive, F("pid", "3")))
	mustClose(t, w)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("active segment has %d records, want 1: %q", len(lines), data)
	}
	e, ok := ParseLine(lines[0])
	if !ok {
		t.Fatalf("active record unparseable: %q", lines[0])
	}
	checkField(t, e, "pid", "3")

	if rotated := rotatedNames(t, path); len(rotated) != 1 {
		t.Errorf("rotated segments = %v, want exactly 1", rotated)
	}
}

func TestWriterSameSecondRotationNames(t *testing.T) {
	clk := newFakeClock() // frozen: all rotations land on one stamp
	path := filepath.Join(t.TempDir(), "app-usage.log")
	w, err := NewWriter(WriterOptions{Path: path, Rotate: true, MaxBytes: 1, Now: clk.Now})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for i := 0; i < 4; i++ {
		mustAppend(t, w, New(clk.Now(), TypeActive, F("pid", strconv.Itoa(i))))
	}
	mustClose(t, w)

	stamp := clk.Now().Format(SegmentLayout)
	want := []string{
		"app-usage.log." + stamp + ".zip",
		"app-usage.log." + stamp + "-1.zip",
		"app-usage.log." + stamp + "-2.zip",
	}
	got := rotatedNames(t, path)
	if len(got) != len(want) {
		t.Fatalf("rotated segments = %v, want %v", got, want)
	}
	for _, name := range want {
		if _, err := os.Stat(filepath.Join(filepath.Dir(path), name)); err != nil {
			t.Errorf("expected segment %q: %v", name, err)
		}
	}

	// Reading everything back must preserve append order across the
	// disambiguated names.
	events, err := Read(path, Query{Type: TypeActive})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i, e := range events {
		checkField(t, e, "pid", strconv.Itoa(i))
	}
	if len(events) != 4 {
		t.Errorf("read %d events, want 4", len(events))
	}
}

func TestWriterZipHoldsRotatedSegment(t *testing.T) {
	clk := newFakeClock()
	path := filepath.Join(t.TempDir(), "app-usage.log")
	w, err := NewWriter(WriterOptions{Path: path, Rotate: true, MaxBytes: 1, Now: clk.Now})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	first := New(clk.Now(), TypeActive, F("pid", "1"))
	mustAppend(t, w, first)
	mustAppend(t, w, New(clk.Now(), TypeActive, F("pid", "2")))
	mustClose(t, w)

	segName := "app-usage.log." + clk.Now().Format(SegmentLayout)
	zr, err := zip.OpenReader(path + "." + clk.Now().Format(SegmentLayout) + ".zip")
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer zr.Close()
	if len(zr.File) != 1 {
		t.Fatalf("zip has %d entries, want 1", len(zr.File))
	}
	if zr.File[0].Name != segName {
		t.Errorf("zip entry = %q, want %q", zr.File[0].Name, segName)
	}
	rc, err := zr.File[0].Open()
	if err != nil {
		t.Fatalf("entry Open: %v", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("entry read: %v", err)
	}
	if want := first.Line() + "\n"; string(data) != want {
		t.Errorf("zip entry contents = %q, want %q", data, want)
	}
}

func TestWriterRetentionPrunesOldSegments(t *testing.T) {
	clk := newFakeClock()
	path := filepath.Join(t.TempDir(), "app-usage.log")
	w, err := NewWriter(WriterOptions{Path: path, Rotate: true, MaxBytes: 1, Keep: 2, Now: clk.Now})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for i := 0; i < 6; i++ {
		clk.advance(time.Second)
		mustAppend(t, w, New(clk.Now(), TypeActive, F("pid", strconv.Itoa(i))))
	}
	mustClose(t, w)

	rotated := rotatedNames(t, path)
	if len(rotated) != 2 {
		t.Fatalf("rotated segments after prune = %v, want 2", rotated)
	}
	// The survivors are the newest two; the reader must still see their
	// records plus the active segment's.
	events, err := Read(path, Query{Type: TypeActive})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("read %d events, want 3", len(events))
	}
	for i, want := range []string{"3", "4", "5"} {
		checkField(t, events[i], "pid", want)
	}
}

func TestWriterNoRotate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app-usage.log")
	w, err := NewWriter(WriterOptions{Path: path, MaxBytes: 1, RotateEvery: time.Nanosecond})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for i := 0; i < 5; i++ {
		mustAppend(t, w, New(time.Now(), TypeActive, F("pid", strconv.Itoa(i))))
	}
	mustClose(t, w)
	if rotated := rotatedNames(t, path); len(rotated) != 0 {
		t.Errorf("rotation disabled but found segments %v", rotated)
	}
}

func TestWriterMirror(t *testing.T) {
	var mirror bytes.Buffer
	path := filepath.Join(t.TempDir(), "app-usage.log")
	w, err := NewWriter(WriterOptions{Path: path, Mirror: &mirror})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	ts := time.Date(2025, 10, 29, 11, 40, 0, 0, time.Local)
	e1 := New(ts, TypeProcSnapshot, F("count", "142"))
	e2 := New(ts.Add(time.Second), TypeProcEnd, F("pid", "9"), F("name", "x.exe"), F("user", "?"))
	mustAppend(t, w, e1)
	mustAppend(t, w, e2)
	mustClose(t, w)

	want := e1.Line() + "\n" + e2.Line() + "\n"
	if mirror.String() != want {
		t.Errorf("mirror = %q, want %q", mirror.String(), want)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != want {
		t.Errorf("file = %q, want %q", data, want)
	}
}

func TestWriterResumesExistingSegment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app-usage.log")
	w, err := NewWriter(WriterOptions{Path: path})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	mustAppend(t, w, New(time.Now(), TypeActive, F("pid", "1")))
	mustClose(t, w)

	w, err = NewWriter(WriterOptions{Path: path})
	if err != nil {
		t.Fatalf("NewWriter (resume): %v", err)
	}
	mustAppend(t, w, New(time.Now(), TypeActive, F("pid", "2")))
	mustClose(t, w)

	events, err := Read(path, Query{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("read %d events after resume, want 2", len(events))
	}
	checkField(t, events[0], "pid", "1")
	checkField(t, events[1], "pid", "2")
}

func TestWriterAppendAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app-usage.log")
	w, err := NewWriter(WriterOptions{Path: path})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	mustClose(t, w)
	if err := w.Append(New(time.Now(), TypeActive)); !errors.Is(err, ErrClosed) {
		t.Errorf("Append after Close = %v, want ErrClosed", err)
	}
	// Close is idempotent.
	if err := w.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestWriterWriteFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app-usage.log")
	w, err := NewWriter(WriterOptions{Path: path})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	// Pull the file out from under the writer so both the write and its
	// retry fail.
	w.f.Close()
	err = w.Append(New(time.Now(), TypeActive, F("pid", "1")))
	var werr *WriteError
	if !errors.As(err, &werr) {
		t.Fatalf("Append = %v, want *WriteError", err)
	}
	if werr.Path != path {
		t.Errorf("WriteError.Path = %q, want %q", werr.Path, path)
	}
}

func TestCompressSegmentMissingSource(t *testing.T) {
	src := filepath.Join(t.TempDir(), "app-usage.log.2025-10-29_11-00-00")
	err := compressSegment(src)
	var aerr *ArchivalError
	if !errors.As(err, &aerr) {
		t.Fatalf("compressSegment = %v, want *ArchivalError", err)
	}
	// The half-made archive must not be left behind.
	if _, serr := os.Stat(src + ".zip"); !errors.Is(serr, os.ErrNotExist) {
		t.Errorf("stale zip left on disk: %v", serr)
	}
}

func TestCompressSegmentKeepsSourceOnFailure(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "app-usage.log.2025-10-29_11-00-00")
	if err := os.WriteFile(src, []byte("2025-10-29 10:59:59 | INFO | proc_snapshot count=1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	// A directory squatting on the target name makes creation fail.
	if err := os.Mkdir(src+".zip", 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	err := compressSegment(src)
	var aerr *ArchivalError
	if !errors.As(err, &aerr) {
		t.Fatalf("compressSegment = %v, want *ArchivalError", err)
	}
	if _, serr := os.Stat(src); serr != nil {
		t.Errorf("uncompressed segment should survive a failed archival: %v", serr)
	}
}

// Feature: event log, Property 2: rotation never splits a record and never
// drops one, for any size limit and record mix.
func TestWriterNeverSplitsOrDropsRecords(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxBytes := rapid.Int64Range(1, 200).Draw(rt, "max_bytes")
		n := rapid.IntRange(1, 30).Draw(rt, "num_records")

		clk := newFakeClock()
		path := filepath.Join(t.TempDir(), "app-usage.log")
		w, err := NewWriter(WriterOptions{Path: path, Rotate: true, MaxBytes: maxBytes, Now: clk.Now})
		if err != nil {
			rt.Fatalf("NewWriter: %v", err)
		}
		titles := make([]string, n)
		for i := 0; i < n; i++ {
			clk.advance(time.Second)
			titles[i] = generateFieldValue(rt, "title")
			e := New(clk.Now(), TypeActive, F("pid", strconv.Itoa(i)), F("title", titles[i]))
			if err := w.Append(e); err != nil {
				rt.Fatalf("Append %d: %v", i, err)
			}
		}
		if err := w.Close(); err != nil {
			rt.Fatalf("Close: %v", err)
		}

		events, err := Read(path, Query{Type: TypeActive})
		if err != nil {
			rt.Fatalf("Read: %v", err)
		}
		if len(events) != n {
			rt.Fatalf("read %d records, want %d", len(events), n)
		}
		for i, e := range events {
			pid, _ := e.Get("pid")
			if pid != strconv.Itoa(i) {
				rt.Errorf("record %d out of order: pid=%s", i, pid)
			}
			if title, _ := e.Get("title"); title != titles[i] {
				rt.Errorf("record %d title = %q, want %q", i, title, titles[i])
			}
		}
	})
}
