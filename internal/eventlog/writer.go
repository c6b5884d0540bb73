package eventlog

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// SegmentLayout is the timestamp suffix given to a rotated segment:
// <basename>.<SegmentLayout>, archived as <same>.zip.
const SegmentLayout = "2006-01-02_15-04-05"

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("event log is closed")

// WriteError wraps a failure to write or rotate the active segment. Callers
// treat it as fatal: the record it covers was already retried once.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return "failed to write event log " + e.Path + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// ArchivalError wraps a failure to compress a rotated segment. Non-fatal:
// the uncompressed segment is kept as the fallback.
type ArchivalError struct {
	Path string
	Err  error
}

func (e *ArchivalError) Error() string {
	return "failed to archive segment " + e.Path + ": " + e.Err.Error()
}

func (e *ArchivalError) Unwrap() error {
	return e.Err
}

// WriterOptions configures a Writer.
type WriterOptions struct {
	Path string

	// Rotate enables rotation. When false the file grows without bound and
	// the remaining options below are ignored.
	Rotate bool
	// RotateEvery closes the active segment once it has been open this long.
	// Zero disables the time trigger.
	RotateEvery time.Duration
	// MaxBytes closes the active segment before a write would push it past
	// this size. Zero disables the size trigger.
	MaxBytes int64
	// Keep prunes all but the newest N rotated segments after each archival.
	// Zero keeps everything.
	Keep int

	// Mirror, when set, receives a copy of every record (the --stdout flag).
	Mirror io.Writer

	// Now is the clock used for rotation decisions and segment names.
	// Defaults to time.Now; tests substitute a fake.
	Now func() time.Time
}

// Writer is the append-only event log writer. One Writer exclusively owns
// the active segment for the life of the process; behavior with two writers
// on the same path is undefined.
//
// Rotation is checked before each append, never during one, so a record is
// never split across segments. Closed segments are handed to a background
// goroutine for compression; the write path never waits on it except when a
// rotation outruns the archiver.
type Writer struct {
	opts WriterOptions
	now  func() time.Time

	mu       sync.Mutex
	f        *os.File
	size     int64
	openedAt time.Time
	closed   bool

	archive chan string
	wg      sync.WaitGroup
}

// NewWriter opens (or creates) the active segment at opts.Path and starts
// the archival goroutine when rotation is enabled.
func NewWriter(opts WriterOptions) (*Writer, error) {
	if opts.Path == "" {
		return nil, errors.New("event log path is empty")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if dir := filepath.Dir(opts.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &WriteError{Path: opts.Path, Err: err}
		}
	}
	f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, &WriteError{Path: opts.Path, Err: err}
	}

	w := &Writer{opts: opts, now: now, f: f, openedAt: now()}
	if info, err := f.Stat(); err == nil {
		w.size = info.Size()
		if w.size > 0 {
			// Resuming an existing segment: its mtime approximates how old
			// it is, which keeps the time trigger honest across restarts.
			w.openedAt = info.ModTime()
		}
	}

	if opts.Rotate {
		w.archive = make(chan string, 16)
		w.wg.Add(1)
		go w.archiveLoop()
	}
	return w, nil
}

// Append formats e and writes it to the active segment, rotating first if a
// trigger has fired. A failed write is retried once; a second failure is
// returned as a *WriteError and the record must be considered lost.
func (w *Writer) Append(e Event) error {
	line := e.Line() + "\n"

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.shouldRotate(int64(len(line))) {
		if err := w.rotate(); err != nil {
			return err
		}
	}
	if err := w.write([]byte(line)); err != nil {
		return err
	}
	if w.opts.Mirror != nil {
		io.WriteString(w.opts.Mirror, line)
	}
	return nil
}

// Close drains pending archival work, flushes and closes the active segment.
// Safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	if w.archive != nil {
		close(w.archive)
		w.wg.Wait()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.f.Close(); err != nil {
		return &WriteError{Path: w.opts.Path, Err: err}
	}
	return nil
}

// write appends b, retrying the unwritten remainder once on error.
func (w *Writer) write(b []byte) error {
	n, err := w.f.Write(b)
	w.size += int64(n)
	if err == nil {
		return nil
	}
	n2, err2 := w.f.Write(b[n:])
	w.size += int64(n2)
	if err2 == nil {
		return nil
	}
	return &WriteError{Path: w.opts.Path, Err: err2}
}

// shouldRotate reports whether the next write of n bytes requires a fresh
// segment. Must hold w.mu.
func (w *Writer) shouldRotate(n int64) bool {
	if !w.opts.Rotate || w.size == 0 {
		return false
	}
	if w.opts.MaxBytes > 0 && w.size+n > w.opts.MaxBytes {
		return true
	}
	if w.opts.RotateEvery > 0 && w.now().Sub(w.openedAt) >= w.opts.RotateEvery {
		return true
	}
	return false
}

// rotate closes the active segment, renames it with a timestamp suffix,
// queues it for compression and opens a fresh segment. Must hold w.mu.
func (w *Writer) rotate() error {
	if err := w.f.Close(); err != nil {
		return &WriteError{Path: w.opts.Path, Err: err}
	}

	dst := w.opts.Path + "." + w.now().Format(SegmentLayout)
	// Two rotations inside one second collide on the stamp; disambiguate.
	// The earlier segment may already have been compressed, so the archived
	// name counts as taken too.
	for i := 1; ; i++ {
		if !segmentExists(dst) {
			break
		}
		dst = fmt.Sprintf("%s.%s-%d", w.opts.Path, w.now().Format(SegmentLayout), i)
	}
	if err := os.Rename(w.opts.Path, dst); err != nil {
		return &WriteError{Path: w.opts.Path, Err: err}
	}

	f, err := os.OpenFile(w.opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return &WriteError{Path: w.opts.Path, Err: err}
	}
	w.f = f
	w.size = 0
	w.openedAt = w.now()

	// Hand the closed segment to the archiver without blocking the write
	// path. A full queue leaves the segment uncompressed, which readers
	// accept; record that it was skipped.
	select {
	case w.archive <- dst:
	default:
		skipped := Event{
			Time:  w.now(),
			Level: LevelWarning,
			Type:  TypeArchiveError,
			Fields: []Field{
				F("file", filepath.Base(dst)),
				F("error", "archive queue full, segment left uncompressed"),
			},
		}
		w.write([]byte(skipped.Line() + "\n"))
	}
	return nil
}

func segmentExists(path string) bool {
	if _, err := os.Stat(path); err == nil {
		return true
	}
	_, err := os.Stat(path + ".zip")
	return err == nil
}

// archiveLoop compresses rotated segments as they arrive. Compression
// failures are reported as WARNING records in the log itself; the
// uncompressed segment stays on disk.
func (w *Writer) archiveLoop() {
	defer w.wg.Done()
	for src := range w.archive {
		if err := compressSegment(src); err != nil {
			w.warn(Event{
				Time:  w.now(),
				Level: LevelWarning,
				Type:  TypeArchiveError,
				Fields: []Field{
					F("file", filepath.Base(src)),
					F("error", err.Error()),
				},
			})
			continue
		}
		if w.opts.Keep > 0 {
			w.prune()
		}
	}
}

// warn appends a writer self-report, bypassing the closed check: during
// Close the archiver drains while the file is still open.
func (w *Writer) warn(e Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.write([]byte(e.Line() + "\n"))
	if w.opts.Mirror != nil {
		io.WriteString(w.opts.Mirror, e.Line()+"\n")
	}
}

// compressSegment zips src into src.zip (single entry named after the
// segment) and removes the original on success.
func compressSegment(src string) error {
	zf, err := os.Create(src + ".zip")
	if err != nil {
		return &ArchivalError{Path: src, Err: err}
	}
	zw := zip.NewWriter(zf)

	fail := func(err error) error {
		zw.Close()
		zf.Close()
		os.Remove(src + ".zip")
		return &ArchivalError{Path: src, Err: err}
	}

	in, err := os.Open(src)
	if err != nil {
		return fail(err)
	}
	entry, err := zw.Create(filepath.Base(src))
	if err != nil {
		in.Close()
		return fail(err)
	}
	if _, err := io.Copy(entry, in); err != nil {
		in.Close()
		return fail(err)
	}
	in.Close()
	if err := zw.Close(); err != nil {
		zf.Close()
		os.Remove(src + ".zip")
		return &ArchivalError{Path: src, Err: err}
	}
	if err := zf.Close(); err != nil {
		os.Remove(src + ".zip")
		return &ArchivalError{Path: src, Err: err}
	}
	return os.Remove(src)
}

// prune deletes the oldest rotated segments beyond opts.Keep. The timestamp
// suffix sorts lexicographically in chronological order, so name order is
// age order.
func (w *Writer) prune() {
	dir := filepath.Dir(w.opts.Path)
	base := filepath.Base(w.opts.Path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var rotated []string
	for _, ent := range entries {
		name := ent.Name()
		if name != base && strings.HasPrefix(name, base+".") {
			rotated = append(rotated, name)
		}
	}
	sort.Slice(rotated, func(i, j int) bool {
		return strings.TrimSuffix(rotated[i], ".zip") < strings.TrimSuffix(rotated[j], ".zip")
	})
	for len(rotated) > w.opts.Keep {
		os.Remove(filepath.Join(dir, rotated[0]))
		rotated = rotated[1:]
	}
}
