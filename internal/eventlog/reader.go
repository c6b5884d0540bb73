package eventlog

import (
	"archive/zip"
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNoSegments is returned by Read and Segments when nothing exists at the
// log path, rotated or otherwise.
var ErrNoSegments = errors.New("no log segments found")

// Segment is one physical log file.
type Segment struct {
	Path       string
	Compressed bool
	// Active marks the segment currently owned by a writer. Its last line
	// may be incomplete and is skipped rather than treated as corruption.
	Active bool
}

// Segments lists every segment belonging to the log at path, oldest first,
// with the active segment last. Rotated names carry a timestamp suffix that
// sorts lexicographically in time order.
func Segments(path string) ([]Segment, error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSegments
		}
		return nil, fmt.Errorf("listing log directory: %w", err)
	}

	names := make(map[string]bool, len(entries))
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		names[ent.Name()] = true
	}

	var segs []Segment
	for name := range names {
		if name == base || !strings.HasPrefix(name, base+".") {
			continue
		}
		if !strings.HasSuffix(name, ".zip") && names[name+".zip"] {
			// Mid-archival: both forms exist briefly; the zip wins.
			continue
		}
		segs = append(segs, Segment{
			Path:       filepath.Join(dir, name),
			Compressed: strings.HasSuffix(name, ".zip"),
		})
	}
	// Sort on the stamp, ignoring the .zip suffix, so an unarchived segment
	// orders the same as it would once compressed.
	sort.Slice(segs, func(i, j int) bool {
		return strings.TrimSuffix(segs[i].Path, ".zip") < strings.TrimSuffix(segs[j].Path, ".zip")
	})

	if names[base] {
		segs = append(segs, Segment{Path: path, Active: true})
	}
	if len(segs) == 0 {
		return nil, ErrNoSegments
	}
	return segs, nil
}

// Query narrows a Read. The zero value reads everything.
type Query struct {
	// Since drops records older than this timestamp. Zero means no bound.
	Since time.Time
	// Type keeps only records of this event type.
	Type string
	// App keeps only records whose name field contains this string,
	// case-insensitively.
	App string
	// Limit keeps only the most recent N matching records.
	Limit int
}

func (q Query) match(e Event) bool {
	if !q.Since.IsZero() && e.Time.Before(q.Since) {
		return false
	}
	if q.Type != "" && e.Type != q.Type {
		return false
	}
	if q.App != "" {
		name, _ := e.Get("name")
		if !strings.Contains(strings.ToLower(name), strings.ToLower(q.App)) {
			return false
		}
	}
	return true
}

// Read replays every record matching q across all segments of the log at
// path, oldest first. Unparseable lines, including a partial trailing line
// in the active segment, are skipped rather than treated as errors.
func Read(path string, q Query) ([]Event, error) {
	segs, err := Segments(path)
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, seg := range segs {
		if err := readSegment(seg, func(e Event) {
			if q.match(e) {
				events = append(events, e)
			}
		}); err != nil {
			return nil, err
		}
	}
	if q.Limit > 0 && len(events) > q.Limit {
		events = events[len(events)-q.Limit:]
	}
	return events, nil
}

// readSegment streams the parseable records of one segment through fn.
func readSegment(seg Segment, fn func(Event)) error {
	r, closeFn, err := openSegment(seg)
	if err != nil {
		return err
	}
	defer closeFn()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if e, ok := ParseLine(scanner.Text()); ok {
			fn(e)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading segment %s: %w", seg.Path, err)
	}
	return nil
}

// openSegment opens a segment for reading, unwrapping the zip container for
// archived ones.
func openSegment(seg Segment) (io.Reader, func() error, error) {
	if !seg.Compressed {
		f, err := os.Open(seg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening segment: %w", err)
		}
		return f, f.Close, nil
	}

	zr, err := zip.OpenReader(seg.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening archived segment %s: %w", seg.Path, err)
	}
	if len(zr.File) == 0 {
		zr.Close()
		return nil, nil, fmt.Errorf("archived segment %s is empty", seg.Path)
	}
	entry, err := zr.File[0].Open()
	if err != nil {
		zr.Close()
		return nil, nil, fmt.Errorf("opening archived segment %s: %w", seg.Path, err)
	}
	closeFn := func() error {
		entry.Close()
		return zr.Close()
	}
	return entry, closeFn, nil
}
