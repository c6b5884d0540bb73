package eventlog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Follow tails the active segment at path, calling fn for every complete
// record appended after the call. It survives rotation: when the segment is
// renamed away and a fresh one appears, following continues from the start
// of the new file. Returns nil once ctx is cancelled.
//
// Only whole lines are delivered; a partially-written tail stays buffered
// until its newline arrives.
func Follow(ctx context.Context, path string, fn func(Event)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: rotation replaces the file, and
	// the create event for its successor only arrives on the directory.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	var (
		f       *os.File
		partial []byte
	)
	defer func() {
		if f != nil {
			f.Close()
		}
	}()

	// Start at the end of whatever already exists: tail semantics.
	if existing, err := os.Open(path); err == nil {
		existing.Seek(0, io.SeekEnd)
		f = existing
	}

	drain := func() {
		if f == nil {
			opened, err := os.Open(path)
			if err != nil {
				return
			}
			f = opened
		}
		data, err := io.ReadAll(f)
		if err != nil && len(data) == 0 {
			return
		}
		partial = append(partial, data...)
		for {
			i := bytes.IndexByte(partial, '\n')
			if i < 0 {
				return
			}
			line := string(partial[:i])
			partial = partial[i+1:]
			if e, ok := ParseLine(line); ok {
				fn(e)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				// Rotated away. Records never straddle a rotation, so any
				// buffered partial is stale.
				if f != nil {
					f.Close()
					f = nil
				}
				partial = partial[:0]
				continue
			}
			if event.Has(fsnotify.Create) {
				if f != nil {
					f.Close()
					f = nil
				}
				partial = partial[:0]
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				drain()
			}

		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			// Watcher errors are non-fatal; keep following.
		}
	}
}
