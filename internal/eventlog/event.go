// Package eventlog defines the on-disk activity record format and the
// append/rotate/read machinery around it.
//
// Records are plain text lines:
//
//	2025-10-29 11:35:10 | INFO | active pid=1234 name=chrome.exe title=Example ts=2025-10-29 11:35:10
//
// The format is the stable contract between the monitor and anything that
// consumes its output; field order within a record is fixed per event type
// so identical state always serializes to identical bytes.
package eventlog

import (
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the wall-clock format used for the record prefix and for
// timestamp-valued fields (ts, started_at). Local time, no zone suffix.
const TimeLayout = "2006-01-02 15:04:05"

// Record levels.
const (
	LevelInfo    = "INFO"
	LevelWarning = "WARNING"
	LevelError   = "ERROR"
)

// Event types emitted by the monitor.
const (
	TypeActive       = "active"        // foreground app changed
	TypeHeartbeat    = "heartbeat"     // periodic re-emission of the foreground app
	TypeProcStart    = "proc_start"    // process appeared
	TypeProcEnd      = "proc_end"      // process disappeared
	TypeProcSnapshot = "proc_snapshot" // full-state dump header (opt-in)
	TypeProc         = "proc"          // one tracked process within a snapshot
	TypeMonitorStart = "monitor_start" // agent lifecycle breadcrumb
	TypeMonitorStop  = "monitor_stop"
	TypeArchiveError = "archive_error" // writer self-report: compression failed
	TypeSampleError  = "sample_error"  // a whole sample failed; the loop carries on
)

// Field is a single key=value pair. Values may contain spaces but never
// newlines; keys contain neither.
type Field struct {
	Key   string
	Value string
}

// F builds a Field.
func F(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Event is one immutable log record. Fields keep their insertion order so
// formatting is deterministic.
type Event struct {
	Time   time.Time
	Level  string
	Type   string
	Fields []Field
}

// New returns an INFO event of the given type at t.
func New(t time.Time, eventType string, fields ...Field) Event {
	return Event{Time: t, Level: LevelInfo, Type: eventType, Fields: fields}
}

// Get returns the value of the first field with the given key.
func (e Event) Get(key string) (string, bool) {
	for _, f := range e.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// PID returns the pid field as an integer, or -1 when absent or not numeric
// (the "?" placeholder).
func (e Event) PID() int {
	v, ok := e.Get("pid")
	if !ok {
		return -1
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}

// Line renders the record in its on-disk form, without a trailing newline.
func (e Event) Line() string {
	var sb strings.Builder
	sb.WriteString(e.Time.Format(TimeLayout))
	sb.WriteString(" | ")
	sb.WriteString(e.Level)
	sb.WriteString(" | ")
	sb.WriteString(e.Type)
	for _, f := range e.Fields {
		sb.WriteByte(' ')
		sb.WriteString(f.Key)
		sb.WriteByte('=')
		sb.WriteString(f.Value)
	}
	return sb.String()
}

// ParseLine parses one on-disk record. It reports ok=false for anything that
// is not a complete record, including the partially-written last line of an
// active segment.
//
// Values may contain spaces: a token without '=' is folded back into the
// preceding field's value. A value that itself contains "k=v" text cannot be
// distinguished from a new field; producers keep such fields last on the line
// so earlier fields parse intact.
func ParseLine(line string) (Event, bool) {
	line = strings.TrimRight(line, "\r")
	parts := strings.SplitN(line, " | ", 3)
	if len(parts) != 3 {
		return Event{}, false
	}
	ts, err := time.ParseInLocation(TimeLayout, parts[0], time.Local)
	if err != nil {
		return Event{}, false
	}
	level := parts[1]
	if level != LevelInfo && level != LevelWarning && level != LevelError {
		return Event{}, false
	}

	tokens := strings.Split(strings.TrimSpace(parts[2]), " ")
	if tokens[0] == "" {
		return Event{}, false
	}
	e := Event{Time: ts, Level: level, Type: tokens[0]}
	for _, tok := range tokens[1:] {
		if k, v, found := strings.Cut(tok, "="); found && k != "" {
			e.Fields = append(e.Fields, Field{Key: k, Value: v})
			continue
		}
		// Continuation of a spaced value, e.g. `title=Example Domain`.
		if n := len(e.Fields); n > 0 {
			e.Fields[n-1].Value += " " + tok
		}
	}
	return e, true
}
