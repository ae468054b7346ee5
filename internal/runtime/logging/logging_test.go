package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
)

func TestWatermillServiceLoggerDelegates(t *testing.T) {
	base := &recordingWatermillLogger{}
	logger := NewWatermillServiceLogger(base)

	logger.Debug("dbg", LogFields{"component": "catcher"})
	logger.Info("info", nil)
	logger.Trace("trace", LogFields{"trace": true})
	boom := errors.New("boom")
	logger.Error("oops", boom, LogFields{"topic": "orders"})

	if len(base.entries) != 4 {
		t.Fatalf("expected 4 log entries, got %d", len(base.entries))
	}
	if base.entries[0].level != "debug" || base.entries[0].fields["component"] != "catcher" {
		t.Fatalf("unexpected first entry: %#v", base.entries[0])
	}
	if base.entries[1].fields != nil {
		t.Fatalf("expected nil fields to stay nil, got %#v", base.entries[1].fields)
	}
	if base.entries[3].level != "error" || base.entries[3].err != boom {
		t.Fatalf("expected error entry with boom, got %#v", base.entries[3])
	}
}

func TestWatermillServiceLoggerWith(t *testing.T) {
	base := &recordingWatermillLogger{}
	logger := NewWatermillServiceLogger(base)

	if logger.With(nil) != logger {
		t.Fatal("With(nil) should return the same logger")
	}

	child := logger.With(LogFields{"handler": "orders"})
	child.Info("child", nil)

	if len(base.entries) != 1 || base.entries[0].fields["handler"] != "orders" {
		t.Fatalf("expected With fields on child entry, got %#v", base.entries)
	}
}

func TestConstructorsPanicOnNil(t *testing.T) {
	tests := map[string]func(){
		"watermill": func() { NewWatermillServiceLogger(nil) },
		"slog":      func() { NewSlogServiceLogger(nil) },
		"adapter":   func() { NewWatermillAdapter(nil) },
	}
	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if r := recover(); r == nil {
					t.Fatal("expected panic")
				}
			}()
			fn()
		})
	}
}

func TestWatermillAdapterDelegates(t *testing.T) {
	base := &recordingServiceLogger{}
	adapter := NewWatermillAdapter(base)

	adapter.Debug("dbg", watermill.LogFields{"k": "v"})
	adapter.Info("info", nil)
	adapter.Trace("trace", nil)
	adapter.Error("err", errors.New("boom"), nil)

	child := adapter.With(watermill.LogFields{"child": "yes"})
	child.Info("child_info", nil)

	if len(base.entries) != 5 {
		t.Fatalf("expected 5 entries on base, got %d", len(base.entries))
	}
	last := base.entries[4]
	if last.msg != "child_info" || last.fields["child"] != "yes" {
		t.Fatalf("expected child fields to be preserved, got %#v", last)
	}
}

func TestWatermillAdapterUnwrapsWatermillLogger(t *testing.T) {
	base := &recordingWatermillLogger{}
	adapter := NewWatermillAdapter(NewWatermillServiceLogger(base))

	if adapter != watermill.LoggerAdapter(base) {
		t.Fatal("expected the original watermill logger back")
	}
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.With(LogFields{"a": 1}).Error("ignored", errors.New("x"), nil)
}

func TestNewSlogServiceLoggerWritesToSlog(t *testing.T) {
	buf := &bytes.Buffer{}
	base := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	logger := NewSlogServiceLogger(base)

	logger.Info("hello", LogFields{"topic": "orders"})

	out := buf.String()
	if !strings.Contains(out, "hello") || !strings.Contains(out, "topic=orders") {
		t.Fatalf("unexpected slog output: %q", out)
	}
}

type watermillEntry struct {
	level  string
	msg    string
	fields watermill.LogFields
	err    error
}

type recordingWatermillLogger struct {
	entries []watermillEntry
	fields  watermill.LogFields
	root    *recordingWatermillLogger
}

func (r *recordingWatermillLogger) record(e watermillEntry) {
	target := r
	if r.root != nil {
		target = r.root
	}
	if len(r.fields) > 0 {
		merged := watermill.LogFields{}
		for k, v := range r.fields {
			merged[k] = v
		}
		for k, v := range e.fields {
			merged[k] = v
		}
		e.fields = merged
	}
	target.entries = append(target.entries, e)
}

func (r *recordingWatermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	r.record(watermillEntry{level: "error", msg: msg, fields: fields, err: err})
}

func (r *recordingWatermillLogger) Info(msg string, fields watermill.LogFields) {
	r.record(watermillEntry{level: "info", msg: msg, fields: fields})
}

func (r *recordingWatermillLogger) Debug(msg string, fields watermill.LogFields) {
	r.record(watermillEntry{level: "debug", msg: msg, fields: fields})
}

func (r *recordingWatermillLogger) Trace(msg string, fields watermill.LogFields) {
	r.record(watermillEntry{level: "trace", msg: msg, fields: fields})
}

func (r *recordingWatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	root := r
	if r.root != nil {
		root = r.root
	}
	return &recordingWatermillLogger{fields: fields, root: root}
}

type loggedEntry struct {
	level  string
	msg    string
	fields LogFields
	err    error
}

type recordingServiceLogger struct {
	entries []loggedEntry
	fields  LogFields
	root    *recordingServiceLogger
}

func (r *recordingServiceLogger) add(e loggedEntry) {
	target := r
	if r.root != nil {
		target = r.root
	}
	if len(r.fields) > 0 {
		merged := LogFields{}
		for k, v := range r.fields {
			merged[k] = v
		}
		for k, v := range e.fields {
			merged[k] = v
		}
		e.fields = merged
	}
	target.entries = append(target.entries, e)
}

func (r *recordingServiceLogger) With(fields LogFields) ServiceLogger {
	root := r
	if r.root != nil {
		root = r.root
	}
	return &recordingServiceLogger{fields: fields, root: root}
}

func (r *recordingServiceLogger) Debug(msg string, fields LogFields) {
	r.add(loggedEntry{level: "debug", msg: msg, fields: fields})
}

func (r *recordingServiceLogger) Info(msg string, fields LogFields) {
	r.add(loggedEntry{level: "info", msg: msg, fields: fields})
}

func (r *recordingServiceLogger) Error(msg string, err error, fields LogFields) {
	r.add(loggedEntry{level: "error", msg: msg, fields: fields, err: err})
}

func (r *recordingServiceLogger) Trace(msg string, fields LogFields) {
	r.add(loggedEntry{level: "trace", msg: msg, fields: fields})
}

func TestLogFieldsWithCopies(t *testing.T) {
	base := LogFields{"topic": "orders"}
	extended := base.With("attempts", 2)

	if len(extended) != 2 || extended["attempts"] != 2 || extended["topic"] != "orders" {
		t.Fatalf("unexpected extended fields: %v", extended)
	}
	if _, ok := base["attempts"]; ok {
		t.Fatalf("With must not modify the receiver: %v", base)
	}
	if got := LogFields(nil).With("k", "v"); got["k"] != "v" {
		t.Fatalf("With on nil fields = %v", got)
	}
}
