// Package audit records every privileged bridge action to an append-only
// log file. The trail exists so an operator can reconstruct who asked the
// bridge to do what, including requests that policy denied.
package audit

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"emberfall/server/logging"
)

// Actions recorded in the trail.
const (
	ActionCommandExec     = "COMMAND_EXEC"
	ActionCommandDenied   = "COMMAND_DENIED"
	ActionWhitelistAdd    = "WHITELIST_ADD"
	ActionWhitelistRemove = "WHITELIST_REMOVE"
)

// Entry is one audited action.
type Entry struct {
	ID       string
	Time     time.Time
	Actor    string
	Endpoint string
	Action   string
	Payload  string
}

// Trail appends entries to a log file. Writes are serialized by a mutex so
// concurrent request goroutines never interleave lines. When the file cannot
// be opened the trail degrades to a no-op; the bridge keeps serving and the
// failure is reported once through the publisher.
type Trail struct {
	mu        sync.Mutex
	file      *os.File
	publisher logging.Publisher
	clock     logging.Clock
	disabled  bool
}

// Option customises a Trail.
type Option func(*Trail)

// WithClock overrides the timestamp source, used by tests.
func WithClock(clock logging.Clock) Option {
	return func(t *Trail) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// Open creates or appends to the audit log at path. An empty path or an
// unopenable file yields a disabled trail rather than an error.
func Open(path string, publisher logging.Publisher, opts ...Option) *Trail {
	trail := &Trail{
		publisher: publisher,
		clock:     logging.SystemClock{},
	}
	if trail.publisher == nil {
		trail.publisher = logging.NopPublisher()
	}
	for _, opt := range opts {
		opt(trail)
	}

	if path == "" {
		trail.disabled = true
		return trail
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		trail.disabled = true
		trail.publisher.Publish(context.Background(), logging.Event{
			Type:     "audit_log_unavailable",
			Time:     trail.clock.Now(),
			Severity: logging.SeverityWarn,
			Category: logging.CategoryAudit,
			Payload:  map[string]any{"path": path, "error": err.Error()},
		})
		return trail
	}
	trail.file = file
	return trail
}

// Enabled reports whether entries reach the log file.
func (t *Trail) Enabled() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.disabled
}

// Record appends one entry, filling the id and timestamp when absent. The
// write happens before the caller responds to the panel, so a logged action
// is always at least as old as its acknowledgement.
func (t *Trail) Record(ctx context.Context, entry Entry) {
	if t == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Time.IsZero() {
		entry.Time = t.clock.Now()
	}
	if entry.Actor == "" {
		entry.Actor = "unknown"
	}
	// Caller-supplied fields must not be able to forge extra lines.
	entry.Actor = sanitizeField(entry.Actor)
	entry.Endpoint = sanitizeField(entry.Endpoint)
	entry.Payload = sanitizeField(entry.Payload)

	t.mu.Lock()
	if !t.disabled {
		line := fmt.Sprintf("[%s] actor=%s endpoint=%s action=%s payload=%s\n",
			entry.Time.UTC().Format(time.RFC3339),
			entry.Actor, entry.Endpoint, entry.Action, entry.Payload)
		if _, err := t.file.WriteString(line); err != nil {
			t.disabled = true
			t.publisher.Publish(ctx, logging.Event{
				Type:     "audit_log_write_failed",
				Time:     entry.Time,
				Severity: logging.SeverityWarn,
				Category: logging.CategoryAudit,
				Payload:  map[string]any{"error": err.Error()},
			})
		}
	}
	t.mu.Unlock()

	t.publisher.Publish(ctx, logging.Event{
		Type: "audit_entry",
		Time: entry.Time,
		Actor: logging.EntityRef{
			ID:   entry.Actor,
			Kind: logging.EntityKindPanel,
		},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryAudit,
		Payload: map[string]any{
			"id":       entry.ID,
			"endpoint": entry.Endpoint,
			"action":   entry.Action,
			"payload":  entry.Payload,
		},
	})
}

// sanitizeField replaces control characters with spaces so every entry stays
// on one line.
func sanitizeField(value string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, value)
}

// Close flushes and releases the log file.
func (t *Trail) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	t.disabled = true
	return err
}
