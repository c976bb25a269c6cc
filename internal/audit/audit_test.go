package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"emberfall/server/logging"
)

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

func TestRecordWritesFormattedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	trail := Open(path, nil, WithClock(fixedClock{at: at}))
	defer trail.Close()

	trail.Record(context.Background(), Entry{
		Actor:    "ops",
		Endpoint: "/api/command",
		Action:   ActionCommandExec,
		Payload:  "cmd=say hello",
	})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	want := "[2026-08-30T12:00:00Z] actor=ops endpoint=/api/command action=COMMAND_EXEC payload=cmd=say hello\n"
	if string(data) != want {
		t.Fatalf("unexpected audit line:\n got %q\nwant %q", string(data), want)
	}
}

func TestRecordDefaultsActorToUnknown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	trail := Open(path, nil)
	defer trail.Close()

	trail.Record(context.Background(), Entry{Endpoint: "/api/whitelist/add", Action: ActionWhitelistAdd, Payload: "name=Steve"})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if !strings.Contains(string(data), "actor=unknown") {
		t.Fatalf("expected unknown actor fallback, got %q", string(data))
	}
}

func TestOpenFailureDegradesToNoop(t *testing.T) {
	var mu sync.Mutex
	var events []logging.Event
	publisher := logging.PublisherFunc(func(_ context.Context, event logging.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, event)
	})

	// A directory path cannot be opened as an append-only file.
	trail := Open(t.TempDir(), publisher)
	if trail.Enabled() {
		t.Fatalf("expected trail to be disabled")
	}

	// Recording must still be safe and still publish the structured event.
	trail.Record(context.Background(), Entry{Actor: "ops", Endpoint: "/api/command", Action: ActionCommandDenied})

	mu.Lock()
	defer mu.Unlock()
	var sawWarning, sawEntry bool
	for _, event := range events {
		switch event.Type {
		case "audit_log_unavailable":
			sawWarning = true
		case "audit_entry":
			sawEntry = true
		}
	}
	if !sawWarning {
		t.Fatalf("expected an unavailability warning, got %v", events)
	}
	if !sawEntry {
		t.Fatalf("expected the entry event despite disabled file, got %v", events)
	}
}

func TestConcurrentRecordsDoNotInterleave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	trail := Open(path, nil)
	defer trail.Close()

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			trail.Record(context.Background(), Entry{
				Actor:    fmt.Sprintf("actor-%d", i),
				Endpoint: "/api/command",
				Action:   ActionCommandExec,
				Payload:  fmt.Sprintf("cmd=say %d", i),
			})
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != writers {
		t.Fatalf("expected %d lines, got %d", writers, len(lines))
	}
	for _, line := range lines {
		if !strings.HasPrefix(line, "[") || !strings.Contains(line, "action=COMMAND_EXEC") {
			t.Fatalf("malformed audit line %q", line)
		}
	}
}

func TestRecordNeutralizesControlCharacters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	trail := Open(path, nil)
	defer trail.Close()

	trail.Record(context.Background(), Entry{
		Actor:    "ops\n[2026-01-01T00:00:00Z] actor=ghost",
		Endpoint: "/api/command",
		Action:   ActionCommandExec,
		Payload:  "cmd=say hi\r\nforged=line",
	})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected a single audit line, got %d: %q", len(lines), string(data))
	}
	if !strings.Contains(lines[0], "forged=line") || !strings.Contains(lines[0], "actor=ops ") {
		t.Fatalf("expected flattened fields on one line, got %q", lines[0])
	}
}

func TestEmptyPathDisablesTrail(t *testing.T) {
	trail := Open("", nil)
	if trail.Enabled() {
		t.Fatalf("expected empty path to disable the trail")
	}
	trail.Record(context.Background(), Entry{Actor: "ops", Action: ActionCommandExec})
	if err := trail.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
