package bridge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"emberfall/server/internal/audit"
	"emberfall/server/internal/policy"
	"emberfall/server/internal/sim"
)

const testSecret = "test-secret"

type testBridge struct {
	hub       *sim.Hub
	handler   http.Handler
	auditPath string
}

type bridgeOptions struct {
	allowed        []string
	capacity       int
	inventoryView  bool
	enderChestView bool
	spawnActors    []string
}

func defaultBridgeOptions() bridgeOptions {
	return bridgeOptions{
		allowed:        []string{"say", "whitelist"},
		capacity:       16,
		inventoryView:  true,
		enderChestView: true,
		spawnActors:    []string{"Aria"},
	}
}

func newTestBridge(t *testing.T, opts bridgeOptions) *testBridge {
	t.Helper()

	world, err := sim.NewWorld(sim.WorldConfig{Seed: "test", SpawnActors: opts.spawnActors}, nil, nil)
	if err != nil {
		t.Fatalf("NewWorld: %v", err)
	}
	hub := sim.NewHub(world, sim.HubConfig{TickRate: 15, CommandCapacity: opts.capacity})

	auditPath := filepath.Join(t.TempDir(), "audit.log")
	trail := audit.Open(auditPath, nil)
	t.Cleanup(func() { trail.Close() })

	server := NewServer(ServerConfig{
		Policy:               policy.New(testSecret, opts.allowed),
		Hub:                  hub,
		Trail:                trail,
		EnableInventoryView:  opts.inventoryView,
		EnableEnderChestView: opts.enderChestView,
	})

	return &testBridge{hub: hub, handler: server.Handler(), auditPath: auditPath}
}

func (b *testBridge) do(t *testing.T, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if authed {
		req.Header.Set("X-Panel-Secret", testSecret)
		req.Header.Set("X-Panel-Actor", "ops")
	}
	rec := httptest.NewRecorder()
	b.handler.ServeHTTP(rec, req)
	return rec
}

func (b *testBridge) auditLines(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(b.auditPath)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	trimmed := strings.TrimRight(string(data), "\n")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestUnauthorizedRequestLeavesNoTrace(t *testing.T) {
	b := newTestBridge(t, defaultBridgeOptions())

	rec := b.do(t, http.MethodPost, "/api/command", `{"command":"say","args":["hi"]}`, false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["error"] != "Unauthorized" {
		t.Fatalf("unexpected error body %v", body)
	}
	if b.hub.Pending() != 0 {
		t.Fatalf("expected no staged command, got %d", b.hub.Pending())
	}
	if lines := b.auditLines(t); len(lines) != 0 {
		t.Fatalf("expected no audit entries, got %v", lines)
	}
}

func TestWrongSecretIsRejected(t *testing.T) {
	b := newTestBridge(t, defaultBridgeOptions())
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Panel-Secret", "not-the-secret")
	rec := httptest.NewRecorder()
	b.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHealthReportsStatus(t *testing.T) {
	b := newTestBridge(t, defaultBridgeOptions())

	rec := b.do(t, http.MethodGet, "/api/health", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var status sim.Status
	decodeBody(t, rec, &status)
	if !status.OK {
		t.Fatalf("expected ok status, got %+v", status)
	}
	if status.OnlineActors != 1 {
		t.Fatalf("expected 1 online actor, got %d", status.OnlineActors)
	}
}

func TestPlayersListAndDetail(t *testing.T) {
	b := newTestBridge(t, defaultBridgeOptions())

	rec := b.do(t, http.MethodGet, "/api/players", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list struct {
		Players []sim.ActorSummary `json:"players"`
	}
	decodeBody(t, rec, &list)
	if len(list.Players) != 1 || list.Players[0].Name != "Aria" {
		t.Fatalf("unexpected player list %+v", list.Players)
	}

	id := list.Players[0].UUID
	rec = b.do(t, http.MethodGet, "/api/player/"+id, "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 detail, got %d", rec.Code)
	}
	var detail sim.ActorDetail
	decodeBody(t, rec, &detail)
	if detail.UUID != id || detail.InventorySummary == nil {
		t.Fatalf("unexpected detail %+v", detail)
	}

	rec = b.do(t, http.MethodGet, "/api/player/"+id+"/inventory", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 inventory, got %d", rec.Code)
	}
	var inventory sim.InventorySnapshot
	decodeBody(t, rec, &inventory)
	if len(inventory.Contents) == 0 {
		t.Fatalf("expected slot-wise inventory, got %+v", inventory)
	}

	rec = b.do(t, http.MethodGet, "/api/player/no-such-id", "", true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown player, got %d", rec.Code)
	}
}

func TestInventoryViewsHonorFeatureToggles(t *testing.T) {
	opts := defaultBridgeOptions()
	opts.inventoryView = false
	opts.enderChestView = false
	b := newTestBridge(t, opts)

	id := b.hub.Actors()[0].UUID
	for _, path := range []string{
		"/api/player/" + id + "/inventory",
		"/api/player/" + id + "/enderchest",
	} {
		rec := b.do(t, http.MethodGet, path, "", true)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403 for %s, got %d", path, rec.Code)
		}
	}
}

func TestCommandAllowedIsAuditedAndExecuted(t *testing.T) {
	b := newTestBridge(t, defaultBridgeOptions())

	rec := b.do(t, http.MethodPost, "/api/command", `{"command":"say","args":["hello","there"]}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body okBody
	decodeBody(t, rec, &body)
	if !body.OK {
		t.Fatalf("expected ok response, got %+v", body)
	}

	if b.hub.Pending() != 1 {
		t.Fatalf("expected 1 staged command, got %d", b.hub.Pending())
	}

	lines := b.auditLines(t)
	if len(lines) != 1 {
		t.Fatalf("expected 1 audit line, got %v", lines)
	}
	if !strings.Contains(lines[0], "actor=ops") ||
		!strings.Contains(lines[0], "action=COMMAND_EXEC") ||
		!strings.Contains(lines[0], "payload=cmd=say hello there") {
		t.Fatalf("unexpected audit line %q", lines[0])
	}

	// The staged command runs on the next tick.
	b.hub.Advance(time.Now(), 1.0/15.0)
	if b.hub.Pending() != 0 {
		t.Fatalf("expected buffer drained after tick")
	}
}

func TestCommandDeniedByAllowList(t *testing.T) {
	b := newTestBridge(t, defaultBridgeOptions())

	rec := b.do(t, http.MethodPost, "/api/command", `{"command":"op","args":["Steve"]}`, true)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if b.hub.Pending() != 0 {
		t.Fatalf("expected no staged command, got %d", b.hub.Pending())
	}

	lines := b.auditLines(t)
	if len(lines) != 1 || !strings.Contains(lines[0], "action=COMMAND_DENIED") {
		t.Fatalf("expected a single denial entry, got %v", lines)
	}
	if !strings.Contains(lines[0], "payload=cmd=op Steve") {
		t.Fatalf("expected the denied line recorded, got %q", lines[0])
	}
}

func TestCommandMissingVerbIsBadRequest(t *testing.T) {
	b := newTestBridge(t, defaultBridgeOptions())

	for _, body := range []string{`{"command":"","args":["x"]}`, `{"args":["x"]}`, `{not json`} {
		rec := b.do(t, http.MethodPost, "/api/command", body, true)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %q, got %d", body, rec.Code)
		}
	}
	if b.hub.Pending() != 0 {
		t.Fatalf("expected no staged command, got %d", b.hub.Pending())
	}
	if lines := b.auditLines(t); len(lines) != 0 {
		t.Fatalf("expected no audit entries, got %v", lines)
	}
}

func TestCommandQueueFullReturnsServiceUnavailable(t *testing.T) {
	opts := defaultBridgeOptions()
	opts.capacity = 1
	b := newTestBridge(t, opts)

	if rec := b.do(t, http.MethodPost, "/api/command", `{"command":"say","args":["one"]}`, true); rec.Code != http.StatusOK {
		t.Fatalf("expected first command accepted, got %d", rec.Code)
	}
	rec := b.do(t, http.MethodPost, "/api/command", `{"command":"say","args":["two"]}`, true)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var body errorBody
	decodeBody(t, rec, &body)
	if body.Reason != sim.CommandRejectQueueFull {
		t.Fatalf("expected queue_full reason, got %+v", body)
	}

	// The rejected command was neither executed nor audited as executed.
	lines := b.auditLines(t)
	if len(lines) != 1 {
		t.Fatalf("expected 1 audit line for the accepted command, got %v", lines)
	}
}

func TestWhitelistAddValidatesAndStages(t *testing.T) {
	b := newTestBridge(t, defaultBridgeOptions())

	for _, name := range []string{"ab", "toolongtoolongtoo", "bad name", "bad-name", ""} {
		rec := b.do(t, http.MethodPost, "/api/whitelist/add", `{"name":"`+name+`"}`, true)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for name %q, got %d", name, rec.Code)
		}
	}
	if b.hub.Pending() != 0 {
		t.Fatalf("expected no staged commands after invalid names, got %d", b.hub.Pending())
	}

	rec := b.do(t, http.MethodPost, "/api/whitelist/add", `{"name":"Steve_01"}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if b.hub.Pending() != 1 {
		t.Fatalf("expected 1 staged command, got %d", b.hub.Pending())
	}
	lines := b.auditLines(t)
	if len(lines) != 1 || !strings.Contains(lines[0], "action=WHITELIST_ADD") || !strings.Contains(lines[0], "payload=name=Steve_01") {
		t.Fatalf("unexpected audit entries %v", lines)
	}

	b.hub.Advance(time.Now(), 1.0/15.0)
	rec = b.do(t, http.MethodGet, "/api/whitelist", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list struct {
		Whitelist []sim.WhitelistEntry `json:"whitelist"`
	}
	decodeBody(t, rec, &list)
	if len(list.Whitelist) != 1 || list.Whitelist[0].Name != "Steve_01" {
		t.Fatalf("unexpected whitelist %+v", list.Whitelist)
	}
	if list.Whitelist[0].AddedBy != "ops" {
		t.Fatalf("expected audit actor on the entry, got %+v", list.Whitelist[0])
	}
}

func TestWhitelistRemoveStagesRemoval(t *testing.T) {
	b := newTestBridge(t, defaultBridgeOptions())

	b.do(t, http.MethodPost, "/api/whitelist/add", `{"name":"Steve"}`, true)
	b.hub.Advance(time.Now(), 1.0/15.0)

	rec := b.do(t, http.MethodPost, "/api/whitelist/remove", `{"name":"Steve"}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	b.hub.Advance(time.Now(), 1.0/15.0)

	if entries := b.hub.WhitelistEntries(); len(entries) != 0 {
		t.Fatalf("expected empty whitelist, got %+v", entries)
	}
	lines := b.auditLines(t)
	if len(lines) != 2 || !strings.Contains(lines[1], "action=WHITELIST_REMOVE") {
		t.Fatalf("unexpected audit entries %v", lines)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	b := newTestBridge(t, defaultBridgeOptions())
	rec := b.do(t, http.MethodGet, "/api/nope", "", true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestMethodMismatchIsRejected(t *testing.T) {
	b := newTestBridge(t, defaultBridgeOptions())
	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/players"},
		{http.MethodGet, "/api/command"},
		{http.MethodGet, "/api/whitelist/add"},
	} {
		rec := b.do(t, tc.method, tc.path, "", true)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected 405 for %s %s, got %d", tc.method, tc.path, rec.Code)
		}
		var body errorBody
		decodeBody(t, rec, &body)
		if body.Error != "Method not allowed" {
			t.Fatalf("unexpected 405 body for %s %s: %+v", tc.method, tc.path, body)
		}
	}
}
