package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hochfrequenz/claude-automations/internal/config"
	"github.com/hochfrequenz/claude-automations/internal/domain"
	"github.com/hochfrequenz/claude-automations/internal/service"
	"github.com/hochfrequenz/claude-automations/internal/store"
)

// instantExecutor completes every run immediately
type instantExecutor struct {
	mu    sync.Mutex
	count int
}

func (e *instantExecutor) Execute(ctx context.Context, runID string, a *domain.Automation, repoPath, prompt string) service.ExecResult {
	e.mu.Lock()
	e.count++
	e.mu.Unlock()
	return service.ExecResult{Status: domain.RunCompleted, Result: "ok"}
}

func (e *instantExecutor) Stop(runID string) {}

func testServer(t *testing.T) (*Server, *service.Service) {
	t.Helper()
	cfg := config.Default()
	cfg.Projects = map[string]string{"p1": t.TempDir(), "p2": t.TempDir()}

	st, err := store.New(t.TempDir(), slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	svc, err := service.New(cfg, st, &instantExecutor{}, nil, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { svc.Destroy() })

	return NewServer(svc, nil, "127.0.0.1:0", slog.Default()), svc
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

const createBody = `{
	"name": "Nightly Review",
	"prompt": "review the code",
	"projectIds": ["p1"],
	"trigger": {"type": "schedule", "cron": "0 9 * * 1-5"},
	"enabled": true
}`

func TestAutomationLifecycle(t *testing.T) {
	srv, _ := testServer(t)
	h := srv.Handler()

	// Create
	w := doJSON(t, h, "POST", "/api/automations", createBody)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body)
	}
	var created AutomationResponse
	json.NewDecoder(w.Body).Decode(&created)
	if created.ID == "" {
		t.Fatal("created automation has no ID")
	}
	if created.NextRun == nil {
		t.Error("created schedule automation has no nextRun")
	}

	// List
	w = doJSON(t, h, "GET", "/api/automations", "")
	var list []AutomationResponse
	json.NewDecoder(w.Body).Decode(&list)
	if len(list) != 1 {
		t.Fatalf("list = %d automations, want 1", len(list))
	}

	// Patch
	w = doJSON(t, h, "PATCH", "/api/automations/"+created.ID, `{"name": "Renamed"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("patch status = %d: %s", w.Code, w.Body)
	}
	var patched AutomationResponse
	json.NewDecoder(w.Body).Decode(&patched)
	if patched.Name != "Renamed" {
		t.Errorf("Name = %q", patched.Name)
	}

	// Disable
	w = doJSON(t, h, "POST", "/api/automations/"+created.ID+"/disable", "")
	var disabled AutomationResponse
	json.NewDecoder(w.Body).Decode(&disabled)
	if disabled.Enabled {
		t.Error("automation still enabled after disable")
	}
	if disabled.NextRun != nil {
		t.Error("disabled automation still has nextRun")
	}

	// Delete
	w = doJSON(t, h, "DELETE", "/api/automations/"+created.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = doJSON(t, h, "GET", "/api/automations/"+created.ID, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", w.Code)
	}
}

func TestCreateAutomationRejectsInvalid(t *testing.T) {
	srv, _ := testServer(t)
	h := srv.Handler()

	w := doJSON(t, h, "POST", "/api/automations", `{"name": "", "prompt": "x"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid create status = %d, want 400", w.Code)
	}

	w = doJSON(t, h, "POST", "/api/automations", `not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad JSON status = %d, want 400", w.Code)
	}
}

func TestTriggerAndRunHistory(t *testing.T) {
	srv, svc := testServer(t)
	h := srv.Handler()

	w := doJSON(t, h, "POST", "/api/automations", createBody)
	var created AutomationResponse
	json.NewDecoder(w.Body).Decode(&created)

	// Manual trigger
	w = doJSON(t, h, "POST", "/api/automations/"+created.ID+"/trigger", `{"projectId": "p1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("trigger status = %d: %s", w.Code, w.Body)
	}

	// Triggering an untargeted project is a 400
	w = doJSON(t, h, "POST", "/api/automations/"+created.ID+"/trigger", `{"projectId": "p2"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("untargeted trigger status = %d, want 400", w.Code)
	}

	// Wait for the instant executor to finish
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		runs := svc.GetRuns(created.ID, 0)
		if len(runs) == 1 && runs[0].Status == domain.RunCompleted {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	w = doJSON(t, h, "GET", "/api/runs?automation="+created.ID, "")
	var runs []*domain.Run
	json.NewDecoder(w.Body).Decode(&runs)
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	if runs[0].Status != domain.RunCompleted {
		t.Errorf("run status = %s", runs[0].Status)
	}

	// Mark read
	w = doJSON(t, h, "POST", "/api/runs/"+runs[0].ID+"/read", "")
	if w.Code != http.StatusOK {
		t.Fatalf("read status = %d", w.Code)
	}
	w = doJSON(t, h, "GET", "/api/runs/"+runs[0].ID, "")
	var run domain.Run
	json.NewDecoder(w.Body).Decode(&run)
	if !run.Read {
		t.Error("run not marked read")
	}

	// Delete run
	w = doJSON(t, h, "DELETE", "/api/runs/"+runs[0].ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete run status = %d", w.Code)
	}
	w = doJSON(t, h, "GET", "/api/runs/"+runs[0].ID, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("get deleted run = %d, want 404", w.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := testServer(t)
	h := srv.Handler()

	doJSON(t, h, "POST", "/api/automations", createBody)

	w := doJSON(t, h, "GET", "/api/status", "")
	var status StatusResponse
	json.NewDecoder(w.Body).Decode(&status)
	if status.Automations != 1 || status.Enabled != 1 {
		t.Errorf("status = %+v", status)
	}
}

// staticStreamer serves a fixed set of lines for one run ID
type staticStreamer struct {
	runID string
	lines []string
}

func (s *staticStreamer) SubscribeOutput(runID string) (<-chan string, func()) {
	if runID != s.runID {
		return nil, func() {}
	}
	ch := make(chan string, len(s.lines))
	for _, l := range s.lines {
		ch <- l
	}
	close(ch)
	return ch, func() {}
}

func TestRunOutputWebsocket(t *testing.T) {
	srv, _ := testServer(t)
	srv.streamer = &staticStreamer{runID: "run-1", lines: []string{"alpha", "beta"}}

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/runs/run-1/output"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var got []string
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		got = append(got, string(msg))
	}
	if len(got) != 2 || got[0] != "alpha" || got[1] != "beta" {
		t.Errorf("streamed = %v", got)
	}

	// Inactive run is a plain 404, no upgrade
	resp, err := http.Get(ts.URL + "/api/runs/other/output")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("inactive run output = %d, want 404", resp.StatusCode)
	}
}

func TestSplitIDAction(t *testing.T) {
	tests := []struct {
		path, id, action string
	}{
		{"/api/runs/abc", "abc", ""},
		{"/api/runs/abc/stop", "abc", "stop"},
		{"/api/runs/abc/", "abc", ""},
		{"/api/runs/", "", ""},
	}
	for _, tt := range tests {
		id, action := splitIDAction(tt.path, "/api/runs/")
		if id != tt.id || action != tt.action {
			t.Errorf("splitIDAction(%q) = (%q, %q), want (%q, %q)", tt.path, id, action, tt.id, tt.action)
		}
	}
}
