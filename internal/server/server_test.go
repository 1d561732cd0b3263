package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"taskpilot/internal/config"
	"taskpilot/internal/db"
	"taskpilot/internal/domain"
	"taskpilot/internal/engine"
	"taskpilot/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	e.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{AllowLegacyUserHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", "tester")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestTaskCompletionRunsRules(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	ruleRes, ruleBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/rules", map[string]any{
		"name":    "follow up",
		"trigger": "task_completed",
		"actions": []map[string]any{{
			"type":       "create_follow_up",
			"parameters": map[string]any{"due_date": "+3 days"},
		}},
	}, nil)
	if ruleRes.StatusCode != http.StatusCreated {
		t.Fatalf("create rule: %d %s", ruleRes.StatusCode, string(ruleBody))
	}

	taskRes, taskBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title": "Ship feature",
	}, nil)
	if taskRes.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", taskRes.StatusCode, string(taskBody))
	}
	var created domain.Task
	if err := json.Unmarshal(taskBody, &created); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}

	doneRes, doneBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+created.ID+"/status", map[string]any{
		"status": "completed",
	}, nil)
	if doneRes.StatusCode != http.StatusOK {
		t.Fatalf("set status: %d %s", doneRes.StatusCode, string(doneBody))
	}
	var done TaskWithRecordsResponse
	if err := json.Unmarshal(doneBody, &done); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if done.Task.Status != "completed" || done.Task.CompletedAt == nil {
		t.Fatalf("expected completed task, got %+v", done.Task)
	}
	if len(done.Records) != 1 || done.Records[0].Status != domain.ExecutionSuccess {
		t.Fatalf("expected one successful record, got %+v", done.Records)
	}

	listRes, listBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, nil)
	if listRes.StatusCode != http.StatusOK {
		t.Fatalf("list tasks: %d %s", listRes.StatusCode, string(listBody))
	}
	var tasks []domain.Task
	if err := json.Unmarshal(listBody, &tasks); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected original plus follow-up, got %d tasks", len(tasks))
	}
}

func TestCreateRuleValidationFailure(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/rules", map[string]any{
		"name":    "empty",
		"trigger": "task_completed",
		"actions": []map[string]any{},
	}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(body))
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "validation_failed" {
		t.Fatalf("expected validation_failed, got %s", envelope.Error.Code)
	}
	errs, _ := envelope.Error.Details["errors"].([]any)
	if len(errs) == 0 {
		t.Fatalf("expected validator errors in details, got %v", envelope.Error.Details)
	}
}

func TestValidateEndpointReportsWarnings(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/rules/validate", map[string]any{
		"name":    "loopy",
		"trigger": "status_changed",
		"actions": []map[string]any{{
			"type":       "update_status",
			"parameters": map[string]any{"status": "in_progress"},
		}},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("validate: %d %s", res.StatusCode, string(body))
	}
	var result engine.ValidationResult
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !result.IsValid || len(result.Warnings) == 0 {
		t.Fatalf("expected valid with warnings, got %+v", result)
	}
}

func TestRuleTestEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, ruleBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/rules", map[string]any{
		"name":       "urgent watcher",
		"trigger":    "task_completed",
		"conditions": map[string]any{"task.priority": "urgent"},
		"actions": []map[string]any{{
			"type":       "send_notification",
			"parameters": map[string]any{"message": "done"},
		}},
	}, nil)
	var ruleResp RuleResponse
	if err := json.Unmarshal(ruleBody, &ruleResp); err != nil {
		t.Fatalf("unmarshal rule: %v", err)
	}

	_, taskBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title":    "Calm task",
		"priority": "low",
	}, nil)
	var task domain.Task
	_ = json.Unmarshal(taskBody, &task)

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/rules/"+ruleResp.Rule.ID+"/test", map[string]any{
		"task_id": task.ID,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("test rule: %d %s", res.StatusCode, string(body))
	}
	var report engine.TestReport
	if err := json.Unmarshal(body, &report); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if !report.Validation.IsValid || report.Matched {
		t.Fatalf("expected valid and unmatched, got %+v", report)
	}
}

func TestUnknownRuleReturns404(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/rules/missing", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(body))
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v0/tasks", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", res.StatusCode)
	}

	// Health stays open.
	healthRes, err := srv.Client().Get(srv.URL + "/v0/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer healthRes.Body.Close()
	if healthRes.StatusCode != http.StatusOK {
		t.Fatalf("expected open health endpoint, got %d", healthRes.StatusCode)
	}
}
