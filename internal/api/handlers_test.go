package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sruckh/gmail-cleaner/internal/config"
	"github.com/sruckh/gmail-cleaner/internal/engine"
	"github.com/sruckh/gmail-cleaner/internal/gmail"
	"github.com/sruckh/gmail-cleaner/internal/job"
)

// testLogger returns a logger for tests that discards noise
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockAuth implements AuthManager for tests.
type mockAuth struct {
	token      bool
	signOutErr error
	signedOut  bool
}

func (m *mockAuth) HasToken() bool { return m.token }

func (m *mockAuth) SignOut() error {
	if m.signOutErr != nil {
		return m.signOutErr
	}
	m.signedOut = true
	m.token = false
	return nil
}

// newTestServer wires a server around an engine backed by the mock Gmail
// API. A nil mock produces an unauthenticated engine.
func newTestServer(t *testing.T, mock *gmail.MockAPI, apiKey string) (*Server, *engine.Engine) {
	t.Helper()

	var client gmail.API
	if mock != nil {
		client = mock
	}
	opts := engine.DefaultOptions()
	opts.BackoffBase = time.Millisecond
	eng := engine.New(client, job.NewRegistry(), opts, testLogger())
	t.Cleanup(eng.Close)

	cfg := &config.Config{
		Server: config.ServerConfig{APIPort: 8080, APIKey: apiKey},
	}
	auth := &mockAuth{token: mock != nil}
	return NewServer(cfg, eng, auth, testLogger()), eng
}

// seedMailbox stores n messages from one sender as a single list page.
func seedMailbox(mock *gmail.MockAPI, n int, from string) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var page []string
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("msg%04d", i)
		mock.SetupMessages(&gmail.MessageMeta{
			ID:           id,
			From:         from,
			Subject:      fmt.Sprintf("Offer %d", i),
			InternalDate: base.AddDate(0, 0, i),
			SizeEstimate: 1024,
		})
		page = append(page, id)
	}
	mock.MessagePages = [][]string{page}
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

// waitDone polls a job kind until it finishes.
func waitDone(t *testing.T, eng *engine.Engine, kind job.Kind) job.Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st := eng.Jobs().Status(kind)
		if st.Done {
			return st
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("job %s did not finish", kind)
	return job.Status{}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, gmail.NewMockAPI(), "")

	w := doRequest(t, srv, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("GET /health status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decodeBody(t, w)
	if resp["status"] != "ok" {
		t.Errorf("health status = %v, want 'ok'", resp["status"])
	}
}

func TestAuthMiddleware(t *testing.T) {
	srv, _ := newTestServer(t, gmail.NewMockAPI(), "secret-key")

	tests := []struct {
		name       string
		header     string
		value      string
		wantStatus int
	}{
		{"no auth", "", "", http.StatusUnauthorized},
		{"wrong key", "Authorization", "wrong-key", http.StatusUnauthorized},
		{"correct key", "Authorization", "secret-key", http.StatusOK},
		{"bearer prefix", "Authorization", "Bearer secret-key", http.StatusOK},
		{"x-api-key header", "X-API-Key", "secret-key", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/status", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()
			srv.Router().ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestStartScanAccepted(t *testing.T) {
	mock := gmail.NewMockAPI()
	srv, eng := newTestServer(t, mock, "")

	w := doRequest(t, srv, "POST", "/api/scan", `{"limit": 100}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("POST /api/scan status = %d, want %d: %s", w.Code, http.StatusAccepted, w.Body.String())
	}
	resp := decodeBody(t, w)
	if resp["status"] != "started" {
		t.Errorf("response status = %v, want 'started'", resp["status"])
	}

	waitDone(t, eng, job.KindScan)
}

func TestStartScanInvalidFilter(t *testing.T) {
	srv, _ := newTestServer(t, gmail.NewMockAPI(), "")

	w := doRequest(t, srv, "POST", "/api/scan", `{"category": "bogus"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	resp := decodeBody(t, w)
	if resp["error"] != "invalid_filter" {
		t.Errorf("error = %v, want 'invalid_filter'", resp["error"])
	}
}

func TestStartMalformedJSON(t *testing.T) {
	srv, _ := newTestServer(t, gmail.NewMockAPI(), "")

	w := doRequest(t, srv, "POST", "/api/scan", `{"limit": `)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	resp := decodeBody(t, w)
	if resp["error"] != "invalid_request" {
		t.Errorf("error = %v, want 'invalid_request'", resp["error"])
	}
}

func TestStartNotAuthenticated(t *testing.T) {
	srv, _ := newTestServer(t, nil, "")

	endpoints := []struct {
		path string
		body string
	}{
		{"/api/scan", `{"limit": 10}`},
		{"/api/delete-scan", `{"limit": 10}`},
		{"/api/mark-read", `{"count": 10}`},
		{"/api/delete-emails-bulk", `{"senders": ["a@b.com"]}`},
	}
	for _, ep := range endpoints {
		w := doRequest(t, srv, "POST", ep.path, ep.body)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("POST %s status = %d, want %d", ep.path, w.Code, http.StatusUnauthorized)
		}
	}
}

func TestStartConflict(t *testing.T) {
	mock := gmail.NewMockAPI()
	seedMailbox(mock, 50, "news@example.com")

	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	mock.MetadataBatchHook = func(call int, ids []string) error {
		if call == 1 {
			entered <- struct{}{}
			<-release
		}
		return nil
	}

	srv, eng := newTestServer(t, mock, "")

	w := doRequest(t, srv, "POST", "/api/delete-scan", `{"limit": 50}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("first start status = %d, want %d", w.Code, http.StatusAccepted)
	}
	<-entered

	w = doRequest(t, srv, "POST", "/api/delete-scan", `{"limit": 50}`)
	if w.Code != http.StatusConflict {
		t.Errorf("second start status = %d, want %d", w.Code, http.StatusConflict)
	}
	resp := decodeBody(t, w)
	if resp["error"] != "job_running" {
		t.Errorf("error = %v, want 'job_running'", resp["error"])
	}

	close(release)
	waitDone(t, eng, job.KindDeleteScan)
}

func TestResultsBeforeDone(t *testing.T) {
	srv, _ := newTestServer(t, gmail.NewMockAPI(), "")

	for _, path := range []string{"/api/results", "/api/delete-scan-results", "/api/download-csv"} {
		w := doRequest(t, srv, "GET", path, "")
		if w.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want %d", path, w.Code, http.StatusNotFound)
		}
	}
}

func TestDeleteScanResultsAfterDone(t *testing.T) {
	mock := gmail.NewMockAPI()
	seedMailbox(mock, 30, "shop@example.com")
	srv, eng := newTestServer(t, mock, "")

	w := doRequest(t, srv, "POST", "/api/delete-scan", `{"limit": 30}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("start status = %d, want %d", w.Code, http.StatusAccepted)
	}
	waitDone(t, eng, job.KindDeleteScan)

	w = doRequest(t, srv, "GET", "/api/delete-scan-results", "")
	if w.Code != http.StatusOK {
		t.Fatalf("results status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	resp := decodeBody(t, w)
	if resp["count"] != float64(1) {
		t.Errorf("count = %v, want 1", resp["count"])
	}
}

func TestStatusEndpointsIdle(t *testing.T) {
	srv, _ := newTestServer(t, gmail.NewMockAPI(), "")

	paths := map[string]string{
		"/api/status":                 "scan",
		"/api/delete-scan-status":     "delete_scan",
		"/api/mark-read-status":       "mark_read",
		"/api/archive-status":         "archive",
		"/api/important-status":       "mark_important",
		"/api/download-status":        "download",
		"/api/delete-bulk-status":     "delete_bulk",
		"/api/label-operation-status": "label_apply",
	}
	for path, kind := range paths {
		w := doRequest(t, srv, "GET", path, "")
		if w.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want %d", path, w.Code, http.StatusOK)
			continue
		}
		resp := decodeBody(t, w)
		if resp["kind"] != kind {
			t.Errorf("GET %s kind = %v, want %q", path, resp["kind"], kind)
		}
		if resp["message"] != "Ready" {
			t.Errorf("GET %s message = %v, want 'Ready'", path, resp["message"])
		}
	}
}

func TestUnsubscribeMissingURL(t *testing.T) {
	srv, _ := newTestServer(t, gmail.NewMockAPI(), "")

	w := doRequest(t, srv, "POST", "/api/unsubscribe", `{"domain": "example.com"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	resp := decodeBody(t, w)
	if resp["error"] != "missing_url" {
		t.Errorf("error = %v, want 'missing_url'", resp["error"])
	}
}

func TestLabelEndpoints(t *testing.T) {
	mock := gmail.NewMockAPI()
	srv, _ := newTestServer(t, mock, "")

	// Default mock labels are the system INBOX and TRASH.
	w := doRequest(t, srv, "GET", "/api/labels", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/labels status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decodeBody(t, w)
	system, ok := resp["system"].([]interface{})
	if !ok || len(system) != 2 {
		t.Errorf("system labels = %v, want 2 entries", resp["system"])
	}

	// Missing name is rejected before hitting the engine.
	w = doRequest(t, srv, "POST", "/api/labels", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("create without name status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	// Created labels come back with the provider-assigned id.
	w = doRequest(t, srv, "POST", "/api/labels", `{"name": "Receipts"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	resp = decodeBody(t, w)
	id, _ := resp["id"].(string)
	if id == "" {
		t.Fatalf("created label id missing: %v", resp)
	}

	// Deleting an unknown label maps to 404.
	w = doRequest(t, srv, "DELETE", "/api/labels/Label_999", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("delete unknown status = %d, want %d", w.Code, http.StatusNotFound)
	}

	w = doRequest(t, srv, "DELETE", "/api/labels/"+id, "")
	if w.Code != http.StatusOK {
		t.Errorf("delete status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestApplyLabelUnknownLabel(t *testing.T) {
	srv, _ := newTestServer(t, gmail.NewMockAPI(), "")

	w := doRequest(t, srv, "POST", "/api/apply-label", `{"label_id": "Label_404", "senders": ["a@b.com"]}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestBulkNoTargets(t *testing.T) {
	srv, _ := newTestServer(t, gmail.NewMockAPI(), "")

	w := doRequest(t, srv, "POST", "/api/delete-emails-bulk", `{"senders": []}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	resp := decodeBody(t, w)
	if resp["error"] != "no_targets" {
		t.Errorf("error = %v, want 'no_targets'", resp["error"])
	}
}

func TestUnreadCount(t *testing.T) {
	mock := gmail.NewMockAPI()
	seedMailbox(mock, 12, "news@example.com")
	srv, _ := newTestServer(t, mock, "")

	w := doRequest(t, srv, "GET", "/api/unread-count", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decodeBody(t, w)
	if resp["count"] != float64(12) {
		t.Errorf("count = %v, want 12", resp["count"])
	}
	if resp["has_more"] != false {
		t.Errorf("has_more = %v, want false", resp["has_more"])
	}
}

func TestDownloadCSVAfterDone(t *testing.T) {
	mock := gmail.NewMockAPI()
	seedMailbox(mock, 5, "shop@example.com")
	srv, eng := newTestServer(t, mock, "")

	w := doRequest(t, srv, "POST", "/api/download-emails", `{"senders": ["shop@example.com"]}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("start status = %d, want %d: %s", w.Code, http.StatusAccepted, w.Body.String())
	}
	waitDone(t, eng, job.KindDownload)

	w = doRequest(t, srv, "GET", "/api/download-csv", "")
	if w.Code != http.StatusOK {
		t.Fatalf("csv status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type = %q, want text/csv", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("Content-Disposition = %q, want attachment", cd)
	}
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != 6 {
		t.Errorf("csv lines = %d, want 6 (header + 5 rows)", len(lines))
	}
}

func TestAuthStatus(t *testing.T) {
	mock := gmail.NewMockAPI()
	srv, _ := newTestServer(t, mock, "")

	w := doRequest(t, srv, "GET", "/api/auth-status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decodeBody(t, w)
	if resp["authenticated"] != true {
		t.Errorf("authenticated = %v, want true", resp["authenticated"])
	}
	if resp["email"] != "test@example.com" {
		t.Errorf("email = %v, want test@example.com", resp["email"])
	}
}

func TestAuthStatusUnauthenticated(t *testing.T) {
	srv, _ := newTestServer(t, nil, "")

	w := doRequest(t, srv, "GET", "/api/auth-status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decodeBody(t, w)
	if resp["authenticated"] != false {
		t.Errorf("authenticated = %v, want false", resp["authenticated"])
	}
}

func TestSignOut(t *testing.T) {
	mock := gmail.NewMockAPI()
	srv, _ := newTestServer(t, mock, "")

	w := doRequest(t, srv, "POST", "/api/sign-out", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	w = doRequest(t, srv, "GET", "/api/auth-status", "")
	resp := decodeBody(t, w)
	if resp["authenticated"] != false {
		t.Errorf("authenticated after sign-out = %v, want false", resp["authenticated"])
	}
}
