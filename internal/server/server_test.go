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

	"github.com/golang-jwt/jwt/v5"

	"complyline/internal/config"
	"complyline/internal/db"
	"complyline/internal/domain"
	"complyline/internal/engine"
	"complyline/internal/migrate"
	"complyline/internal/policy"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testJWTSecret, AllowLegacyActorHeader: true},
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
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			handler.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func actorHeaders() map[string]string {
	return map[string]string{"X-Actor-Id": "tester"}
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

func createAgentHTTP(t *testing.T, srv *testServer) domain.Agent {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/agents", map[string]any{
		"first_name": "Dana",
		"last_name":  "Reyes",
		"npn":        "1234567",
	}, actorHeaders())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create agent status %d: %s", res.StatusCode, string(data))
	}
	var a domain.Agent
	if err := json.Unmarshal(data, &a); err != nil {
		t.Fatalf("unmarshal agent: %v", err)
	}
	return a
}

func TestDocumentUploadRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	agent := createAgentHTTP(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/agents/"+agent.ID+"/documents", map[string]any{
		"type":      "w9",
		"file_name": "w9.pdf",
	}, actorHeaders())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("upload status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/agents/"+agent.ID+"/checklist", nil, actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("checklist status %d: %s", res.StatusCode, string(data))
	}
	var items []domain.ChecklistItem
	if err := json.Unmarshal(data, &items); err != nil {
		t.Fatalf("unmarshal checklist: %v", err)
	}
	var w9Done bool
	for _, it := range items {
		if it.ItemKey == policy.KeyW9Form && it.IsCompleted {
			w9Done = true
		}
	}
	if !w9Done {
		t.Fatalf("w9_form not completed after upload: %s", string(data))
	}
}

func TestMonitorRunAndResolve(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	agent := createAgentHTTP(t, srv)

	expires := time.Now().UTC().AddDate(0, 0, 20).Format("2006-01-02")
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/agents/"+agent.ID+"/licenses", map[string]any{
		"state":           "TX",
		"license_number":  "TX-100",
		"status":          "active",
		"expiration_date": expires,
	}, actorHeaders())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add license status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/monitor/run", nil, actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("monitor run status %d: %s", res.StatusCode, string(data))
	}
	var run struct {
		Created []domain.Alert `json:"created"`
		Count   int            `json:"count"`
	}
	if err := json.Unmarshal(data, &run); err != nil {
		t.Fatalf("unmarshal run: %v", err)
	}
	if run.Count == 0 {
		t.Fatalf("no alerts created: %s", string(data))
	}
	var licAlert *domain.Alert
	for i, a := range run.Created {
		if a.Type == policy.AlertLicenseExpiring {
			licAlert = &run.Created[i]
		}
	}
	if licAlert == nil {
		t.Fatalf("no license_expiring alert: %s", string(data))
	}
	if licAlert.Severity != policy.SeverityCritical {
		t.Errorf("severity = %s", licAlert.Severity)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/alerts/"+licAlert.ID+"/resolve", nil, actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("resolve status %d: %s", res.StatusCode, string(data))
	}
	var resolved domain.Alert
	if err := json.Unmarshal(data, &resolved); err != nil {
		t.Fatal(err)
	}
	if !resolved.IsResolved {
		t.Fatalf("alert not resolved: %s", string(data))
	}
}

func TestAlertListFilters(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	agent := createAgentHTTP(t, srv)

	expires := time.Now().UTC().AddDate(0, 0, 15).Format("2006-01-02")
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/agents/"+agent.ID+"/licenses", map[string]any{
		"state":           "FL",
		"license_number":  "FL-200",
		"status":          "active",
		"expiration_date": expires,
	}, actorHeaders())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add license status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/monitor/run", nil, actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("monitor run status %d: %s", res.StatusCode, string(data))
	}

	listAlerts := func(query string) []domain.Alert {
		t.Helper()
		res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/alerts"+query, nil, actorHeaders())
		if res.StatusCode != http.StatusOK {
			t.Fatalf("list alerts %q status %d: %s", query, res.StatusCode, string(data))
		}
		var alerts []domain.Alert
		if err := json.Unmarshal(data, &alerts); err != nil {
			t.Fatalf("unmarshal alerts: %v", err)
		}
		return alerts
	}

	open := listAlerts("?resolved=false&type=" + policy.AlertLicenseExpiring)
	if len(open) != 1 {
		t.Fatalf("open license alerts = %d", len(open))
	}
	if got := listAlerts("?resolved=true&type=" + policy.AlertLicenseExpiring); len(got) != 0 {
		t.Fatalf("resolved license alerts = %d before resolving", len(got))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/alerts/"+open[0].ID+"/resolve", nil, actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("resolve status %d: %s", res.StatusCode, string(data))
	}

	if got := listAlerts("?resolved=false&type=" + policy.AlertLicenseExpiring); len(got) != 0 {
		t.Fatalf("open license alerts = %d after resolving", len(got))
	}
	if got := listAlerts("?resolved=true&type=" + policy.AlertLicenseExpiring); len(got) != 1 {
		t.Fatalf("resolved license alerts = %d after resolving", len(got))
	}
	// No resolved filter returns both states.
	if got := listAlerts("?type=" + policy.AlertLicenseExpiring); len(got) != 1 {
		t.Fatalf("unfiltered license alerts = %d", len(got))
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/agents", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("code = %s", envelope.Error.Code)
	}

	// Health stays open.
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}

func TestJWTAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "jwt-user",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatal(err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/agents", nil, map[string]string{
		"Authorization": "Bearer " + signed,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/agents", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status %d: %s", res.StatusCode, string(data))
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/apikeys", map[string]any{
		"actor_id": "svc-nipr",
		"name":     "nipr poller",
	}, actorHeaders())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key status %d: %s", res.StatusCode, string(data))
	}
	var created APIKeyCreatedResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatal(err)
	}
	if created.Key == "" {
		t.Fatal("raw key not returned")
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/agents", nil, map[string]string{
		"X-Api-Key": created.Key,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key auth status %d: %s", res.StatusCode, string(data))
	}
}

func TestWebhookDispatcherDeliversAndStops(t *testing.T) {
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	received := make(chan string, 16)
	hookLn, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	hookSrv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Header.Get("X-Complyline-Event")
		w.WriteHeader(http.StatusNoContent)
	})}
	go hookSrv.Serve(hookLn)
	defer hookSrv.Shutdown(context.Background())

	cfg := config.Default()
	cfg.Webhooks = []config.WebhookConfig{{
		URL:    "http://" + hookLn.Addr().String() + "/hook",
		Events: []string{"agent.created"},
	}}
	e := engine.New(conn, cfg)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testJWTSecret, AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}

	if _, err := e.CreateAgent(context.Background(), engine.AgentCreateOptions{
		FirstName: "Ana",
		LastName:  "Torres",
		ActorID:   "tester",
	}); err != nil {
		t.Fatalf("create agent: %v", err)
	}

	select {
	case evt := <-received:
		if evt != "agent.created" {
			t.Fatalf("delivered event = %q", evt)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("no webhook delivery")
	}

	closed := make(chan struct{})
	go func() {
		handler.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not stop the dispatcher")
	}
	// Stop is idempotent.
	handler.Close()
}

func TestNotFoundEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/agents/no-such-agent", nil, actorHeaders())
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("code = %s", envelope.Error.Code)
	}
}
