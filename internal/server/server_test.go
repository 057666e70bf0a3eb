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

	"plantline/internal/config"
	"plantline/internal/db"
	"plantline/internal/engine"
	"plantline/internal/migrate"
)

type testServer struct {
	URL    string
	Engine *engine.Engine
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
	cfg := config.Default("plant-1")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	handler, err := New(Config{Engine: e, BasePath: "/v0"})
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
		Engine: &e,
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

func TestScheduleEndToEnd(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/assets", map[string]any{
		"asset_id":                "PUMP-01",
		"asset_type":              "Pump",
		"health_score":            30,
		"risk_level":              4,
		"required_certifications": []string{"electrical"},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create asset: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/engineers", map[string]any{
		"engineer_id":    "ENG-01",
		"name":           "Ada",
		"certifications": []string{"electrical"},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create engineer: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/schedule", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("schedule: %d %s", res.StatusCode, string(data))
	}
	var schedule engine.ScheduleResult
	if err := json.Unmarshal(data, &schedule); err != nil {
		t.Fatalf("unmarshal schedule: %v", err)
	}
	if schedule.Status != "success" || len(schedule.Decisions) != 1 {
		t.Fatalf("schedule result: %+v", schedule)
	}
	orderID := schedule.Decisions[0].OrderID

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/orders/"+orderID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get order: %d %s", res.StatusCode, string(data))
	}
	var order OrderResponse
	if err := json.Unmarshal(data, &order); err != nil {
		t.Fatalf("unmarshal order: %v", err)
	}
	if order.Status != "ASSIGNED" || order.AssignedEngineerID == nil || *order.AssignedEngineerID != "ENG-01" {
		t.Fatalf("order: %+v", order)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/orders/"+orderID+"/complete", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/assets/PUMP-01", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get asset: %d %s", res.StatusCode, string(data))
	}
	var asset AssetResponse
	if err := json.Unmarshal(data, &asset); err != nil {
		t.Fatalf("unmarshal asset: %v", err)
	}
	if asset.HealthScore != 100 {
		t.Fatalf("asset health after repair = %v", asset.HealthScore)
	}
}

func TestOverrideEndpointEnforcesRole(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	expires := time.Now().Add(2 * time.Hour).UTC().Format(time.RFC3339)
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/overrides", map[string]any{
		"constraint":    "FATIGUE_LIMIT",
		"target_id":     "ENG-01",
		"justification": "planned outage coverage requires exception",
		"approved_by":   "tech-1",
		"approver_role": "TECHNICIAN",
		"expires_at":    expires,
	}, nil)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/overrides", map[string]any{
		"constraint":    "FATIGUE_LIMIT",
		"target_id":     "ENG-01",
		"justification": "too short",
		"approved_by":   "mgr-7",
		"approver_role": "PLANT_MANAGER",
		"expires_at":    expires,
	}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/overrides", map[string]any{
		"constraint":    "FATIGUE_LIMIT",
		"target_id":     "ENG-01",
		"justification": "planned outage coverage requires exception",
		"approved_by":   "mgr-7",
		"approver_role": "PLANT_MANAGER",
		"expires_at":    expires,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", res.StatusCode, string(data))
	}
	var ov OverrideResponse
	if err := json.Unmarshal(data, &ov); err != nil {
		t.Fatalf("unmarshal override: %v", err)
	}
	if !ov.Active || ov.ID == "" {
		t.Fatalf("override: %+v", ov)
	}
}

func TestAlertsExposeStaffingGaps(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/assets", map[string]any{
		"asset_id":                "TURBINE-01",
		"asset_type":              "Turbine",
		"health_score":            15,
		"risk_level":              5,
		"required_certifications": []string{"nuclear"},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create asset: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/schedule", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("schedule: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/alerts", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("alerts: %d %s", res.StatusCode, string(data))
	}
	var alerts []map[string]any
	if err := json.Unmarshal(data, &alerts); err != nil {
		t.Fatalf("unmarshal alerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0]["severity"] != "CRITICAL" {
		t.Fatalf("alerts: %+v", alerts)
	}
}

func TestUnknownOrderReturnsNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/orders/ORD-MISSING", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("error code = %q", envelope.Error.Code)
	}
}

func TestAuthRequiredRejectsAnonymous(t *testing.T) {
	srv, cleanup := newAuthTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/assets", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should bypass auth, got %d", res.StatusCode)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/assets", nil, map[string]string{"X-Actor-Id": "ops-1"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("legacy header: %d %s", res.StatusCode, string(data))
	}
}

func newAuthTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default("plant-1"))
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{Required: true, AllowLegacyActorHeader: true},
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
		Engine: &e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}
