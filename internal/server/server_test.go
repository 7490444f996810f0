package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"dealflow/internal/config"
	"dealflow/internal/db"
	"dealflow/internal/domain"
	"dealflow/internal/engine"
	"dealflow/internal/migrate"
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

func registerAgency(t *testing.T, srv *testServer, id, tier string) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/agencies", map[string]any{
		"id": id, "name": id, "tier": tier, "satisfaction_rating": 4.5, "completion_rate": 92,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register agency %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/queue", map[string]any{
		"agency_id": id,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("queue insert %d: %s", res.StatusCode, string(data))
	}
}

func TestDistributeFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	registerAgency(t, srv, "studio-a", "elite")
	registerAgency(t, srv, "studio-b", "premium")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects", map[string]any{
		"title": "Corporate site", "value": 15000,
	}, map[string]string{"X-Actor-Id": "sales"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project %d: %s", res.StatusCode, string(data))
	}
	var p domain.PremiumProject
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	if p.Status != "elaborado" {
		t.Fatalf("new project status %q", p.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/distribute", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("distribute %d: %s", res.StatusCode, string(data))
	}
	var dist DistributeResponse
	if err := json.Unmarshal(data, &dist); err != nil {
		t.Fatal(err)
	}
	if dist.AgencyID != "studio-a" {
		t.Fatalf("distributed to %s", dist.AgencyID)
	}

	// distributing again conflicts with the existing assignment
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/distribute", nil, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("second distribute %d: %s", res.StatusCode, string(data))
	}
}

func TestTransitionErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects", map[string]any{
		"title": "App", "value": 8000,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project %d: %s", res.StatusCode, string(data))
	}
	var p domain.PremiumProject
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatal(err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/transition", map[string]any{
		"to_status": "ativo",
	}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("invalid transition %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "invalid_transition" {
		t.Fatalf("error code %q", envelope.Error.Code)
	}
	if envelope.Error.Details["from_status"] != "elaborado" {
		t.Fatalf("details %v", envelope.Error.Details)
	}
}

func TestQueueEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	registerAgency(t, srv, "studio-a", "elite")
	registerAgency(t, srv, "studio-b", "premium")

	// duplicate insert is a conflict
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/queue", map[string]any{"agency_id": "studio-a"}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate insert %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/queue/studio-b/move", map[string]any{"direction": "up"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("move %d: %s", res.StatusCode, string(data))
	}
	var entry domain.QueueEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatal(err)
	}
	if entry.Position != 1 {
		t.Fatalf("move result position %d", entry.Position)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/queue", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get queue %d: %s", res.StatusCode, string(data))
	}
	var entries []domain.QueueEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].AgencyID != "studio-b" {
		t.Fatalf("queue order wrong: %+v", entries)
	}

	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/queue/ghost", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("remove unknown %d", res.StatusCode)
	}
}

func TestEligibilityEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	registerAgency(t, srv, "studio-a", "elite")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/queue/studio-a/toggle", map[string]any{"match_enabled": false}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("toggle %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/queue/studio-a/eligibility", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("eligibility %d: %s", res.StatusCode, string(data))
	}
	var elig EligibilityResponse
	if err := json.Unmarshal(data, &elig); err != nil {
		t.Fatal(err)
	}
	if elig.Eligible {
		t.Fatalf("opted-out agency reported eligible")
	}
	found := false
	for _, r := range elig.Reasons {
		if r == "opted_out" {
			found = true
		}
	}
	if !found {
		t.Fatalf("reasons missing opted_out: %v", elig.Reasons)
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	registerAgency(t, srv, "studio-a", "elite")

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?entity_kind=queue_entry", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events %d: %s", res.StatusCode, string(data))
	}
	var resp EventsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Events) == 0 {
		t.Fatalf("no audit events recorded")
	}
	if resp.Events[0].Type != "queue.entry.added" {
		t.Fatalf("newest event %q", resp.Events[0].Type)
	}
}
