package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"taskboard/internal/config"
	"taskboard/internal/db"
	"taskboard/internal/engine"
	"taskboard/internal/migrate"
)

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
	e.BcryptCost = bcrypt.MinCost
	if _, err := e.CreateBoss(context.Background(), engine.UserCreateOptions{Username: "boss", Password: "secret-boss"}); err != nil {
		t.Fatalf("create boss: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: "test-secret", Issuer: "taskboard"},
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

func login(t *testing.T, srv *testServer, username, password string) map[string]string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/login", map[string]any{
		"username": username,
		"password": password,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login %s status %d: %s", username, res.StatusCode, string(data))
	}
	var out LoginResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	if out.Token == "" {
		t.Fatalf("empty token")
	}
	return map[string]string{"Authorization": "Bearer " + out.Token}
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error
}

func createTechnician(t *testing.T, srv *testServer, headers map[string]string, username string) UserResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/users", map[string]any{
		"username": username,
		"password": "secret-" + username,
		"role":     "technician",
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create user status %d: %s", res.StatusCode, string(data))
	}
	var u UserResponse
	if err := json.Unmarshal(data, &u); err != nil {
		t.Fatalf("unmarshal user: %v", err)
	}
	return u
}

func createTask(t *testing.T, srv *testServer, headers map[string]string, assignee, amount string) TaskResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"title":          "Replace valve",
		"assigned_to":    assignee,
		"due_date":       "2030-01-15",
		"payment_amount": amount,
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	var task TaskResponse
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	return task
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	if got := decodeError(t, data).Code; got != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %q", got)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d: %s", res.StatusCode, string(data))
	}
}

func TestLoginAndMe(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/login", map[string]any{
		"username": "boss",
		"password": "wrong-password",
	}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	if got := decodeError(t, data).Code; got != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %q", got)
	}

	headers := login(t, srv, "boss", "secret-boss")
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var me UserResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.Username != "boss" || me.Role != "boss" || me.Balance != "0.00" {
		t.Fatalf("unexpected me: %+v", me)
	}
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	boss := login(t, srv, "boss", "secret-boss")
	tech := createTechnician(t, srv, boss, "tech")
	task := createTask(t, srv, boss, tech.ID, "500.00")
	if task.Status != "created" || task.PaymentAmount != "500.00" {
		t.Fatalf("unexpected task: %+v", task)
	}

	techHeaders := login(t, srv, "tech", "secret-tech")
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/complete", nil, techHeaders)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("technician complete: expected 403, got %d: %s", res.StatusCode, string(data))
	}
	for _, action := range []string{"start", "submit"} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/"+action, nil, techHeaders)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s status %d: %s", action, res.StatusCode, string(data))
		}
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/complete", nil, boss)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, string(data))
	}
	var done TaskResponse
	if err := json.Unmarshal(data, &done); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if done.Status != "completed" || done.CompletedAt == nil {
		t.Fatalf("expected completed task, got %+v", done)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/complete", nil, boss)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second complete: expected 409, got %d: %s", res.StatusCode, string(data))
	}
	if got := decodeError(t, data).Code; got != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %q", got)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/users/"+tech.ID+"/balance", nil, techHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("balance status %d: %s", res.StatusCode, string(data))
	}
	var bal BalanceResponse
	if err := json.Unmarshal(data, &bal); err != nil {
		t.Fatalf("unmarshal balance: %v", err)
	}
	if bal.Balance != "500.00" {
		t.Fatalf("expected balance 500.00, got %s", bal.Balance)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/tasks/"+task.ID, map[string]any{"title": "late edit"}, boss)
	if res.StatusCode == http.StatusOK {
		t.Fatalf("editing a completed task should fail: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events", nil, boss)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var evts paginatedEvents
	if err := json.Unmarshal(data, &evts); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(evts.Items) == 0 {
		t.Fatalf("expected audit events")
	}
}

func TestPaymentsOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	boss := login(t, srv, "boss", "secret-boss")
	tech := createTechnician(t, srv, boss, "tech")
	task := createTask(t, srv, boss, tech.ID, "500.00")
	techHeaders := login(t, srv, "tech", "secret-tech")
	doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/submit", nil, techHeaders)
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/complete", nil, boss)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/payments", map[string]any{
		"employee_id": tech.ID,
		"amount":      "600.00",
	}, boss)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("overdraft: expected 422, got %d: %s", res.StatusCode, string(data))
	}
	if got := decodeError(t, data).Code; got != "insufficient_balance" {
		t.Fatalf("expected insufficient_balance, got %q", got)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/payments", map[string]any{
		"employee_id": tech.ID,
		"amount":      "120",
		"description": "advance",
	}, boss)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("payment status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/payments", map[string]any{
		"employee_id": tech.ID,
		"amount":      "1.234",
	}, boss)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad amount: expected 400, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/payments", nil, techHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list payments status %d: %s", res.StatusCode, string(data))
	}
	var payments []PaymentResponse
	if err := json.Unmarshal(data, &payments); err != nil {
		t.Fatalf("unmarshal payments: %v", err)
	}
	if len(payments) != 1 || payments[0].Amount != "120.00" {
		t.Fatalf("unexpected payments: %+v", payments)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/users/"+tech.ID+"/ledger", nil, boss)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("ledger status %d: %s", res.StatusCode, string(data))
	}
	var ledger []LedgerEntryResponse
	if err := json.Unmarshal(data, &ledger); err != nil {
		t.Fatalf("unmarshal ledger: %v", err)
	}
	if len(ledger) != 2 || ledger[1].BalanceAfter != "380.00" {
		t.Fatalf("unexpected ledger: %+v", ledger)
	}
}

func TestInvitationAcceptIsPublic(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	boss := login(t, srv, "boss", "secret-boss")
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/invitations", map[string]any{
		"role":  "manager",
		"email": "new@example.com",
	}, boss)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("invite status %d: %s", res.StatusCode, string(data))
	}
	var inv InvitationResponse
	if err := json.Unmarshal(data, &inv); err != nil {
		t.Fatalf("unmarshal invitation: %v", err)
	}
	if inv.Token == "" || inv.Status != "pending" {
		t.Fatalf("unexpected invitation: %+v", inv)
	}

	accept := map[string]any{"token": inv.Token, "username": "newmgr", "password": "secret-newmgr"}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/invitations/accept", accept, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("accept status %d: %s", res.StatusCode, string(data))
	}
	var u UserResponse
	if err := json.Unmarshal(data, &u); err != nil {
		t.Fatalf("unmarshal user: %v", err)
	}
	if u.Role != "manager" || u.ManagerID == nil || u.Email != "new@example.com" {
		t.Fatalf("unexpected user: %+v", u)
	}
	login(t, srv, "newmgr", "secret-newmgr")

	accept["username"] = "again"
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/invitations/accept", accept, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second accept: expected 409, got %d: %s", res.StatusCode, string(data))
	}
}

func TestKanbanOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	boss := login(t, srv, "boss", "secret-boss")
	tech := createTechnician(t, srv, boss, "tech")
	createTask(t, srv, boss, tech.ID, "10.00")
	createTask(t, srv, boss, tech.ID, "15.50")

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/kanban", nil, boss)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("kanban status %d: %s", res.StatusCode, string(data))
	}
	var board KanbanResponse
	if err := json.Unmarshal(data, &board); err != nil {
		t.Fatalf("unmarshal board: %v", err)
	}
	if len(board.Groups) != 5 {
		t.Fatalf("expected 5 groups, got %d", len(board.Groups))
	}
	if board.Groups[1].Status != "created" || board.Groups[1].Count != 2 || board.Groups[1].Total != "25.50" {
		t.Fatalf("unexpected created column: %+v", board.Groups[1])
	}
	if board.Groups[2].Name != "In progress" {
		t.Fatalf("expected configured status name, got %q", board.Groups[2].Name)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/kanban/team", nil, boss)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("team kanban status %d: %s", res.StatusCode, string(data))
	}
	var team TeamKanbanResponse
	if err := json.Unmarshal(data, &team); err != nil {
		t.Fatalf("unmarshal team board: %v", err)
	}
	if team.Count != 2 || len(team.Groups[1].Members) != 1 || team.Groups[1].Members[0].User.ID != tech.ID {
		t.Fatalf("unexpected team board: %+v", team)
	}
}

func TestOpenAPIIsPublic(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d: %s", res.StatusCode, string(data))
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal openapi: %v", err)
	}
	paths, _ := doc["paths"].(map[string]any)
	if _, ok := paths["/v1/tasks/{id}/complete"]; !ok {
		t.Fatalf("complete route missing from openapi")
	}
}
