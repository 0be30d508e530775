package taskboardsdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"taskboard/internal/config"
	"taskboard/internal/db"
	"taskboard/internal/engine"
	"taskboard/internal/migrate"
	"taskboard/internal/server"
)

func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	e.BcryptCost = bcrypt.MinCost
	ctx := context.Background()
	boss, err := e.CreateBoss(ctx, engine.UserCreateOptions{Username: "boss", Password: "secret-boss"})
	if err != nil {
		t.Fatalf("create boss: %v", err)
	}
	if _, err := e.CreateUser(ctx, boss, engine.UserCreateOptions{Username: "tech", Password: "secret-tech", Role: "technician"}); err != nil {
		t.Fatalf("create tech: %v", err)
	}
	handler, err := server.New(server.Config{
		Engine: e,
		Auth:   server.AuthConfig{JWTSecret: "sdk-secret"},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientTaskFlow(t *testing.T) {
	srv := newTestAPI(t)
	ctx := context.Background()

	boss := New(srv.URL)
	if _, err := boss.Login(ctx, "boss", "secret-boss"); err != nil {
		t.Fatalf("boss login: %v", err)
	}
	tech := New(srv.URL)
	techUser, err := tech.Login(ctx, "tech", "secret-tech")
	if err != nil {
		t.Fatalf("tech login: %v", err)
	}

	task, err := boss.CreateTask(ctx, NewTask{
		Title:         "Inspect roof",
		AssignedTo:    techUser.ID,
		DueDate:       "2030-06-01",
		PaymentAmount: "250.00",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := tech.StartTask(ctx, task.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := tech.SubmitTask(ctx, task.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	done, err := boss.CompleteTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != "completed" {
		t.Fatalf("expected completed, got %s", done.Status)
	}

	board, err := tech.Kanban(ctx, "")
	if err != nil {
		t.Fatalf("kanban: %v", err)
	}
	if len(board.Groups) != 5 || board.Groups[4].Count != 1 || board.Groups[4].Total != "250.00" {
		t.Fatalf("unexpected board: %+v", board)
	}

	if _, err := boss.RecordPayment(ctx, techUser.ID, "300.00", "too much"); err == nil {
		t.Fatalf("expected overdraft to fail")
	} else {
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Code != "insufficient_balance" {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if _, err := boss.RecordPayment(ctx, techUser.ID, "100.00", "weekly"); err != nil {
		t.Fatalf("payment: %v", err)
	}
	balance, err := tech.Balance(ctx, techUser.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != "150.00" {
		t.Fatalf("expected 150.00, got %s", balance)
	}
	payments, err := tech.Payments(ctx, "")
	if err != nil {
		t.Fatalf("payments: %v", err)
	}
	if len(payments) != 1 || payments[0].Amount != "100.00" {
		t.Fatalf("unexpected payments: %+v", payments)
	}

	tasks, err := boss.ListTasks(ctx, TaskQuery{Status: "completed"})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != task.ID {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
	page, err := boss.EventsPage(ctx, 2, "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("expected a full first page with a cursor, got %+v", page)
	}
}

func TestClientRequiresLogin(t *testing.T) {
	srv := newTestAPI(t)
	c := New(srv.URL)
	_, err := c.Me(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}
