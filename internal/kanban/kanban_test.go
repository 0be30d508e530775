package kanban

import (
	"testing"

	"taskboard/internal/domain"
)

func TestBuildEmptyBoard(t *testing.T) {
	b := Build(nil, nil)
	if len(b.Groups) != 5 {
		t.Fatalf("expected 5 groups, got %d", len(b.Groups))
	}
	for i, g := range b.Groups {
		if g.Status != domain.StatusOrder[i] {
			t.Fatalf("group %d: got %s want %s", i, g.Status, domain.StatusOrder[i])
		}
		if g.Count != 0 || g.Total != 0 || g.Total.String() != "0.00" {
			t.Fatalf("empty group %s: count=%d total=%s", g.Status, g.Count, g.Total)
		}
		if g.Name != string(g.Status) {
			t.Fatalf("default name: got %q", g.Name)
		}
	}
	if b.Count != 0 || b.Total != 0 {
		t.Fatalf("empty board totals: %d %s", b.Count, b.Total)
	}
}

func TestBuildGroupsSortsAndSums(t *testing.T) {
	tasks := []domain.Task{
		{ID: "c", Status: domain.StatusCreated, DueDate: "2024-05-03", CreatedAt: "2024-05-01T00:00:00Z", PaymentAmount: 10000},
		{ID: "a", Status: domain.StatusCreated, DueDate: "2024-05-01", CreatedAt: "2024-05-02T00:00:00Z", PaymentAmount: 2550},
		{ID: "b", Status: domain.StatusCreated, DueDate: "2024-05-01", CreatedAt: "2024-05-01T00:00:00Z", PaymentAmount: 50},
		{ID: "d", Status: domain.StatusCompleted, DueDate: "2024-04-01", CreatedAt: "2024-03-01T00:00:00Z", PaymentAmount: 50000},
	}
	b := Build(tasks, Names{domain.StatusCreated: "Created"})
	created := b.Groups[1]
	if created.Name != "Created" {
		t.Fatalf("name: %q", created.Name)
	}
	var ids []string
	for _, tk := range created.Tasks {
		ids = append(ids, tk.ID)
	}
	if len(ids) != 3 || ids[0] != "b" || ids[1] != "a" || ids[2] != "c" {
		t.Fatalf("unexpected order %v", ids)
	}
	if created.Count != 3 || created.Total.String() != "126.00" {
		t.Fatalf("created group: count=%d total=%s", created.Count, created.Total)
	}
	if b.Groups[4].Total.String() != "500.00" {
		t.Fatalf("completed total: %s", b.Groups[4].Total)
	}
	if b.Count != 4 || b.Total.String() != "626.00" {
		t.Fatalf("board totals: %d %s", b.Count, b.Total)
	}
	// input must be left as it was
	if tasks[0].ID != "c" {
		t.Fatalf("input reordered")
	}
}

func TestBuildTeamPartitionsByAssignee(t *testing.T) {
	users := []domain.User{{ID: "u2", Username: "second"}, {ID: "u1", Username: "first"}}
	tasks := []domain.Task{
		{ID: "t1", AssignedTo: "u1", Status: domain.StatusInProgress, DueDate: "2024-05-01", PaymentAmount: 100},
		{ID: "t2", AssignedTo: "u2", Status: domain.StatusInProgress, DueDate: "2024-05-02", PaymentAmount: 200},
		{ID: "t3", AssignedTo: "u1", Status: domain.StatusInProgress, DueDate: "2024-05-03", PaymentAmount: 300},
		{ID: "t4", AssignedTo: "ghost", Status: domain.StatusInProgress, DueDate: "2024-05-04", PaymentAmount: 400},
	}
	tb := BuildTeam(tasks, users, nil)
	if len(tb.Groups) != 5 {
		t.Fatalf("expected 5 groups")
	}
	g := tb.Groups[2]
	if g.Count != 4 || g.Total.String() != "10.00" {
		t.Fatalf("group totals: %d %s", g.Count, g.Total)
	}
	if len(g.Members) != 3 {
		t.Fatalf("expected 3 members, got %d", len(g.Members))
	}
	if g.Members[0].User.ID != "u2" || g.Members[1].User.ID != "u1" || g.Members[2].User.ID != "ghost" {
		t.Fatalf("member order: %s %s %s", g.Members[0].User.ID, g.Members[1].User.ID, g.Members[2].User.ID)
	}
	u1 := g.Members[1]
	if u1.Count != 2 || u1.Total.String() != "4.00" || u1.Tasks[0].ID != "t1" || u1.Tasks[1].ID != "t3" {
		t.Fatalf("u1 slice wrong: %+v", u1)
	}
	if len(tb.Groups[0].Members) != 0 || tb.Groups[0].Count != 0 {
		t.Fatalf("empty column must have no members")
	}
	if tb.Count != 4 || tb.Total.String() != "10.00" {
		t.Fatalf("team totals: %d %s", tb.Count, tb.Total)
	}
}
