package auth

import (
	"errors"
	"testing"

	"taskboard/internal/domain"
)

func ptr(s string) *string { return &s }

func users() (boss, mgr, tech, peerTech, otherBoss, orphanTech domain.User) {
	boss = domain.User{ID: "b", Role: domain.RoleBoss}
	mgr = domain.User{ID: "m", Role: domain.RoleManager, ManagerID: ptr("b")}
	tech = domain.User{ID: "t", Role: domain.RoleTechnician, ManagerID: ptr("b")}
	peerTech = domain.User{ID: "t2", Role: domain.RoleTechnician, ManagerID: ptr("m")}
	otherBoss = domain.User{ID: "b2", Role: domain.RoleBoss}
	orphanTech = domain.User{ID: "t3", Role: domain.RoleTechnician}
	return
}

func TestCanViewAssigneeAlways(t *testing.T) {
	_, _, tech, peerTech, _, _ := users()
	for _, u := range []domain.User{tech, peerTech} {
		for _, st := range domain.StatusOrder {
			task := domain.Task{AssignedTo: u.ID, CreatedBy: "someone", Status: st, AssigneeManagerID: u.ManagerID}
			if !CanView(task, u) {
				t.Fatalf("assignee %s must see task in %s", u.ID, st)
			}
		}
	}
}

func TestCanViewSupervisors(t *testing.T) {
	boss, mgr, tech, _, otherBoss, orphanTech := users()
	task := domain.Task{AssignedTo: tech.ID, CreatedBy: boss.ID, AssigneeManagerID: tech.ManagerID}
	if !CanView(task, boss) {
		t.Fatalf("creator must see task")
	}
	// mgr shares manager b with tech
	if !CanView(task, mgr) {
		t.Fatalf("manager sharing the assignee's manager must see task")
	}
	if CanView(task, otherBoss) {
		t.Fatalf("another tenant's boss must not see task")
	}
	controlled := domain.Task{AssignedTo: tech.ID, CreatedBy: "x", ControlledBy: ptr(otherBoss.ID), AssigneeManagerID: tech.ManagerID}
	if !CanView(controlled, otherBoss) {
		t.Fatalf("controller must see task")
	}
	orphan := domain.Task{AssignedTo: orphanTech.ID, CreatedBy: orphanTech.ID}
	if CanView(orphan, otherBoss) {
		t.Fatalf("nil manager must not match nil manager")
	}
	if CanView(task, orphanTech) {
		t.Fatalf("technician must not see others' tasks")
	}
}

func TestCanEdit(t *testing.T) {
	boss, mgr, tech, peerTech, _, _ := users()
	task := domain.Task{AssignedTo: peerTech.ID, CreatedBy: boss.ID, Status: domain.StatusCreated, AssigneeManagerID: peerTech.ManagerID}
	if !CanEdit(task, boss) {
		t.Fatalf("boss edits")
	}
	if !CanEdit(task, mgr) {
		t.Fatalf("manager edits tasks of direct reports")
	}
	other := domain.Task{AssignedTo: tech.ID, CreatedBy: boss.ID, Status: domain.StatusCreated, AssigneeManagerID: tech.ManagerID}
	if CanEdit(other, mgr) {
		t.Fatalf("manager must not edit unrelated task")
	}
	if CanEdit(task, peerTech) {
		t.Fatalf("technician edits only proposed tasks")
	}
	task.Status = domain.StatusProposed
	if !CanEdit(task, peerTech) {
		t.Fatalf("technician edits own proposal")
	}
	if CanEdit(task, tech) {
		t.Fatalf("technician must not edit others' proposal")
	}
}

func TestCanAssignTaskTo(t *testing.T) {
	boss, mgr, tech, peerTech, otherBoss, _ := users()
	cases := []struct {
		name   string
		actor  domain.User
		target domain.User
		want   bool
	}{
		{"boss to direct report", boss, tech, true},
		{"boss to grandchild", boss, peerTech, false},
		{"other boss", otherBoss, tech, false},
		{"manager to peer under same boss", mgr, tech, true},
		{"manager to own report", mgr, peerTech, false},
		{"technician to self", tech, tech, true},
		{"technician to other", tech, peerTech, false},
	}
	for _, tc := range cases {
		if got := CanAssignTaskTo(tc.actor, tc.target); got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestCanEditUser(t *testing.T) {
	boss, mgr, tech, peerTech, _, _ := users()
	if !CanEditUser(boss, mgr) || !CanEditUser(boss, tech) || !CanEditUser(mgr, peerTech) {
		t.Fatalf("supervisors edit direct reports")
	}
	if CanEditUser(boss, peerTech) {
		t.Fatalf("boss does not directly supervise grandchildren")
	}
	if CanEditUser(tech, tech) {
		t.Fatalf("technicians edit nobody")
	}
}

func TestForbiddenErrorIs(t *testing.T) {
	err := Forbidden("task.complete")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	var fe ForbiddenError
	if !errors.As(err, &fe) || fe.Action != "task.complete" {
		t.Fatalf("expected ForbiddenError with action")
	}
}
