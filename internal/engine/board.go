package engine

import (
	"context"

	"taskboard/internal/domain"
	"taskboard/internal/engine/auth"
	"taskboard/internal/kanban"
	"taskboard/internal/repo"
)

func (e Engine) statusNames() kanban.Names {
	if e.Config == nil {
		return nil
	}
	return kanban.Names(e.Config.StatusNames())
}

// Kanban builds a status board. With an empty assigneeID a technician sees
// its own tasks and a supervisor sees every task it may view; otherwise the
// board holds the visible tasks assigned to assigneeID.
func (e Engine) Kanban(ctx context.Context, actor domain.User, assigneeID string) (kanban.Board, error) {
	opts := TaskListOptions{}
	if assigneeID != "" && assigneeID != actor.ID {
		if !actor.Role.Supervisor() {
			return kanban.Board{}, auth.Forbidden("kanban.view")
		}
		if _, err := e.GetUser(ctx, actor, assigneeID); err != nil {
			return kanban.Board{}, err
		}
		opts.AssignedTo = assigneeID
	}
	tasks, err := e.ListTasks(ctx, actor, opts)
	if err != nil {
		return kanban.Board{}, err
	}
	return kanban.Build(tasks, e.statusNames()), nil
}

// TeamKanban builds the per-assignee board over the tasks of actor's team
// that actor can view.
func (e Engine) TeamKanban(ctx context.Context, actor domain.User) (kanban.TeamBoard, error) {
	team, err := e.TeamUsers(ctx, actor)
	if err != nil {
		return kanban.TeamBoard{}, err
	}
	ids := make([]string, 0, len(team))
	for _, u := range team {
		ids = append(ids, u.ID)
	}
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{VisibleTo: &actor, AssignedTo: ids})
	if err != nil {
		return kanban.TeamBoard{}, err
	}
	return kanban.BuildTeam(tasks, team, e.statusNames()), nil
}

// EventListOptions narrow ListEvents.
type EventListOptions struct {
	EntityKind string
	EntityID   string
	AfterID    int64
	Limit      int
}

// ListEvents returns audit events of actor's reach: a boss sees its whole
// tree, a manager sees itself and its direct reports.
func (e Engine) ListEvents(ctx context.Context, actor domain.User, opts EventListOptions) ([]domain.Event, error) {
	var ids []string
	switch actor.Role {
	case domain.RoleBoss:
		tree, err := e.treeIDs(ctx, actor)
		if err != nil {
			return nil, err
		}
		ids = tree
	case domain.RoleManager:
		reports, err := e.Reports(ctx, actor)
		if err != nil {
			return nil, err
		}
		ids = append(ids, actor.ID)
		for _, u := range reports {
			ids = append(ids, u.ID)
		}
	default:
		return nil, auth.Forbidden("events.list")
	}
	return e.Repo.ListEvents(ctx, repo.EventFilters{
		ActorIDs:   ids,
		EntityKind: opts.EntityKind,
		EntityID:   opts.EntityID,
		AfterID:    opts.AfterID,
		Limit:      opts.Limit,
	})
}
