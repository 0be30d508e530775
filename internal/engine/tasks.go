package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"taskboard/internal/domain"
	"taskboard/internal/engine/auth"
	"taskboard/internal/events"
	"taskboard/internal/repo"
)

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	Title         string
	Description   string
	AssignedTo    string
	ControlledBy  *string
	DueDate       string
	PaymentAmount domain.Money
	Tags          []string
}

// CreateTask creates a task assigned to a technician. Supervisors create tasks
// in created; a technician proposes a task for itself, controlled by its
// direct manager unless told otherwise.
func (e Engine) CreateTask(ctx context.Context, actor domain.User, opts TaskCreateOptions) (domain.Task, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Task{}, invalidf("title is required")
	}
	if _, err := domain.ParseDate(opts.DueDate); err != nil {
		return domain.Task{}, wrapf(ErrInvalidInput, "%v", err)
	}
	if opts.PaymentAmount < 0 {
		return domain.Task{}, invalidf("payment amount must not be negative")
	}
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	assignee, err := e.Repo.GetUserTx(ctx, tx, opts.AssignedTo)
	if err != nil {
		return domain.Task{}, err
	}
	if assignee.Role != domain.RoleTechnician {
		return domain.Task{}, invalidf("tasks are assigned to technicians, %s is a %s", assignee.Username, assignee.Role)
	}
	if !auth.CanAssignTaskTo(actor, assignee) {
		return domain.Task{}, auth.Forbidden("task.assign")
	}

	status := domain.StatusCreated
	controller := opts.ControlledBy
	if actor.Role == domain.RoleTechnician {
		status = domain.StatusProposed
		if controller == nil {
			controller = actor.ManagerID
		}
	}
	if controller != nil {
		if err := e.checkController(ctx, tx, actor, *controller); err != nil {
			return domain.Task{}, err
		}
	}

	now := e.stamp()
	t := domain.Task{
		ID:                uuid.NewString(),
		Title:             title,
		Description:       opts.Description,
		AssignedTo:        assignee.ID,
		CreatedBy:         actor.ID,
		ControlledBy:      controller,
		DueDate:           opts.DueDate,
		PaymentAmount:     opts.PaymentAmount,
		Status:            status,
		Tags:              repo.NormalizeTags(opts.Tags),
		CreatedAt:         now,
		UpdatedAt:         now,
		AssigneeManagerID: assignee.ManagerID,
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.appendEvent(ctx, tx, events.TaskCreate, events.KindTask, t.ID, actor.ID, events.EventPayload{
		"status": t.Status, "assigned_to": t.AssignedTo, "payment_amount": t.PaymentAmount.String(),
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// checkController requires a supervisor from actor's tree.
func (e Engine) checkController(ctx context.Context, tx *sqlx.Tx, actor domain.User, id string) error {
	c, err := e.Repo.GetUserTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if !c.Role.Supervisor() {
		return invalidf("controller %s is a %s", c.Username, c.Role)
	}
	rootActor, err := e.bossTx(ctx, tx, actor)
	if err != nil {
		return err
	}
	rootC, err := e.bossTx(ctx, tx, c)
	if err != nil {
		return err
	}
	if rootActor.ID != rootC.ID {
		return repo.ErrNotFound
	}
	return nil
}

// loadVisible reads a task inside tx and hides it unless actor may view it.
func (e Engine) loadVisible(ctx context.Context, tx *sqlx.Tx, actor domain.User, id string) (domain.Task, error) {
	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if !auth.CanView(t, actor) {
		return domain.Task{}, repo.ErrNotFound
	}
	return t, nil
}

func (e Engine) GetTask(ctx context.Context, actor domain.User, id string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if !auth.CanView(t, actor) {
		return domain.Task{}, repo.ErrNotFound
	}
	return t, nil
}

// TaskListOptions narrow ListTasks. Empty fields do not filter.
type TaskListOptions struct {
	Status     domain.Status
	AssignedTo string
	CreatedBy  string
	Tag        string
	DueFrom    string
	DueTo      string
}

// ListTasks returns the tasks actor may view, ordered by due date.
func (e Engine) ListTasks(ctx context.Context, actor domain.User, opts TaskListOptions) ([]domain.Task, error) {
	for _, d := range []string{opts.DueFrom, opts.DueTo} {
		if d == "" {
			continue
		}
		if _, err := domain.ParseDate(d); err != nil {
			return nil, wrapf(ErrInvalidInput, "%v", err)
		}
	}
	f := repo.TaskFilters{
		VisibleTo: &actor,
		Status:    opts.Status,
		CreatedBy: opts.CreatedBy,
		Tag:       opts.Tag,
		DueFrom:   opts.DueFrom,
		DueTo:     opts.DueTo,
	}
	if opts.AssignedTo != "" {
		f.AssignedTo = []string{opts.AssignedTo}
	}
	tasks, err := e.Repo.ListTasks(ctx, f)
	if err != nil {
		return nil, err
	}
	out := tasks[:0]
	for _, t := range tasks {
		if auth.CanView(t, actor) {
			out = append(out, t)
		}
	}
	return out, nil
}

// TaskUpdateOptions holds field changes; nil fields stay as they are.
type TaskUpdateOptions struct {
	Title        *string
	Description  *string
	AssignedTo   *string
	ControlledBy *string

	// ClearController removes the controller and wins over ControlledBy.
	ClearController bool
	DueDate         *string
	PaymentAmount   *domain.Money
	Tags            *[]string
}

// UpdateTask edits a task that is not completed.
func (e Engine) UpdateTask(ctx context.Context, actor domain.User, id string, opts TaskUpdateOptions) (domain.Task, error) {
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	t, err := e.loadVisible(ctx, tx, actor, id)
	if err != nil {
		return domain.Task{}, err
	}
	if !auth.CanEdit(t, actor) {
		return domain.Task{}, auth.Forbidden("task.update")
	}
	if t.Status.Terminal() {
		return domain.Task{}, wrapf(ErrInvalidTransition, "task %s is completed", t.ID)
	}

	var changed []string
	if opts.Title != nil {
		title := strings.TrimSpace(*opts.Title)
		if title == "" {
			return domain.Task{}, invalidf("title is required")
		}
		t.Title = title
		changed = append(changed, "title")
	}
	if opts.Description != nil {
		t.Description = *opts.Description
		changed = append(changed, "description")
	}
	if opts.DueDate != nil {
		if _, err := domain.ParseDate(*opts.DueDate); err != nil {
			return domain.Task{}, wrapf(ErrInvalidInput, "%v", err)
		}
		t.DueDate = *opts.DueDate
		changed = append(changed, "due_date")
	}
	if opts.PaymentAmount != nil {
		if *opts.PaymentAmount < 0 {
			return domain.Task{}, invalidf("payment amount must not be negative")
		}
		t.PaymentAmount = *opts.PaymentAmount
		changed = append(changed, "payment_amount")
	}
	if opts.Tags != nil {
		t.Tags = repo.NormalizeTags(*opts.Tags)
		changed = append(changed, "tags")
	}
	if opts.AssignedTo != nil && *opts.AssignedTo != t.AssignedTo {
		assignee, err := e.Repo.GetUserTx(ctx, tx, *opts.AssignedTo)
		if err != nil {
			return domain.Task{}, err
		}
		if assignee.Role != domain.RoleTechnician {
			return domain.Task{}, invalidf("tasks are assigned to technicians, %s is a %s", assignee.Username, assignee.Role)
		}
		if !auth.CanAssignTaskTo(actor, assignee) {
			return domain.Task{}, auth.Forbidden("task.assign")
		}
		t.AssignedTo = assignee.ID
		t.AssigneeManagerID = assignee.ManagerID
		changed = append(changed, "assigned_to")
	}
	if opts.ClearController {
		t.ControlledBy = nil
		changed = append(changed, "controlled_by")
	} else if opts.ControlledBy != nil {
		if err := e.checkController(ctx, tx, actor, *opts.ControlledBy); err != nil {
			return domain.Task{}, err
		}
		c := *opts.ControlledBy
		t.ControlledBy = &c
		changed = append(changed, "controlled_by")
	}
	if len(changed) == 0 {
		return t, nil
	}
	t.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateTaskFields(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.appendEvent(ctx, tx, events.TaskUpdate, events.KindTask, t.ID, actor.ID, events.EventPayload{"fields": changed}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// DeleteTask removes a task that is not completed.
func (e Engine) DeleteTask(ctx context.Context, actor domain.User, id string) error {
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	t, err := e.loadVisible(ctx, tx, actor, id)
	if err != nil {
		return err
	}
	if !auth.CanEdit(t, actor) {
		return auth.Forbidden("task.delete")
	}
	if t.Status.Terminal() {
		return wrapf(ErrInvalidTransition, "task %s is completed", t.ID)
	}
	if err := e.Repo.DeleteTask(ctx, tx, t.ID); err != nil {
		return err
	}
	if err := e.appendEvent(ctx, tx, events.TaskDelete, events.KindTask, t.ID, actor.ID, events.EventPayload{"title": t.Title, "status": t.Status}); err != nil {
		return err
	}
	return tx.Commit()
}

// transition applies a guarded status change after check approves it.
func (e Engine) transition(ctx context.Context, actor domain.User, id string, to domain.Status, check func(domain.Task) error) (domain.Task, error) {
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	t, err := e.loadVisible(ctx, tx, actor, id)
	if err != nil {
		return domain.Task{}, err
	}
	if err := check(t); err != nil {
		e.log().Debug("transition rejected", zap.String("task_id", t.ID), zap.String("from", string(t.Status)), zap.String("to", string(to)), zap.Error(err))
		return domain.Task{}, err
	}
	t, err = e.applyTransition(ctx, tx, actor, t, to)
	if err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) applyTransition(ctx context.Context, tx *sqlx.Tx, actor domain.User, t domain.Task, to domain.Status) (domain.Task, error) {
	from := t.Status
	ts := e.stamp()
	ok, err := e.Repo.TransitionTask(ctx, tx, t.ID, []domain.Status{from}, to, ts)
	if err != nil {
		return domain.Task{}, err
	}
	if !ok {
		return domain.Task{}, wrapf(ErrInvalidTransition, "task %s changed concurrently", t.ID)
	}
	if err := e.appendEvent(ctx, tx, events.TaskStatus, events.KindTask, t.ID, actor.ID, events.EventPayload{"from": from, "to": to}); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTaskTx(ctx, tx, t.ID)
}

func requireStatus(t domain.Task, to domain.Status, allowed ...domain.Status) error {
	for _, s := range allowed {
		if t.Status == s {
			return nil
		}
	}
	return wrapf(ErrInvalidTransition, "cannot move task %s from %s to %s", t.ID, t.Status, to)
}

// PromoteTask accepts a technician's proposal, moving it to created.
func (e Engine) PromoteTask(ctx context.Context, actor domain.User, id string) (domain.Task, error) {
	return e.transition(ctx, actor, id, domain.StatusCreated, func(t domain.Task) error {
		if !actor.Role.Supervisor() || !auth.CanEdit(t, actor) {
			return auth.Forbidden("task.promote")
		}
		return requireStatus(t, domain.StatusCreated, domain.StatusProposed)
	})
}

// StartTask moves the actor's own task from created to in_progress.
func (e Engine) StartTask(ctx context.Context, actor domain.User, id string) (domain.Task, error) {
	return e.transition(ctx, actor, id, domain.StatusInProgress, func(t domain.Task) error {
		if t.AssignedTo != actor.ID {
			return auth.Forbidden("task.start")
		}
		return requireStatus(t, domain.StatusInProgress, domain.StatusCreated)
	})
}

// SubmitTask hands the actor's own task back for review.
func (e Engine) SubmitTask(ctx context.Context, actor domain.User, id string) (domain.Task, error) {
	return e.transition(ctx, actor, id, domain.StatusSubmitted, func(t domain.Task) error {
		if t.AssignedTo != actor.ID {
			return auth.Forbidden("task.submit")
		}
		return requireStatus(t, domain.StatusSubmitted, domain.StatusCreated, domain.StatusInProgress)
	})
}

// CompleteTask closes a submitted task and credits its payment to the
// assignee. The status flip is guarded so the credit happens at most once.
func (e Engine) CompleteTask(ctx context.Context, actor domain.User, id string) (domain.Task, error) {
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	t, err := e.loadVisible(ctx, tx, actor, id)
	if err != nil {
		return domain.Task{}, err
	}
	isController := t.ControlledBy != nil && *t.ControlledBy == actor.ID
	if !actor.Role.Supervisor() || (t.CreatedBy != actor.ID && !isController) {
		return domain.Task{}, auth.Forbidden("task.complete")
	}
	if err := requireStatus(t, domain.StatusCompleted, domain.StatusSubmitted); err != nil {
		return domain.Task{}, err
	}
	t, err = e.applyTransition(ctx, tx, actor, t, domain.StatusCompleted)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := e.accrue(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	e.log().Info("task completed",
		zap.String("task_id", t.ID),
		zap.String("assignee", t.AssignedTo),
		zap.String("amount", t.PaymentAmount.String()))
	return t, nil
}
