package repo

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"

	"taskboard/internal/domain"
)

const taskSelect = `SELECT t.id, t.title, t.description, t.assigned_to, t.created_by, t.controlled_by, t.due_date,
	t.payment_cents, t.status, t.tags_json, t.created_at, t.started_at, t.submitted_at, t.completed_at, t.updated_at,
	a.manager_id AS assignee_manager_id
	FROM tasks t JOIN users a ON a.id = t.assigned_to`

type taskRow struct {
	ID                string         `db:"id"`
	Title             string         `db:"title"`
	Description       sql.NullString `db:"description"`
	AssignedTo        string         `db:"assigned_to"`
	CreatedBy         string         `db:"created_by"`
	ControlledBy      sql.NullString `db:"controlled_by"`
	DueDate           string         `db:"due_date"`
	PaymentCents      int64          `db:"payment_cents"`
	Status            string         `db:"status"`
	TagsJSON          string         `db:"tags_json"`
	CreatedAt         string         `db:"created_at"`
	StartedAt         sql.NullString `db:"started_at"`
	SubmittedAt       sql.NullString `db:"submitted_at"`
	CompletedAt       sql.NullString `db:"completed_at"`
	UpdatedAt         string         `db:"updated_at"`
	AssigneeManagerID sql.NullString `db:"assignee_manager_id"`
}

func (r taskRow) toDomain() domain.Task {
	return domain.Task{
		ID:                r.ID,
		Title:             r.Title,
		Description:       r.Description.String,
		AssignedTo:        r.AssignedTo,
		CreatedBy:         r.CreatedBy,
		ControlledBy:      stringPtr(r.ControlledBy),
		DueDate:           r.DueDate,
		PaymentAmount:     domain.Money(r.PaymentCents),
		Status:            domain.Status(r.Status),
		Tags:              unmarshalTags(r.TagsJSON),
		CreatedAt:         r.CreatedAt,
		StartedAt:         stringPtr(r.StartedAt),
		SubmittedAt:       stringPtr(r.SubmittedAt),
		CompletedAt:       stringPtr(r.CompletedAt),
		UpdatedAt:         r.UpdatedAt,
		AssigneeManagerID: stringPtr(r.AssigneeManagerID),
	}
}

func (r Repo) InsertTask(ctx context.Context, tx *sqlx.Tx, t domain.Task) error {
	tags, err := marshalTags(t.Tags)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO tasks(id,title,description,assigned_to,created_by,controlled_by,due_date,payment_cents,status,tags_json,created_at,updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`),
		t.ID, t.Title, nullable(t.Description), t.AssignedTo, t.CreatedBy, nullableStringPtr(t.ControlledBy), t.DueDate,
		t.PaymentAmount.Cents(), string(t.Status), tags, t.CreatedAt, t.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

// UpdateTaskFields rewrites the editable columns. Status and lifecycle stamps
// only move through TransitionTask.
func (r Repo) UpdateTaskFields(ctx context.Context, tx *sqlx.Tx, t domain.Task) error {
	tags, err := marshalTags(t.Tags)
	if err != nil {
		return err
	}
	return execOne(ctx, tx, `UPDATE tasks SET title=?, description=?, assigned_to=?, controlled_by=?, due_date=?, payment_cents=?, tags_json=?, updated_at=?
		WHERE id=? AND status <> 'completed'`,
		t.Title, nullable(t.Description), t.AssignedTo, nullableStringPtr(t.ControlledBy), t.DueDate, t.PaymentAmount.Cents(), tags, t.UpdatedAt, t.ID)
}

// TransitionTask moves a task to status `to` only while its current status is
// one of `from`. It reports false when another writer got there first. The
// lifecycle stamp for `to` is set once and never overwritten.
func (r Repo) TransitionTask(ctx context.Context, tx *sqlx.Tx, id string, from []domain.Status, to domain.Status, ts string) (bool, error) {
	set := "status=?, updated_at=?"
	switch to {
	case domain.StatusInProgress:
		set += ", started_at=COALESCE(started_at, ?)"
	case domain.StatusSubmitted:
		set += ", submitted_at=COALESCE(submitted_at, ?)"
	case domain.StatusCompleted:
		set += ", completed_at=COALESCE(completed_at, ?)"
	}
	args := []any{string(to), ts}
	if strings.Contains(set, "COALESCE") {
		args = append(args, ts)
	}
	fromArgs := make([]string, 0, len(from))
	for _, s := range from {
		fromArgs = append(fromArgs, string(s))
	}
	args = append(args, id, fromArgs)
	query, args, err := sqlx.In(`UPDATE tasks SET `+set+` WHERE id=? AND status IN (?)`, args...)
	if err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) DeleteTask(ctx context.Context, tx *sqlx.Tx, id string) error {
	return execOne(ctx, tx, `DELETE FROM tasks WHERE id=? AND status <> 'completed'`, id)
}

func getTask(ctx context.Context, q sqlx.ExtContext, id string) (domain.Task, error) {
	var row taskRow
	err := sqlx.GetContext(ctx, q, &row, q.Rebind(taskSelect+` WHERE t.id=?`), id)
	if err == sql.ErrNoRows {
		return domain.Task{}, ErrNotFound
	}
	if err != nil {
		return domain.Task{}, err
	}
	return row.toDomain(), nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return getTask(ctx, r.DB, id)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sqlx.Tx, id string) (domain.Task, error) {
	return getTask(ctx, tx, id)
}

type TaskFilters struct {
	// VisibleTo narrows to tasks the user may see. Nil means unscoped.
	VisibleTo  *domain.User
	Status     domain.Status
	AssignedTo []string
	CreatedBy  string
	Tag        string
	// DueFrom and DueTo are inclusive YYYY-MM-DD bounds.
	DueFrom string
	DueTo   string
}

// ListTasks returns tasks ordered by due date, then creation time, then id.
func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if u := f.VisibleTo; u != nil {
		if u.Role.Supervisor() {
			c := "(t.created_by=? OR t.controlled_by=?"
			args = append(args, u.ID, u.ID)
			if u.ManagerID != nil {
				c += " OR a.manager_id=?"
				args = append(args, *u.ManagerID)
			}
			clauses = append(clauses, c+")")
		} else {
			clauses = append(clauses, "t.assigned_to=?")
			args = append(args, u.ID)
		}
	}
	if f.Status != "" {
		clauses = append(clauses, "t.status=?")
		args = append(args, string(f.Status))
	}
	if f.AssignedTo != nil {
		if len(f.AssignedTo) == 0 {
			return nil, nil
		}
		clauses = append(clauses, "t.assigned_to IN (?)")
		args = append(args, f.AssignedTo)
	}
	if f.CreatedBy != "" {
		clauses = append(clauses, "t.created_by=?")
		args = append(args, f.CreatedBy)
	}
	if f.DueFrom != "" {
		clauses = append(clauses, "t.due_date>=?")
		args = append(args, f.DueFrom)
	}
	if f.DueTo != "" {
		clauses = append(clauses, "t.due_date<=?")
		args = append(args, f.DueTo)
	}
	query := taskSelect
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY t.due_date ASC, t.created_at ASC, t.id ASC"
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, err
	}
	var rows []taskRow
	if err := r.DB.SelectContext(ctx, &rows, r.DB.Rebind(query), args...); err != nil {
		return nil, err
	}
	res := make([]domain.Task, 0, len(rows))
	for _, row := range rows {
		t := row.toDomain()
		if f.Tag != "" && !hasTag(t.Tags, f.Tag) {
			continue
		}
		res = append(res, t)
	}
	return res, nil
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// CountOpenTasks counts non-completed tasks the user is assigned to or created.
func (r Repo) CountOpenTasks(ctx context.Context, tx *sqlx.Tx, userID string) (int, error) {
	var n int
	err := tx.GetContext(ctx, &n, tx.Rebind(`SELECT count(*) FROM tasks WHERE (assigned_to=? OR created_by=?) AND status <> 'completed'`), userID, userID)
	return n, err
}

// CountRecords counts completed tasks and payments that name userID on
// either side. Those rows are permanent, so the user must stay.
func (r Repo) CountRecords(ctx context.Context, tx *sqlx.Tx, userID string) (int, error) {
	var n int
	err := tx.GetContext(ctx, &n, tx.Rebind(`SELECT
  (SELECT count(*) FROM tasks WHERE (assigned_to=? OR created_by=?) AND status = 'completed') +
  (SELECT count(*) FROM payments WHERE employee_id=? OR manager_id=?)`), userID, userID, userID, userID)
	return n, err
}

// CountReports counts users whose manager is userID.
func (r Repo) CountReports(ctx context.Context, tx *sqlx.Tx, userID string) (int, error) {
	var n int
	err := tx.GetContext(ctx, &n, tx.Rebind(`SELECT count(*) FROM users WHERE manager_id=?`), userID)
	return n, err
}
