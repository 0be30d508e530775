package repo

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"

	"taskboard/internal/domain"
)

type eventRow struct {
	ID          int64          `db:"id"`
	TS          string         `db:"ts"`
	Type        string         `db:"type"`
	EntityKind  string         `db:"entity_kind"`
	EntityID    sql.NullString `db:"entity_id"`
	ActorID     string         `db:"actor_id"`
	PayloadJSON string         `db:"payload_json"`
}

type EventFilters struct {
	ActorIDs   []string
	EntityKind string
	EntityID   string
	// AfterID returns only events with a larger id, for tailing.
	AfterID int64
	Limit   int
}

// ListEvents returns events in id order, oldest first.
func (r Repo) ListEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	var clauses []string
	var args []any
	if f.ActorIDs != nil {
		if len(f.ActorIDs) == 0 {
			return nil, nil
		}
		clauses = append(clauses, "actor_id IN (?)")
		args = append(args, f.ActorIDs)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.AfterID > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, f.AfterID)
	}
	query := `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, err
	}
	var rows []eventRow
	if err := r.DB.SelectContext(ctx, &rows, r.DB.Rebind(query), args...); err != nil {
		return nil, err
	}
	res := make([]domain.Event, 0, len(rows))
	for _, row := range rows {
		res = append(res, domain.Event{
			ID:         row.ID,
			TS:         row.TS,
			Type:       row.Type,
			EntityKind: row.EntityKind,
			EntityID:   row.EntityID.String,
			ActorID:    row.ActorID,
			Payload:    row.PayloadJSON,
		})
	}
	return res, nil
}
