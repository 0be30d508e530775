package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"strings"

	"github.com/jmoiron/sqlx"

	"taskboard/internal/domain"
)

// HashToken returns the SHA-256 hex digest stored in place of an invitation token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}

const invitationColumns = `id,token_hash,email,role,created_by,expires_at,status,accepted_by,tags_json,created_at`

type invitationRow struct {
	ID         string         `db:"id"`
	TokenHash  string         `db:"token_hash"`
	Email      sql.NullString `db:"email"`
	Role       string         `db:"role"`
	CreatedBy  string         `db:"created_by"`
	ExpiresAt  string         `db:"expires_at"`
	Status     string         `db:"status"`
	AcceptedBy sql.NullString `db:"accepted_by"`
	TagsJSON   string         `db:"tags_json"`
	CreatedAt  string         `db:"created_at"`
}

func (r invitationRow) toDomain() domain.Invitation {
	return domain.Invitation{
		ID:         r.ID,
		TokenHash:  r.TokenHash,
		Email:      r.Email.String,
		Role:       domain.Role(r.Role),
		CreatedBy:  r.CreatedBy,
		ExpiresAt:  r.ExpiresAt,
		Status:     domain.InvitationStatus(r.Status),
		AcceptedBy: stringPtr(r.AcceptedBy),
		Tags:       unmarshalTags(r.TagsJSON),
		CreatedAt:  r.CreatedAt,
	}
}

// InsertInvitation stores an invitation. TokenHash must already hold the hashed token.
func (r Repo) InsertInvitation(ctx context.Context, tx *sqlx.Tx, inv domain.Invitation) error {
	tags, err := marshalTags(inv.Tags)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO invitations(`+invitationColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`),
		inv.ID, inv.TokenHash, nullable(inv.Email), string(inv.Role), inv.CreatedBy, inv.ExpiresAt, string(inv.Status),
		nullableStringPtr(inv.AcceptedBy), tags, inv.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (r Repo) GetInvitationByHashTx(ctx context.Context, tx *sqlx.Tx, hash string) (domain.Invitation, error) {
	var row invitationRow
	err := tx.GetContext(ctx, &row, tx.Rebind(`SELECT `+invitationColumns+` FROM invitations WHERE token_hash=? LIMIT 1`), hash)
	if err == sql.ErrNoRows {
		return domain.Invitation{}, ErrNotFound
	}
	if err != nil {
		return domain.Invitation{}, err
	}
	return row.toDomain(), nil
}

// ListInvitations returns invitations newest first, optionally filtered by creator.
func (r Repo) ListInvitations(ctx context.Context, createdBy string) ([]domain.Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations`
	var args []any
	if createdBy != "" {
		query += ` WHERE created_by=?`
		args = append(args, createdBy)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	var rows []invitationRow
	if err := r.DB.SelectContext(ctx, &rows, r.DB.Rebind(query), args...); err != nil {
		return nil, err
	}
	res := make([]domain.Invitation, 0, len(rows))
	for _, row := range rows {
		res = append(res, row.toDomain())
	}
	return res, nil
}

// MarkInvitationExpired flips a pending invitation to expired.
func (r Repo) MarkInvitationExpired(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, r.DB.Rebind(`UPDATE invitations SET status='expired' WHERE id=? AND status='pending'`), id)
	return err
}

// AcceptInvitation consumes a pending invitation. It reports false if the
// invitation was no longer pending.
func (r Repo) AcceptInvitation(ctx context.Context, tx *sqlx.Tx, id, userID string) (bool, error) {
	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE invitations SET status='accepted', accepted_by=? WHERE id=? AND status='pending'`), userID, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
