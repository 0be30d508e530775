package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"taskboard/internal/domain"
)

type Repo struct {
	DB *sqlx.DB
}

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// isUniqueViolation recognizes unique-constraint failures from both drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func marshalTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}

// NormalizeTags trims, drops empties and de-duplicates tags, keeping first-seen order.
func NormalizeTags(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range in {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// --- users ---

const userColumns = `id,username,display_name,email,role,manager_id,balance_cents,tags_json,password_hash,created_at`

type userRow struct {
	ID           string         `db:"id"`
	Username     string         `db:"username"`
	DisplayName  sql.NullString `db:"display_name"`
	Email        sql.NullString `db:"email"`
	Role         string         `db:"role"`
	ManagerID    sql.NullString `db:"manager_id"`
	BalanceCents int64          `db:"balance_cents"`
	TagsJSON     string         `db:"tags_json"`
	PasswordHash string         `db:"password_hash"`
	CreatedAt    string         `db:"created_at"`
}

func (r userRow) toDomain() domain.User {
	return domain.User{
		ID:           r.ID,
		Username:     r.Username,
		DisplayName:  r.DisplayName.String,
		Email:        r.Email.String,
		Role:         domain.Role(r.Role),
		ManagerID:    stringPtr(r.ManagerID),
		Balance:      domain.Money(r.BalanceCents),
		Tags:         unmarshalTags(r.TagsJSON),
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt,
	}
}

func (r Repo) InsertUser(ctx context.Context, tx *sqlx.Tx, u domain.User) error {
	tags, err := marshalTags(u.Tags)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO users(`+userColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`),
		u.ID, u.Username, nullable(u.DisplayName), nullable(u.Email), string(u.Role), nullableStringPtr(u.ManagerID),
		u.Balance.Cents(), tags, u.PasswordHash, u.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: username %s", ErrAlreadyExists, u.Username)
	}
	return err
}

func getUser(ctx context.Context, q sqlx.ExtContext, where string, arg any) (domain.User, error) {
	var row userRow
	err := sqlx.GetContext(ctx, q, &row, q.Rebind(`SELECT `+userColumns+` FROM users WHERE `+where), arg)
	if err == sql.ErrNoRows {
		return domain.User{}, ErrNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	return row.toDomain(), nil
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return getUser(ctx, r.DB, "id=?", id)
}

func (r Repo) GetUserTx(ctx context.Context, tx *sqlx.Tx, id string) (domain.User, error) {
	return getUser(ctx, tx, "id=?", id)
}

func (r Repo) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	return getUser(ctx, r.DB, "username=?", username)
}

type UserFilters struct {
	// ManagerIDs matches users reporting to any of the ids.
	ManagerIDs []string
	IDs        []string
	Role       domain.Role
}

func (r Repo) ListUsers(ctx context.Context, f UserFilters) ([]domain.User, error) {
	var clauses []string
	var args []any
	if f.ManagerIDs != nil {
		if len(f.ManagerIDs) == 0 {
			return nil, nil
		}
		clauses = append(clauses, "manager_id IN (?)")
		args = append(args, f.ManagerIDs)
	}
	if f.IDs != nil {
		if len(f.IDs) == 0 {
			return nil, nil
		}
		clauses = append(clauses, "id IN (?)")
		args = append(args, f.IDs)
	}
	if f.Role != "" {
		clauses = append(clauses, "role=?")
		args = append(args, string(f.Role))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query, args, err := sqlx.In(`SELECT `+userColumns+` FROM users `+where+` ORDER BY username ASC`, args...)
	if err != nil {
		return nil, err
	}
	var rows []userRow
	if err := r.DB.SelectContext(ctx, &rows, r.DB.Rebind(query), args...); err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(rows))
	for _, row := range rows {
		res = append(res, row.toDomain())
	}
	return res, nil
}

func (r Repo) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := r.DB.GetContext(ctx, &n, `SELECT count(*) FROM users`)
	return n, err
}

func (r Repo) SetManager(ctx context.Context, tx *sqlx.Tx, id string, managerID *string) error {
	return execOne(ctx, tx, `UPDATE users SET manager_id=? WHERE id=?`, nullableStringPtr(managerID), id)
}

func (r Repo) SetRole(ctx context.Context, tx *sqlx.Tx, id string, role domain.Role) error {
	return execOne(ctx, tx, `UPDATE users SET role=? WHERE id=?`, string(role), id)
}

func (r Repo) SetPasswordHash(ctx context.Context, tx *sqlx.Tx, id, hash string) error {
	return execOne(ctx, tx, `UPDATE users SET password_hash=? WHERE id=?`, hash, id)
}

func (r Repo) DeleteUser(ctx context.Context, tx *sqlx.Tx, id string) error {
	return execOne(ctx, tx, `DELETE FROM users WHERE id=?`, id)
}

// CreditBalance adds cents to the user's balance in one statement and returns
// the new balance.
func (r Repo) CreditBalance(ctx context.Context, tx *sqlx.Tx, id string, cents int64) (domain.Money, error) {
	var balance int64
	err := tx.GetContext(ctx, &balance, tx.Rebind(`UPDATE users SET balance_cents = balance_cents + ? WHERE id=? RETURNING balance_cents`), cents, id)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return domain.Money(balance), err
}

// DebitBalance subtracts cents only while the balance covers it. ok is false
// when the guard rejected the debit and nothing changed.
func (r Repo) DebitBalance(ctx context.Context, tx *sqlx.Tx, id string, cents int64) (balance domain.Money, ok bool, err error) {
	var b int64
	err = tx.GetContext(ctx, &b, tx.Rebind(`UPDATE users SET balance_cents = balance_cents - ? WHERE id=? AND balance_cents >= ? RETURNING balance_cents`), cents, id, cents)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return domain.Money(b), true, nil
}

func execOne(ctx context.Context, tx *sqlx.Tx, query string, args ...any) error {
	res, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
