package repo

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"taskboard/internal/domain"
)

type ledgerRow struct {
	ID                int64          `db:"id"`
	UserID            string         `db:"user_id"`
	Kind              string         `db:"kind"`
	AmountCents       int64          `db:"amount_cents"`
	BalanceAfterCents int64          `db:"balance_after_cents"`
	TaskID            sql.NullString `db:"task_id"`
	PaymentID         sql.NullString `db:"payment_id"`
	CreatedAt         string         `db:"created_at"`
}

func (r Repo) InsertLedgerEntry(ctx context.Context, tx *sqlx.Tx, e domain.LedgerEntry) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO ledger_entries(user_id,kind,amount_cents,balance_after_cents,task_id,payment_id,created_at) VALUES (?,?,?,?,?,?,?)`),
		e.UserID, string(e.Kind), e.Amount.Cents(), e.BalanceAfter.Cents(), nullableStringPtr(e.TaskID), nullableStringPtr(e.PaymentID), e.CreatedAt)
	return err
}

// ListLedgerEntries returns a user's balance history oldest first.
func (r Repo) ListLedgerEntries(ctx context.Context, userID string) ([]domain.LedgerEntry, error) {
	var rows []ledgerRow
	err := r.DB.SelectContext(ctx, &rows, r.DB.Rebind(`SELECT id,user_id,kind,amount_cents,balance_after_cents,task_id,payment_id,created_at
		FROM ledger_entries WHERE user_id=? ORDER BY id ASC`), userID)
	if err != nil {
		return nil, err
	}
	res := make([]domain.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		res = append(res, domain.LedgerEntry{
			ID:           row.ID,
			UserID:       row.UserID,
			Kind:         domain.LedgerEntryKind(row.Kind),
			Amount:       domain.Money(row.AmountCents),
			BalanceAfter: domain.Money(row.BalanceAfterCents),
			TaskID:       stringPtr(row.TaskID),
			PaymentID:    stringPtr(row.PaymentID),
			CreatedAt:    row.CreatedAt,
		})
	}
	return res, nil
}
