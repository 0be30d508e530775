package repo

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"

	"taskboard/internal/domain"
)

type paymentRow struct {
	ID          string         `db:"id"`
	EmployeeID  string         `db:"employee_id"`
	ManagerID   string         `db:"manager_id"`
	AmountCents int64          `db:"amount_cents"`
	Description sql.NullString `db:"description"`
	PaymentDate string         `db:"payment_date"`
}

func (r paymentRow) toDomain() domain.Payment {
	return domain.Payment{
		ID:          r.ID,
		EmployeeID:  r.EmployeeID,
		ManagerID:   r.ManagerID,
		Amount:      domain.Money(r.AmountCents),
		Description: r.Description.String,
		PaymentDate: r.PaymentDate,
	}
}

func (r Repo) InsertPayment(ctx context.Context, tx *sqlx.Tx, p domain.Payment) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO payments(id,employee_id,manager_id,amount_cents,description,payment_date) VALUES (?,?,?,?,?,?)`),
		p.ID, p.EmployeeID, p.ManagerID, p.Amount.Cents(), nullable(p.Description), p.PaymentDate)
	return err
}

type PaymentFilters struct {
	// PaidBy and EmployeeIDs are alternatives: a payment matches if either does.
	PaidBy      string
	EmployeeIDs []string
}

// ListPayments returns payments newest first.
func (r Repo) ListPayments(ctx context.Context, f PaymentFilters) ([]domain.Payment, error) {
	var either []string
	var args []any
	if f.PaidBy != "" {
		either = append(either, "manager_id=?")
		args = append(args, f.PaidBy)
	}
	if len(f.EmployeeIDs) > 0 {
		either = append(either, "employee_id IN (?)")
		args = append(args, f.EmployeeIDs)
	}
	if len(either) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT id,employee_id,manager_id,amount_cents,description,payment_date FROM payments WHERE `+
		strings.Join(either, " OR ")+` ORDER BY payment_date DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	var rows []paymentRow
	if err := r.DB.SelectContext(ctx, &rows, r.DB.Rebind(query), args...); err != nil {
		return nil, err
	}
	res := make([]domain.Payment, 0, len(rows))
	for _, row := range rows {
		res = append(res, row.toDomain())
	}
	return res, nil
}
