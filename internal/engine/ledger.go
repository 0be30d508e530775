package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"taskboard/internal/domain"
	"taskboard/internal/engine/auth"
	"taskboard/internal/events"
	"taskboard/internal/repo"
)

// accrue credits a completed task's payment to its assignee. It must run in
// the transaction that flipped the task to completed.
func (e Engine) accrue(ctx context.Context, tx *sqlx.Tx, t domain.Task) (domain.Money, error) {
	balance, err := e.Repo.CreditBalance(ctx, tx, t.AssignedTo, t.PaymentAmount.Cents())
	if err != nil {
		return 0, err
	}
	taskID := t.ID
	if err := e.Repo.InsertLedgerEntry(ctx, tx, domain.LedgerEntry{
		UserID:       t.AssignedTo,
		Kind:         domain.LedgerAccrual,
		Amount:       t.PaymentAmount,
		BalanceAfter: balance,
		TaskID:       &taskID,
		CreatedAt:    e.stamp(),
	}); err != nil {
		return 0, err
	}
	if err := e.appendEvent(ctx, tx, events.LedgerAccrue, events.KindUser, t.AssignedTo, t.AssignedTo, events.EventPayload{
		"task_id": t.ID, "amount": t.PaymentAmount.String(), "balance": balance.String(),
	}); err != nil {
		return 0, err
	}
	return balance, nil
}

// canPay is true for the employee's direct supervisor and for the boss at the
// root of the employee's tree.
func (e Engine) canPay(ctx context.Context, actor, employee domain.User) (bool, error) {
	if auth.CanEditUser(actor, employee) {
		return true, nil
	}
	if actor.Role != domain.RoleBoss {
		return false, nil
	}
	root, err := e.Boss(ctx, employee)
	if err != nil {
		return false, err
	}
	return root.ID == actor.ID, nil
}

// PaymentOptions are parameters for recording a payment.
type PaymentOptions struct {
	EmployeeID  string
	Amount      domain.Money
	Description string
}

// RecordPayment debits a technician's balance and stores the payment. A
// payment larger than the balance fails with ErrInsufficientBalance and
// changes nothing.
func (e Engine) RecordPayment(ctx context.Context, actor domain.User, opts PaymentOptions) (domain.Payment, error) {
	if opts.Amount <= 0 {
		return domain.Payment{}, invalidf("payment amount must be positive")
	}
	employee, err := e.Repo.GetUser(ctx, opts.EmployeeID)
	if err != nil {
		return domain.Payment{}, err
	}
	ok, err := e.canPay(ctx, actor, employee)
	if err != nil {
		return domain.Payment{}, err
	}
	if !ok {
		same, err := e.sameTree(ctx, actor, employee)
		if err != nil {
			return domain.Payment{}, err
		}
		if !same {
			return domain.Payment{}, repo.ErrNotFound
		}
		return domain.Payment{}, auth.Forbidden("payment.record")
	}
	if employee.Role != domain.RoleTechnician {
		return domain.Payment{}, invalidf("payments go to technicians, %s is a %s", employee.Username, employee.Role)
	}

	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Payment{}, err
	}
	defer tx.Rollback()
	balance, debited, err := e.Repo.DebitBalance(ctx, tx, employee.ID, opts.Amount.Cents())
	if err != nil {
		return domain.Payment{}, err
	}
	if !debited {
		current, err := e.Repo.GetUserTx(ctx, tx, employee.ID)
		if err != nil {
			return domain.Payment{}, err
		}
		e.log().Warn("payment rejected",
			zap.String("employee_id", employee.ID),
			zap.String("amount", opts.Amount.String()),
			zap.String("balance", current.Balance.String()))
		return domain.Payment{}, wrapf(ErrInsufficientBalance, "balance %s, requested %s", current.Balance, opts.Amount)
	}
	p := domain.Payment{
		ID:          uuid.NewString(),
		EmployeeID:  employee.ID,
		ManagerID:   actor.ID,
		Amount:      opts.Amount,
		Description: opts.Description,
		PaymentDate: e.stamp(),
	}
	if err := e.Repo.InsertPayment(ctx, tx, p); err != nil {
		return domain.Payment{}, err
	}
	paymentID := p.ID
	if err := e.Repo.InsertLedgerEntry(ctx, tx, domain.LedgerEntry{
		UserID:       employee.ID,
		Kind:         domain.LedgerPayment,
		Amount:       -opts.Amount,
		BalanceAfter: balance,
		PaymentID:    &paymentID,
		CreatedAt:    p.PaymentDate,
	}); err != nil {
		return domain.Payment{}, err
	}
	if err := e.appendEvent(ctx, tx, events.PaymentRecord, events.KindPayment, p.ID, actor.ID, events.EventPayload{
		"employee_id": employee.ID, "amount": p.Amount.String(), "balance": balance.String(),
	}); err != nil {
		return domain.Payment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Payment{}, err
	}
	e.log().Info("payment recorded",
		zap.String("payment_id", p.ID),
		zap.String("employee_id", employee.ID),
		zap.String("amount", p.Amount.String()),
		zap.String("balance", balance.String()))
	return p, nil
}

// balanceTarget loads userID if actor may read its balance: itself, a
// direct supervisor, or the root boss.
func (e Engine) balanceTarget(ctx context.Context, actor domain.User, userID string) (domain.User, error) {
	target, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if target.ID == actor.ID {
		return target, nil
	}
	ok, err := e.canPay(ctx, actor, target)
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, repo.ErrNotFound
	}
	return target, nil
}

func (e Engine) GetBalance(ctx context.Context, actor domain.User, userID string) (domain.Money, error) {
	target, err := e.balanceTarget(ctx, actor, userID)
	if err != nil {
		return 0, err
	}
	return target.Balance, nil
}

// ListLedger returns the balance history of userID, oldest first.
func (e Engine) ListLedger(ctx context.Context, actor domain.User, userID string) ([]domain.LedgerEntry, error) {
	target, err := e.balanceTarget(ctx, actor, userID)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListLedgerEntries(ctx, target.ID)
}

// ListPayments returns payments visible to actor, newest first. Technicians
// see their own; supervisors see what they paid and what their team and
// direct reports received. A non-empty employeeID narrows the result.
func (e Engine) ListPayments(ctx context.Context, actor domain.User, employeeID string) ([]domain.Payment, error) {
	f := repo.PaymentFilters{}
	if actor.Role.Supervisor() {
		f.PaidBy = actor.ID
		team, err := e.TeamUsers(ctx, actor)
		if err != nil {
			return nil, err
		}
		reports, err := e.Reports(ctx, actor)
		if err != nil {
			return nil, err
		}
		for _, u := range append(team, reports...) {
			f.EmployeeIDs = append(f.EmployeeIDs, u.ID)
		}
	} else {
		f.EmployeeIDs = []string{actor.ID}
	}
	payments, err := e.Repo.ListPayments(ctx, f)
	if err != nil {
		return nil, err
	}
	if employeeID == "" {
		return payments, nil
	}
	out := payments[:0]
	for _, p := range payments {
		if p.EmployeeID == employeeID {
			out = append(out, p)
		}
	}
	return out, nil
}
