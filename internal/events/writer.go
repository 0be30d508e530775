package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Entity kinds.
const (
	KindUser       = "user"
	KindTask       = "task"
	KindPayment    = "payment"
	KindInvitation = "invitation"
)

// Event types.
const (
	UserCreate       = "user.create"
	UserPassword     = "user.password"
	UserSetManager   = "user.set_manager"
	UserChangeRole   = "user.change_role"
	UserDelete       = "user.delete"
	TaskCreate       = "task.create"
	TaskUpdate       = "task.update"
	TaskDelete       = "task.delete"
	TaskStatus       = "task.status"
	LedgerAccrue     = "ledger.accrue"
	PaymentRecord    = "payment.record"
	InvitationCreate = "invitation.create"
	InvitationAccept = "invitation.accept"
)

type EventPayload map[string]any

// Record is one audit entry. EntityID may be empty.
type Record struct {
	Type       string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    EventPayload
}

type Writer struct {
	Now func() time.Time
}

// Append writes r inside tx so it commits with the change it describes.
func (w Writer) Append(ctx context.Context, tx *sqlx.Tx, r Record) error {
	if r.Type == "" || r.EntityKind == "" {
		return fmt.Errorf("event type and entity kind are required")
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	payload := r.Payload
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", r.Type, err)
	}
	var entityID any
	if r.EntityID != "" {
		entityID = r.EntityID
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`),
		now().UTC().Format(time.RFC3339), r.Type, r.EntityKind, entityID, r.ActorID, string(data))
	return err
}
