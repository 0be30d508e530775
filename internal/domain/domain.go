package domain

type User struct {
	ID           string   `json:"id"`
	Username     string   `json:"username"`
	DisplayName  string   `json:"display_name,omitempty"`
	Email        string   `json:"email,omitempty"`
	Role         Role     `json:"role" enum:"boss,manager,technician"`
	ManagerID    *string  `json:"manager_id,omitempty"`
	Balance      Money    `json:"balance"`
	Tags         []string `json:"tags,omitempty"`
	PasswordHash string   `json:"-"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
}

// ReportsTo reports whether u's manager is id.
func (u User) ReportsTo(id string) bool {
	return u.ManagerID != nil && *u.ManagerID == id
}

// SameManager reports whether u and other share a non-nil manager.
func (u User) SameManager(other User) bool {
	return u.ManagerID != nil && other.ManagerID != nil && *u.ManagerID == *other.ManagerID
}

type Task struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	AssignedTo    string   `json:"assigned_to"`
	CreatedBy     string   `json:"created_by"`
	ControlledBy  *string  `json:"controlled_by,omitempty"`
	DueDate       string   `json:"due_date" format:"date"`
	PaymentAmount Money    `json:"payment_amount"`
	Status        Status   `json:"status" enum:"proposed,created,in_progress,submitted,completed"`
	Tags          []string `json:"tags,omitempty"`
	CreatedAt     string   `json:"created_at" format:"date-time"`
	StartedAt     *string  `json:"started_at,omitempty" format:"date-time"`
	SubmittedAt   *string  `json:"submitted_at,omitempty" format:"date-time"`
	CompletedAt   *string  `json:"completed_at,omitempty" format:"date-time"`
	UpdatedAt     string   `json:"updated_at" format:"date-time"`

	// AssigneeManagerID is the assignee's manager at read time, loaded by the
	// repository join so visibility checks need no extra lookup.
	AssigneeManagerID *string `json:"-"`
}

type Payment struct {
	ID          string `json:"id"`
	EmployeeID  string `json:"employee_id"`
	ManagerID   string `json:"manager_id"`
	Amount      Money  `json:"amount"`
	Description string `json:"description,omitempty"`
	PaymentDate string `json:"payment_date" format:"date-time"`
}

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationExpired  InvitationStatus = "expired"
)

type Invitation struct {
	ID         string           `json:"id"`
	TokenHash  string           `json:"-"`
	Email      string           `json:"email,omitempty"`
	Role       Role             `json:"role" enum:"manager,technician"`
	CreatedBy  string           `json:"created_by"`
	ExpiresAt  string           `json:"expires_at" format:"date-time"`
	Status     InvitationStatus `json:"status" enum:"pending,accepted,expired"`
	AcceptedBy *string          `json:"accepted_by,omitempty"`
	Tags       []string         `json:"tags,omitempty"`
	CreatedAt  string           `json:"created_at" format:"date-time"`
}

type LedgerEntryKind string

const (
	LedgerAccrual LedgerEntryKind = "accrual"
	LedgerPayment LedgerEntryKind = "payment"
)

// LedgerEntry records one balance delta; Amount is signed.
type LedgerEntry struct {
	ID           int64           `json:"id"`
	UserID       string          `json:"user_id"`
	Kind         LedgerEntryKind `json:"kind" enum:"accrual,payment"`
	Amount       Money           `json:"amount"`
	BalanceAfter Money           `json:"balance_after"`
	TaskID       *string         `json:"task_id,omitempty"`
	PaymentID    *string         `json:"payment_id,omitempty"`
	CreatedAt    string          `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
