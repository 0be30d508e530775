package domain

import (
	"fmt"
	"time"
)

// DateLayout is the wire and storage format of due dates.
const DateLayout = "2006-01-02"

type Status string

const (
	StatusProposed   Status = "proposed"
	StatusCreated    Status = "created"
	StatusInProgress Status = "in_progress"
	StatusSubmitted  Status = "submitted"
	StatusCompleted  Status = "completed"
)

// StatusOrder is the forward order of the lifecycle and the kanban column order.
var StatusOrder = []Status{StatusProposed, StatusCreated, StatusInProgress, StatusSubmitted, StatusCompleted}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if st.index() < 0 {
		return "", fmt.Errorf("unknown task status %q", s)
	}
	return st, nil
}

func (s Status) index() int {
	for i, st := range StatusOrder {
		if st == s {
			return i
		}
	}
	return -1
}

func (s Status) Terminal() bool { return s == StatusCompleted }

// NextStatus returns the status after s in the forward order. It is a lookup
// for display only; transitions go through the engine.
func NextStatus(s Status) (Status, bool) {
	i := s.index()
	if i < 0 || i+1 >= len(StatusOrder) {
		return "", false
	}
	return StatusOrder[i+1], true
}

// PreviousStatus returns the status before s in the forward order.
func PreviousStatus(s Status) (Status, bool) {
	i := s.index()
	if i <= 0 {
		return "", false
	}
	return StatusOrder[i-1], true
}

func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return d, nil
}

// DaysUntilDue is due_date minus the calendar day of today; negative once overdue.
func (t Task) DaysUntilDue(today time.Time) int {
	due, err := ParseDate(t.DueDate)
	if err != nil {
		return 0
	}
	y, m, d := today.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return int(due.Sub(day).Hours() / 24)
}

func (t Task) IsOverdue(today time.Time) bool {
	if t.Status == StatusCompleted || t.Status == StatusSubmitted {
		return false
	}
	return t.DaysUntilDue(today) < 0
}

func (t Task) IsUrgent(today time.Time) bool {
	days := t.DaysUntilDue(today)
	return days >= 0 && days <= 2
}

// IsExpired evaluates expiry lazily against now.
func (i Invitation) IsExpired(now time.Time) bool {
	if i.Status == InvitationExpired {
		return true
	}
	if i.Status == InvitationAccepted {
		return false
	}
	exp, err := time.Parse(time.RFC3339, i.ExpiresAt)
	if err != nil {
		return true
	}
	return now.After(exp)
}
