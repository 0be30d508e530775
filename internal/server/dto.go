package server

import (
	"encoding/json"
	"time"

	"taskboard/internal/domain"
	"taskboard/internal/kanban"
)

// Request payloads

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CreateUserRequest struct {
	Username    string   `json:"username"`
	DisplayName string   `json:"display_name,omitempty"`
	Email       string   `json:"email,omitempty"`
	Password    string   `json:"password"`
	Role        string   `json:"role" enum:"manager,technician"`
	Tags        []string `json:"tags,omitempty"`
}

type ChangePasswordRequest struct {
	Current string `json:"current,omitempty"`
	New     string `json:"new"`
}

type SetManagerRequest struct {
	ManagerID *string `json:"manager_id,omitempty"`
}

type ChangeRoleRequest struct {
	Role string `json:"role" enum:"manager,technician"`
}

type CreateTaskRequest struct {
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	AssignedTo    string   `json:"assigned_to"`
	ControlledBy  *string  `json:"controlled_by,omitempty"`
	DueDate       string   `json:"due_date" format:"date"`
	PaymentAmount string   `json:"payment_amount,omitempty" example:"500.00"`
	Tags          []string `json:"tags,omitempty"`
}

type UpdateTaskRequest struct {
	Title           *string   `json:"title,omitempty"`
	Description     *string   `json:"description,omitempty"`
	AssignedTo      *string   `json:"assigned_to,omitempty"`
	ControlledBy    *string   `json:"controlled_by,omitempty"`
	ClearController bool      `json:"clear_controller,omitempty"`
	DueDate         *string   `json:"due_date,omitempty" format:"date"`
	PaymentAmount   *string   `json:"payment_amount,omitempty" example:"500.00"`
	Tags            *[]string `json:"tags,omitempty"`
}

type RecordPaymentRequest struct {
	EmployeeID  string `json:"employee_id"`
	Amount      string `json:"amount" example:"120.50"`
	Description string `json:"description,omitempty"`
}

type CreateInvitationRequest struct {
	Email string   `json:"email,omitempty"`
	Role  string   `json:"role" enum:"manager,technician"`
	Tags  []string `json:"tags,omitempty"`
}

type AcceptInvitationRequest struct {
	Token       string `json:"token"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
	Password    string `json:"password"`
}

// Response payloads

type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt string       `json:"expires_at" format:"date-time"`
	User      UserResponse `json:"user"`
}

type UserResponse struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	DisplayName string   `json:"display_name,omitempty"`
	Email       string   `json:"email,omitempty"`
	Role        string   `json:"role" enum:"boss,manager,technician"`
	ManagerID   *string  `json:"manager_id,omitempty"`
	Balance     string   `json:"balance" example:"0.00"`
	Tags        []string `json:"tags"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
}

type TaskResponse struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	AssignedTo    string   `json:"assigned_to"`
	CreatedBy     string   `json:"created_by"`
	ControlledBy  *string  `json:"controlled_by,omitempty"`
	DueDate       string   `json:"due_date" format:"date"`
	PaymentAmount string   `json:"payment_amount" example:"500.00"`
	Status        string   `json:"status" enum:"proposed,created,in_progress,submitted,completed"`
	Tags          []string `json:"tags"`
	DaysUntilDue  int      `json:"days_until_due"`
	Overdue       bool     `json:"overdue"`
	Urgent        bool     `json:"urgent"`
	CreatedAt     string   `json:"created_at" format:"date-time"`
	StartedAt     *string  `json:"started_at,omitempty" format:"date-time"`
	SubmittedAt   *string  `json:"submitted_at,omitempty" format:"date-time"`
	CompletedAt   *string  `json:"completed_at,omitempty" format:"date-time"`
	UpdatedAt     string   `json:"updated_at" format:"date-time"`
}

type BalanceResponse struct {
	UserID  string `json:"user_id"`
	Balance string `json:"balance" example:"380.00"`
}

type LedgerEntryResponse struct {
	ID           int64   `json:"id"`
	Kind         string  `json:"kind" enum:"accrual,payment"`
	Amount       string  `json:"amount" example:"-120.00"`
	BalanceAfter string  `json:"balance_after" example:"380.00"`
	TaskID       *string `json:"task_id,omitempty"`
	PaymentID    *string `json:"payment_id,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

type PaymentResponse struct {
	ID          string `json:"id"`
	EmployeeID  string `json:"employee_id"`
	ManagerID   string `json:"manager_id"`
	Amount      string `json:"amount" example:"120.00"`
	Description string `json:"description,omitempty"`
	PaymentDate string `json:"payment_date" format:"date-time"`
}

type InvitationResponse struct {
	ID         string   `json:"id"`
	Email      string   `json:"email,omitempty"`
	Role       string   `json:"role" enum:"manager,technician"`
	CreatedBy  string   `json:"created_by"`
	ExpiresAt  string   `json:"expires_at" format:"date-time"`
	Status     string   `json:"status" enum:"pending,accepted,expired"`
	AcceptedBy *string  `json:"accepted_by,omitempty"`
	Tags       []string `json:"tags"`
	CreatedAt  string   `json:"created_at" format:"date-time"`
	// Token is only returned when the invitation is created.
	Token string `json:"token,omitempty"`
}

type KanbanGroupResponse struct {
	Status string         `json:"status" enum:"proposed,created,in_progress,submitted,completed"`
	Name   string         `json:"name"`
	Tasks  []TaskResponse `json:"tasks"`
	Count  int            `json:"count"`
	Total  string         `json:"total" example:"500.00"`
}

type KanbanResponse struct {
	Groups []KanbanGroupResponse `json:"groups"`
	Count  int                   `json:"count"`
	Total  string                `json:"total"`
}

type TeamMemberResponse struct {
	User  UserResponse   `json:"user"`
	Tasks []TaskResponse `json:"tasks"`
	Count int            `json:"count"`
	Total string         `json:"total"`
}

type TeamGroupResponse struct {
	KanbanGroupResponse
	Members []TeamMemberResponse `json:"members"`
}

type TeamKanbanResponse struct {
	Groups []TeamGroupResponse `json:"groups"`
	Users  []UserResponse      `json:"users"`
	Count  int                 `json:"count"`
	Total  string              `json:"total"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func userResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		Role:        string(u.Role),
		ManagerID:   u.ManagerID,
		Balance:     u.Balance.String(),
		Tags:        nonNilSlice(u.Tags),
		CreatedAt:   u.CreatedAt,
	}
}

func mapUsers(items []domain.User) []UserResponse {
	out := make([]UserResponse, 0, len(items))
	for _, u := range items {
		out = append(out, userResponse(u))
	}
	return out
}

func taskResponse(t domain.Task, today time.Time) TaskResponse {
	return TaskResponse{
		ID:            t.ID,
		Title:         t.Title,
		Description:   t.Description,
		AssignedTo:    t.AssignedTo,
		CreatedBy:     t.CreatedBy,
		ControlledBy:  t.ControlledBy,
		DueDate:       t.DueDate,
		PaymentAmount: t.PaymentAmount.String(),
		Status:        string(t.Status),
		Tags:          nonNilSlice(t.Tags),
		DaysUntilDue:  t.DaysUntilDue(today),
		Overdue:       t.IsOverdue(today),
		Urgent:        t.IsUrgent(today),
		CreatedAt:     t.CreatedAt,
		StartedAt:     t.StartedAt,
		SubmittedAt:   t.SubmittedAt,
		CompletedAt:   t.CompletedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

func mapTasks(items []domain.Task, today time.Time) []TaskResponse {
	out := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		out = append(out, taskResponse(t, today))
	}
	return out
}

func ledgerEntryResponse(l domain.LedgerEntry) LedgerEntryResponse {
	return LedgerEntryResponse{
		ID:           l.ID,
		Kind:         string(l.Kind),
		Amount:       l.Amount.String(),
		BalanceAfter: l.BalanceAfter.String(),
		TaskID:       l.TaskID,
		PaymentID:    l.PaymentID,
		CreatedAt:    l.CreatedAt,
	}
}

func paymentResponse(p domain.Payment) PaymentResponse {
	return PaymentResponse{
		ID:          p.ID,
		EmployeeID:  p.EmployeeID,
		ManagerID:   p.ManagerID,
		Amount:      p.Amount.String(),
		Description: p.Description,
		PaymentDate: p.PaymentDate,
	}
}

func invitationResponse(inv domain.Invitation) InvitationResponse {
	return InvitationResponse{
		ID:         inv.ID,
		Email:      inv.Email,
		Role:       string(inv.Role),
		CreatedBy:  inv.CreatedBy,
		ExpiresAt:  inv.ExpiresAt,
		Status:     string(inv.Status),
		AcceptedBy: inv.AcceptedBy,
		Tags:       nonNilSlice(inv.Tags),
		CreatedAt:  inv.CreatedAt,
	}
}

func kanbanGroupResponse(g kanban.Group, today time.Time) KanbanGroupResponse {
	return KanbanGroupResponse{
		Status: string(g.Status),
		Name:   g.Name,
		Tasks:  mapTasks(g.Tasks, today),
		Count:  g.Count,
		Total:  g.Total.String(),
	}
}

func kanbanResponse(b kanban.Board, today time.Time) KanbanResponse {
	resp := KanbanResponse{
		Groups: make([]KanbanGroupResponse, 0, len(b.Groups)),
		Count:  b.Count,
		Total:  b.Total.String(),
	}
	for _, g := range b.Groups {
		resp.Groups = append(resp.Groups, kanbanGroupResponse(g, today))
	}
	return resp
}

func teamKanbanResponse(b kanban.TeamBoard, today time.Time) TeamKanbanResponse {
	resp := TeamKanbanResponse{
		Groups: make([]TeamGroupResponse, 0, len(b.Groups)),
		Users:  mapUsers(b.Users),
		Count:  b.Count,
		Total:  b.Total.String(),
	}
	for _, g := range b.Groups {
		tg := TeamGroupResponse{
			KanbanGroupResponse: kanbanGroupResponse(g.Group, today),
			Members:             make([]TeamMemberResponse, 0, len(g.Members)),
		}
		for _, m := range g.Members {
			tg.Members = append(tg.Members, TeamMemberResponse{
				User:  userResponse(m.User),
				Tasks: mapTasks(m.Tasks, today),
				Count: m.Count,
				Total: m.Total.String(),
			})
		}
		resp.Groups = append(resp.Groups, tg)
	}
	return resp
}

func eventResponse(evt domain.Event) EventResponse {
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    decodeJSONMap(evt.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func nonNilSlice(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
