package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskboard/internal/domain"
	"taskboard/internal/engine/auth"
	"taskboard/internal/events"
	"taskboard/internal/repo"
)

const defaultInvitationTTL = 7 * 24 * time.Hour

// InvitationOptions are parameters for creating an invitation.
type InvitationOptions struct {
	Email string
	Role  domain.Role
	Tags  []string
	// TTL overrides the configured validity window.
	TTL time.Duration
}

func (e Engine) invitationTTL(override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	if e.Config != nil && e.Config.Invitations.TTL > 0 {
		return e.Config.Invitations.TTL
	}
	return defaultInvitationTTL
}

// CreateInvitation stores a new invitation and returns it together with the
// plaintext token. Only the token's hash is kept.
func (e Engine) CreateInvitation(ctx context.Context, actor domain.User, opts InvitationOptions) (domain.Invitation, string, error) {
	if !opts.Role.Valid() || opts.Role == domain.RoleBoss {
		return domain.Invitation{}, "", invalidf("cannot invite role %q", opts.Role)
	}
	if !actor.Role.CanCreate(opts.Role) {
		return domain.Invitation{}, "", auth.Forbidden("invitation.create " + string(opts.Role))
	}
	token := uuid.NewString()
	now := e.now().UTC()
	inv := domain.Invitation{
		ID:        uuid.NewString(),
		TokenHash: repo.HashToken(token),
		Email:     opts.Email,
		Role:      opts.Role,
		CreatedBy: actor.ID,
		ExpiresAt: now.Add(e.invitationTTL(opts.TTL)).Format(time.RFC3339),
		Status:    domain.InvitationPending,
		Tags:      repo.NormalizeTags(opts.Tags),
		CreatedAt: now.Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Invitation{}, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertInvitation(ctx, tx, inv); err != nil {
		return domain.Invitation{}, "", err
	}
	if err := e.appendEvent(ctx, tx, events.InvitationCreate, events.KindInvitation, inv.ID, actor.ID, events.EventPayload{"role": inv.Role, "expires_at": inv.ExpiresAt}); err != nil {
		return domain.Invitation{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.Invitation{}, "", err
	}
	return inv, token, nil
}

// AcceptOptions carry the registration that consumes an invitation.
type AcceptOptions struct {
	Token       string
	Username    string
	DisplayName string
	Email       string
	Password    string
}

// AcceptInvitation registers a user from a pending invitation. The user
// reports to the inviter and inherits the invitation's role and tags. An
// expired invitation is marked expired and no user is created.
func (e Engine) AcceptInvitation(ctx context.Context, opts AcceptOptions) (domain.User, error) {
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	inv, err := e.Repo.GetInvitationByHashTx(ctx, tx, repo.HashToken(opts.Token))
	if err != nil {
		return domain.User{}, err
	}
	if inv.Status == domain.InvitationAccepted {
		return domain.User{}, wrapf(ErrInvalidTransition, "invitation %s already accepted", inv.ID)
	}
	if inv.IsExpired(e.now()) {
		// release the write lock before flagging the row outside this tx
		_ = tx.Rollback()
		if inv.Status == domain.InvitationPending {
			if err := e.Repo.MarkInvitationExpired(ctx, inv.ID); err != nil {
				e.log().Warn("mark invitation expired", zap.String("invitation_id", inv.ID), zap.Error(err))
			}
		}
		return domain.User{}, wrapf(ErrExpiredInvitation, "invitation %s expired at %s", inv.ID, inv.ExpiresAt)
	}
	inviter, err := e.Repo.GetUserTx(ctx, tx, inv.CreatedBy)
	if err != nil {
		return domain.User{}, err
	}
	if !inv.Role.AcceptsManager(inviter.Role) {
		return domain.User{}, wrapf(ErrConflict, "inviter is now a %s and cannot manage a %s", inviter.Role, inv.Role)
	}
	email := opts.Email
	if email == "" {
		email = inv.Email
	}
	managerID := inviter.ID
	u, err := e.newUser(UserCreateOptions{
		Username:    opts.Username,
		DisplayName: opts.DisplayName,
		Email:       email,
		Password:    opts.Password,
		Role:        inv.Role,
		Tags:        inv.Tags,
	}, &managerID)
	if err != nil {
		return domain.User{}, err
	}
	if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
		return domain.User{}, err
	}
	ok, err := e.Repo.AcceptInvitation(ctx, tx, inv.ID, u.ID)
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, wrapf(ErrInvalidTransition, "invitation %s is no longer pending", inv.ID)
	}
	if err := e.appendEvent(ctx, tx, events.InvitationAccept, events.KindInvitation, inv.ID, u.ID, events.EventPayload{"user_id": u.ID, "role": u.Role}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// ListInvitations returns the invitations actor created, with expiry
// evaluated against the current time.
func (e Engine) ListInvitations(ctx context.Context, actor domain.User) ([]domain.Invitation, error) {
	if !actor.Role.Supervisor() {
		return nil, auth.Forbidden("invitation.list")
	}
	invs, err := e.Repo.ListInvitations(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	for i := range invs {
		if invs[i].Status == domain.InvitationPending && invs[i].IsExpired(now) {
			invs[i].Status = domain.InvitationExpired
			if err := e.Repo.MarkInvitationExpired(ctx, invs[i].ID); err != nil {
				return nil, err
			}
		}
	}
	return invs, nil
}
