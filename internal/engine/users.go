package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"taskboard/internal/domain"
	"taskboard/internal/engine/auth"
	"taskboard/internal/events"
	"taskboard/internal/repo"
)

// UserCreateOptions are parameters for creating a user.
type UserCreateOptions struct {
	Username    string
	DisplayName string
	Email       string
	Password    string
	Role        domain.Role
	Tags        []string
}

func (e Engine) newUser(opts UserCreateOptions, managerID *string) (domain.User, error) {
	username, err := validateUsername(opts.Username)
	if err != nil {
		return domain.User{}, err
	}
	if err := validatePassword(opts.Password); err != nil {
		return domain.User{}, err
	}
	if !opts.Role.Valid() {
		return domain.User{}, invalidf("unknown role %q", opts.Role)
	}
	hash, err := e.hashPassword(opts.Password)
	if err != nil {
		return domain.User{}, err
	}
	return domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		DisplayName:  opts.DisplayName,
		Email:        opts.Email,
		Role:         opts.Role,
		ManagerID:    managerID,
		Tags:         repo.NormalizeTags(opts.Tags),
		PasswordHash: hash,
		CreatedAt:    e.stamp(),
	}, nil
}

// CreateBoss creates the root of a new team tree.
func (e Engine) CreateBoss(ctx context.Context, opts UserCreateOptions) (domain.User, error) {
	opts.Role = domain.RoleBoss
	u, err := e.newUser(opts, nil)
	if err != nil {
		return domain.User{}, err
	}
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
		return domain.User{}, err
	}
	if err := e.appendEvent(ctx, tx, events.UserCreate, events.KindUser, u.ID, u.ID, events.EventPayload{"role": u.Role, "username": u.Username}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	e.log().Info("boss created", zap.String("user_id", u.ID), zap.String("username", u.Username))
	return u, nil
}

// CreateUser creates a direct report of actor.
func (e Engine) CreateUser(ctx context.Context, actor domain.User, opts UserCreateOptions) (domain.User, error) {
	if !actor.Role.CanCreate(opts.Role) {
		return domain.User{}, auth.Forbidden("user.create " + string(opts.Role))
	}
	managerID := actor.ID
	u, err := e.newUser(opts, &managerID)
	if err != nil {
		return domain.User{}, err
	}
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
		return domain.User{}, err
	}
	if err := e.appendEvent(ctx, tx, events.UserCreate, events.KindUser, u.ID, actor.ID, events.EventPayload{"role": u.Role, "username": u.Username, "manager_id": actor.ID}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// VerifyCredentials returns the user when password matches.
func (e Engine) VerifyCredentials(ctx context.Context, username, password string) (domain.User, error) {
	u, err := e.Repo.GetUserByUsername(ctx, username)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, err
	}
	if !checkPassword(u.PasswordHash, password) {
		return domain.User{}, ErrInvalidCredentials
	}
	return u, nil
}

// ChangePassword sets a new password. Changing one's own password requires the
// current one; a supervisor may reset a direct report's without it.
func (e Engine) ChangePassword(ctx context.Context, actor domain.User, userID, current, next string) error {
	if err := validatePassword(next); err != nil {
		return err
	}
	target, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if target.ID == actor.ID {
		if !checkPassword(target.PasswordHash, current) {
			return ErrInvalidCredentials
		}
	} else if !auth.CanEditUser(actor, target) {
		return auth.Forbidden("user.password")
	}
	hash, err := e.hashPassword(next)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.SetPasswordHash(ctx, tx, target.ID, hash); err != nil {
		return err
	}
	if err := e.appendEvent(ctx, tx, events.UserPassword, events.KindUser, target.ID, actor.ID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// GetUser returns a user in the same tree as actor.
func (e Engine) GetUser(ctx context.Context, actor domain.User, id string) (domain.User, error) {
	if id == actor.ID {
		return e.Repo.GetUser(ctx, id)
	}
	target, err := e.Repo.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	same, err := e.sameTree(ctx, actor, target)
	if err != nil {
		return domain.User{}, err
	}
	if !same {
		return domain.User{}, repo.ErrNotFound
	}
	return target, nil
}

// Reports returns the users whose manager is actor.
func (e Engine) Reports(ctx context.Context, actor domain.User) ([]domain.User, error) {
	return e.Repo.ListUsers(ctx, repo.UserFilters{ManagerIDs: []string{actor.ID}})
}

// TeamUsers returns the users a viewer treats as its team. A boss's team is
// its direct reports. A manager's team is everyone sharing its manager,
// itself included; a detached manager has no team. A technician's team is
// itself.
func (e Engine) TeamUsers(ctx context.Context, u domain.User) ([]domain.User, error) {
	switch u.Role {
	case domain.RoleBoss:
		return e.Repo.ListUsers(ctx, repo.UserFilters{ManagerIDs: []string{u.ID}})
	case domain.RoleManager:
		if u.ManagerID == nil {
			return nil, nil
		}
		return e.Repo.ListUsers(ctx, repo.UserFilters{ManagerIDs: []string{*u.ManagerID}})
	case domain.RoleTechnician:
		return []domain.User{u}, nil
	}
	return nil, invalidf("unknown role %q", u.Role)
}

// TeamLeadership returns the supervisors visible to u.
func (e Engine) TeamLeadership(ctx context.Context, u domain.User) ([]domain.User, error) {
	switch u.Role {
	case domain.RoleBoss:
		managers, err := e.Repo.ListUsers(ctx, repo.UserFilters{ManagerIDs: []string{u.ID}, Role: domain.RoleManager})
		if err != nil {
			return nil, err
		}
		return append([]domain.User{u}, managers...), nil
	case domain.RoleManager:
		if u.ManagerID == nil {
			return []domain.User{u}, nil
		}
		boss, err := e.Repo.GetUser(ctx, *u.ManagerID)
		if err != nil {
			return nil, err
		}
		managers, err := e.Repo.ListUsers(ctx, repo.UserFilters{ManagerIDs: []string{boss.ID}, Role: domain.RoleManager})
		if err != nil {
			return nil, err
		}
		return append([]domain.User{boss}, managers...), nil
	case domain.RoleTechnician:
		if u.ManagerID == nil {
			return nil, nil
		}
		boss, err := e.Boss(ctx, u)
		if err != nil {
			return nil, err
		}
		out := []domain.User{boss}
		if *u.ManagerID != boss.ID {
			direct, err := e.Repo.GetUser(ctx, *u.ManagerID)
			if err != nil {
				return nil, err
			}
			out = append(out, direct)
		}
		return out, nil
	}
	return nil, invalidf("unknown role %q", u.Role)
}

// Boss walks manager references up to the root of u's tree.
func (e Engine) Boss(ctx context.Context, u domain.User) (domain.User, error) {
	return e.bossWith(func(id string) (domain.User, error) { return e.Repo.GetUser(ctx, id) }, u)
}

func (e Engine) bossTx(ctx context.Context, tx *sqlx.Tx, u domain.User) (domain.User, error) {
	return e.bossWith(func(id string) (domain.User, error) { return e.Repo.GetUserTx(ctx, tx, id) }, u)
}

func (e Engine) bossWith(get func(id string) (domain.User, error), u domain.User) (domain.User, error) {
	seen := map[string]bool{u.ID: true}
	cur := u
	for hops := 0; cur.ManagerID != nil; hops++ {
		if hops >= maxHierarchyHops || seen[*cur.ManagerID] {
			return domain.User{}, wrapf(ErrCycleDetected, "walking managers from %s", u.ID)
		}
		next, err := get(*cur.ManagerID)
		if err != nil {
			return domain.User{}, err
		}
		seen[next.ID] = true
		cur = next
	}
	return cur, nil
}

func (e Engine) sameTree(ctx context.Context, a, b domain.User) (bool, error) {
	ra, err := e.Boss(ctx, a)
	if err != nil {
		return false, err
	}
	rb, err := e.Boss(ctx, b)
	if err != nil {
		return false, err
	}
	return ra.ID == rb.ID, nil
}

// treeIDs returns the ids of root and everyone below it.
func (e Engine) treeIDs(ctx context.Context, root domain.User) ([]string, error) {
	ids := []string{root.ID}
	frontier := []string{root.ID}
	for depth := 0; len(frontier) > 0 && depth < maxHierarchyHops; depth++ {
		users, err := e.Repo.ListUsers(ctx, repo.UserFilters{ManagerIDs: frontier})
		if err != nil {
			return nil, err
		}
		var next []string
		for _, u := range users {
			ids = append(ids, u.ID)
			next = append(next, u.ID)
		}
		frontier = next
	}
	return ids, nil
}

// SetManager moves a user within the actor's tree. Only a boss may do this.
// A nil managerID detaches the user.
func (e Engine) SetManager(ctx context.Context, actor domain.User, userID string, managerID *string) (domain.User, error) {
	if actor.Role != domain.RoleBoss {
		return domain.User{}, auth.Forbidden("user.set_manager")
	}
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	target, err := e.ownedByBoss(ctx, tx, actor, userID)
	if err != nil {
		return domain.User{}, err
	}
	if managerID != nil {
		mgr, err := e.ownedByBoss(ctx, tx, actor, *managerID)
		if err != nil {
			return domain.User{}, err
		}
		if !target.Role.AcceptsManager(mgr.Role) {
			return domain.User{}, invalidf("a %s cannot report to a %s", target.Role, mgr.Role)
		}
		if err := e.ensureNoCycle(ctx, tx, target.ID, mgr); err != nil {
			return domain.User{}, err
		}
	}
	if err := e.Repo.SetManager(ctx, tx, target.ID, managerID); err != nil {
		return domain.User{}, err
	}
	payload := events.EventPayload{"manager_id": nil}
	if managerID != nil {
		payload["manager_id"] = *managerID
	}
	if err := e.appendEvent(ctx, tx, events.UserSetManager, events.KindUser, target.ID, actor.ID, payload); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	target.ManagerID = managerID
	return target, nil
}

// ensureNoCycle fails if userID appears on the manager chain starting at mgr.
func (e Engine) ensureNoCycle(ctx context.Context, tx *sqlx.Tx, userID string, mgr domain.User) error {
	cur := mgr
	for hops := 0; ; hops++ {
		if cur.ID == userID {
			return wrapf(ErrCycleDetected, "%s would manage itself", userID)
		}
		if cur.ManagerID == nil {
			return nil
		}
		if hops >= maxHierarchyHops {
			return wrapf(ErrCycleDetected, "manager chain from %s too deep", mgr.ID)
		}
		next, err := e.Repo.GetUserTx(ctx, tx, *cur.ManagerID)
		if err != nil {
			return err
		}
		cur = next
	}
}

// ownedByBoss loads a user and checks it lives in boss's tree and is not boss.
func (e Engine) ownedByBoss(ctx context.Context, tx *sqlx.Tx, boss domain.User, id string) (domain.User, error) {
	u, err := e.Repo.GetUserTx(ctx, tx, id)
	if err != nil {
		return domain.User{}, err
	}
	if u.ID == boss.ID {
		return u, nil
	}
	root, err := e.bossTx(ctx, tx, u)
	if err != nil {
		return domain.User{}, err
	}
	if root.ID != boss.ID {
		return domain.User{}, repo.ErrNotFound
	}
	return u, nil
}

// ChangeRole changes a user's role. Only a boss may do this, within its tree,
// and never to boss.
func (e Engine) ChangeRole(ctx context.Context, actor domain.User, userID string, role domain.Role) (domain.User, error) {
	if actor.Role != domain.RoleBoss {
		return domain.User{}, auth.Forbidden("user.change_role")
	}
	if !role.Valid() || role == domain.RoleBoss {
		return domain.User{}, invalidf("cannot change role to %q", role)
	}
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	target, err := e.ownedByBoss(ctx, tx, actor, userID)
	if err != nil {
		return domain.User{}, err
	}
	if target.ID == actor.ID {
		return domain.User{}, invalidf("a boss cannot change its own role")
	}
	if target.Role == role {
		return target, nil
	}
	if target.ManagerID != nil {
		mgr, err := e.Repo.GetUserTx(ctx, tx, *target.ManagerID)
		if err != nil {
			return domain.User{}, err
		}
		if !role.AcceptsManager(mgr.Role) {
			return domain.User{}, wrapf(ErrConflict, "a %s cannot report to a %s; move the user first", role, mgr.Role)
		}
	}
	if role == domain.RoleTechnician {
		n, err := e.Repo.CountReports(ctx, tx, target.ID)
		if err != nil {
			return domain.User{}, err
		}
		if n > 0 {
			return domain.User{}, wrapf(ErrConflict, "user has %d reports", n)
		}
	}
	if target.Role == domain.RoleTechnician {
		n, err := e.Repo.CountOpenTasks(ctx, tx, target.ID)
		if err != nil {
			return domain.User{}, err
		}
		if n > 0 {
			return domain.User{}, wrapf(ErrConflict, "user has %d open tasks", n)
		}
	}
	if err := e.Repo.SetRole(ctx, tx, target.ID, role); err != nil {
		return domain.User{}, err
	}
	if err := e.appendEvent(ctx, tx, events.UserChangeRole, events.KindUser, target.ID, actor.ID, events.EventPayload{"from": target.Role, "to": role}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	target.Role = role
	return target, nil
}

// DeleteUser removes a direct report that has no reports and no tasks or
// payments on record.
func (e Engine) DeleteUser(ctx context.Context, actor domain.User, userID string) error {
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	target, err := e.Repo.GetUserTx(ctx, tx, userID)
	if err != nil {
		return err
	}
	if !auth.CanEditUser(actor, target) {
		return auth.Forbidden("user.delete")
	}
	open, err := e.Repo.CountOpenTasks(ctx, tx, target.ID)
	if err != nil {
		return err
	}
	if open > 0 {
		return wrapf(ErrConflict, "user has %d open tasks", open)
	}
	reports, err := e.Repo.CountReports(ctx, tx, target.ID)
	if err != nil {
		return err
	}
	if reports > 0 {
		return wrapf(ErrConflict, "user has %d reports", reports)
	}
	records, err := e.Repo.CountRecords(ctx, tx, target.ID)
	if err != nil {
		return err
	}
	if records > 0 {
		return wrapf(ErrConflict, "user has %d completed tasks or payments", records)
	}
	if err := e.Repo.DeleteUser(ctx, tx, target.ID); err != nil {
		return err
	}
	if err := e.appendEvent(ctx, tx, events.UserDelete, events.KindUser, target.ID, actor.ID, events.EventPayload{"username": target.Username}); err != nil {
		return err
	}
	return tx.Commit()
}
