package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"taskboard/internal/config"
	"taskboard/internal/events"
	"taskboard/internal/repo"
)

var (
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrExpiredInvitation   = errors.New("invitation expired")
	ErrCycleDetected       = errors.New("manager cycle detected")
	ErrInvalidInput        = errors.New("invalid input")
	ErrConflict            = errors.New("conflict")
	ErrInvalidCredentials  = errors.New("invalid credentials")
)

// maxHierarchyHops bounds upward walks. Well-formed trees need at most two.
const maxHierarchyHops = 8

const minPasswordLen = 6

type Engine struct {
	DB     *sqlx.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Log    *zap.Logger
	Now    func() time.Time
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

func New(db *sqlx.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{},
		Config: cfg,
		Log:    zap.NewNop(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *zap.Logger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop()
}

func (e Engine) appendEvent(ctx context.Context, tx *sqlx.Tx, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	w.Now = e.now
	return w.Append(ctx, tx, events.Record{
		Type:       evtType,
		EntityKind: entityKind,
		EntityID:   entityID,
		ActorID:    actorID,
		Payload:    payload,
	})
}

func (e Engine) hashPassword(password string) (string, error) {
	cost := e.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLen {
		return invalidf("password must be at least %d characters", minPasswordLen)
	}
	return nil
}

func validateUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", invalidf("username is required")
	}
	if strings.ContainsAny(username, " \t\n/") {
		return "", invalidf("username %q contains whitespace or '/'", username)
	}
	return username, nil
}

func invalidf(format string, args ...any) error {
	return wrapf(ErrInvalidInput, format, args...)
}

func wrapf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
