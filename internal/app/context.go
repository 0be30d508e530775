package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"taskboard/internal/config"
	"taskboard/internal/db"
	"taskboard/internal/domain"
	"taskboard/internal/engine"
	"taskboard/internal/logging"
	"taskboard/internal/migrate"
	"taskboard/internal/repo"
)

// Overrides take precedence over taskboard.yml. Empty fields are ignored.
type Overrides struct {
	Driver    string
	DSN       string
	JWTSecret string
	LogLevel  string
}

// Env is an opened workspace: validated config, migrated database and an
// engine logging through the configured logger.
type Env struct {
	Workspace string
	Config    *config.Config
	DB        *sqlx.DB
	Engine    engine.Engine
	Log       *zap.Logger
}

// LoadConfig reads the workspace config and applies overrides.
func LoadConfig(workspace string, o Overrides) (*config.Config, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	if o.Driver != "" {
		cfg.Database.Driver = o.Driver
	}
	if o.DSN != "" {
		cfg.Database.DSN = o.DSN
	}
	if o.JWTSecret != "" {
		cfg.Auth.JWTSecret = o.JWTSecret
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Open loads config, connects and migrates the database and builds the engine.
func Open(workspace string, o Overrides) (*Env, error) {
	cfg, err := LoadConfig(workspace, o)
	if err != nil {
		return nil, err
	}
	logger, err := logging.Init(logging.Config{Level: cfg.Log.Level, Dev: cfg.Log.Dev})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace, Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	e := engine.New(conn, cfg)
	e.Log = logger
	return &Env{Workspace: workspace, Config: cfg, DB: conn, Engine: e, Log: logger}, nil
}

func (env *Env) Close() error {
	_ = env.Log.Sync()
	return env.DB.Close()
}

// WriteDefaultConfig creates taskboard.yml unless it exists. It reports
// whether a file was written.
func WriteDefaultConfig(workspace string) (bool, error) {
	p := config.Path(workspace)
	if _, err := os.Stat(p); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}
	if err := os.WriteFile(p, []byte(config.GenerateDefault()), 0o644); err != nil {
		return false, err
	}
	return true, nil
}

// ResolveActor loads the user local commands act as.
func (env *Env) ResolveActor(ctx context.Context, username string) (domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return domain.User{}, fmt.Errorf("actor not specified; use --actor or TASKBOARD_ACTOR")
	}
	u, err := env.Engine.Repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.User{}, fmt.Errorf("actor %q: %w", username, err)
		}
		return domain.User{}, err
	}
	return u, nil
}
