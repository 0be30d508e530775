package app

import (
	"context"
	"errors"
	"os"
	"testing"

	"taskboard/internal/config"
	"taskboard/internal/engine"
	"taskboard/internal/repo"
)

func TestWriteDefaultConfigOnce(t *testing.T) {
	dir := t.TempDir()
	wrote, err := WriteDefaultConfig(dir)
	if err != nil || !wrote {
		t.Fatalf("first write: wrote=%v err=%v", wrote, err)
	}
	if err := os.WriteFile(config.Path(dir), []byte("log:\n  level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	wrote, err = WriteDefaultConfig(dir)
	if err != nil || wrote {
		t.Fatalf("second write: wrote=%v err=%v", wrote, err)
	}
	cfg, err := LoadConfig(dir, Overrides{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("existing config was overwritten")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir(), Overrides{JWTSecret: "s3cret", LogLevel: "warn"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Auth.JWTSecret != "s3cret" || cfg.Log.Level != "warn" {
		t.Fatalf("overrides not applied: %+v", cfg.Auth)
	}
	if _, err := LoadConfig(t.TempDir(), Overrides{Driver: "postgres"}); err == nil {
		t.Fatalf("postgres without dsn should fail validation")
	}
}

func TestOpenAndResolveActor(t *testing.T) {
	env, err := Open(t.TempDir(), Overrides{LogLevel: "error"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer env.Close()
	ctx := context.Background()
	if _, err := env.ResolveActor(ctx, ""); err == nil {
		t.Fatalf("expected error for empty actor")
	}
	if _, err := env.ResolveActor(ctx, "nobody"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	boss, err := env.Engine.CreateBoss(ctx, engine.UserCreateOptions{Username: "boss", Password: "secret-boss"})
	if err != nil {
		t.Fatalf("create boss: %v", err)
	}
	got, err := env.ResolveActor(ctx, " boss ")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ID != boss.ID {
		t.Fatalf("resolved %s, want %s", got.ID, boss.ID)
	}
}
