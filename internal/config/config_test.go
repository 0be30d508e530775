package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"taskboard/internal/domain"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Auth.TokenTTL != 12*time.Hour || cfg.Invitations.TTL != 168*time.Hour {
		t.Fatalf("durations: %s %s", cfg.Auth.TokenTTL, cfg.Invitations.TTL)
	}
	if cfg.StatusName(domain.StatusInProgress) != "In progress" {
		t.Fatalf("status name: %q", cfg.StatusName(domain.StatusInProgress))
	}
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("server:\n  addr: :9090\nkanban:\n  status_names:\n    completed: Paid\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":9090" || cfg.Server.BasePath != "/v1" {
		t.Fatalf("server: %+v", cfg.Server)
	}
	names := cfg.StatusNames()
	if names[domain.StatusCompleted] != "Paid" || names[domain.StatusCreated] != "Created" {
		t.Fatalf("names: %v", names)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"driver":      "database:\n  driver: mysql\n",
		"postgres":    "database:\n  driver: postgres\n",
		"base path":   "server:\n  base_path: v1\n",
		"log level":   "log:\n  level: loud\n",
		"status name": "kanban:\n  status_names:\n    done: Done\n",
		"token ttl":   "auth:\n  token_ttl: 0s\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadFallsBackAndReads(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil || cfg.Database.Driver != DriverSQLite {
		t.Fatalf("missing file: %v %+v", err, cfg)
	}
	if err := os.WriteFile(filepath.Join(dir, "taskboard.yml"), []byte("log:\n  level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(dir)
	if err != nil || cfg.Log.Level != "debug" {
		t.Fatalf("file: %v %+v", err, cfg.Log)
	}
	if !strings.Contains(GenerateDefault(), "status_names") {
		t.Fatalf("template missing kanban section")
	}
}
