package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gaodev.toml")
	contents := `
[general]
project = "demo"
workspace = "/tmp/demo"

[safety]
standup_cooldown = "6h"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.General.Project != "demo" {
		t.Fatalf("expected project=demo, got %q", cfg.General.Project)
	}
	if cfg.Safety.StandupCooldown.Duration != 6*time.Hour {
		t.Fatalf("expected overridden standup cooldown, got %v", cfg.Safety.StandupCooldown.Duration)
	}
	if cfg.Safety.PlanningCooldown.Duration != 24*time.Hour {
		t.Fatalf("expected default planning cooldown preserved, got %v", cfg.Safety.PlanningCooldown.Duration)
	}
	if cfg.Safety.MaxCeremoniesPerEpic != 10 {
		t.Fatalf("expected default max ceremonies per epic, got %d", cfg.Safety.MaxCeremoniesPerEpic)
	}
}

func TestManagerReloadRejectsStateDBChange(t *testing.T) {
	dir := t.TempDir()
	path1 := filepath.Join(dir, "a.toml")
	os.WriteFile(path1, []byte("[general]\nstate_db = \"one.db\"\n"), 0o644)
	cfg, _ := Load(path1)
	mgr := NewManager(cfg)

	path2 := filepath.Join(dir, "b.toml")
	os.WriteFile(path2, []byte("[general]\nstate_db = \"two.db\"\n"), 0o644)

	if err := mgr.Reload(path2); err == nil {
		t.Fatal("expected Reload to reject a state_db change")
	}
	if mgr.Get().General.StateDB != "one.db" {
		t.Fatal("expected rejected reload to leave config unchanged")
	}
}

func TestManagerReloadAcceptsCosmeticChange(t *testing.T) {
	dir := t.TempDir()
	path1 := filepath.Join(dir, "a.toml")
	os.WriteFile(path1, []byte("[general]\nstate_db = \"one.db\"\nlog_level = \"info\"\n"), 0o644)
	cfg, _ := Load(path1)
	mgr := NewManager(cfg)

	path2 := filepath.Join(dir, "b.toml")
	os.WriteFile(path2, []byte("[general]\nstate_db = \"one.db\"\nlog_level = \"debug\"\n"), 0o644)

	if err := mgr.Reload(path2); err != nil {
		t.Fatalf("expected cosmetic reload to succeed: %v", err)
	}
	if mgr.Get().General.LogLevel != "debug" {
		t.Fatal("expected log_level to update after reload")
	}
}
