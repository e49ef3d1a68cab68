package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitConvergeDirCreatesLayout(t *testing.T) {
	dir := t.TempDir()
	if err := InitConvergeDir(dir); err != nil {
		t.Fatalf("InitConvergeDir: %v", err)
	}
	for _, sub := range []string{"logs", "runs", "modules", "roles"} {
		path := filepath.Join(dir, ConvergeDir, sub)
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("expected %s to exist: %v", path, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %s to be a directory", path)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, ConvergeDir, "config.yaml")); err != nil {
		t.Fatalf("expected default config.yaml: %v", err)
	}
}

func TestInitConvergeDirKeepsExistingConfig(t *testing.T) {
	dir := t.TempDir()
	if err := InitConvergeDir(dir); err != nil {
		t.Fatalf("InitConvergeDir: %v", err)
	}
	custom := []byte("version: 1\ninventory: hosts.yml\nforks: 10\n")
	path := filepath.Join(dir, ConvergeDir, "config.yaml")
	if err := os.WriteFile(path, custom, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := InitConvergeDir(dir); err != nil {
		t.Fatalf("second InitConvergeDir: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(custom) {
		t.Fatalf("config.yaml was overwritten")
	}
}

func TestNewConfigLoadsProjectSettings(t *testing.T) {
	dir := t.TempDir()
	if err := InitConvergeDir(dir); err != nil {
		t.Fatal(err)
	}
	yaml := "version: 1\ninventory: hosts.yml\nforks: 12\nvault_ids:\n  - dev@.vault-pass\n"
	if err := os.WriteFile(filepath.Join(dir, ConvergeDir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := NewConfig(dir)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if cfg.Forks() != 12 {
		t.Errorf("Forks() = %d, want 12", cfg.Forks())
	}
	if got, want := cfg.InventoryPath(), filepath.Join(dir, "hosts.yml"); got != want {
		t.Errorf("InventoryPath() = %s, want %s", got, want)
	}
	if len(cfg.Project.VaultIDs) != 1 || cfg.Project.VaultIDs[0] != "dev@.vault-pass" {
		t.Errorf("VaultIDs = %v", cfg.Project.VaultIDs)
	}
}

func TestNewConfigDefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := NewConfig(dir)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if cfg.Forks() != defaultForks {
		t.Errorf("Forks() = %d, want %d", cfg.Forks(), defaultForks)
	}
}

func TestNewConfigRejectsBadRoleRef(t *testing.T) {
	dir := t.TempDir()
	if err := InitConvergeDir(dir); err != nil {
		t.Fatal(err)
	}
	yaml := "version: 1\nroles:\n  - name: broken\n    source: git\n"
	if err := os.WriteFile(filepath.Join(dir, ConvergeDir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewConfig(dir); err == nil {
		t.Fatal("expected error for git role without repository")
	}
}
