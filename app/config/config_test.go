package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalYAML = `
telegram:
  token: "123:abc"
  admin_group_id: -100200300
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Dir != "data" {
		t.Fatalf("store dir = %q", cfg.Store.Dir)
	}
	if len(cfg.Teams) != 4 {
		t.Fatalf("teams = %d, expected default roster of 4", len(cfg.Teams))
	}
	if _, ok := cfg.TeamByID("support"); !ok {
		t.Fatal("default roster must include support")
	}
	if cfg.CoreConfig().Telegram.AdminGroupID != -100200300 {
		t.Fatalf("admin group = %d", cfg.CoreConfig().Telegram.AdminGroupID)
	}
}

func TestLoadRejectsWrongTeamCount(t *testing.T) {
	body := minimalYAML + `
teams:
  - id: a
    name: "الأول"
  - id: b
    name: "الثاني"
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("expected error for a 2-team roster")
	}
}

func TestLoadRejectsDuplicateTeamIDs(t *testing.T) {
	body := minimalYAML + `
teams:
  - id: a
    name: "الأول"
  - id: a
    name: "الثاني"
  - id: b
    name: "الثالث"
  - id: c
    name: "الرابع"
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("expected error for duplicate team ids")
	}
}

func TestEnvOverridesStoreDir(t *testing.T) {
	t.Setenv("STORE_DIR", "/var/lib/teambot")
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Dir != "/var/lib/teambot" {
		t.Fatalf("store dir = %q", cfg.Store.Dir)
	}
}
