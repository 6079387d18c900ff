package appconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pkt.systems/carspot/schema"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ConfigVersion != CurrentConfigVersion {
		t.Fatalf("expected default version, got %d", cfg.ConfigVersion)
	}
	if cfg.Service.ReviewDelayMS != 1500 {
		t.Fatalf("expected default review delay, got %d", cfg.Service.ReviewDelayMS)
	}
}

func TestLoadOverridesService(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
state_dir: /tmp/carspot-state
service:
  tabs: [home, garage, shop]
  review_delay_ms: 2000
  capture_orientation: landscape
  strict_locks: true
identify:
  catalog_path: /etc/carspot/catalog.yaml
  watch: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	svc, err := cfg.ServiceConfig()
	if err != nil {
		t.Fatalf("service config: %v", err)
	}
	if svc.ReviewDelay != 2*time.Second {
		t.Fatalf("expected 2s review delay, got %v", svc.ReviewDelay)
	}
	if svc.CaptureOrientation != schema.OrientationLandscape || !svc.StrictLocks {
		t.Fatalf("unexpected service config %+v", svc)
	}
	if len(svc.Tabs) != 3 {
		t.Fatalf("expected three tabs, got %v", svc.Tabs)
	}
	if cfg.Identify.Watch || cfg.Identify.CatalogPath != "/etc/carspot/catalog.yaml" {
		t.Fatalf("unexpected identify config %+v", cfg.Identify)
	}
	if !cfg.Identify.Enabled {
		t.Fatalf("expected identify enabled by default")
	}
}

func TestLoadRejectsUnsupportedConfigVersion(t *testing.T) {
	path := writeConfig(t, `
config_version: 3
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unsupported config_version") {
		t.Fatalf("expected config_version error, got %v", err)
	}
}

func TestLoadRequiresConfigVersion(t *testing.T) {
	path := writeConfig(t, `
state_dir: /tmp/state
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "config_version is required") {
		t.Fatalf("expected missing config_version error, got %v", err)
	}
}

func TestLoadRejectsUnknownOrientation(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
service:
  capture_orientation: sideways
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "capture_orientation") {
		t.Fatalf("expected orientation error, got %v", err)
	}
}

func TestLoadRejectsInvalidBasePath(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
http:
  base_path: https://example.com/app
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "http.base_path") {
		t.Fatalf("expected base_path error, got %v", err)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	value := expandEnv("$FOO/$UID/$GID/$MISSING")
	if !strings.HasPrefix(value, "bar/") {
		t.Fatalf("expected env expansion, got %q", value)
	}
	if strings.Contains(value, "$UID") || strings.Contains(value, "$GID") {
		t.Fatalf("expected UID/GID expansion, got %q", value)
	}
	if !strings.HasSuffix(value, "/$MISSING") {
		t.Fatalf("expected missing vars to remain, got %q", value)
	}
}

func TestLoadExpandsStatePaths(t *testing.T) {
	t.Setenv("CARSPOT_HOME", "/srv/carspot")
	path := writeConfig(t, `
config_version: 1
state_dir: $CARSPOT_HOME/state
cards:
  db_path: $CARSPOT_HOME/cards.db
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StateDir != "/srv/carspot/state" || cfg.Cards.DBPath != "/srv/carspot/cards.db" {
		t.Fatalf("expected expanded paths, got %q %q", cfg.StateDir, cfg.Cards.DBPath)
	}
}

func TestWriteDefaultRespectsOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	written, err := WriteDefault(path, false)
	if err != nil {
		t.Fatalf("write default: %v", err)
	}
	if written != path {
		t.Fatalf("expected path %q, got %q", path, written)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config to exist: %v", err)
	}
	if _, err := WriteDefault(path, false); err == nil {
		t.Fatalf("expected error when config exists")
	}
	if _, err := WriteDefault(path, true); err != nil {
		t.Fatalf("expected overwrite to succeed: %v", err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("expected written default to load: %v", err)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
