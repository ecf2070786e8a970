package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loomkit/loom/internal/testutil/testlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "demo.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDemoConfigOverrides(t *testing.T) {
	testlog.Start(t)

	path := writeConfig(t, `
mode = "serve"
addr = "0.0.0.0:9900"
session_id = "demo-42"
increments = 7
write_timeout = "3s"
`)
	cfg, err := loadDemoConfig(path)
	if err != nil {
		t.Fatalf("loadDemoConfig: %v", err)
	}
	if cfg.Mode != "serve" || cfg.Addr != "0.0.0.0:9900" || cfg.SessionID != "demo-42" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Increments != 7 || cfg.WriteTimeout != 3*time.Second {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadDemoConfigKeepsDefaults(t *testing.T) {
	testlog.Start(t)

	path := writeConfig(t, `mode = "dial"`)
	cfg, err := loadDemoConfig(path)
	if err != nil {
		t.Fatalf("loadDemoConfig: %v", err)
	}
	def := defaultDemoConfig()
	if cfg.Mode != "dial" {
		t.Fatalf("mode = %s", cfg.Mode)
	}
	if cfg.Addr != def.Addr || cfg.SessionID != def.SessionID ||
		cfg.Increments != def.Increments || cfg.WriteTimeout != def.WriteTimeout {
		t.Fatalf("defaults not preserved: %+v", cfg)
	}
}

func TestLoadDemoConfigRejectsBadValues(t *testing.T) {
	testlog.Start(t)

	for _, body := range []string{
		`mode = "teleport"`,
		`session_id = ""`,
		`increments = -1`,
		`write_timeout = "soon"`,
	} {
		path := writeConfig(t, body)
		if _, err := loadDemoConfig(path); err == nil {
			t.Fatalf("config %q accepted", body)
		}
	}
}
