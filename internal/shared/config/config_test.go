package config

import (
	"os"
	"path/filepath"
	"testing"

	"proxyhive/internal/shared/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proxyhive.ini")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadIni(t *testing.T) {
	path := writeConfig(t, `
[local]
web_port = 8100
web_user = admin
web_password = secret
data_dir = /tmp/proxyhive

[log]
level = debug

[probe]
judge_url = http://judge.local/get
concurrency = 10
`)

	cfg := new(types.Config)
	if err := LoadIni(cfg, path); err != nil {
		t.Fatalf("LoadIni failed: %v", err)
	}
	if cfg.LocalConf.WebPort != 8100 || cfg.LocalConf.WebUser != "admin" {
		t.Errorf("local section mismatch: %+v", cfg.LocalConf)
	}
	if cfg.LogConf.Level != "debug" {
		t.Errorf("log section mismatch: %+v", cfg.LogConf)
	}
	if cfg.ProbeConf.JudgeURL != "http://judge.local/get" || cfg.ProbeConf.Concurrency != 10 {
		t.Errorf("probe section mismatch: %+v", cfg.ProbeConf)
	}
	// Unset probe values fall back to defaults.
	if cfg.ProbeConf.GeoURL != "http://ip-api.com/json" {
		t.Errorf("geo url default missing: %q", cfg.ProbeConf.GeoURL)
	}
}

func TestLoadIni_Defaults(t *testing.T) {
	path := writeConfig(t, "[local]\nweb_port = 0\n")

	cfg := new(types.Config)
	if err := LoadIni(cfg, path); err != nil {
		t.Fatalf("LoadIni failed: %v", err)
	}
	if cfg.ProbeConf.JudgeURL != "https://httpbin.org/get" {
		t.Errorf("judge url default missing: %q", cfg.ProbeConf.JudgeURL)
	}
	if cfg.ProbeConf.Concurrency != 5 {
		t.Errorf("concurrency default missing: %d", cfg.ProbeConf.Concurrency)
	}
	if cfg.LocalConf.DataDir != "data" {
		t.Errorf("data dir default missing: %q", cfg.LocalConf.DataDir)
	}
}

func TestLoadIni_EnvOverride(t *testing.T) {
	path := writeConfig(t, "[local]\nweb_port = 8100\n")
	t.Setenv("PROXYHIVE_WEB_PORT", "9200")

	cfg := new(types.Config)
	if err := LoadIni(cfg, path); err != nil {
		t.Fatalf("LoadIni failed: %v", err)
	}
	if cfg.LocalConf.WebPort != 9200 {
		t.Errorf("env override not applied, got %d", cfg.LocalConf.WebPort)
	}
}

func TestLoadIni_MissingFile(t *testing.T) {
	cfg := new(types.Config)
	if err := LoadIni(cfg, filepath.Join(t.TempDir(), "absent.ini")); err == nil {
		t.Error("expected an error for a missing config file")
	}
}
