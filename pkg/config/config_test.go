package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

const sample = `
server:
  base_url: https://chat.example.com
  token: file-token
  push_url: wss://push.example.com/app/key
client:
  user_id: u1
  page_size: 40
cache:
  enabled: true
  path: /tmp/cache
  sweep_cron: "*/10 * * * *"
  max_conversations: 20
debug:
  addr: 127.0.0.1:9999
logging:
  level: debug
`

func TestLoadFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.BaseURL != "https://chat.example.com" || cfg.Server.Token != "file-token" {
		t.Fatalf("server section lost: %+v", cfg.Server)
	}
	if cfg.Client.UserID != "u1" || cfg.Client.PageSize != 40 {
		t.Fatalf("client section lost: %+v", cfg.Client)
	}
	if !cfg.Cache.Enabled || cfg.Cache.MaxConversations != 20 {
		t.Fatalf("cache section lost: %+v", cfg.Cache)
	}
	if cfg.DebugAddr() != "127.0.0.1:9999" {
		t.Fatalf("debug addr = %q", cfg.DebugAddr())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("missing file accepted")
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	t.Setenv("CHATSYNC_API_BASE", "https://env.example.com")
	t.Setenv("CHATSYNC_USER_ID", "env-user")
	t.Setenv("CHATSYNC_PAGE_SIZE", "15")
	t.Setenv("CHATSYNC_CACHE_ENABLED", "false")
	t.Setenv("CHATSYNC_LOG_LEVEL", "warn")

	cfg, envUsed, err := LoadEffective(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("load effective: %v", err)
	}
	if !envUsed {
		t.Fatalf("env overrides not detected")
	}
	if cfg.Server.BaseURL != "https://env.example.com" {
		t.Fatalf("env base url lost: %q", cfg.Server.BaseURL)
	}
	if cfg.Client.UserID != "env-user" || cfg.Client.PageSize != 15 {
		t.Fatalf("env client overrides lost: %+v", cfg.Client)
	}
	if cfg.Cache.Enabled {
		t.Fatalf("cache enabled override lost")
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("log level override lost: %q", cfg.Logging.Level)
	}
	// untouched values survive from the file
	if cfg.Server.Token != "file-token" {
		t.Fatalf("file value clobbered: %q", cfg.Server.Token)
	}
}

func TestLoadEffectiveMissingFileNotFatal(t *testing.T) {
	t.Setenv("CHATSYNC_API_BASE", "https://env.example.com")
	cfg, envUsed, err := LoadEffective(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load effective: %v", err)
	}
	if !envUsed || cfg.Server.BaseURL != "https://env.example.com" {
		t.Fatalf("env-only config lost: %+v", cfg.Server)
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("CHATSYNC_CONFIG", "/from/env.yaml")
	if got := ResolveConfigPath("/from/flag.yaml", true); got != "/from/flag.yaml" {
		t.Fatalf("flag did not win: %q", got)
	}
	if got := ResolveConfigPath("/default.yaml", false); got != "/from/env.yaml" {
		t.Fatalf("env not consulted: %q", got)
	}
}

func TestValidate(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	cfg.Client.UserID = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("missing user id accepted")
	}
}
