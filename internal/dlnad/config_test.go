package dlnad

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "plexdlnad.toml")
	data := []byte("" +
		"[server]\n" +
		"friendly_name = \"Den\"\n" +
		"\n" +
		"[plex]\n" +
		"url = \"http://plex.local:32400\"\n" +
		"token = \"secret\"\n" +
		"\n" +
		"[events]\n" +
		"enabled = true\n" +
		"\n" +
		"[events.embedded]\n" +
		"enabled = true\n" +
		"listen = \"0.0.0.0:1884\"\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.FriendlyName != "Den" {
		t.Fatalf("friendly name: %q", cfg.Server.FriendlyName)
	}
	if cfg.Server.Listen != DefaultListen {
		t.Fatalf("listen default: %q", cfg.Server.Listen)
	}
	if !cfg.Plex.Enabled || cfg.Plex.URL != "http://plex.local:32400" {
		t.Fatalf("expected plex enabled: %+v", cfg.Plex)
	}
	if !cfg.SSDP.Enabled || cfg.SSDP.MaxAge != DefaultMaxAge {
		t.Fatalf("ssdp defaults: %+v", cfg.SSDP)
	}
	if cfg.Events.Broker != "tcp://127.0.0.1:1884" {
		t.Fatalf("embedded broker url: %q", cfg.Events.Broker)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadConfigPodcastsOnly(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "plexdlnad.toml")
	data := []byte("" +
		"[podcasts]\n" +
		"enabled = true\n" +
		"feeds = [\"https://example.com/feed.xml\"]\n" +
		"\n" +
		"[ssdp]\n" +
		"enabled = false\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Plex.Enabled {
		t.Fatalf("expected plex disabled without [plex]")
	}
	if cfg.SSDP.Enabled {
		t.Fatalf("expected ssdp disabled")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := LoadConfig(t.TempDir()); err == nil {
		t.Fatalf("expected error for directory")
	}
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[server\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error without plex url")
	}
	cfg.Plex.URL = "http://plex:32400"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	cfg.Events.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for events without broker")
	}
	cfg.Plex.Enabled = false
	cfg.Events.Enabled = false
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error without catalogs")
	}
}

func TestApplyEnv(t *testing.T) {
	tmp := t.TempDir()
	envPath := filepath.Join(tmp, ".env")
	if err := os.WriteFile(envPath, []byte("PLEX_TOKEN=from-file\nPLEXDLNA_FRIENDLY_NAME=Attic\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("PLEX_URL", "http://env:32400")
	t.Setenv("PLEXDLNA_LISTEN", ":9000")
	t.Setenv("PLEXDLNA_LOG_LEVEL", "")
	for _, key := range []string{"PLEX_TOKEN", "PLEXDLNA_FRIENDLY_NAME"} {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}

	cfg := DefaultConfig()
	if err := ApplyEnv(&cfg, envPath, filepath.Join(tmp, "missing.env")); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Plex.URL != "http://env:32400" {
		t.Fatalf("plex url: %q", cfg.Plex.URL)
	}
	if cfg.Plex.Token != "from-file" || cfg.Server.FriendlyName != "Attic" {
		t.Fatalf("env file values not applied: %q %q", cfg.Plex.Token, cfg.Server.FriendlyName)
	}
	if cfg.Server.Listen != ":9000" {
		t.Fatalf("listen: %q", cfg.Server.Listen)
	}
	if cfg.Server.LogLevel != "info" {
		t.Fatalf("log level: %q", cfg.Server.LogLevel)
	}
}

func TestDefaultConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	path, err := DefaultConfigPath()
	if err != nil {
		t.Fatalf("default config path: %v", err)
	}
	if path != filepath.Join("/tmp/xdg", "plexdlna", "plexdlnad.toml") {
		t.Fatalf("unexpected path %q", path)
	}
}
