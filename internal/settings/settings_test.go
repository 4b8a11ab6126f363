package settings

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "none.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if s.Root != DefaultRoot || s.Debounce.Duration != DefaultDebounce || s.Server.Listen != DefaultListen {
		t.Fatalf("unexpected defaults: %+v", s)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `root = "/data/claude"
debounce = "150ms"
include_agent_sessions = true

[server]
listen = ":8080"

[logging]
level = "debug"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if s.Root != "/data/claude" || s.Debounce.Duration != 150*time.Millisecond || !s.IncludeAgentSessions {
		t.Fatalf("unexpected settings: %+v", s)
	}
	if s.Server.Listen != ":8080" || s.Logging.Level != "debug" {
		t.Fatalf("unexpected nested settings: %+v", s)
	}
	if s.Logging.Format != "text" {
		t.Fatalf("unset keys should keep defaults, format=%q", s.Logging.Format)
	}
}

func TestLoadInvalid(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"syntax":   `root = `,
		"duration": `debounce = "soon"`,
		"negative": `debounce = "-1s"`,
		"format":   "[logging]\nformat = \"xml\"",
	}
	for name, content := range cases {
		path := filepath.Join(dir, name+".toml")
		os.WriteFile(path, []byte(content), 0o644)
		if _, err := Load(path); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	s := Default()
	s.Debounce = Duration{2 * time.Second}

	if err := Save(path, s); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `debounce = "2s"`) {
		t.Fatalf("duration not written as string:\n%s", data)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if loaded.Debounce.Duration != 2*time.Second {
		t.Fatalf("unexpected debounce %s", loaded.Debounce)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandHome("~/.claude/projects"); got != filepath.Join(home, ".claude", "projects") {
		t.Fatalf("unexpected expansion: %s", got)
	}
	if got := ExpandHome("/abs"); got != "/abs" {
		t.Fatalf("absolute path changed: %s", got)
	}
}
