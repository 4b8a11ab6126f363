package settings

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	ConfigDir    = ".config/claudeview"
	SettingsFile = "config.toml"

	DefaultRoot     = "~/.claude/projects"
	DefaultDebounce = 300 * time.Millisecond
	DefaultListen   = "127.0.0.1:9316"
)

// Settings holds all application settings
type Settings struct {
	Root                 string          `toml:"root"`                   // directory tree of session logs
	Debounce             Duration        `toml:"debounce"`               // change-detector debounce window
	IncludeAgentSessions bool            `toml:"include_agent_sessions"` // index agent-*.jsonl side-chains
	Server               ServerSettings  `toml:"server"`
	Logging              LoggingSettings `toml:"logging"`
}

// ServerSettings configures the HTTP/websocket transport.
type ServerSettings struct {
	Listen string `toml:"listen"`
}

// LoggingSettings configures the slog handler.
type LoggingSettings struct {
	Level  string `toml:"level"`  // "debug", "info", "warn", "error"
	Format string `toml:"format"` // "text", "json"
}

// Duration is a time.Duration written as a string ("300ms") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns default settings
func Default() Settings {
	return Settings{
		Root:     DefaultRoot,
		Debounce: Duration{DefaultDebounce},
		Server:   ServerSettings{Listen: DefaultListen},
		Logging:  LoggingSettings{Level: "info", Format: "text"},
	}
}

// DefaultPath returns ~/.config/claudeview/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, SettingsFile), nil
}

// Load reads settings from path, or from DefaultPath when path is empty.
// A missing file yields defaults; a malformed one is an error.
func Load(path string) (Settings, error) {
	s := Default()
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return s, nil // Use defaults
		}
		path = p
	}

	if _, err := toml.DecodeFile(path, &s); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil // File doesn't exist, use defaults
		}
		return s, fmt.Errorf("load settings %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("load settings %s: %w", path, err)
	}
	return s, nil
}

// Save writes settings to path as TOML, creating the directory if needed.
func Save(path string, s Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(s); err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// Validate rejects values the runtime cannot use.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.Root) == "" {
		return errors.New("root must not be empty")
	}
	if s.Debounce.Duration <= 0 {
		return fmt.Errorf("debounce must be positive, got %s", s.Debounce)
	}
	switch strings.ToLower(s.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", s.Logging.Format)
	}
	return nil
}

// RootPath returns Root with a leading ~ expanded.
func (s Settings) RootPath() string {
	return ExpandHome(s.Root)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
