// Package cli implements the claudeview command line.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"claudeview/internal/logging"
	"claudeview/internal/runtime"
	"claudeview/internal/settings"
)

var versionInfo = "dev"

// SetVersion sets the version information from build-time ldflags
func SetVersion(version, commit, date string) {
	versionInfo = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
}

// Execute runs the CLI
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// globalFlags are the persistent flags shared by every subcommand. A flag
// the user did not set leaves the config file value in place.
type globalFlags struct {
	configPath    string
	root          string
	debounce      time.Duration
	includeAgents bool
	logLevel      string
	logFormat     string
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	g := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "claudeview",
		Short: "Live viewer for Claude Code session logs",
		Long: `claudeview - browse and follow Claude Code conversations as they happen

Indexes the session logs under ~/.claude/projects, keeps the index current
while sessions run, and serves listings and conversations over HTTP,
websocket push and MCP.`,
		Version:       versionInfo,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&g.configPath, "config", "", "Config file (default ~/.config/claudeview/config.toml)")
	flags.StringVar(&g.root, "root", "", "Session log root (default ~/.claude/projects)")
	flags.DurationVar(&g.debounce, "debounce", settings.DefaultDebounce, "Change detector debounce window")
	flags.BoolVar(&g.includeAgents, "include-agents", false, "Index agent side-chain logs")
	flags.StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&g.logFormat, "log-format", "", "Log format: text, json")

	rootCmd.AddCommand(
		newServeCmd(g),
		newListCmd(g),
		newProjectsCmd(g),
		newShowCmd(g),
		newMCPCmd(g),
		newConfigCmd(g),
	)
	return rootCmd
}

// settings loads the config file and applies any flags set on cmd.
func (g *globalFlags) settings(cmd *cobra.Command) (settings.Settings, error) {
	s, err := settings.Load(g.configPath)
	if err != nil {
		return s, err
	}
	flags := cmd.Flags()
	if flags.Changed("root") {
		s.Root = g.root
	}
	if flags.Changed("debounce") {
		s.Debounce = settings.Duration{Duration: g.debounce}
	}
	if flags.Changed("include-agents") {
		s.IncludeAgentSessions = g.includeAgents
	}
	if flags.Changed("log-level") {
		s.Logging.Level = g.logLevel
	}
	if flags.Changed("log-format") {
		s.Logging.Format = g.logFormat
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// newLogger writes to the command's stderr. Interactive commands pass quiet
// so routine info lines do not mix with their output unless asked for.
func newLogger(cmd *cobra.Command, s settings.Settings, quiet bool) *slog.Logger {
	level := logging.ParseLevel(s.Logging.Level)
	if quiet && !cmd.Flags().Changed("log-level") && level < slog.LevelWarn {
		level = slog.LevelWarn
	}
	return logging.New(cmd.ErrOrStderr(), level, s.Logging.Format)
}

// openRuntime builds a runtime over the configured root and indexes it.
// watch also starts the change detector.
func openRuntime(s settings.Settings, logger *slog.Logger, watch bool) (*runtime.Runtime, error) {
	rt := runtime.New(runtime.Options{
		Debounce:             s.Debounce.Duration,
		IncludeAgentSessions: s.IncludeAgentSessions,
		Logger:               logger,
	})
	if err := rt.InitIndex(s.RootPath()); err != nil {
		return nil, err
	}
	if watch {
		if err := rt.StartWatching(); err != nil {
			rt.Close()
			return nil, err
		}
	}
	return rt, nil
}
