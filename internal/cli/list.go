package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"claudeview/internal/index"
	"claudeview/internal/types"
)

func newListCmd(g *globalFlags) *cobra.Command {
	var (
		limit   int
		project string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently active first",
		Example: `  claudeview list
  claudeview list --limit 10
  claudeview list --project /home/me/app`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.settings(cmd)
			if err != nil {
				return err
			}
			rt, err := openRuntime(s, newLogger(cmd, s, true), false)
			if err != nil {
				return err
			}
			defer rt.Close()

			sessions, err := rt.ListSessions(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}
			sessions = filterSessions(sessions, project, limit)

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), sessions)
			}
			printSessions(cmd.OutOrStdout(), sessions, project)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of sessions to display (0 for all)")
	cmd.Flags().StringVar(&project, "project", "", "Filter by project directory or decoded project path")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newProjectsCmd(g *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List projects with session counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.settings(cmd)
			if err != nil {
				return err
			}
			rt, err := openRuntime(s, newLogger(cmd, s, true), false)
			if err != nil {
				return err
			}
			defer rt.Close()

			projects, err := rt.ListProjects(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list projects: %w", err)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), projects)
			}
			printProjects(cmd.OutOrStdout(), projects)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func filterSessions(sessions []types.Session, project string, limit int) []types.Session {
	out := make([]types.Session, 0, len(sessions))
	for _, s := range sessions {
		if project != "" && s.ProjectPath != project && index.ProjectName(s.ProjectPath) != project {
			continue
		}
		out = append(out, s)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func printSessions(w io.Writer, sessions []types.Session, project string) {
	if len(sessions) == 0 {
		if project != "" {
			fmt.Fprintf(w, "No sessions found for project: %s\n", project)
		} else {
			fmt.Fprintln(w, "No sessions found.")
		}
		return
	}

	fmt.Fprintf(w, "Showing %d session(s)\n\n", len(sessions))
	for i, s := range sessions {
		fmt.Fprintf(w, "[%d] %s\n", i+1, s.ID)
		fmt.Fprintf(w, "    Title:    %s\n", s.Title)
		fmt.Fprintf(w, "    Project:  %s\n", index.ProjectName(s.ProjectPath))
		fmt.Fprintf(w, "    Messages: %d (%s)\n", s.MessageCount, humanize.Bytes(uint64(s.Size)))
		if !s.LastActivity.IsZero() {
			fmt.Fprintf(w, "    Active:   %s\n", humanize.Time(s.LastActivity))
		}
		fmt.Fprintln(w)
	}
}

func printProjects(w io.Writer, projects []types.Project) {
	if len(projects) == 0 {
		fmt.Fprintln(w, "No projects found.")
		return
	}
	for _, p := range projects {
		active := "never"
		if !p.LastActivity.IsZero() {
			active = humanize.Time(p.LastActivity)
		}
		fmt.Fprintf(w, "%-50s %4d session(s)  %s\n", p.Name, p.SessionCount, active)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
