package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"claudeview/internal/runtime"
	"claudeview/internal/types"
)

const previewLength = 300

func newShowCmd(g *globalFlags) *cobra.Command {
	var (
		offset int
		follow bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a conversation, optionally following new records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if offset < 0 {
				return fmt.Errorf("offset must not be negative")
			}
			s, err := g.settings(cmd)
			if err != nil {
				return err
			}
			rt, err := openRuntime(s, newLogger(cmd, s, true), follow)
			if err != nil {
				return err
			}
			defer rt.Close()

			if _, ok := rt.LookupSession(id); !ok {
				return fmt.Errorf("session not found: %s", id)
			}

			emit := func(records []types.Record) error {
				if asJSON {
					for _, r := range records {
						if err := writeJSONLine(cmd.OutOrStdout(), r); err != nil {
							return err
						}
					}
					return nil
				}
				printRecords(cmd.OutOrStdout(), records)
				return nil
			}

			records, next, err := rt.GetConversationIncremental(id, offset)
			if err != nil {
				return err
			}
			if err := emit(records); err != nil {
				return err
			}
			if !follow {
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return followSession(ctx, rt, id, next, emit)
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "Line offset to start from")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing records as they are appended")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print one JSON record per line")
	return cmd
}

// followSession prints records appended to a session until ctx is done.
func followSession(ctx context.Context, rt *runtime.Runtime, id string, offset int, emit func([]types.Record) error) error {
	changed := make(chan struct{}, 1)
	h := rt.OnSessionChanged(func(c types.SessionChange) error {
		if c.SessionID != id {
			return nil
		}
		select {
		case changed <- struct{}{}:
		default:
		}
		return nil
	})
	defer rt.OffSessionChanged(h)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			records, next, err := rt.GetConversationIncremental(id, offset)
			if err != nil {
				return err
			}
			offset = next
			if err := emit(records); err != nil {
				return err
			}
		}
	}
}

func printRecords(w io.Writer, records []types.Record) {
	for _, r := range records {
		line := formatRecord(r)
		if line == "" {
			continue
		}
		fmt.Fprintln(w, line)
	}
}

// formatRecord renders one record as a single line. Records with nothing
// to show (snapshots, empty system lines) render as "".
func formatRecord(r types.Record) string {
	var parts []string
	if blocks, ok := r.Content.Blocks(); ok {
		for _, b := range blocks {
			switch b.Type {
			case types.BlockText:
				parts = append(parts, b.Text)
			case types.BlockToolUse:
				if summary := types.ToolSummary(b); summary != "" {
					parts = append(parts, "[tool: "+b.Name+"] "+summary)
				} else {
					parts = append(parts, "[tool: "+b.Name+"]")
				}
			case types.BlockToolResult:
				parts = append(parts, "[result] "+b.ResultText())
			case types.BlockThinking:
				parts = append(parts, "[thinking]")
			case types.BlockImage:
				parts = append(parts, "[image]")
			}
		}
	} else if text, ok := r.Content.Text(); ok {
		parts = append(parts, text)
	}

	body := strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
	if body == "" {
		return ""
	}
	ts := "--:--:--"
	if !r.Timestamp.IsZero() {
		ts = r.Timestamp.Local().Format("15:04:05")
	}
	return fmt.Sprintf("%s %-9s %s", ts, r.Type, types.Truncate(body, previewLength))
}

func writeJSONLine(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}
