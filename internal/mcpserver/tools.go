package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"claudeview/internal/index"
	"claudeview/internal/types"
)

const (
	defaultSessionLimit = 20
	defaultRecordLimit  = 200
)

// CreateListSessionsTool creates the list_sessions tool definition
func CreateListSessionsTool() mcp.Tool {
	return mcp.NewTool("list_sessions",
		mcp.WithDescription("List Claude Code sessions, most recently active first, with title, project and message count."),
		mcp.WithString("project",
			mcp.Description("Filter by project directory or decoded project path"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max sessions to return (default: 20)"),
		),
	)
}

// CreateListProjectsTool creates the list_projects tool definition
func CreateListProjectsTool() mcp.Tool {
	return mcp.NewTool("list_projects",
		mcp.WithDescription("List projects that have sessions, with session counts and last activity."),
	)
}

// CreateGetSessionTool creates the get_session tool definition
func CreateGetSessionTool() mcp.Tool {
	return mcp.NewTool("get_session",
		mcp.WithDescription("Get metadata for one session: title, project, log path, message count and timestamps."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session ID (the log file name without .jsonl)"),
		),
	)
}

// CreateGetConversationTool creates the get_conversation tool definition
func CreateGetConversationTool() mcp.Tool {
	return mcp.NewTool("get_conversation",
		mcp.WithDescription("Read the records of a session from a line offset. Pass next_offset from a previous call to read only what was appended since."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session ID to read"),
		),
		mcp.WithNumber("offset",
			mcp.Description("Line offset to read from (default: 0)"),
		),
		mcp.WithNumber("tail",
			mcp.Description("Return only the last N of the new records (default: 200)"),
		),
	)
}

func (s *Service) handleListSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions, err := s.core.ListSessions(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list sessions failed: %v", err)), nil
	}

	project := req.GetString("project", "")
	limit := req.GetInt("limit", defaultSessionLimit)
	if limit <= 0 {
		limit = defaultSessionLimit
	}

	results := make([]types.Session, 0, min(limit, len(sessions)))
	for _, sess := range sessions {
		if project != "" && sess.ProjectPath != project && index.ProjectName(sess.ProjectPath) != project {
			continue
		}
		results = append(results, sess)
		if len(results) >= limit {
			break
		}
	}
	return jsonResult(map[string]any{"sessions": results, "total": len(sessions)})
}

func (s *Service) handleListProjects(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projects, err := s.core.ListProjects(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list projects failed: %v", err)), nil
	}
	return jsonResult(map[string]any{"projects": projects})
}

func (s *Service) handleGetSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	entry, ok := s.core.LookupSession(id)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("session not found: %s", id)), nil
	}

	sessions, err := s.core.ListSessions(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list sessions failed: %v", err)), nil
	}
	for _, sess := range sessions {
		if sess.ID == id {
			return jsonResult(map[string]any{"session": sess, "filePath": entry.FilePath})
		}
	}
	// Indexed but not yet summarized (the listing is rebuilt on the next change).
	return jsonResult(map[string]any{
		"session":  types.Session{ID: id, ProjectPath: entry.ProjectPath, Title: id},
		"filePath": entry.FilePath,
	})
}

func (s *Service) handleGetConversation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	offset := req.GetInt("offset", 0)
	if offset < 0 {
		return mcp.NewToolResultError("offset must not be negative"), nil
	}
	tail := req.GetInt("tail", defaultRecordLimit)
	if tail <= 0 {
		tail = defaultRecordLimit
	}

	records, next, err := s.core.GetConversationIncremental(id, offset)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read conversation failed: %v", err)), nil
	}

	// Keep the newest records so next_offset stays a valid resume point.
	skipped := 0
	if len(records) > tail {
		skipped = len(records) - tail
		records = records[skipped:]
	}
	if records == nil {
		records = []types.Record{}
	}
	return jsonResult(map[string]any{
		"session_id":  id,
		"offset":      offset,
		"next_offset": next,
		"skipped":     skipped,
		"records":     records,
	})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
