package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"claudeview/internal/index"
	"claudeview/internal/types"
)

type fakeCore struct {
	sessions []types.Session
	records  map[string][]types.Record
}

func (f *fakeCore) ListSessions(ctx context.Context) ([]types.Session, error) {
	return f.sessions, nil
}

func (f *fakeCore) ListProjects(ctx context.Context) ([]types.Project, error) {
	return []types.Project{{Path: "/root/-work-api", Name: "/work/api", SessionCount: 2}}, nil
}

func (f *fakeCore) LookupSession(id string) (index.Entry, bool) {
	for _, s := range f.sessions {
		if s.ID == id {
			return index.Entry{SessionID: id, FilePath: "/root/" + id + ".jsonl", ProjectPath: s.ProjectPath}, true
		}
	}
	return index.Entry{}, false
}

func (f *fakeCore) GetConversationIncremental(id string, offset int) ([]types.Record, int, error) {
	all := f.records[id]
	if offset >= len(all) {
		return []types.Record{}, offset, nil
	}
	return all[offset:], len(all), nil
}

func newFake() *fakeCore {
	now := time.Date(2025, 10, 1, 10, 0, 0, 0, time.UTC)
	f := &fakeCore{records: map[string][]types.Record{}}
	for i := 0; i < 3; i++ {
		project := "/root/-work-api"
		if i == 2 {
			project = "/root/-work-web"
		}
		id := fmt.Sprintf("s%d", i)
		f.sessions = append(f.sessions, types.Session{ID: id, ProjectPath: project, Title: "t" + id, LastActivity: now})
	}
	for i := 0; i < 5; i++ {
		f.records["s0"] = append(f.records["s0"], types.Record{Type: types.EventTypeUser, UUID: fmt.Sprintf("u%d", i)})
	}
	return f
}

func call(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any, out any) *mcp.CallToolResult {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	res, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if res.IsError || out == nil {
		return res
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content %T", res.Content[0])
	}
	if err := json.Unmarshal([]byte(text.Text), out); err != nil {
		t.Fatalf("decode result: %v\n%s", err, text.Text)
	}
	return res
}

func TestListSessions(t *testing.T) {
	s := New(newFake(), Options{})

	var all struct {
		Sessions []types.Session `json:"sessions"`
		Total    int             `json:"total"`
	}
	call(t, s.handleListSessions, map[string]any{}, &all)
	if len(all.Sessions) != 3 || all.Total != 3 {
		t.Fatalf("unexpected sessions: %+v", all)
	}

	var limited struct {
		Sessions []types.Session `json:"sessions"`
	}
	call(t, s.handleListSessions, map[string]any{"limit": float64(1)}, &limited)
	if len(limited.Sessions) != 1 {
		t.Fatalf("limit ignored: %d sessions", len(limited.Sessions))
	}

	var byProject struct {
		Sessions []types.Session `json:"sessions"`
	}
	call(t, s.handleListSessions, map[string]any{"project": "/work/web"}, &byProject)
	if len(byProject.Sessions) != 1 || byProject.Sessions[0].ID != "s2" {
		t.Fatalf("project filter: %+v", byProject.Sessions)
	}
}

func TestListProjects(t *testing.T) {
	s := New(newFake(), Options{})
	var out struct {
		Projects []types.Project `json:"projects"`
	}
	call(t, s.handleListProjects, nil, &out)
	if len(out.Projects) != 1 || out.Projects[0].SessionCount != 2 {
		t.Fatalf("unexpected projects: %+v", out.Projects)
	}
}

func TestGetSession(t *testing.T) {
	s := New(newFake(), Options{})

	var out struct {
		Session  types.Session `json:"session"`
		FilePath string        `json:"filePath"`
	}
	call(t, s.handleGetSession, map[string]any{"session_id": "s1"}, &out)
	if out.Session.Title != "ts1" || out.FilePath != "/root/s1.jsonl" {
		t.Fatalf("unexpected session: %+v", out)
	}

	if res := call(t, s.handleGetSession, map[string]any{"session_id": "missing"}, nil); !res.IsError {
		t.Fatal("expected error result for unknown session")
	}
	if res := call(t, s.handleGetSession, map[string]any{}, nil); !res.IsError {
		t.Fatal("expected error result without session_id")
	}
}

func TestGetConversation(t *testing.T) {
	s := New(newFake(), Options{})

	var out struct {
		Offset     int            `json:"offset"`
		NextOffset int            `json:"next_offset"`
		Skipped    int            `json:"skipped"`
		Records    []types.Record `json:"records"`
	}
	call(t, s.handleGetConversation, map[string]any{"session_id": "s0", "offset": float64(1)}, &out)
	if out.NextOffset != 5 || len(out.Records) != 4 || out.Records[0].UUID != "u1" {
		t.Fatalf("unexpected read: %+v", out)
	}

	call(t, s.handleGetConversation, map[string]any{"session_id": "s0", "tail": float64(2)}, &out)
	if out.Skipped != 3 || len(out.Records) != 2 || out.Records[0].UUID != "u3" || out.NextOffset != 5 {
		t.Fatalf("unexpected tail read: %+v", out)
	}

	if res := call(t, s.handleGetConversation, map[string]any{"session_id": "s0", "offset": float64(-1)}, nil); !res.IsError {
		t.Fatal("expected error result for negative offset")
	}
}

func TestToolDefinitions(t *testing.T) {
	tools := []mcp.Tool{
		CreateListSessionsTool(),
		CreateListProjectsTool(),
		CreateGetSessionTool(),
		CreateGetConversationTool(),
	}
	want := []string{"list_sessions", "list_projects", "get_session", "get_conversation"}
	for i, tool := range tools {
		if tool.Name != want[i] {
			t.Errorf("tool %d name = %q, want %q", i, tool.Name, want[i])
		}
	}
	required := CreateGetConversationTool().InputSchema.Required
	if len(required) != 1 || required[0] != "session_id" {
		t.Fatalf("get_conversation required = %v", required)
	}
}
