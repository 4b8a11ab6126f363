package types

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestDecodeRecordUserText(t *testing.T) {
	line := `{"type":"user","uuid":"u1","parentUuid":"p0","sessionId":"s1","timestamp":"2025-10-01T10:00:00.123Z","cwd":"/tmp/app","message":{"role":"user","content":"hello there"}}`

	rec, err := DecodeRecord([]byte(line))
	if err != nil {
		t.Fatalf("DecodeRecord returned error: %v", err)
	}
	if rec.Type != EventTypeUser || rec.UUID != "u1" || rec.ParentUUID != "p0" || rec.SessionID != "s1" {
		t.Fatalf("unexpected record header: %+v", rec)
	}
	want := time.Date(2025, 10, 1, 10, 0, 0, 123000000, time.UTC)
	if !rec.Timestamp.Equal(want) {
		t.Fatalf("unexpected timestamp: %v", rec.Timestamp)
	}
	text, ok := rec.Content.Text()
	if !ok || text != "hello there" {
		t.Fatalf("expected text content, got kind=%d text=%q", rec.Content.Kind(), text)
	}
	if !rec.IsMessage() {
		t.Fatalf("user record should be a message")
	}
}

func TestDecodeRecordAssistantBlocks(t *testing.T) {
	line := `{"type":"assistant","uuid":"a1","timestamp":"2025-10-01T10:00:01Z","message":{"model":"claude-x","id":"m1","role":"assistant","content":[{"type":"thinking","thinking":"hmm"},{"type":"text","text":"Sure."},{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"ls"}}]}}`

	rec, err := DecodeRecord([]byte(line))
	if err != nil {
		t.Fatalf("DecodeRecord returned error: %v", err)
	}
	blocks, ok := rec.Content.Blocks()
	if !ok {
		t.Fatalf("expected block content, got kind=%d", rec.Content.Kind())
	}
	if len(blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(blocks))
	}
	if blocks[2].Type != BlockToolUse || blocks[2].Name != "Bash" || string(blocks[2].Input) != `{"command":"ls"}` {
		t.Fatalf("unexpected tool_use block: %+v", blocks[2])
	}
	if rec.Model != "claude-x" {
		t.Fatalf("unexpected model: %q", rec.Model)
	}
	if got := rec.Content.PlainText(); got != "Sure." {
		t.Fatalf("unexpected plain text: %q", got)
	}
	if !rec.Content.HasBlockType(BlockThinking) {
		t.Fatalf("expected a thinking block")
	}
}

func TestDecodeRecordSummaryAndUnknown(t *testing.T) {
	rec, err := DecodeRecord([]byte(`{"type":"summary","summary":"Fix the build","leafUuid":"leaf-1"}`))
	if err != nil {
		t.Fatalf("DecodeRecord returned error: %v", err)
	}
	if rec.Type != EventTypeSummary || rec.UUID != "leaf-1" || rec.Content.PlainText() != "Fix the build" {
		t.Fatalf("unexpected summary record: %+v", rec)
	}
	if !rec.Timestamp.IsZero() {
		t.Fatalf("summary should carry no timestamp")
	}

	rec, err = DecodeRecord([]byte(`{"type":"progress","uuid":"x1","timestamp":"2025-10-01T10:00:00Z","data":{"n":1}}`))
	if err != nil {
		t.Fatalf("DecodeRecord returned error: %v", err)
	}
	if rec.Type != "progress" || rec.UUID != "x1" || rec.Content.Kind() != ContentNone {
		t.Fatalf("unexpected unknown record: %+v", rec)
	}
	if rec.Kind() != KindUnknown || rec.IsMessage() {
		t.Fatalf("progress should classify as unknown, got %s", rec.Kind())
	}
}

func TestKind(t *testing.T) {
	for tag, want := range map[string]Kind{
		"user":                  KindUser,
		"assistant":             KindAssistant,
		"file-history-snapshot": KindFileHistorySnapshot,
		"progress":              KindUnknown,
	} {
		if got := KindOf(tag); got != want {
			t.Errorf("KindOf(%q) = %v, want %v", tag, got, want)
		}
	}
	if KindQueueOperation.String() != "queue-operation" || KindUnknown.String() != "unknown" {
		t.Fatalf("unexpected names %q %q", KindQueueOperation, KindUnknown)
	}
}

func TestDecodeRecordErrors(t *testing.T) {
	cases := map[string]string{
		"not json":    `{"type":"user"`,
		"array":       `[1,2,3]`,
		"bad content": `{"type":"user","message":{"role":"user","content":42}}`,
		"empty":       ``,
	}
	for name, line := range cases {
		if _, err := DecodeRecord([]byte(line)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	_, err := DecodeRecord([]byte(`{"uuid":"x"}`))
	if !errors.Is(err, ErrNoDiscriminator) {
		t.Fatalf("expected ErrNoDiscriminator, got %v", err)
	}
}

func TestContentJSON(t *testing.T) {
	b, err := json.Marshal(TextContent("hi"))
	if err != nil || string(b) != `"hi"` {
		t.Fatalf("text content marshalled to %s (%v)", b, err)
	}
	b, err = json.Marshal(Content{})
	if err != nil || string(b) != `null` {
		t.Fatalf("empty content marshalled to %s (%v)", b, err)
	}

	var c Content
	if err := json.Unmarshal([]byte(`[{"type":"tool_result","tool_use_id":"t1","content":[{"type":"text","text":"ok"}]}]`), &c); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	blocks, ok := c.Blocks()
	if !ok || len(blocks) != 1 {
		t.Fatalf("expected one block, got %+v", c)
	}
	if got := blocks[0].ResultText(); got != "ok" {
		t.Fatalf("unexpected result text: %q", got)
	}
}

func TestTitleText(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want string
		ok   bool
	}{
		{"plain", Record{Type: EventTypeUser, Content: TextContent("  fix   the\nbuild ")}, "fix the build", true},
		{"meta", Record{Type: EventTypeUser, IsMeta: true, Content: TextContent("x")}, "", false},
		{"assistant", Record{Type: EventTypeAssistant, Content: TextContent("x")}, "", false},
		{"command", Record{Type: EventTypeUser, Content: TextContent("<command-name>/clear</command-name>")}, "", false},
		{"caveat", Record{Type: EventTypeUser, Content: TextContent("Caveat: the messages below")}, "", false},
		{"tool result", Record{Type: EventTypeUser, Content: BlockContent([]ContentBlock{{Type: BlockToolResult, ToolUseID: "t1"}})}, "", false},
		{"image ref", Record{Type: EventTypeUser, Content: TextContent("[Image: source: /tmp/a.png]")}, "", false},
		{"blocks", Record{Type: EventTypeUser, Content: BlockContent([]ContentBlock{{Type: BlockText, Text: "add tests"}})}, "add tests", true},
	}
	for _, tt := range tests {
		got, ok := TitleText(tt.rec)
		if got != tt.want || ok != tt.ok {
			t.Errorf("%s: got (%q, %v), want (%q, %v)", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("héllo world", 5); got != "héllo..." {
		t.Fatalf("unexpected truncation: %q", got)
	}
	if got := Truncate("short", 10); got != "short" {
		t.Fatalf("unexpected truncation: %q", got)
	}
}
