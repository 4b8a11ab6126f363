package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"claudeview/internal/runtime"
	"claudeview/internal/types"
)

func record(uuid string) string {
	return fmt.Sprintf(`{"type":"user","uuid":%q,"timestamp":"2025-10-01T10:00:00Z","message":{"role":"user","content":"msg %s"}}`, uuid, uuid) + "\n"
}

func appendTo(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("append: %v", err)
	}
}

// newTestServer starts a watching runtime over a temp root holding one
// session s1 with two records.
func newTestServer(t *testing.T) (*Server, *httptest.Server, string) {
	t.Helper()
	root := t.TempDir()
	proj := filepath.Join(root, "-home-user-app")
	if err := os.MkdirAll(proj, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	logPath := filepath.Join(proj, "s1.jsonl")
	appendTo(t, logPath, record("u1")+record("u2"))

	rt := runtime.New(runtime.Options{Debounce: 40 * time.Millisecond})
	if err := rt.InitIndex(root); err != nil {
		t.Fatalf("InitIndex: %v", err)
	}
	if err := rt.StartWatching(); err != nil {
		t.Fatalf("StartWatching: %v", err)
	}
	t.Cleanup(rt.Close)

	srv := New(rt, Options{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.closeClients()
		ts.Close()
	})
	return srv, ts, logPath
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp.StatusCode
}

func TestListEndpoints(t *testing.T) {
	_, ts, _ := newTestServer(t)

	var sessions struct {
		Sessions []types.Session `json:"sessions"`
	}
	if code := getJSON(t, ts.URL+"/api/sessions", &sessions); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(sessions.Sessions) != 1 || sessions.Sessions[0].ID != "s1" || sessions.Sessions[0].Title != "msg u1" {
		t.Fatalf("unexpected sessions: %+v", sessions.Sessions)
	}

	var filtered struct {
		Sessions []types.Session `json:"sessions"`
	}
	getJSON(t, ts.URL+"/api/sessions?project=other", &filtered)
	if len(filtered.Sessions) != 0 {
		t.Fatalf("project filter ignored: %+v", filtered.Sessions)
	}

	var projects struct {
		Projects []types.Project `json:"projects"`
	}
	getJSON(t, ts.URL+"/api/projects", &projects)
	if len(projects.Projects) != 1 || projects.Projects[0].Name != "/home/user/app" {
		t.Fatalf("unexpected projects: %+v", projects.Projects)
	}
}

func TestConversationEndpoint(t *testing.T) {
	_, ts, _ := newTestServer(t)

	var full ConversationResponse
	if code := getJSON(t, ts.URL+"/api/sessions/s1", &full); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(full.Records) != 2 || full.NextOffset != 2 {
		t.Fatalf("unexpected full read: %+v", full)
	}

	var tail ConversationResponse
	getJSON(t, ts.URL+"/api/sessions/s1?offset=1", &tail)
	if len(tail.Records) != 1 || tail.Records[0].UUID != "u2" || tail.NextOffset != 2 {
		t.Fatalf("unexpected incremental read: %+v", tail)
	}

	var unknown ConversationResponse
	getJSON(t, ts.URL+"/api/sessions/nope", &unknown)
	if unknown.Records == nil || len(unknown.Records) != 0 {
		t.Fatalf("unknown session should give empty records, got %+v", unknown)
	}

	var bad map[string]string
	if code := getJSON(t, ts.URL+"/api/sessions/s1?offset=-3", &bad); code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", code)
	}
}

func TestHealth(t *testing.T) {
	_, ts, _ := newTestServer(t)
	var body map[string]any
	getJSON(t, ts.URL+"/healthz", &body)
	if body["status"] != "ok" || body["watching"] != true {
		t.Fatalf("unexpected health: %v", body)
	}
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads envelopes until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, eventType string) json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var env struct {
			EventType string          `json:"eventType"`
			SessionID string          `json:"sessionId"`
			Payload   json.RawMessage `json:"payload"`
		}
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("waiting for %s: %v", eventType, err)
		}
		if env.EventType == eventType {
			return env.Payload
		}
	}
}

func TestWebsocketFollowPushesNewRecords(t *testing.T) {
	_, ts, logPath := newTestServer(t)
	conn := dial(t, ts)

	if err := conn.WriteJSON(ClientMessage{Type: "follow", SessionID: "s1", Offset: 0}); err != nil {
		t.Fatalf("write follow: %v", err)
	}
	var first RecordsPayload
	if err := json.Unmarshal(readUntil(t, conn, types.EventSessionRecords), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(first.Records) != 2 || first.NextOffset != 2 {
		t.Fatalf("unexpected initial records: %+v", first)
	}

	appendTo(t, logPath, record("u3"))

	readUntil(t, conn, types.EventSessionChanged)
	var next RecordsPayload
	if err := json.Unmarshal(readUntil(t, conn, types.EventSessionRecords), &next); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if next.Offset != 2 || next.NextOffset != 3 || len(next.Records) != 1 || next.Records[0].UUID != "u3" {
		t.Fatalf("unexpected pushed records: %+v", next)
	}
}

func TestWebsocketIndexChange(t *testing.T) {
	_, ts, logPath := newTestServer(t)
	conn := dial(t, ts)

	// Give the server a moment to register the subscription.
	time.Sleep(50 * time.Millisecond)
	appendTo(t, filepath.Join(filepath.Dir(logPath), "s2.jsonl"), record("x1"))

	var change types.IndexChange
	if err := json.Unmarshal(readUntil(t, conn, types.EventIndexChanged), &change); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if change.Reason != types.ReasonFS {
		t.Fatalf("reason = %q", change.Reason)
	}
}

func TestWebsocketUnknownMessage(t *testing.T) {
	_, ts, _ := newTestServer(t)
	conn := dial(t, ts)
	conn.WriteJSON(ClientMessage{Type: "shout"})
	payload := readUntil(t, conn, types.EventError)
	if !strings.Contains(string(payload), "unknown message type") {
		t.Fatalf("unexpected error payload: %s", payload)
	}
}

func TestClientDisconnectUnsubscribes(t *testing.T) {
	srv, ts, _ := newTestServer(t)
	rt := srv.core.(*runtime.Runtime)

	conn := dial(t, ts)
	deadline := time.Now().Add(5 * time.Second)
	for srv.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if idx, sess := rt.Subscribers(); idx != 1 || sess != 1 {
		t.Fatalf("subscribers = %d/%d, want 1/1", idx, sess)
	}

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	for srv.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if srv.ClientCount() != 0 {
		t.Fatal("client not removed after disconnect")
	}
	if idx, sess := rt.Subscribers(); idx != 0 || sess != 0 {
		t.Fatalf("subscribers = %d/%d after disconnect, want 0/0", idx, sess)
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	srv := New(runtime.New(runtime.Options{}), Options{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	var body map[string]any
	getJSON(t, "http://"+ln.Addr().String()+"/healthz", &body)
	if body["watching"] != false {
		t.Fatalf("uninitialized runtime should not be watching: %v", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
