package server

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"claudeview/internal/pubsub"
	"claudeview/internal/types"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

var errSlowClient = errors.New("websocket client send buffer full")

// ClientMessage is a request sent by a websocket client.
//
//	{"type":"follow","sessionId":"...","offset":0}
//	{"type":"unfollow","sessionId":"..."}
type ClientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Offset    int    `json:"offset"`
}

// RecordsPayload carries records pushed for a followed session.
type RecordsPayload struct {
	Offset     int            `json:"offset"`
	NextOffset int            `json:"nextOffset"`
	Records    []types.Record `json:"records"`
}

// client is one websocket connection. Subscription callbacks only enqueue;
// the writer goroutine does all I/O, including conversation reads.
type client struct {
	id     string
	conn   *websocket.Conn
	send   chan types.EventEnvelope
	pulls  chan string
	done   chan struct{}
	once   sync.Once
	server *Server

	indexHandle   pubsub.Handle
	sessionHandle pubsub.Handle

	mu      sync.Mutex
	follows map[string]int // session id -> next offset to push
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	c := &client{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan types.EventEnvelope, sendBuffer),
		pulls:   make(chan string, sendBuffer),
		done:    make(chan struct{}),
		server:  s,
		follows: make(map[string]int),
	}
	c.indexHandle = s.core.OnIndexChanged(c.onIndexChanged)
	c.sessionHandle = s.core.OnSessionChanged(c.onSessionChanged)

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.logger.Info("websocket client connected", "client", c.id, "remote", r.RemoteAddr)

	go c.writeLoop()
	c.readLoop()
}

func (s *Server) closeClients() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// close detaches the client from the runtime and the server. Safe to call
// from any goroutine, any number of times.
func (c *client) close() {
	c.once.Do(func() {
		c.server.core.OffIndexChanged(c.indexHandle)
		c.server.core.OffSessionChanged(c.sessionHandle)
		close(c.done)
		c.conn.Close()

		c.server.mu.Lock()
		delete(c.server.clients, c.id)
		c.server.mu.Unlock()
		c.server.logger.Info("websocket client disconnected", "client", c.id)
	})
}

func (c *client) enqueue(env types.EventEnvelope) error {
	select {
	case <-c.done:
		return pubsub.ErrStop
	default:
	}
	select {
	case c.send <- env:
		return nil
	default:
		go c.close()
		return errSlowClient
	}
}

func (c *client) onIndexChanged(change types.IndexChange) error {
	return c.enqueue(types.EventEnvelope{
		EventType: types.EventIndexChanged,
		Payload:   change,
	})
}

func (c *client) onSessionChanged(change types.SessionChange) error {
	return c.enqueue(types.EventEnvelope{
		EventType: types.EventSessionChanged,
		SessionID: change.SessionID,
		Payload:   change,
	})
}

func (c *client) readLoop() {
	defer c.close()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.server.logger.Debug("websocket read ended", "client", c.id, "err", err)
			}
			return
		}

		switch msg.Type {
		case "follow":
			if msg.SessionID == "" {
				c.enqueue(errorEnvelope("", "follow requires sessionId"))
				continue
			}
			offset := max(msg.Offset, 0)
			c.mu.Lock()
			c.follows[msg.SessionID] = offset
			c.mu.Unlock()
			select {
			case c.pulls <- msg.SessionID:
			case <-c.done:
				return
			}
		case "unfollow":
			c.mu.Lock()
			delete(c.follows, msg.SessionID)
			c.mu.Unlock()
		default:
			c.enqueue(errorEnvelope(msg.SessionID, "unknown message type "+msg.Type))
		}
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case <-c.done:
			return
		case env := <-c.send:
			if err := c.write(env); err != nil {
				return
			}
			if env.EventType == types.EventSessionChanged {
				if change, ok := env.Payload.(types.SessionChange); ok {
					c.server.ensureIndexed(change)
				}
				if err := c.push(env.SessionID); err != nil {
					return
				}
			}
		case id := <-c.pulls:
			if err := c.push(id); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// push sends any records of a followed session past the client's offset.
func (c *client) push(sessionID string) error {
	c.mu.Lock()
	offset, following := c.follows[sessionID]
	c.mu.Unlock()
	if !following {
		return nil
	}

	records, next, err := c.server.core.GetConversationIncremental(sessionID, offset)
	if err != nil {
		return c.write(errorEnvelope(sessionID, err.Error()))
	}

	c.mu.Lock()
	if cur, ok := c.follows[sessionID]; ok && cur == offset {
		c.follows[sessionID] = next
	}
	c.mu.Unlock()

	if len(records) == 0 && next == offset && offset > 0 {
		return nil
	}
	if records == nil {
		records = []types.Record{}
	}
	return c.write(types.EventEnvelope{
		EventType: types.EventSessionRecords,
		SessionID: sessionID,
		Payload: RecordsPayload{
			Offset:     offset,
			NextOffset: next,
			Records:    records,
		},
	})
}

func (c *client) write(env types.EventEnvelope) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(env); err != nil {
		c.server.logger.Debug("websocket write failed", "client", c.id, "err", err)
		return err
	}
	return nil
}

// ensureIndexed registers a session log the watcher saw written but the
// index does not know yet, so listings and reads pick it up.
func (s *Server) ensureIndexed(change types.SessionChange) {
	if change.SessionID == "" || change.FilePath == "" {
		return
	}
	if entry, ok := s.core.LookupSession(change.SessionID); ok && entry.FilePath == change.FilePath {
		return
	}
	if err := s.core.RegisterDiscoveredFile(change.SessionID, change.FilePath); err != nil {
		s.logger.Warn("failed to register discovered session", "session", change.SessionID, "err", err)
		return
	}
	s.core.InvalidateHistoryCache()
}

func errorEnvelope(sessionID, msg string) types.EventEnvelope {
	return types.EventEnvelope{
		EventType: types.EventError,
		SessionID: sessionID,
		Payload:   map[string]string{"message": msg},
	}
}
