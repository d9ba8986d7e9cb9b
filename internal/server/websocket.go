package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/E1venking/Kuleli-English-Centre/internal/service"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Configure appropriately for production
	},
}

// WebSocketMessage is the envelope for every message pushed to a session's
// watchers.
type WebSocketMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// SessionHub fans machine transitions out to the websocket watchers of each
// exam session. One room per session ID; a room disappears with its last
// client. It implements service.Broadcaster.
type SessionHub struct {
	examService *service.ExamService
	log         zerolog.Logger

	mu    sync.RWMutex
	rooms map[string]map[*wsClient]bool
}

// NewSessionHub creates a new session hub.
func NewSessionHub(examService *service.ExamService, log zerolog.Logger) *SessionHub {
	return &SessionHub{
		examService: examService,
		log:         log,
		rooms:       make(map[string]map[*wsClient]bool),
	}
}

// HandleSession handles GET /ws/exam/{sessionID}: it upgrades the connection,
// joins the session's room and replays the current snapshot so the client
// never starts blind.
func (h *SessionHub) HandleSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	id, err := uuid.Parse(sessionID)
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}
	snap, err := h.examService.Snapshot(id)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	client := &wsClient{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, 256),
	}

	h.join(sessionID, client)
	h.log.Info().Str("session_id", sessionID).Str("client_id", client.id).Msg("Watcher connected")

	if msg, err := encodeMessage("snapshot", snap); err == nil {
		client.send <- msg
	}

	go client.writePump()
	go h.readPump(sessionID, client)
}

// Broadcast pushes one event to every watcher of the session. Slow clients
// are dropped rather than allowed to stall the machine's hooks.
func (h *SessionHub) Broadcast(sessionID string, event string, payload interface{}) {
	msg, err := encodeMessage(event, payload)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("Failed to encode websocket message")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[sessionID]
	for client := range room {
		select {
		case client.send <- msg:
		default:
			close(client.send)
			delete(room, client)
		}
	}
}

// WatcherCount returns the number of clients watching a session.
func (h *SessionHub) WatcherCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

func (h *SessionHub) join(sessionID string, client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[sessionID]
	if !ok {
		room = make(map[*wsClient]bool)
		h.rooms[sessionID] = room
	}
	room[client] = true
}

func (h *SessionHub) leave(sessionID string, client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[sessionID]
	if !ok {
		return
	}
	if _, ok := room[client]; ok {
		delete(room, client)
		close(client.send)
	}
	if len(room) == 0 {
		delete(h.rooms, sessionID)
	}
}

// readPump drains the connection until it closes. The stream is one-way;
// inbound payloads are ignored.
func (h *SessionHub) readPump(sessionID string, client *wsClient) {
	defer func() {
		h.leave(sessionID, client)
		client.conn.Close()
		h.log.Info().Str("session_id", sessionID).Str("client_id", client.id).Msg("Watcher disconnected")
	}()

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Error().Err(err).Msg("WebSocket read error")
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		w, err := c.conn.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		w.Write(message)
		w.Close()
	}
}

func encodeMessage(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WebSocketMessage{Type: event, Payload: data})
}
