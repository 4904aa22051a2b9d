package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/coursedeck/coursedeck/internal/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Same-origin policy enforced by the player shell
	},
}

// syncMessage is the wire format for playback position sync. Clients receive
// "position" messages; they send "goto" messages to move the shared position.
type syncMessage struct {
	Type            string `json:"type"`
	CoursewareIndex int    `json:"coursewareIndex"`
	PageIndex       int    `json:"pageIndex"`
}

// SyncHub keeps every connected player view on the same courseware and page.
// Position changes are broadcast only when the position actually moved, so a
// redundant goto costs nothing and cannot cause a feedback loop between
// multiple views.
type SyncHub struct {
	store *store.Store

	mu        sync.Mutex
	clients   map[*websocket.Conn]bool
	pageIndex int
}

// NewSyncHub creates a hub bound to the store.
func NewSyncHub(s *store.Store) *SyncHub {
	return &SyncHub{
		store:   s,
		clients: make(map[*websocket.Conn]bool),
	}
}

// Position returns the current playback position.
func (h *SyncHub) Position() (coursewareIndex, pageIndex int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, idx := h.store.Current()
	return idx, h.pageIndex
}

// SetPosition moves the shared position and notifies every client when it
// actually changed. The page index is clamped to the target courseware.
func (h *SyncHub) SetPosition(coursewareIndex, pageIndex int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cw := h.store.At(coursewareIndex)
	if cw == nil {
		return
	}
	pageIndex = cw.ClampPage(pageIndex)

	_, current := h.store.Current()
	if current == coursewareIndex && h.pageIndex == pageIndex {
		return
	}

	h.store.SetCurrent(coursewareIndex)
	h.pageIndex = pageIndex
	h.broadcastLocked(syncMessage{
		Type:            "position",
		CoursewareIndex: coursewareIndex,
		PageIndex:       pageIndex,
	})
}

func (h *SyncHub) broadcastLocked(msg syncMessage) {
	for conn := range h.clients {
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("[WS] Write failed, dropping client: %v", err)
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// ServeHTTP upgrades the connection and joins it to the hub. The new client
// immediately receives the current position.
func (h *SyncHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade failed: %v", err)
		return
	}

	// The initial write happens under the hub lock: broadcasts also write
	// under it, and a connection must never have two concurrent writers.
	h.mu.Lock()
	_, idx := h.store.Current()
	initial := syncMessage{Type: "position", CoursewareIndex: idx, PageIndex: h.pageIndex}
	if err := conn.WriteJSON(initial); err != nil {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[conn] = true
	h.mu.Unlock()

	go h.readLoop(conn)
}

func (h *SyncHub) readLoop(conn *websocket.Conn) {
	defer h.drop(conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WS] Read error: %v", err)
			}
			return
		}

		var msg syncMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[WS] Malformed message ignored: %v", err)
			continue
		}
		if msg.Type != "goto" {
			continue
		}
		h.SetPosition(msg.CoursewareIndex, msg.PageIndex)
	}
}

func (h *SyncHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

// Close disconnects every client.
func (h *SyncHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}
