package notify

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Hub fans realtime-push payloads out to connected WebSocket clients. It is
// the transport behind the "push" channel; delivery to the hub succeeds as
// long as the payload is accepted for broadcast.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
	log     *logrus.Logger
}

func NewHub(log *logrus.Logger) *Hub {
	return &Hub{clients: make(map[*websocket.Conn]chan []byte), log: log}
}

// ServeWS upgrades the request and keeps the connection registered until
// the client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("websocket upgrade failed: %v", err)
		return
	}

	out := make(chan []byte, 16)
	h.mu.Lock()
	h.clients[ws] = out
	h.mu.Unlock()
	h.log.Debugf("websocket client connected (%d total)", h.ClientCount())

	go h.writePump(ws, out)

	// Read loop only to detect disconnect; clients never send anything
	// meaningful.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
	h.drop(ws)
}

func (h *Hub) writePump(ws *websocket.Conn, out chan []byte) {
	for msg := range out {
		if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.drop(ws)
			return
		}
	}
}

func (h *Hub) drop(ws *websocket.Conn) {
	h.mu.Lock()
	if out, ok := h.clients[ws]; ok {
		delete(h.clients, ws)
		close(out)
	}
	h.mu.Unlock()
	_ = ws.Close()
}

// Broadcast queues a payload for every connected client. Slow clients are
// dropped rather than blocking the dispatcher.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.Lock()
	var stale []*websocket.Conn
	for ws, out := range h.clients {
		select {
		case out <- payload:
		default:
			stale = append(stale, ws)
		}
	}
	h.mu.Unlock()
	for _, ws := range stale {
		h.drop(ws)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
