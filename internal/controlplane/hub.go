package controlplane

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/arcflow/engine/pkg/model"
)

// Hub fans out terminal instance publications (CompletedInstance and
// FailedInstance) to any number of connected websocket clients. It holds no
// per-instance state; every connected client sees every publication.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]bool)}
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.addClient(conn)
	go h.readPump(conn)
}

func (h *Hub) addClient(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

// readPump exists only to notice a closed client connection; the control
// plane never expects inbound messages on this socket.
func (h *Hub) readPump(conn *websocket.Conn) {
	defer h.removeClient(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) broadcast(message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			log.Printf("controlplane: websocket write failed: %v", err)
		}
	}
}

type publication struct {
	Status   string                 `json:"status"`
	Instance model.WorkflowInstance `json:"instance"`
}

// HookFor returns an engine.InstanceHook that broadcasts the instance to
// every connected websocket client, tagged with the terminal status it
// arrived under. The caller wires this into NewCompletedInstanceObserver and
// NewFailedInstanceObserver alongside the deployment's own hooks, rather than
// the hub competing as a second consumer on the same queue.
func (h *Hub) HookFor(status string) func(ctx context.Context, instance model.WorkflowInstance) error {
	return func(_ context.Context, instance model.WorkflowInstance) error {
		body, err := json.Marshal(publication{Status: status, Instance: instance})
		if err != nil {
			log.Printf("controlplane: marshal publication: %v", err)
			return nil
		}
		h.broadcast(body)
		return nil
	}
}
