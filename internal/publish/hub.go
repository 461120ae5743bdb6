package publish

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/agentboard/agentboard/internal/domain"
	"github.com/agentboard/agentboard/internal/entry"
	"github.com/coder/websocket"
)

// SnapshotFunc produces the initial messages a newly connected client should
// receive before live events.
type SnapshotFunc func(ctx context.Context) ([]any, error)

// Hub implements Publisher over WebSocket connections. Each client gets a
// buffered outbox drained by its own writer goroutine; a client that cannot
// keep up is dropped rather than allowed to stall the session loop.
type Hub struct {
	allowedOrigin string
	isDev         bool
	outboxSize    int
	snapshot      SnapshotFunc

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn   *websocket.Conn
	outbox chan []byte
}

// NewHub creates a WebSocket hub.
func NewHub(allowedOrigin string, isDev bool, outboxSize int, snapshot SnapshotFunc) *Hub {
	if outboxSize <= 0 {
		outboxSize = 256
	}
	return &Hub{
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		outboxSize:    outboxSize,
		snapshot:      snapshot,
		clients:       make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and streams events until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &client{conn: ws, outbox: make(chan []byte, h.outboxSize)}

	if h.snapshot != nil {
		msgs, err := h.snapshot(ctx)
		if err != nil {
			slog.Warn("Snapshot failed for new client", "error", err)
		}
		for _, msg := range msgs {
			data, err := json.Marshal(msg)
			if err != nil {
				slog.Warn("Failed to encode snapshot message", "error", err)
				continue
			}
			select {
			case c.outbox <- data:
			default:
				slog.Warn("Snapshot larger than client outbox, truncating")
			}
		}
	}

	h.register(c)
	defer h.unregister(c)

	slog.Info("UI client connected", "ip", r.RemoteAddr)

	// Writer loop: outbox -> WebSocket.
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case data, ok := <-c.outbox:
				if !ok {
					return
				}
				if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
					slog.Debug("WebSocket write error", "error", err)
					return
				}
			}
		}
	}()

	// Read loop exists only to notice the close; clients send nothing.
	for {
		if _, _, err := ws.Read(ctx); err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client")
			}
			return
		}
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// broadcast encodes the message once and fans it out. Full outboxes are
// skipped; the slow client will resync from a snapshot on reconnect.
func (h *Hub) broadcast(msg uiMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to encode UI message", "type", msg.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.outbox <- data:
		default:
			slog.Warn("Dropping UI message for slow client", "type", msg.Type, "task_id", msg.TaskID)
		}
	}
}

// StatusChanged implements Publisher.
func (h *Hub) StatusChanged(taskID string, status domain.TaskStatus, lastError string) {
	h.broadcast(uiMessage{
		Type:    "status",
		TaskID:  taskID,
		Payload: statusPayload{Status: status, LastError: lastError},
	})
}

// EntryUpserted implements Publisher.
func (h *Hub) EntryUpserted(taskID string, index int64, e *entry.Entry) {
	h.broadcast(uiMessage{
		Type:    "entry",
		TaskID:  taskID,
		Payload: entryPayload{Index: index, Entry: e},
	})
}

// PermissionRequested implements Publisher.
func (h *Hub) PermissionRequested(taskID, requestID, toolName string, input any, sessionAllow []string) {
	h.broadcast(uiMessage{
		Type:   "permission_request",
		TaskID: taskID,
		Payload: permissionPayload{
			RequestID:           requestID,
			ToolName:            toolName,
			Input:               input,
			SessionAllowOptions: sessionAllow,
		},
	})
}

// QuestionRequested implements Publisher.
func (h *Hub) QuestionRequested(taskID, requestID string, questions []entry.Question) {
	h.broadcast(uiMessage{
		Type:    "question_request",
		TaskID:  taskID,
		Payload: questionPayload{RequestID: requestID, Questions: questions},
	})
}

// QueueUpdated implements Publisher.
func (h *Hub) QueueUpdated(taskID string, queue []domain.QueuedPrompt) {
	h.broadcast(uiMessage{
		Type:    "queue",
		TaskID:  taskID,
		Payload: queuePayload{Queue: queue},
	})
}
