package api

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"agent-jury/backend/internal/engine"
)

// Event types broadcast on the evaluation stream.
const (
	EventStarted  = "started"
	EventProgress = "progress"
	EventDecided  = "decided"
	EventFailed   = "error"
)

// EvaluationEvent describes websocket payloads emitted during evaluation runs.
type EvaluationEvent struct {
	Type       string       `json:"type"`
	RequestID  string       `json:"request_id"`
	EvalID     string       `json:"eval_id,omitempty"`
	State      engine.State `json:"state,omitempty"`
	Role       string       `json:"role,omitempty"`
	Index      int          `json:"index,omitempty"`
	Total      int          `json:"total,omitempty"`
	Score      *int         `json:"score,omitempty"`
	Decision   string       `json:"decision,omitempty"`
	FinalScore *int         `json:"final_score,omitempty"`
	Message    string       `json:"message,omitempty"`
	Timestamp  time.Time    `json:"timestamp"`
}

// eventFromProgress maps an engine progress notification onto the stream.
func eventFromProgress(p engine.ProgressEvent) EvaluationEvent {
	return EvaluationEvent{
		Type:      EventProgress,
		RequestID: p.RequestID,
		State:     p.State,
		Role:      p.Role,
		Index:     p.Index,
		Total:     p.Total,
		Score:     p.Score,
		Decision:  p.Decision,
		Message:   p.Error,
	}
}

// wsClient wraps a websocket connection with write locking.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// EvaluationNotifier keeps track of active websocket clients and broadcasts evaluation events.
type EvaluationNotifier struct {
	mu         sync.Mutex
	clients    map[*wsClient]struct{}
	lastStatus *EvaluationEvent
}

// NewEvaluationNotifier constructs a notifier instance.
func NewEvaluationNotifier() *EvaluationNotifier {
	return &EvaluationNotifier{clients: make(map[*wsClient]struct{})}
}

// Register attaches a websocket connection and replays the latest event.
func (n *EvaluationNotifier) Register(conn *websocket.Conn) *wsClient {
	client := &wsClient{conn: conn}
	n.mu.Lock()
	n.clients[client] = struct{}{}
	status := n.lastStatus
	n.mu.Unlock()

	if status != nil {
		_ = client.writeJSON(*status)
	}
	return client
}

// Unregister removes the websocket client from the notifier and closes the socket.
func (n *EvaluationNotifier) Unregister(client *wsClient) {
	if client == nil {
		return
	}
	n.mu.Lock()
	delete(n.clients, client)
	n.mu.Unlock()
	_ = client.conn.Close()
}

// Broadcast sends the supplied event to all registered websocket clients.
func (n *EvaluationNotifier) Broadcast(event EvaluationEvent) {
	if n == nil {
		return
	}
	event.Timestamp = time.Now().UTC()

	n.mu.Lock()
	snapshot := event
	n.lastStatus = &snapshot

	for client := range n.clients {
		if err := client.writeJSON(event); err != nil {
			delete(n.clients, client)
			_ = client.conn.Close()
		}
	}
	n.mu.Unlock()
}

func (c *wsClient) writeJSON(payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(payload)
}

// LastStatus returns a copy of the most recent event, if any.
func (n *EvaluationNotifier) LastStatus() *EvaluationEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.lastStatus == nil {
		return nil
	}
	copy := *n.lastStatus
	return &copy
}
