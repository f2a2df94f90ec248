// Package sessions adapts the pipeline to transport-facing chat sessions:
// HTTP request/response, Server-Sent Events, and WebSockets. A session owns
// one conversation at a time; concurrent turns on the same conversation are
// rejected here rather than interleaved.
package sessions

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parlorchat/parlor/models"
)

// SessionError distinguishes failures that should tear the session down
// from ones the client can retry on the same connection.
type SessionError struct {
	Message string
	Fatal   bool
}

func (e *SessionError) Error() string {
	return e.Message
}

// ChatRequest is the wire shape for one inbound turn.
type ChatRequest struct {
	Text             string              `json:"text"`
	Files            []models.File       `json:"files,omitempty"`
	Settings         models.ChatSettings `json:"settings"`
	KnowledgeBaseIDs []string            `json:"knowledge_base_ids,omitempty"`
}

// SSEWriter handles Server-Sent Events writing.
type SSEWriter interface {
	WriteSSE(data string) error
	WriteSSEError(err error) error
	Flush()
}

// WebSocketWriter serializes all writes to one connection and records the
// time to first token for the current turn.
type WebSocketWriter struct {
	Conn             *websocket.Conn
	Logger           *log.Logger
	StartTime        time.Time
	FirstTokenTime   *time.Time
	FirstTokenLogged bool
	mu               sync.Mutex
}

func (w *WebSocketWriter) WriteResponse(resp interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.FirstTokenLogged && w.FirstTokenTime == nil && !w.StartTime.IsZero() {
		now := time.Now()
		w.FirstTokenTime = &now
		w.Logger.Printf("Time to first token: %v", now.Sub(w.StartTime))
		w.FirstTokenLogged = true
	}
	return w.Conn.WriteJSON(resp)
}

func (w *WebSocketWriter) WriteError(message string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Conn.WriteJSON(map[string]string{"error": message})
}

func (w *WebSocketWriter) WriteDone() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Conn.WriteJSON(map[string]string{"type": "done"})
}

// chunkMessage carries one streamed text delta.
type chunkMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// turnMessage carries the finalized assistant turn, telemetry included.
type turnMessage struct {
	Type string          `json:"type"`
	Turn models.ChatTurn `json:"turn"`
}

// conversationGuard rejects a second in-flight turn on the same
// conversation. Turns on different conversations proceed independently.
type conversationGuard struct {
	mu     sync.Mutex
	active map[string]bool
}

func (g *conversationGuard) acquire(conversationID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == nil {
		g.active = make(map[string]bool)
	}
	if g.active[conversationID] {
		return false
	}
	g.active[conversationID] = true
	return true
}

func (g *conversationGuard) release(conversationID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, conversationID)
}

// Shared across all sessions in the process so two transports cannot run
// the same conversation at once.
var guard conversationGuard
