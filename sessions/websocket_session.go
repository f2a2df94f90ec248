package sessions

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"

	parlor "github.com/parlorchat/parlor"
)

// WebSocketSession encapsulates WebSocket chat interaction for one
// connection. The session id doubles as the conversation id.
type WebSocketSession struct {
	Pipeline  *parlor.Pipeline
	SessionID string
	// UserID associates the conversation with a user for listing; may be
	// empty for anonymous sessions.
	UserID string
	Writer *WebSocketWriter
	Logger *log.Logger
}

func NewWebSocketSession(sessionID, userID string, conn *websocket.Conn, pipeline *parlor.Pipeline) *WebSocketSession {
	logger := log.New(os.Stderr, "[WS_SESSION] ", log.LstdFlags)
	return &WebSocketSession{
		Pipeline:  pipeline,
		SessionID: sessionID,
		UserID:    userID,
		Writer:    &WebSocketWriter{Conn: conn, Logger: logger},
		Logger:    logger,
	}
}

// RunInteraction handles one complete turn: stream chunks are forwarded as
// they arrive, the finalized turn follows with telemetry and sources, and a
// done marker closes the exchange. Write failures are fatal; pipeline
// failures are reported to the client and the connection stays up.
func (ws *WebSocketSession) RunInteraction(ctx context.Context, req ChatRequest) error {
	if !guard.acquire(ws.SessionID) {
		ws.Writer.WriteError("conversation is busy with another turn")
		return &SessionError{Message: "conversation is busy with another turn", Fatal: false}
	}
	defer guard.release(ws.SessionID)

	ws.Writer.StartTime = time.Now()
	ws.Writer.FirstTokenTime = nil
	ws.Writer.FirstTokenLogged = false

	var writeErr error
	turn, err := ws.Pipeline.SendMessage(ctx, req.Text, req.Files, req.Settings, parlor.SendOptions{
		ConversationID:   ws.SessionID,
		KnowledgeBaseIDs: req.KnowledgeBaseIDs,
		OnStreamChunk: func(chunk string) {
			if writeErr != nil {
				return
			}
			if err := ws.Writer.WriteResponse(chunkMessage{Type: "chunk", Content: chunk}); err != nil {
				ws.Logger.Printf("Error writing stream chunk: %v", err)
				writeErr = err
			}
		},
	})
	if writeErr != nil {
		return &SessionError{Message: "Error writing stream chunk", Fatal: true}
	}
	if err != nil && !turn.IsError && ctx.Err() == nil {
		ws.Writer.WriteError("Pipeline error: " + err.Error())
		return &SessionError{Message: "Pipeline error", Fatal: false}
	}

	// Tool calls ride on the finalized turn; the client renders them from
	// there rather than from interleaved messages.
	if err := ws.Writer.WriteResponse(turnMessage{Type: "turn", Turn: turn}); err != nil {
		ws.Logger.Printf("Error writing final turn: %v", err)
		return &SessionError{Message: "Error writing final turn", Fatal: true}
	}

	return ws.Writer.WriteDone()
}

// RunAgentInteraction is RunInteraction with provider, model, and
// knowledge-base selection pinned by a named agent.
func (ws *WebSocketSession) RunAgentInteraction(ctx context.Context, agentID string, req ChatRequest) error {
	if !guard.acquire(ws.SessionID) {
		ws.Writer.WriteError("conversation is busy with another turn")
		return &SessionError{Message: "conversation is busy with another turn", Fatal: false}
	}
	defer guard.release(ws.SessionID)

	ws.Writer.StartTime = time.Now()
	ws.Writer.FirstTokenTime = nil
	ws.Writer.FirstTokenLogged = false

	turn, err := ws.Pipeline.SendMessageWithAgent(ctx, agentID, req.Text, req.Files, parlor.SendOptions{
		ConversationID: ws.SessionID,
		OnStreamChunk: func(chunk string) {
			if err := ws.Writer.WriteResponse(chunkMessage{Type: "chunk", Content: chunk}); err != nil {
				ws.Logger.Printf("Error writing stream chunk: %v", err)
			}
		},
	})
	if err != nil && !turn.IsError && ctx.Err() == nil {
		ws.Writer.WriteError("Pipeline error: " + err.Error())
		return &SessionError{Message: "Pipeline error", Fatal: false}
	}

	if err := ws.Writer.WriteResponse(turnMessage{Type: "turn", Turn: turn}); err != nil {
		return &SessionError{Message: "Error writing final turn", Fatal: true}
	}
	return ws.Writer.WriteDone()
}
