package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	parlor "github.com/parlorchat/parlor"
	"github.com/parlorchat/parlor/models"
)

// HTTPSession handles request/response and SSE chat interactions for one
// conversation.
type HTTPSession struct {
	Pipeline       *parlor.Pipeline
	ConversationID string
	Logger         *log.Logger
}

func NewHTTPSession(conversationID string, pipeline *parlor.Pipeline) *HTTPSession {
	return &HTTPSession{
		Pipeline:       pipeline,
		ConversationID: conversationID,
		Logger:         log.New(os.Stderr, "[HTTP_SESSION] ", log.LstdFlags),
	}
}

// RunSingleInteraction runs one turn and returns the finalized assistant
// turn. Provider failures come back as a flagged turn with a nil error so
// the handler can render them like any other reply.
func (s *HTTPSession) RunSingleInteraction(ctx context.Context, req ChatRequest) (models.ChatTurn, error) {
	if !guard.acquire(s.ConversationID) {
		return models.ChatTurn{}, &SessionError{Message: "conversation is busy with another turn", Fatal: false}
	}
	defer guard.release(s.ConversationID)

	turn, err := s.Pipeline.SendMessage(ctx, req.Text, req.Files, req.Settings, parlor.SendOptions{
		ConversationID:   s.ConversationID,
		KnowledgeBaseIDs: req.KnowledgeBaseIDs,
	})
	if err != nil && !turn.IsError {
		return models.ChatTurn{}, fmt.Errorf("pipeline error: %w", err)
	}
	return turn, nil
}

// RunSSEInteraction streams one turn: text deltas as "message" events while
// the provider streams, then the finalized turn JSON as a "turn" event.
func (s *HTTPSession) RunSSEInteraction(ctx context.Context, req ChatRequest, writer SSEWriter) error {
	if !guard.acquire(s.ConversationID) {
		return writer.WriteSSEError(&SessionError{Message: "conversation is busy with another turn", Fatal: false})
	}
	defer guard.release(s.ConversationID)

	turn, err := s.Pipeline.SendMessage(ctx, req.Text, req.Files, req.Settings, parlor.SendOptions{
		ConversationID:   s.ConversationID,
		KnowledgeBaseIDs: req.KnowledgeBaseIDs,
		OnStreamChunk: func(chunk string) {
			if err := writer.WriteSSE(chunk); err != nil {
				s.Logger.Printf("Error writing SSE chunk: %v", err)
			}
		},
		OnRetrievalProgress: func(searching bool, query string) {
			if searching {
				s.Logger.Printf("Retrieval started for %q", query)
			}
		},
	})
	if err != nil && !turn.IsError && ctx.Err() == nil {
		return writer.WriteSSEError(err)
	}

	payload, marshalErr := json.Marshal(turnMessage{Type: "turn", Turn: turn})
	if marshalErr != nil {
		s.Logger.Printf("Error marshaling final turn: %v", marshalErr)
		return writer.WriteSSEError(marshalErr)
	}
	if writeErr := writer.WriteSSE(string(payload)); writeErr != nil {
		return writeErr
	}
	writer.Flush()
	return nil
}

// GetChatHistory returns the sanitized, provider-ready window for this
// conversation.
func (s *HTTPSession) GetChatHistory(window int) ([]models.ChatTurn, error) {
	return s.Pipeline.History(s.ConversationID, window)
}
