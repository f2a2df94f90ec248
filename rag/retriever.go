package rag

import (
	"context"

	"github.com/parlorchat/parlor/models"
)

// Chunk is one retrieved excerpt. DocumentID identifies the source document
// the chunk came from; diversification treats documents, not chunks, as the
// unit of coverage.
type Chunk struct {
	KnowledgeBaseID string  `json:"knowledge_base_id"`
	DocumentID      string  `json:"document_id"`
	Title           string  `json:"title"`
	Content         string  `json:"content"`
	Score           float64 `json:"score"`
}

type SearchResult struct {
	Chunks []Chunk `json:"chunks"`
}

// Retriever is the narrow contract to the knowledge-base index. The index
// itself and its search algorithm live outside this module.
type Retriever interface {
	Search(ctx context.Context, knowledgeBaseIDs []string, query string, opts models.RAGOptions) (*SearchResult, error)
	// SearchLegacy is the older single-knowledge-base path, returning an
	// already-augmented prompt. Used as fallback when Search fails.
	SearchLegacy(ctx context.Context, knowledgeBaseID, query string) (string, error)
	// ValidateIDs filters out ids the index no longer knows about.
	ValidateIDs(ids []string) []string
}

// ProgressFunc is the fire-and-forget searching indicator callback.
type ProgressFunc func(searching bool, query string)
