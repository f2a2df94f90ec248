// Package rag rewrites a prompt with retrieved knowledge-base context before
// it is sent to a provider. Retrieval failure never aborts the user's turn;
// the worst case is the original prompt passing through unchanged.
package rag

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/parlorchat/parlor/models"
)

const (
	// comprehensiveBudget replaces the per-KB budget when the query asks for
	// aggregation across documents.
	comprehensiveBudget = 20
	// maxDiversifiedSources caps the round-robin best-chunk-per-document
	// selection.
	maxDiversifiedSources = 8
	snippetLimit          = 200
)

// comprehensiveWords is the fixed aggregation vocabulary. A query containing
// any of these words requests coverage across documents, not just the
// globally top-ranked chunks.
var comprehensiveWords = map[string]bool{
	"all":        true,
	"total":      true,
	"sum":        true,
	"every":      true,
	"each":       true,
	"overall":    true,
	"entire":     true,
	"complete":   true,
	"combined":   true,
	"everything": true,
}

// Augmented is what Augment hands back: a prompt ready for dispatch plus the
// citation records that informed it.
type Augmented struct {
	Prompt  string
	Sources []models.Source
}

type Augmenter struct {
	Retriever Retriever
	Logger    *log.Logger
}

func NewAugmenter(retriever Retriever) *Augmenter {
	return &Augmenter{
		Retriever: retriever,
		Logger:    log.New(os.Stderr, "[rag] ", log.LstdFlags),
	}
}

// Augment builds the context-prefixed prompt for the selected knowledge
// bases. It never returns an error: any failure degrades to the legacy
// single-base path and finally to the original prompt.
func (a *Augmenter) Augment(ctx context.Context, prompt string, knowledgeBaseIDs []string, opts models.RAGOptions, progress ProgressFunc) Augmented {
	unchanged := Augmented{Prompt: prompt}

	if a == nil || a.Retriever == nil || len(knowledgeBaseIDs) == 0 {
		return unchanged
	}

	// Stale selections are dropped silently rather than failing the turn.
	validIDs := a.Retriever.ValidateIDs(knowledgeBaseIDs)
	if len(validIDs) == 0 {
		return unchanged
	}

	notify(progress, true, prompt)
	defer notify(progress, false, "")

	result, err := a.Retriever.Search(ctx, validIDs, prompt, opts)
	if err != nil || result == nil {
		if err != nil {
			a.Logger.Printf("multi-base search failed, trying legacy path: %v", err)
		}
		return a.legacyFallback(ctx, prompt, validIDs)
	}

	chunks := filterByScore(result.Chunks, opts.RelevanceThreshold)
	if len(chunks) == 0 {
		return unchanged
	}

	comprehensive := opts.AggregationStrategy == models.AggregationComprehensive ||
		IsComprehensiveQuery(prompt)

	var selected []Chunk
	if comprehensive {
		selected = diversify(chunks, comprehensiveBudget)
	} else {
		selected = topN(chunks, resultBudget(opts))
	}

	return Augmented{
		Prompt:  buildPrompt(prompt, selected),
		Sources: toSources(selected, opts.IncludeSourceAttribution),
	}
}

// IsComprehensiveQuery reports whether the prompt matches the aggregation
// vocabulary, whole-word, case-insensitive.
func IsComprehensiveQuery(prompt string) bool {
	words := strings.FieldsFunc(strings.ToLower(prompt), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	for _, w := range words {
		if comprehensiveWords[w] {
			return true
		}
	}
	return false
}

// legacyFallback runs the old single-call retrieval against the first valid
// knowledge base. If that also fails, the original prompt passes through.
func (a *Augmenter) legacyFallback(ctx context.Context, prompt string, validIDs []string) Augmented {
	augmented, err := a.Retriever.SearchLegacy(ctx, validIDs[0], prompt)
	if err != nil || strings.TrimSpace(augmented) == "" {
		if err != nil {
			a.Logger.Printf("legacy retrieval also failed, sending prompt unaugmented: %v", err)
		}
		return Augmented{Prompt: prompt}
	}
	return Augmented{
		Prompt: augmented,
		Sources: []models.Source{{
			Type:  models.SourceKnowledgeBase,
			Title: validIDs[0],
		}},
	}
}

func resultBudget(opts models.RAGOptions) int {
	limit := opts.MaxResultsPerKB
	if limit <= 0 {
		limit = 5
	}
	if limit > 10 {
		limit = 10
	}
	return limit
}

func filterByScore(chunks []Chunk, threshold float64) []Chunk {
	if threshold <= 0 {
		return chunks
	}
	kept := make([]Chunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Score >= threshold {
			kept = append(kept, c)
		}
	}
	return kept
}

func topN(chunks []Chunk, n int) []Chunk {
	sorted := make([]Chunk, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// diversify picks the best chunk per distinct source document, best-scoring
// documents first, capped at maxDiversifiedSources. A plain top-N can starve
// documents that are individually relevant but collectively underrepresented.
func diversify(chunks []Chunk, budget int) []Chunk {
	sorted := topN(chunks, budget)

	best := make(map[string]Chunk)
	var order []string
	for _, c := range sorted {
		key := sourceKey(c)
		if _, seen := best[key]; !seen {
			best[key] = c
			order = append(order, key)
		}
	}

	selected := make([]Chunk, 0, len(order))
	for _, key := range order {
		selected = append(selected, best[key])
		if len(selected) == maxDiversifiedSources {
			break
		}
	}
	return selected
}

func sourceKey(c Chunk) string {
	if c.DocumentID != "" {
		return c.DocumentID
	}
	if c.Title != "" {
		return c.Title
	}
	return c.KnowledgeBaseID
}

func sourceLabel(c Chunk) string {
	if c.Title != "" {
		return c.Title
	}
	if c.DocumentID != "" {
		return c.DocumentID
	}
	return c.KnowledgeBaseID
}

// buildPrompt prefixes the question with a delimited context block and an
// explicit instruction to answer from it.
func buildPrompt(prompt string, chunks []Chunk) string {
	var sb strings.Builder
	sb.WriteString("Use the context below to answer the question. Base your answer primarily on this context, and say so explicitly if the context is not sufficient to answer.\n\n")

	for i, c := range chunks {
		sb.WriteString(fmt.Sprintf("[Context %d from %s]\n", i+1, sourceLabel(c)))
		sb.WriteString(strings.TrimSpace(c.Content))
		sb.WriteString("\n\n")
	}

	sb.WriteString("Question: ")
	sb.WriteString(prompt)
	return sb.String()
}

func toSources(chunks []Chunk, includeAttribution bool) []models.Source {
	sources := make([]models.Source, 0, len(chunks))
	for _, c := range chunks {
		score := c.Score
		src := models.Source{
			Type:  models.SourceKnowledgeBase,
			Title: sourceLabel(c),
			Score: &score,
		}
		if includeAttribution {
			src.Snippet = snippet(c.Content)
		}
		sources = append(sources, src)
	}
	return sources
}

func snippet(content string) string {
	content = strings.TrimSpace(content)
	if len(content) > snippetLimit {
		return content[:snippetLimit] + "..."
	}
	return content
}

// notify fires the progress callback. It is a side-channel: a panicking or
// missing observer must not affect augmentation.
func notify(progress ProgressFunc, searching bool, query string) {
	if progress == nil {
		return
	}
	defer func() { _ = recover() }()
	progress(searching, query)
}
