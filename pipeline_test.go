package parlor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/parlorchat/parlor/models"
	"github.com/parlorchat/parlor/providers"
	"github.com/parlorchat/parlor/rag"
	"github.com/parlorchat/parlor/stores"
	"github.com/parlorchat/parlor/toolruntime"
)

// scriptedProvider pops one scripted step per Send call.
type scriptedProvider struct {
	steps []scriptedStep
	calls []models.ProviderRequest
}

type scriptedStep struct {
	chunks []string
	resp   models.ProviderResponse
	err    error
}

func (p *scriptedProvider) Send(ctx context.Context, req models.ProviderRequest, onChunk providers.StreamFunc) (models.ProviderResponse, error) {
	p.calls = append(p.calls, req)
	if len(p.steps) == 0 {
		return models.ProviderResponse{}, errors.New("no scripted step left")
	}
	step := p.steps[0]
	p.steps = p.steps[1:]

	if step.err != nil {
		return models.ProviderResponse{}, step.err
	}
	if onChunk != nil {
		for _, chunk := range step.chunks {
			if ctx.Err() != nil {
				return models.ProviderResponse{}, ctx.Err()
			}
			onChunk(chunk)
		}
	}
	return step.resp, nil
}

// memoryStore is a TurnStore that keeps everything in a map.
type memoryStore struct {
	turns map[string][]models.ChatTurn
}

func newMemoryStore() *memoryStore {
	return &memoryStore{turns: make(map[string][]models.ChatTurn)}
}

func (s *memoryStore) AppendTurn(conversationID string, turn models.ChatTurn) error {
	s.turns[conversationID] = append(s.turns[conversationID], turn)
	return nil
}

func (s *memoryStore) FetchHistory(conversationID string, limit int) ([]models.ChatTurn, error) {
	history := s.turns[conversationID]
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history, nil
}

func (s *memoryStore) CreateConversation(convoID, userID string) error { return nil }
func (s *memoryStore) ListConversations() ([]string, error)           { return nil, nil }
func (s *memoryStore) ListConversationsForUser(userID string) ([]stores.ConversationInfo, error) {
	return nil, nil
}
func (s *memoryStore) DeleteConversationsIdleSince(cutoff time.Time) (int64, error) {
	return 0, nil
}
func (s *memoryStore) Connect() error { return nil }
func (s *memoryStore) Close() error   { return nil }
func (s *memoryStore) Ping() error    { return nil }

// stubRetriever serves the same scripted chunks for any query.
type stubRetriever struct {
	chunks []rag.Chunk
}

func (r *stubRetriever) Search(ctx context.Context, knowledgeBaseIDs []string, query string, opts models.RAGOptions) (*rag.SearchResult, error) {
	return &rag.SearchResult{Chunks: r.chunks}, nil
}

func (r *stubRetriever) SearchLegacy(ctx context.Context, knowledgeBaseID, query string) (string, error) {
	return "", errors.New("legacy path not scripted")
}

func (r *stubRetriever) ValidateIDs(ids []string) []string { return ids }

func testPipeline(provider *scriptedProvider, store *memoryStore, opts ...func(*Config)) *Pipeline {
	cfg := NewConfig().WithStore(store)
	cfg.Registry.Register(providers.Metadata{ID: "openrouter", Name: "OpenRouter"}, provider)
	cfg.Registry.Register(providers.Metadata{ID: "ollama", Name: "Ollama"}, provider)
	for _, opt := range opts {
		opt(cfg)
	}
	return New(cfg)
}

func TestSendMessage_MissingCredentialFailsBeforeDispatch(t *testing.T) {
	provider := &scriptedProvider{}
	store := newMemoryStore()
	p := testPipeline(provider, store)

	turn, err := p.SendMessage(context.Background(), "hello", nil,
		models.ChatSettings{ProviderID: "openrouter", Model: "openai/gpt-4o-mini"},
		SendOptions{ConversationID: "conv1"})
	if err == nil {
		t.Fatalf("Expected error for missing credential")
	}
	if len(provider.calls) != 0 {
		t.Errorf("Expected no provider call, got %d", len(provider.calls))
	}
	if !turn.IsError {
		t.Errorf("Expected flagged turn")
	}
	if !strings.Contains(turn.Content, "API key") {
		t.Errorf("Expected authentication template, got %q", turn.Content)
	}
	// Both sides of the exchange are persisted: the question and the
	// templated failure reply.
	persisted := store.turns["conv1"]
	if len(persisted) != 2 {
		t.Fatalf("Expected user + error turn persisted, got %d", len(persisted))
	}
	if persisted[0].Role != models.RoleUser || persisted[0].Content != "hello" {
		t.Errorf("Expected user turn persisted first, got %+v", persisted[0])
	}
	if !persisted[1].IsError {
		t.Errorf("Expected flagged turn persisted second")
	}
	// A replayed window keeps the question after the sanitizer drops the
	// errored reply.
	window := stores.SanitizeWindow(persisted)
	if len(window) != 1 || window[0].Role != models.RoleUser {
		t.Errorf("Expected the user turn to survive sanitization, got %+v", window)
	}
}

func TestSendMessage_LocalProviderNeedsNoCredential(t *testing.T) {
	provider := &scriptedProvider{steps: []scriptedStep{
		{resp: models.ProviderResponse{Content: "hi there"}},
	}}
	store := newMemoryStore()
	p := testPipeline(provider, store)

	turn, err := p.SendMessage(context.Background(), "hello", nil,
		models.ChatSettings{ProviderID: "ollama", Model: "llama3.2"},
		SendOptions{ConversationID: "conv1"})
	if err != nil {
		t.Fatalf("Expected success without credential, got %v", err)
	}
	if turn.Content != "hi there" {
		t.Errorf("Expected response content, got %q", turn.Content)
	}
	if len(provider.calls) != 1 {
		t.Errorf("Expected one provider call, got %d", len(provider.calls))
	}
}

func TestSendMessage_UserAndAssistantTurnsArePersistedInOrder(t *testing.T) {
	provider := &scriptedProvider{steps: []scriptedStep{
		{resp: models.ProviderResponse{Content: "answer"}},
	}}
	store := newMemoryStore()
	p := testPipeline(provider, store)

	_, err := p.SendMessage(context.Background(), "question", nil,
		models.ChatSettings{ProviderID: "ollama", Model: "llama3.2"},
		SendOptions{ConversationID: "conv1"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	persisted := store.turns["conv1"]
	if len(persisted) != 2 {
		t.Fatalf("Expected user + assistant turn, got %d", len(persisted))
	}
	if persisted[0].Role != models.RoleUser || persisted[0].Content != "question" {
		t.Errorf("Expected user turn first, got %+v", persisted[0])
	}
	if persisted[1].Role != models.RoleAssistant || persisted[1].Content != "answer" {
		t.Errorf("Expected assistant turn second, got %+v", persisted[1])
	}
}

func TestSendMessage_RAGContextBlocksReachTheProvider(t *testing.T) {
	provider := &scriptedProvider{steps: []scriptedStep{
		{resp: models.ProviderResponse{Content: "augmented answer"}},
	}}
	store := newMemoryStore()
	retriever := &stubRetriever{chunks: []rag.Chunk{
		{KnowledgeBaseID: "kb1", DocumentID: "d1", Title: "invoices.pdf", Content: "chunk one", Score: 0.9},
		{KnowledgeBaseID: "kb2", DocumentID: "d2", Title: "contracts.pdf", Content: "chunk two", Score: 0.8},
		{KnowledgeBaseID: "kb3", DocumentID: "d3", Title: "policies.pdf", Content: "chunk three", Score: 0.7},
	}}
	p := testPipeline(provider, store, func(cfg *Config) { cfg.WithRetriever(retriever) })

	turn, err := p.SendMessage(context.Background(), "what do my documents say", nil,
		models.ChatSettings{ProviderID: "ollama", Model: "llama3.2", RAGEnabled: true},
		SendOptions{ConversationID: "conv1", KnowledgeBaseIDs: []string{"kb1", "kb2", "kb3"}})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	sent := provider.calls[0].Payload.Text
	for i := 1; i <= 3; i++ {
		marker := fmt.Sprintf("[Context %d from ", i)
		if !strings.Contains(sent, marker) {
			t.Errorf("Expected dispatched prompt to contain %q", marker)
		}
	}
	if !strings.Contains(sent, "Question: what do my documents say") {
		t.Errorf("Expected original question preserved, got %q", sent)
	}
	if len(turn.Sources) != 3 {
		t.Errorf("Expected 3 knowledge-base sources on the turn, got %d", len(turn.Sources))
	}
	// The persisted user turn keeps the raw text, not the augmented prompt.
	if store.turns["conv1"][0].Content != "what do my documents say" {
		t.Errorf("Expected raw user text persisted, got %q", store.turns["conv1"][0].Content)
	}
}

func TestSendMessage_ProviderFailureYieldsTemplatedFlaggedTurn(t *testing.T) {
	provider := &scriptedProvider{steps: []scriptedStep{
		{err: errors.New("401 unauthorized")},
	}}
	store := newMemoryStore()
	p := testPipeline(provider, store)

	turn, err := p.SendMessage(context.Background(), "hello", nil,
		models.ChatSettings{ProviderID: "openrouter", Model: "m", APIKey: "sk-bad"},
		SendOptions{ConversationID: "conv1"})
	if err == nil {
		t.Fatalf("Expected classified error to be returned")
	}
	if !turn.IsError {
		t.Errorf("Expected flagged turn")
	}
	if !strings.HasPrefix(turn.Content, "Authentication failed.") {
		t.Errorf("Expected authentication template, got %q", turn.Content)
	}

	persisted := store.turns["conv1"]
	if len(persisted) != 2 || !persisted[1].IsError {
		t.Errorf("Expected the failed turn persisted after the user turn, got %d turns", len(persisted))
	}
}

func TestSendMessage_StreamedChunksArriveInOrder(t *testing.T) {
	provider := &scriptedProvider{steps: []scriptedStep{
		{
			chunks: []string{"Hel", "lo wo", "rld"},
			resp:   models.ProviderResponse{Usage: &models.Usage{PromptTokens: 5, CompletionTokens: 3}},
		},
	}}
	store := newMemoryStore()
	p := testPipeline(provider, store)

	var received []string
	turn, err := p.SendMessage(context.Background(), "greet me", nil,
		models.ChatSettings{ProviderID: "openrouter", Model: "m", APIKey: "sk-ok"},
		SendOptions{
			ConversationID: "conv1",
			OnStreamChunk:  func(chunk string) { received = append(received, chunk) },
		})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if turn.Content != "Hello world" {
		t.Errorf("Expected accumulated content 'Hello world', got %q", turn.Content)
	}
	if len(received) != 3 || received[0] != "Hel" || received[1] != "lo wo" || received[2] != "rld" {
		t.Errorf("Expected chunks forwarded in arrival order, got %v", received)
	}
	if turn.Usage == nil || turn.Usage.TotalTokens != 8 {
		t.Errorf("Expected normalized usage on streamed turn, got %+v", turn.Usage)
	}
}

func TestSendMessage_CancellationFinalizesPartialStreamedTurn(t *testing.T) {
	provider := &scriptedProvider{steps: []scriptedStep{
		{chunks: []string{"partial answer", " that never finishes"}},
	}}
	store := newMemoryStore()
	p := testPipeline(provider, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel after the first chunk lands; the provider aborts before the
	// second one.
	turn, err := p.SendMessage(ctx, "tell me everything", nil,
		models.ChatSettings{ProviderID: "openrouter", Model: "m", APIKey: "sk-ok"},
		SendOptions{
			ConversationID: "conv1",
			OnStreamChunk:  func(chunk string) { cancel() },
		})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}

	if turn.Content != "partial answer" {
		t.Errorf("Expected partial content preserved, got %q", turn.Content)
	}
	if turn.IsError {
		t.Errorf("Expected cancelled turn not flagged as an error")
	}
	if turn.Timing == nil || turn.Timing.DurationMs < 0 {
		t.Errorf("Expected timing on the finalized partial turn, got %+v", turn.Timing)
	}

	persisted := store.turns["conv1"]
	if len(persisted) != 2 {
		t.Fatalf("Expected user + partial assistant turn persisted, got %d", len(persisted))
	}
	if persisted[1].Content != "partial answer" || persisted[1].IsError {
		t.Errorf("Expected the partial turn appended as-is, got %+v", persisted[1])
	}
}

func TestSendMessage_NoConsumerMeansBatchDispatch(t *testing.T) {
	provider := &scriptedProvider{steps: []scriptedStep{
		{
			chunks: []string{"should never stream"},
			resp:   models.ProviderResponse{Content: "batch answer"},
		},
	}}
	store := newMemoryStore()
	p := testPipeline(provider, store)

	turn, err := p.SendMessage(context.Background(), "hello", nil,
		models.ChatSettings{ProviderID: "openrouter", Model: "m", APIKey: "sk-ok"},
		SendOptions{ConversationID: "conv1"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	// The scripted chunks are only emitted when a stream callback exists, so
	// batch dispatch surfaces the response content alone.
	if turn.Content != "batch answer" {
		t.Errorf("Expected batch content, got %q", turn.Content)
	}
}

func TestSendMessage_ToolLoopExecutesAndFeedsBackResults(t *testing.T) {
	searchOutput := "1. **Result Title**\n   A snippet.\n   🔗 https://example.com/result\n\n"
	provider := &scriptedProvider{steps: []scriptedStep{
		{resp: models.ProviderResponse{ToolCalls: []models.ToolCall{{
			ID:        "tc1",
			Name:      "web_search",
			Arguments: map[string]interface{}{"query": "go releases"},
		}}}},
		{resp: models.ProviderResponse{Content: "based on the search, 1.24 is current"}},
	}}
	store := newMemoryStore()

	runtime := toolruntime.New()
	runtime.AddServer("test", models.FunctionDeclaration{
		Name: "web_search",
		Callable: func(args map[string]interface{}) (string, error) {
			return searchOutput, nil
		},
	})
	p := testPipeline(provider, store, func(cfg *Config) { cfg.WithTools(runtime) })

	turn, err := p.SendMessage(context.Background(), "what is the latest go release", nil,
		models.ChatSettings{ProviderID: "openrouter", Model: "m", APIKey: "sk-ok", ToolCallingEnabled: true},
		SendOptions{ConversationID: "conv1"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(provider.calls) != 2 {
		t.Fatalf("Expected two provider calls (tool round + final), got %d", len(provider.calls))
	}
	if len(provider.calls[0].Tools) != 1 {
		t.Errorf("Expected tool declarations on the first request, got %d", len(provider.calls[0].Tools))
	}
	fedBack := provider.calls[1].ToolResults
	if len(fedBack) != 1 || fedBack[0].Name != "web_search" {
		t.Fatalf("Expected the executed call fed back, got %+v", fedBack)
	}
	if !strings.Contains(fedBack[0].Result, "Result Title") {
		t.Errorf("Expected tool output in fed-back result, got %q", fedBack[0].Result)
	}

	if turn.Content != "based on the search, 1.24 is current" {
		t.Errorf("Expected final content, got %q", turn.Content)
	}
	if len(turn.ToolCalls) != 1 || turn.ToolCalls[0].IsError {
		t.Errorf("Expected one successful executed call on the turn, got %+v", turn.ToolCalls)
	}
}

func TestSendMessage_WebSearchToolCallsYieldSources(t *testing.T) {
	searchOutput := "1. **Go 1.24 Release Notes**\n   What changed.\n   🔗 https://go.dev/doc/go1.24\n\n"
	provider := &scriptedProvider{steps: []scriptedStep{
		{resp: models.ProviderResponse{ToolCalls: []models.ToolCall{{
			ID:        "tc1",
			Name:      "web_search",
			Arguments: map[string]interface{}{"query": "go 1.24"},
		}}}},
		{resp: models.ProviderResponse{Content: "see the release notes"}},
	}}
	store := newMemoryStore()

	runtime := toolruntime.New()
	runtime.AddServer("test", models.FunctionDeclaration{
		Name:     "web_search",
		Callable: func(args map[string]interface{}) (string, error) { return searchOutput, nil },
	})
	p := testPipeline(provider, store, func(cfg *Config) { cfg.WithTools(runtime) })

	turn, err := p.SendMessage(context.Background(), "find go 1.24 notes", nil,
		models.ChatSettings{ProviderID: "openrouter", Model: "m", APIKey: "sk-ok", ToolCallingEnabled: true},
		SendOptions{ConversationID: "conv1"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(turn.Sources) != 1 {
		t.Fatalf("Expected one extracted web source, got %d", len(turn.Sources))
	}
	if turn.Sources[0].Type != models.SourceWeb || turn.Sources[0].URL != "https://go.dev/doc/go1.24" {
		t.Errorf("Expected scraped citation, got %+v", turn.Sources[0])
	}
}

func TestSendMessage_HistoryWindowAccompaniesTheRequest(t *testing.T) {
	provider := &scriptedProvider{steps: []scriptedStep{
		{resp: models.ProviderResponse{Content: "first"}},
		{resp: models.ProviderResponse{Content: "second"}},
	}}
	store := newMemoryStore()
	p := testPipeline(provider, store)

	settings := models.ChatSettings{ProviderID: "ollama", Model: "llama3.2"}
	opts := SendOptions{ConversationID: "conv1"}

	if _, err := p.SendMessage(context.Background(), "turn one", nil, settings, opts); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := p.SendMessage(context.Background(), "turn two", nil, settings, opts); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	first := provider.calls[0]
	if len(first.History) != 0 {
		t.Errorf("Expected no history on the first request, got %d turns", len(first.History))
	}

	second := provider.calls[1]
	if len(second.History) != 2 {
		t.Fatalf("Expected the prior exchange on the second request, got %d turns", len(second.History))
	}
	if second.History[0].Content != "turn one" || second.History[1].Content != "first" {
		t.Errorf("Expected prior exchange in order, got %+v", second.History)
	}
	if second.Payload.Text != "turn two" {
		t.Errorf("Expected current message only in the payload, got %q", second.Payload.Text)
	}
}

func TestSendMessageWithAgent_UnknownAgentIsAnError(t *testing.T) {
	p := testPipeline(&scriptedProvider{}, newMemoryStore())
	_, err := p.SendMessageWithAgent(context.Background(), "nope", "hello", nil, SendOptions{})
	if err == nil || !strings.Contains(err.Error(), "unknown agent") {
		t.Errorf("Expected unknown agent error, got %v", err)
	}
}

func TestSendMessageWithAgent_PinsProviderAndModel(t *testing.T) {
	provider := &scriptedProvider{steps: []scriptedStep{
		{resp: models.ProviderResponse{Content: "agent answer"}},
	}}
	store := newMemoryStore()
	p := testPipeline(provider, store, func(cfg *Config) {
		cfg.WithAgent(models.AgentConfig{
			ID:         "helper",
			ProviderID: "ollama",
			Model:      "llama3.2",
		})
	})

	turn, err := p.SendMessageWithAgent(context.Background(), "helper", "hello", nil,
		SendOptions{ConversationID: "conv1"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if turn.Content != "agent answer" {
		t.Errorf("Expected agent answer, got %q", turn.Content)
	}
	if provider.calls[0].ProviderID != "ollama" || provider.calls[0].Model != "llama3.2" {
		t.Errorf("Expected pinned provider and model, got %+v", provider.calls[0])
	}
}

func TestSendMessage_UnregisteredProviderFailsClassified(t *testing.T) {
	p := testPipeline(&scriptedProvider{}, newMemoryStore())

	turn, err := p.SendMessage(context.Background(), "hello", nil,
		models.ChatSettings{ProviderID: "mistral", Model: "m", APIKey: "sk"},
		SendOptions{ConversationID: "conv1"})
	if err == nil {
		t.Fatalf("Expected error for unregistered provider")
	}
	if !turn.IsError {
		t.Errorf("Expected flagged turn for unregistered provider")
	}
}
