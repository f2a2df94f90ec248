// Package parlor is the message-dispatch and response-normalization core of
// a multi-provider chat client. It adapts a user turn to the selected
// provider's payload shape, optionally augments the prompt with retrieved
// knowledge-base context, dispatches streaming or batched per the provider's
// capabilities, normalizes telemetry, and classifies failures into a fixed
// user-facing taxonomy. The UI shell, vector index, document parsers, and
// provider wire formats all live behind narrow collaborator interfaces.
package parlor

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parlorchat/parlor/content"
	"github.com/parlorchat/parlor/errclass"
	"github.com/parlorchat/parlor/models"
	"github.com/parlorchat/parlor/normalize"
	"github.com/parlorchat/parlor/providers"
	"github.com/parlorchat/parlor/rag"
	"github.com/parlorchat/parlor/stores"
	"github.com/parlorchat/parlor/toolruntime"
)

// maxToolIterations bounds the tool execution loop so a provider that keeps
// requesting tools cannot spin forever.
const maxToolIterations = 4

type Pipeline struct {
	registry      *providers.Registry
	store         stores.TurnStore
	augmenter     *rag.Augmenter
	adapter       *content.Adapter
	tools         *toolruntime.Runtime
	agents        map[string]models.AgentConfig
	historyWindow int
	logger        *log.Logger
}

// SendOptions carries the per-call side channels and selections that are not
// part of the settings snapshot.
type SendOptions struct {
	ConversationID string
	// History overrides the store-fetched window when non-nil.
	History             []models.ChatTurn
	OnStreamChunk       func(chunk string)
	OnRetrievalProgress rag.ProgressFunc
	KnowledgeBaseIDs    []string
}

// Registry exposes the provider registry for host registration.
func (p *Pipeline) Registry() *providers.Registry { return p.registry }

// Tools exposes the tool runtime for host registration.
func (p *Pipeline) Tools() *toolruntime.Runtime { return p.tools }

// ContentAdapter exposes the adapter so hosts can install provider-native
// file pipelines.
func (p *Pipeline) ContentAdapter() *content.Adapter { return p.adapter }

// History returns the sanitized recent window for a conversation, oldest
// first. A window of zero or less uses the configured default.
func (p *Pipeline) History(conversationID string, window int) ([]models.ChatTurn, error) {
	if p.store == nil {
		return nil, nil
	}
	if window <= 0 {
		window = p.historyWindow
	}
	history, err := p.store.FetchHistory(conversationID, window)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}
	return stores.SanitizeWindow(history), nil
}

// SendMessage runs one chat turn through the pipeline and returns the
// finalized assistant turn. A provider failure still yields a turn: its
// content is the templated error message, it is flagged, appended to
// history, and the classified error is returned alongside it.
func (p *Pipeline) SendMessage(ctx context.Context, text string, files []models.File, settings models.ChatSettings, opts SendOptions) (models.ChatTurn, error) {
	conversationID := opts.ConversationID
	if conversationID == "" {
		conversationID = uuid.New().String()
	}

	caps := models.CapabilitiesFor(settings.ProviderID)

	// The window is fetched before the user turn is appended so the current
	// message travels only once, as the request payload.
	history := opts.History
	if history == nil {
		history = p.fetchWindow(conversationID, settings.HistoryWindow)
	}

	userTurn := models.ChatTurn{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Content:   text,
		Timestamp: time.Now(),
	}
	p.appendTurn(conversationID, userTurn)

	// Credential pre-flight: a missing key for a credential-requiring
	// provider fails the turn before anything reaches the network. The user
	// turn is already persisted, so the exchange survives in replayed
	// history even though the sanitizer drops the errored reply.
	if caps.RequiresCredential && strings.TrimSpace(settings.APIKey) == "" {
		err := fmt.Errorf("api key required for provider %q but none was configured", settings.ProviderID)
		return p.failTurn(conversationID, err), err
	}

	// Retrieval augmentation. Failure inside is already absorbed; the worst
	// case is the prompt passing through unchanged.
	prompt := text
	var ragSources []models.Source
	if len(opts.KnowledgeBaseIDs) > 0 && (settings.RAGEnabled || settings.RAG != (models.RAGOptions{})) {
		ragOpts := settings.RAG
		if ragOpts == (models.RAGOptions{}) {
			ragOpts = models.DefaultRAGOptions()
		}
		augmented := p.augmenter.Augment(ctx, text, opts.KnowledgeBaseIDs, ragOpts, opts.OnRetrievalProgress)
		prompt = augmented.Prompt
		ragSources = augmented.Sources
	}

	payload := p.adapter.Adapt(prompt, files, settings.ProviderID)

	connected, available := p.toolCounts()
	toolsActive := settings.ToolCallingEnabled && connected > 0 && available > 0
	stream := ShouldStream(settings.ProviderID, settings.ToolCallingEnabled, connected, available, opts.OnStreamChunk != nil)

	req := models.ProviderRequest{
		ProviderID:         settings.ProviderID,
		Model:              settings.Model,
		APIKey:             settings.APIKey,
		BaseURL:            settings.BaseURL,
		Temperature:        settings.Temperature,
		MaxTokens:          settings.MaxTokens,
		SystemPrompt:       settings.SystemPrompt,
		ToolCallingEnabled: settings.ToolCallingEnabled,
		Payload:            payload,
		History:            history,
	}
	if toolsActive {
		req.Tools = p.tools.AvailableTools()
	}

	assistant := models.ChatTurn{
		ID:        uuid.New().String(),
		Role:      models.RoleAssistant,
		Timestamp: time.Now(),
	}

	start := time.Now()
	resp, executed, err := p.dispatch(ctx, req, toolsActive, stream, &assistant, opts.OnStreamChunk)
	end := time.Now()

	if err != nil {
		// Cancellation finalizes the partially streamed turn rather than
		// discarding it; everything else becomes a templated error turn.
		if ctx.Err() != nil && assistant.Content != "" {
			assistant.Timing = &models.Timing{
				StartTime:  start,
				EndTime:    end,
				DurationMs: end.Sub(start).Milliseconds(),
			}
			assistant.ToolCalls = executed
			p.appendTurn(conversationID, assistant)
			return assistant, ctx.Err()
		}

		cat, message := errclass.Describe(err)
		p.logger.Printf("provider call failed (%s): %v", cat, err)
		assistant.Content = message
		assistant.IsError = true
		p.appendTurn(conversationID, assistant)
		return assistant, err
	}

	if assistant.Content == "" {
		assistant.Content = resp.Content
	}
	assistant.ToolCalls = executed

	norm := normalize.Normalize(resp, settings.ProviderID, settings.Model, start, end)
	// Source extraction looks at executed tool calls, not the raw response.
	norm.Sources = normalize.ExtractSources(executed)

	assistant.Usage = &norm.Usage
	assistant.Cost = norm.Cost
	timing := norm.Timing
	assistant.Timing = &timing
	assistant.Sources = append(ragSources, norm.Sources...)

	p.appendTurn(conversationID, assistant)
	return assistant, nil
}

// SendMessageWithAgent runs the same pipeline with provider, model, prompt,
// and knowledge-base selection pinned by a named agent configuration.
func (p *Pipeline) SendMessageWithAgent(ctx context.Context, agentID, text string, files []models.File, opts SendOptions) (models.ChatTurn, error) {
	agent, ok := p.agents[agentID]
	if !ok {
		return models.ChatTurn{}, fmt.Errorf("unknown agent: %s", agentID)
	}

	settings := models.ChatSettings{
		ProviderID:         agent.ProviderID,
		Model:              agent.Model,
		APIKey:             agent.APIKey,
		BaseURL:            agent.BaseURL,
		Temperature:        agent.Temperature,
		MaxTokens:          agent.MaxTokens,
		SystemPrompt:       agent.SystemPrompt,
		ToolCallingEnabled: agent.ToolCallingEnabled,
		RAGEnabled:         len(agent.KnowledgeBaseIDs) > 0,
	}
	opts.KnowledgeBaseIDs = agent.KnowledgeBaseIDs

	return p.SendMessage(ctx, text, files, settings, opts)
}

// dispatch runs the provider call plus the bounded tool loop. Streamed
// chunks are appended to the assistant turn in arrival order before being
// forwarded to the caller's consumer.
func (p *Pipeline) dispatch(ctx context.Context, req models.ProviderRequest, toolsActive, stream bool, assistant *models.ChatTurn, onChunk func(string)) (models.ProviderResponse, []models.ToolCall, error) {
	var executed []models.ToolCall
	var totalUsage *models.Usage

	var chunkFn providers.StreamFunc
	if stream {
		chunkFn = func(chunk string) {
			assistant.Content += chunk
			if onChunk != nil {
				onChunk(chunk)
			}
		}
	}

	for iteration := 0; ; iteration++ {
		resp, err := p.registry.Send(ctx, req, chunkFn)
		if err != nil {
			return resp, executed, err
		}
		totalUsage = sumUsage(totalUsage, resp.Usage)
		resp.Usage = totalUsage

		if !toolsActive || len(resp.ToolCalls) == 0 || iteration >= maxToolIterations {
			return resp, executed, nil
		}

		// Execute this round's tool calls and feed the results back.
		results := make([]models.ToolCall, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			output, execErr := p.tools.Execute(call.Name, call.Arguments)
			call.Result = output
			call.IsError = execErr != nil
			results = append(results, call)
		}
		executed = append(executed, results...)
		req.ToolResults = results
	}
}

func sumUsage(total, u *models.Usage) *models.Usage {
	if u == nil {
		return total
	}
	if total == nil {
		copied := *u
		return &copied
	}
	total.PromptTokens += u.PromptTokens
	total.CompletionTokens += u.CompletionTokens
	total.TotalTokens += u.TotalTokens
	return total
}

// failTurn builds, persists, and returns a templated error turn for
// failures that happen before dispatch.
func (p *Pipeline) failTurn(conversationID string, err error) models.ChatTurn {
	cat, message := errclass.Describe(err)
	p.logger.Printf("turn failed before dispatch (%s): %v", cat, err)
	turn := models.ChatTurn{
		ID:        uuid.New().String(),
		Role:      models.RoleAssistant,
		Content:   message,
		Timestamp: time.Now(),
		IsError:   true,
	}
	p.appendTurn(conversationID, turn)
	return turn
}

// appendTurn hands a finalized turn to the history collaborator. The store
// owns ordering and write safety; a persistence failure is logged, not
// surfaced, so history trouble never fails a turn that already succeeded.
func (p *Pipeline) appendTurn(conversationID string, turn models.ChatTurn) {
	if p.store == nil {
		return
	}
	if err := p.store.AppendTurn(conversationID, turn); err != nil {
		p.logger.Printf("failed to persist turn %s: %v", turn.ID, err)
	}
}

// fetchWindow is the dispatch-path variant of History: a fetch failure is
// logged and the turn proceeds without history rather than failing.
func (p *Pipeline) fetchWindow(conversationID string, window int) []models.ChatTurn {
	history, err := p.History(conversationID, window)
	if err != nil {
		p.logger.Printf("history unavailable for %s, dispatching without it: %v", conversationID, err)
		return nil
	}
	return history
}

func (p *Pipeline) toolCounts() (connectedServers, availableTools int) {
	if p.tools == nil {
		return 0, 0
	}
	return len(p.tools.ConnectedServerIDs()), len(p.tools.AvailableTools())
}
