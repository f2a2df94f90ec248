package models

// ChatSettings is the caller's settings snapshot for one turn. It is copied
// into a ProviderRequest at dispatch time; the pipeline never reads ambient
// state mid-turn.
type ChatSettings struct {
	ProviderID         string     `json:"provider_id"`
	Model              string     `json:"model"`
	APIKey             string     `json:"api_key,omitempty"`
	BaseURL            string     `json:"base_url,omitempty"`
	Temperature        *float64   `json:"temperature,omitempty"`
	MaxTokens          *int       `json:"max_tokens,omitempty"`
	SystemPrompt       string     `json:"system_prompt,omitempty"`
	ToolCallingEnabled bool       `json:"tool_calling_enabled"`
	HistoryWindow      int        `json:"history_window,omitempty"`
	RAGEnabled         bool       `json:"rag_enabled"`
	RAG                RAGOptions `json:"rag,omitempty"`
}

// ProviderRequest is the transient, fully-resolved request handed to a
// provider adapter. It is never constructed when a required credential is
// missing; the pipeline fails the turn before dispatch instead.
type ProviderRequest struct {
	ProviderID         string
	Model              string
	APIKey             string
	BaseURL            string
	Temperature        *float64
	MaxTokens          *int
	SystemPrompt       string
	ToolCallingEnabled bool

	Payload ProviderPayload
	// History is a bounded window of prior turns, oldest first.
	History []ChatTurn
	// Tools the provider may call this turn, empty when tool calling is off.
	Tools []FunctionDeclaration
	// ToolResults feeds executed tool output back for a follow-up iteration.
	ToolResults []ToolCall
}

// ProviderResponse is the raw normalized-enough reply from an adapter.
// Usage and Cost are optional; the normalizer materializes defaults.
type ProviderResponse struct {
	Content   string
	Usage     *Usage
	Cost      *Cost
	ToolCalls []ToolCall
	Images    []string
}

// AgentConfig pins provider, model, prompt and knowledge-base selection
// under a stable name, so a turn can be dispatched without ambient settings.
type AgentConfig struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	ProviderID         string   `json:"provider_id"`
	Model              string   `json:"model"`
	APIKey             string   `json:"api_key,omitempty"`
	BaseURL            string   `json:"base_url,omitempty"`
	SystemPrompt       string   `json:"system_prompt,omitempty"`
	Temperature        *float64 `json:"temperature,omitempty"`
	MaxTokens          *int     `json:"max_tokens,omitempty"`
	ToolCallingEnabled bool     `json:"tool_calling_enabled"`
	KnowledgeBaseIDs   []string `json:"knowledge_base_ids,omitempty"`
}

const (
	AggregationRelevance     = "relevance"
	AggregationBalanced      = "balanced"
	AggregationComprehensive = "comprehensive"
)

// RAGOptions is a pure configuration value object for retrieval augmentation.
type RAGOptions struct {
	MaxResultsPerKB          int     `json:"max_results_per_kb"`
	RelevanceThreshold       float64 `json:"relevance_threshold"`
	ContextWindowTokens      int     `json:"context_window_tokens"`
	AggregationStrategy      string  `json:"aggregation_strategy"`
	IncludeSourceAttribution bool    `json:"include_source_attribution"`
}

// DefaultRAGOptions returns the options used when the caller supplies none.
func DefaultRAGOptions() RAGOptions {
	return RAGOptions{
		MaxResultsPerKB:          5,
		RelevanceThreshold:       0.3,
		ContextWindowTokens:      4000,
		AggregationStrategy:      AggregationBalanced,
		IncludeSourceAttribution: true,
	}
}
