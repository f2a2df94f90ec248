package models

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatTurn is one exchange unit in a conversation. User turns carry only
// content; assistant turns are created empty when a provider call starts,
// mutated in place while streaming, and finalized once the call settles.
type ChatTurn struct {
	ID        string        `json:"id"`
	Role      string        `json:"role"`
	Content   string        `json:"content"`
	Parts     []ContentPart `json:"parts,omitempty"`
	Timestamp time.Time     `json:"timestamp"`

	Usage     *Usage     `json:"usage,omitempty"`
	Cost      *Cost      `json:"cost,omitempty"`
	Timing    *Timing    `json:"timing,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Sources   []Source   `json:"sources,omitempty"`

	// IsError marks a turn whose content is a templated failure message.
	IsError bool `json:"is_error,omitempty"`
}

// Usage holds normalized token counts. TotalTokens is always the sum of
// prompt and completion, even when the provider reports only a combined
// figure or omits the total.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Cost is the derived price of one assistant turn, attributable to the
// provider and model that produced it.
type Cost struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Provider string  `json:"provider"`
	Model    string  `json:"model"`
}

// Timing records wall-clock boundaries of a provider call.
// TokensPerSecond is nil when it could not be measured; zero would mean
// "measured and zero", which is a different statement.
type Timing struct {
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationMs      int64     `json:"duration_ms"`
	TokensPerSecond *float64  `json:"tokens_per_second,omitempty"`
}

// ToolCall records one provider-initiated tool invocation, kept verbatim on
// the turn regardless of whether sources could be extracted from its result.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
	Result    string                 `json:"result,omitempty"`
	IsError   bool                   `json:"is_error,omitempty"`
}

const (
	SourceKnowledgeBase = "knowledge_base"
	SourceWeb           = "web"
	SourceDocument      = "document"
)

// Source is a citation record attached to an assistant turn.
type Source struct {
	Type    string   `json:"type"`
	Title   string   `json:"title"`
	URL     string   `json:"url,omitempty"`
	Score   *float64 `json:"score,omitempty"`
	Snippet string   `json:"snippet,omitempty"`
}
