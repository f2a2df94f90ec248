// Package openrouter implements the provider contract against OpenRouter,
// and by extension any OpenAI-compatible chat completions endpoint through a
// custom base URL.
package openrouter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/parlorchat/parlor/models"
	"github.com/parlorchat/parlor/providers"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1/chat/completions"
	DefaultModel   = "openai/gpt-4o-mini"
)

func init() {
	// Load .env file if it exists (not present in production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
}

// Client talks to the OpenRouter chat completions API.
type Client struct {
	// SiteURL and SiteName are optional OpenRouter ranking headers.
	SiteURL  string
	SiteName string
	// APIKeyEnv names the env var used when the request carries no key.
	// Defaults to OPENROUTER_API_KEY.
	APIKeyEnv string

	HTTPClient *http.Client
}

func New() *Client {
	return &Client{HTTPClient: http.DefaultClient}
}

// Send implements providers.Provider.
func (c *Client) Send(ctx context.Context, req models.ProviderRequest, onChunk providers.StreamFunc) (models.ProviderResponse, error) {
	body := c.buildRequest(req, onChunk != nil)

	jsonBytes, err := json.Marshal(body)
	if err != nil {
		return models.ProviderResponse{}, fmt.Errorf("failed to marshal request body: %w", err)
	}

	baseURL := req.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", baseURL, bytes.NewReader(jsonBytes))
	if err != nil {
		return models.ProviderResponse{}, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	c.setHeaders(httpReq, req.APIKey)

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return models.ProviderResponse{}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.ProviderResponse{}, readAPIError(resp)
	}

	if onChunk != nil {
		return c.readStream(resp.Body, onChunk)
	}
	return c.readBatch(resp.Body)
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) setHeaders(req *http.Request, apiKey string) {
	if apiKey == "" {
		env := c.APIKeyEnv
		if env == "" {
			env = "OPENROUTER_API_KEY"
		}
		apiKey = os.Getenv(env)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	if c.SiteURL != "" {
		req.Header.Set("HTTP-Referer", c.SiteURL)
	}
	if c.SiteName != "" {
		req.Header.Set("X-Title", c.SiteName)
	}
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return fmt.Errorf("OpenRouter API error: %s (type: %s)", errResp.Error.Message, errResp.Error.Type)
	}
	return fmt.Errorf("OpenRouter API error: status %d, body: %s", resp.StatusCode, string(body))
}

// buildRequest translates the internal request snapshot into the OpenAI
// message shape: system prompt, history window, payload, tool results.
func (c *Client) buildRequest(req models.ProviderRequest, stream bool) Request {
	var messages []Message

	if req.SystemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: req.SystemPrompt})
	}

	for _, turn := range req.History {
		if msg := historyMessage(turn); msg != nil {
			messages = append(messages, *msg)
		}
	}

	messages = append(messages, payloadMessage(req.Payload))

	if len(req.ToolResults) > 0 {
		// The protocol requires the assistant's tool_calls message to precede
		// the tool results that answer it.
		calls := make([]ToolCall, 0, len(req.ToolResults))
		for _, tr := range req.ToolResults {
			argBytes, _ := json.Marshal(tr.Arguments)
			calls = append(calls, ToolCall{
				ID:   tr.ID,
				Type: "function",
				Function: ToolCallFunction{
					Name:      tr.Name,
					Arguments: string(argBytes),
				},
			})
		}
		messages = append(messages, Message{Role: "assistant", ToolCalls: calls})
		for _, tr := range req.ToolResults {
			messages = append(messages, Message{
				Role:       "tool",
				Content:    tr.Result,
				ToolCallID: tr.ID,
			})
		}
	}

	model := req.Model
	if model == "" {
		model = DefaultModel
	}

	out := Request{
		Model:       model,
		Messages:    messages,
		Stream:      stream,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if stream {
		out.StreamOptions = &StreamOptions{IncludeUsage: true}
	}
	if len(req.Tools) > 0 {
		out.Tools = convertTools(req.Tools)
		out.ToolChoice = "auto"
	}
	return out
}

func historyMessage(turn models.ChatTurn) *Message {
	role := "user"
	if turn.Role == models.RoleAssistant {
		role = "assistant"
	}
	if turn.Content == "" {
		return nil
	}
	return &Message{Role: role, Content: turn.Content}
}

// payloadMessage maps the adapted payload onto the user message. Image
// side-channel entries become image_url parts alongside the text.
func payloadMessage(payload models.ProviderPayload) Message {
	switch payload.Kind {
	case models.PayloadTextImages:
		if len(payload.Images) == 0 {
			return Message{Role: "user", Content: payload.Text}
		}
		parts := []ContentPart{{Type: "text", Text: payload.Text}}
		for _, img := range payload.Images {
			parts = append(parts, ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: img}})
		}
		return Message{Role: "user", Content: parts}

	case models.PayloadParts:
		parts := make([]ContentPart, 0, len(payload.Parts))
		for _, p := range payload.Parts {
			switch p.Type {
			case models.PartText:
				parts = append(parts, ContentPart{Type: "text", Text: p.Text})
			case models.PartImage:
				parts = append(parts, ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: p.Data}})
			default:
				// Document blocks are not supported here; name the file so
				// the model at least knows it existed.
				parts = append(parts, ContentPart{Type: "text", Text: fmt.Sprintf("[attached document: %s]", p.FileName)})
			}
		}
		return Message{Role: "user", Content: parts}

	default:
		return Message{Role: "user", Content: payload.Text}
	}
}

func convertTools(tools []models.FunctionDeclaration) []Tool {
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, Tool{
			Type: "function",
			Function: ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

func (c *Client) readBatch(body io.Reader) (models.ProviderResponse, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return models.ProviderResponse{}, fmt.Errorf("failed to read response body: %w", err)
	}

	var response Response
	if err := json.Unmarshal(raw, &response); err != nil {
		return models.ProviderResponse{}, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	out := models.ProviderResponse{Usage: convertUsage(response.Usage)}
	for _, choice := range response.Choices {
		if choice.Message == nil {
			continue
		}
		if text, ok := choice.Message.Content.(string); ok {
			out.Content += text
		}
		out.ToolCalls = append(out.ToolCalls, convertToolCalls(choice.Message.ToolCalls)...)
	}
	return out, nil
}

// readStream parses the SSE stream, forwarding text deltas in arrival order
// and accumulating tool-call argument fragments until the stream settles.
func (c *Client) readStream(body io.Reader, onChunk providers.StreamFunc) (models.ProviderResponse, error) {
	var out models.ProviderResponse
	var content strings.Builder
	toolCallAccumulator := make(map[int]*ToolCall)

	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return out, fmt.Errorf("error reading stream: %w", err)
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk Response
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			log.Printf("Warning: failed to unmarshal stream chunk: %v, data: %s", err, data)
			continue
		}

		// Usage arrives on the final chunk when include_usage is set.
		if chunk.Usage != nil {
			out.Usage = convertUsage(chunk.Usage)
		}

		for _, choice := range chunk.Choices {
			if choice.Delta == nil {
				continue
			}
			if choice.Delta.Content != nil && *choice.Delta.Content != "" {
				content.WriteString(*choice.Delta.Content)
				onChunk(*choice.Delta.Content)
			}
			for _, tc := range choice.Delta.ToolCalls {
				if existing, ok := toolCallAccumulator[choice.Index]; ok {
					existing.Function.Arguments += tc.Function.Arguments
				} else {
					accumulated := tc
					toolCallAccumulator[choice.Index] = &accumulated
				}
			}
		}
	}

	out.Content = content.String()
	for _, tc := range toolCallAccumulator {
		out.ToolCalls = append(out.ToolCalls, convertToolCalls([]ToolCall{*tc})...)
	}
	return out, nil
}

func convertUsage(u *Usage) *models.Usage {
	if u == nil {
		return nil
	}
	return &models.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

func convertToolCalls(calls []ToolCall) []models.ToolCall {
	var out []models.ToolCall
	for _, tc := range calls {
		if tc.Type != "" && tc.Type != "function" {
			continue
		}
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			log.Printf("Warning: failed to unmarshal tool call arguments: %v", err)
			args = map[string]interface{}{}
		}
		out = append(out, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return out
}
