// Package ollama implements the provider contract against a local Ollama
// server. No credential is required; streaming responses arrive as NDJSON
// with usage counters on the final object.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/parlorchat/parlor/models"
	"github.com/parlorchat/parlor/providers"
)

const (
	DefaultBaseURL = "http://localhost:11434/api/chat"
	DefaultModel   = "llama3.2"
)

type Client struct {
	HTTPClient *http.Client
}

func New() *Client {
	return &Client{HTTPClient: http.DefaultClient}
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type chatResponse struct {
	Message         *chatMessage `json:"message,omitempty"`
	Done            bool         `json:"done"`
	PromptEvalCount int          `json:"prompt_eval_count,omitempty"`
	EvalCount       int          `json:"eval_count,omitempty"`
	Error           string       `json:"error,omitempty"`
}

// Send implements providers.Provider.
func (c *Client) Send(ctx context.Context, req models.ProviderRequest, onChunk providers.StreamFunc) (models.ProviderResponse, error) {
	body := buildRequest(req, onChunk != nil)

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
	httpReq.Header.Set("Content-Type", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return models.ProviderResponse{}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return models.ProviderResponse{}, fmt.Errorf("Ollama API error: status %d, body: %s", resp.StatusCode, string(raw))
	}

	if onChunk != nil {
		return readStream(resp.Body, onChunk)
	}
	return readBatch(resp.Body)
}

func buildRequest(req models.ProviderRequest, stream bool) chatRequest {
	var messages []chatMessage

	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}

	for _, turn := range req.History {
		if turn.Content == "" {
			continue
		}
		role := "user"
		if turn.Role == models.RoleAssistant {
			role = "assistant"
		}
		messages = append(messages, chatMessage{Role: role, Content: turn.Content})
	}

	user := chatMessage{Role: "user", Content: req.Payload.Text}
	// Ollama takes bare base64, not data URLs.
	for _, img := range req.Payload.Images {
		user.Images = append(user.Images, stripDataURL(img))
	}
	messages = append(messages, user)

	model := req.Model
	if model == "" {
		model = DefaultModel
	}

	out := chatRequest{Model: model, Messages: messages, Stream: stream}
	if req.Temperature != nil || req.MaxTokens != nil {
		out.Options = map[string]any{}
		if req.Temperature != nil {
			out.Options["temperature"] = *req.Temperature
		}
		if req.MaxTokens != nil {
			out.Options["num_predict"] = *req.MaxTokens
		}
	}
	return out
}

func stripDataURL(s string) string {
	if idx := strings.Index(s, ";base64,"); idx != -1 {
		return s[idx+len(";base64,"):]
	}
	return s
}

func readBatch(body io.Reader) (models.ProviderResponse, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return models.ProviderResponse{}, fmt.Errorf("failed to read response body: %w", err)
	}

	var response chatResponse
	if err := json.Unmarshal(raw, &response); err != nil {
		return models.ProviderResponse{}, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if response.Error != "" {
		return models.ProviderResponse{}, fmt.Errorf("Ollama API error: %s", response.Error)
	}

	out := models.ProviderResponse{Usage: usageOf(response)}
	if response.Message != nil {
		out.Content = response.Message.Content
	}
	return out, nil
}

// readStream consumes NDJSON objects, forwarding each content fragment in
// arrival order. The final object carries the eval counters.
func readStream(body io.Reader, onChunk providers.StreamFunc) (models.ProviderResponse, error) {
	var out models.ProviderResponse
	var content strings.Builder

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			log.Printf("Warning: failed to unmarshal stream line: %v, data: %s", err, line)
			continue
		}
		if chunk.Error != "" {
			return out, fmt.Errorf("Ollama API error: %s", chunk.Error)
		}

		if chunk.Message != nil && chunk.Message.Content != "" {
			content.WriteString(chunk.Message.Content)
			onChunk(chunk.Message.Content)
		}
		if chunk.Done {
			out.Usage = usageOf(chunk)
		}
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("error reading stream: %w", err)
	}

	out.Content = content.String()
	return out, nil
}

func usageOf(resp chatResponse) *models.Usage {
	if resp.PromptEvalCount == 0 && resp.EvalCount == 0 {
		return nil
	}
	return &models.Usage{
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
		TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
	}
}
