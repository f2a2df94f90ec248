package ollama

import (
	"strings"
	"testing"

	"github.com/parlorchat/parlor/models"
	"github.com/parlorchat/parlor/providers"
)

func TestBuildRequest_ImagesAreBareBase64(t *testing.T) {
	req := models.ProviderRequest{
		Model: "llama3.2",
		Payload: models.ProviderPayload{
			Kind:   models.PayloadTextImages,
			Text:   "what is this",
			Images: []string{"data:image/png;base64,QUJD"},
		},
	}

	body := buildRequest(req, false)
	last := body.Messages[len(body.Messages)-1]
	if len(last.Images) != 1 || last.Images[0] != "QUJD" {
		t.Errorf("Expected data URL prefix stripped, got %v", last.Images)
	}
}

func TestBuildRequest_OptionsOnlyWhenSet(t *testing.T) {
	req := models.ProviderRequest{Payload: models.ProviderPayload{Kind: models.PayloadText, Text: "q"}}
	if body := buildRequest(req, false); body.Options != nil {
		t.Errorf("Expected no options block, got %v", body.Options)
	}

	temp := 0.2
	maxTokens := 128
	req.Temperature = &temp
	req.MaxTokens = &maxTokens
	body := buildRequest(req, false)
	if body.Options["temperature"] != 0.2 {
		t.Errorf("Expected temperature option, got %v", body.Options)
	}
	if body.Options["num_predict"] != 128 {
		t.Errorf("Expected num_predict option, got %v", body.Options)
	}
}

func TestReadStream_NDJSONDeltasAndFinalCounters(t *testing.T) {
	ndjson := `{"message":{"role":"assistant","content":"Hel"},"done":false}
{"message":{"role":"assistant","content":"lo"},"done":false}
{"done":true,"prompt_eval_count":12,"eval_count":2}
`
	var received []string
	resp, err := readStream(strings.NewReader(ndjson), func(chunk string) { received = append(received, chunk) })
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if resp.Content != "Hello" {
		t.Errorf("Expected accumulated 'Hello', got %q", resp.Content)
	}
	if len(received) != 2 {
		t.Errorf("Expected 2 forwarded chunks, got %d", len(received))
	}
	if resp.Usage == nil || resp.Usage.PromptTokens != 12 || resp.Usage.CompletionTokens != 2 {
		t.Errorf("Expected counters from the final object, got %+v", resp.Usage)
	}
	if resp.Usage != nil && resp.Usage.TotalTokens != 14 {
		t.Errorf("Expected derived total 14, got %d", resp.Usage.TotalTokens)
	}
}

func TestReadStream_MidStreamErrorSurfaces(t *testing.T) {
	ndjson := `{"message":{"role":"assistant","content":"Hel"},"done":false}
{"error":"model 'llama9' not found"}
`
	_, err := readStream(strings.NewReader(ndjson), func(chunk string) {})
	if err == nil || !strings.Contains(err.Error(), "llama9") {
		t.Errorf("Expected mid-stream error surfaced, got %v", err)
	}
}

func TestReadBatch_ErrorBodySurfaces(t *testing.T) {
	_, err := readBatch(strings.NewReader(`{"error":"out of memory"}`))
	if err == nil || !strings.Contains(err.Error(), "out of memory") {
		t.Errorf("Expected error body surfaced, got %v", err)
	}
}

var _ providers.Provider = (*Client)(nil)
