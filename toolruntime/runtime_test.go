package toolruntime

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/parlorchat/parlor/models"
)

func echoTool(name string) models.FunctionDeclaration {
	return models.FunctionDeclaration{
		Name: name,
		Callable: func(args map[string]interface{}) (string, error) {
			return "echo:" + stringArg(args, "text"), nil
		},
	}
}

func TestRuntime_ConnectivityCounts(t *testing.T) {
	rt := New()
	if got := len(rt.ConnectedServerIDs()); got != 0 {
		t.Errorf("Expected 0 connected servers, got %d", got)
	}

	rt.AddServer("alpha", echoTool("a1"), echoTool("a2"))
	rt.AddServer("beta", echoTool("b1"))

	if got := len(rt.ConnectedServerIDs()); got != 2 {
		t.Errorf("Expected 2 connected servers, got %d", got)
	}
	if got := len(rt.AvailableTools()); got != 3 {
		t.Errorf("Expected 3 available tools, got %d", got)
	}

	rt.SetConnected("alpha", false)
	if got := len(rt.ConnectedServerIDs()); got != 1 {
		t.Errorf("Expected 1 connected server after disconnect, got %d", got)
	}
	if got := len(rt.AvailableTools()); got != 1 {
		t.Errorf("Expected disconnected server's tools unavailable, got %d", got)
	}

	rt.RemoveServer("beta")
	if got := len(rt.AvailableTools()); got != 0 {
		t.Errorf("Expected 0 tools after removal, got %d", got)
	}
}

func TestExecute_SuccessWrapsResultJSON(t *testing.T) {
	rt := New()
	rt.AddServer("test", echoTool("echo"))

	output, err := rt.Execute("echo", map[string]interface{}{"text": "hello"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	var envelope map[string]string
	if err := json.Unmarshal([]byte(output), &envelope); err != nil {
		t.Fatalf("Expected JSON envelope, got %q", output)
	}
	if envelope["result"] != "echo:hello" {
		t.Errorf("Expected wrapped result, got %q", envelope["result"])
	}
}

func TestExecute_UnknownToolReturnsErrorEnvelope(t *testing.T) {
	rt := New()

	output, err := rt.Execute("nope", nil)
	if err == nil {
		t.Fatalf("Expected error for unknown tool")
	}
	if !strings.Contains(output, `"error"`) {
		t.Errorf("Expected error envelope, got %q", output)
	}
}

func TestExecute_DisconnectedServerToolIsUnavailable(t *testing.T) {
	rt := New()
	rt.AddServer("test", echoTool("echo"))
	rt.SetConnected("test", false)

	if _, err := rt.Execute("echo", nil); err == nil {
		t.Errorf("Expected error executing tool on disconnected server")
	}
}

func TestExecute_ToolFailureReturnsErrorEnvelope(t *testing.T) {
	rt := New()
	rt.AddServer("test", models.FunctionDeclaration{
		Name: "broken",
		Callable: func(args map[string]interface{}) (string, error) {
			return "", fmt.Errorf("backend unavailable")
		},
	})

	output, err := rt.Execute("broken", nil)
	if err == nil {
		t.Fatalf("Expected tool failure to surface")
	}

	var envelope map[string]string
	if jsonErr := json.Unmarshal([]byte(output), &envelope); jsonErr != nil {
		t.Fatalf("Expected JSON error envelope, got %q", output)
	}
	if !strings.Contains(envelope["error"], "backend unavailable") {
		t.Errorf("Expected error message in envelope, got %q", envelope["error"])
	}
}

func TestNewWithDefaults_BuiltinServerConnected(t *testing.T) {
	rt := NewWithDefaults()
	ids := rt.ConnectedServerIDs()
	if len(ids) != 1 || ids[0] != "builtin" {
		t.Fatalf("Expected builtin server connected, got %v", ids)
	}

	names := map[string]bool{}
	for _, tool := range rt.AvailableTools() {
		names[tool.Name] = true
	}
	if !names["web_search"] || !names["generate_image"] {
		t.Errorf("Expected built-in web_search and generate_image tools, got %v", names)
	}
}

func TestFormatSearchResults_NumberedBoldShape(t *testing.T) {
	result := braveResponse{}
	result.Web.Results = []braveResult{
		{Title: "<strong>Go</strong> 1.24 Released", URL: "https://go.dev/blog/go1.24", Description: "The latest <strong>Go</strong> release."},
		{Title: "Download Go", URL: "https://go.dev/dl/"},
	}

	formatted := formatSearchResults("go 1.24", result)
	if !strings.HasPrefix(formatted, "Web search results for: go 1.24\n\n") {
		t.Errorf("Expected query header, got %q", formatted)
	}
	if !strings.Contains(formatted, "1. **Go 1.24 Released**\n") {
		t.Errorf("Expected numbered bold title with tags stripped, got %q", formatted)
	}
	if !strings.Contains(formatted, "   The latest Go release.\n") {
		t.Errorf("Expected indented description, got %q", formatted)
	}
	if !strings.Contains(formatted, "   🔗 https://go.dev/blog/go1.24\n\n") {
		t.Errorf("Expected link line, got %q", formatted)
	}
	if !strings.Contains(formatted, "2. **Download Go**\n   🔗 https://go.dev/dl/\n\n") {
		t.Errorf("Expected description-less entry to skip the snippet line, got %q", formatted)
	}
}

func TestFormatSearchResults_NoResults(t *testing.T) {
	formatted := formatSearchResults("nothing", braveResponse{})
	if !strings.Contains(formatted, "No results found.") {
		t.Errorf("Expected no-results marker, got %q", formatted)
	}
}

func TestBraveSearch_EmptyQueryRejected(t *testing.T) {
	if _, err := braveSearch(map[string]interface{}{"query": "   "}); err == nil {
		t.Errorf("Expected error for empty query")
	}
}
