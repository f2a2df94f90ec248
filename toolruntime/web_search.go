package toolruntime

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/parlorchat/parlor/models"
)

// WebSearchTool returns the FunctionDeclaration for the Brave Search tool.
func WebSearchTool() models.FunctionDeclaration {
	return models.FunctionDeclaration{
		Name:        "web_search",
		Description: "Search the web using Brave Search API. Returns titles, URLs, and snippets.",
		Parameters: models.Parameters{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query string",
				},
			},
			Required: []string{"query"},
		},
		Callable: braveSearch,
	}
}

type braveResponse struct {
	Query struct {
		Original string `json:"original"`
	} `json:"query"`
	Web struct {
		Results []braveResult `json:"results"`
	} `json:"web"`
}

type braveResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

func braveSearch(args map[string]interface{}) (string, error) {
	query := stringArg(args, "query")
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("web_search requires a non-empty query")
	}

	apiKey := os.Getenv("BRAVE_API_KEY")
	if apiKey == "" {
		return "", fmt.Errorf("BRAVE_API_KEY environment variable not set")
	}

	req, err := http.NewRequest("GET", "https://api.search.brave.com/res/v1/web/search", nil)
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	q := req.URL.Query()
	q.Add("q", query)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("error sending request to Brave Search API: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("error reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Brave Search API request failed with status %d: %s", resp.StatusCode, string(responseBody))
	}

	var result braveResponse
	if err := json.Unmarshal(responseBody, &result); err != nil {
		return "", fmt.Errorf("error unmarshalling Brave Search API response: %w", err)
	}

	return formatSearchResults(query, result), nil
}

// formatSearchResults renders results as numbered bold-title entries with a
// 🔗 link line. The response normalizer parses this exact shape back into
// citation sources.
func formatSearchResults(query string, result braveResponse) string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("Web search results for: %s\n\n", query))

	if len(result.Web.Results) == 0 {
		builder.WriteString("No results found.\n")
		return builder.String()
	}

	for i, r := range result.Web.Results {
		builder.WriteString(fmt.Sprintf("%d. **%s**\n", i+1, stripStrongTags(r.Title)))
		if r.Description != "" {
			builder.WriteString(fmt.Sprintf("   %s\n", stripStrongTags(r.Description)))
		}
		builder.WriteString(fmt.Sprintf("   🔗 %s\n\n", r.URL))
	}
	return builder.String()
}

// stripStrongTags removes the highlight tags Brave embeds in titles and
// descriptions.
func stripStrongTags(s string) string {
	s = strings.ReplaceAll(s, "<strong>", "")
	s = strings.ReplaceAll(s, "</strong>", "")
	return s
}
