package normalize

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/parlorchat/parlor/models"
)

// webSearchToolNames is the fixed set of tool names whose results are
// scraped for citations. Other tools never trigger extraction.
var webSearchToolNames = map[string]bool{
	"web_search":   true,
	"brave_search": true,
	"search_web":   true,
	"web-search":   true,
	"search":       true,
}

const maxBareURLSources = 5

// extractor is one scraping strategy. Strategies run in order and the first
// one yielding at least one source wins; this is deliberately a replaceable
// strategy list because the free-text formats it parses drift over time.
type extractor struct {
	name string
	fn   func(text string) []models.Source
}

var extractors = []extractor{
	{"numbered-bold-title", extractNumberedBold},
	{"bold-title-url", extractBoldTitle},
	{"bare-urls", extractBareURLs},
}

var (
	// "1. **Title**\n ...snippet...\n 🔗 https://..."
	numberedBoldRe = regexp.MustCompile(`(?s)\d+\.\s*\*\*(.+?)\*\*\s*(.*?)🔗\s*(https?://\S+)`)
	// "**Title**\n ... (🔗|URL:) https://..."
	boldTitleRe = regexp.MustCompile(`(?s)\*\*(.+?)\*\*\s*(.*?)(?:🔗|URL:)\s*(https?://\S+)`)
	bareURLRe   = regexp.MustCompile(`https?://[^\s)\]>"']+`)
)

// ExtractSources reconstructs citation records from executed web-search tool
// calls. A search that produced no parseable results, or failed outright,
// still yields exactly one generic source, so a tool invocation is never
// invisible to the user. Error text is never scraped; an error message that
// happens to contain a URL is not a citation.
func ExtractSources(toolCalls []models.ToolCall) []models.Source {
	var sources []models.Source
	seen := make(map[string]bool)

	for _, call := range toolCalls {
		if !webSearchToolNames[call.Name] {
			continue
		}

		var extracted []models.Source
		if !call.IsError {
			extracted = runExtractors(unwrapResult(call.Result))
		}
		if len(extracted) == 0 {
			extracted = []models.Source{genericSource(call)}
		}

		for _, src := range extracted {
			key := src.URL
			if key == "" {
				key = src.Title
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			sources = append(sources, src)
		}
	}

	return sources
}

// unwrapResult peels off the tool runtime's {"result": ...} envelope so the
// extractors see the formatted search text, not its JSON-escaped form.
func unwrapResult(raw string) string {
	var envelope struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err == nil && envelope.Result != "" {
		return envelope.Result
	}
	return raw
}

func runExtractors(text string) []models.Source {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	for _, ex := range extractors {
		if sources := ex.fn(text); len(sources) > 0 {
			return sources
		}
	}
	return nil
}

func extractNumberedBold(text string) []models.Source {
	return matchTitled(numberedBoldRe, text)
}

func extractBoldTitle(text string) []models.Source {
	return matchTitled(boldTitleRe, text)
}

func matchTitled(re *regexp.Regexp, text string) []models.Source {
	var sources []models.Source
	seen := make(map[string]bool)

	for _, m := range re.FindAllStringSubmatch(text, -1) {
		rawURL := trimURL(m[3])
		if seen[rawURL] {
			continue
		}
		seen[rawURL] = true
		sources = append(sources, models.Source{
			Type:    models.SourceWeb,
			Title:   strings.TrimSpace(m[1]),
			URL:     rawURL,
			Snippet: condense(m[2]),
		})
	}
	return sources
}

// extractBareURLs synthesizes one generic source per URL when the result
// carries links but no structured pattern.
func extractBareURLs(text string) []models.Source {
	var sources []models.Source
	seen := make(map[string]bool)

	for _, raw := range bareURLRe.FindAllString(text, -1) {
		rawURL := trimURL(raw)
		if seen[rawURL] {
			continue
		}
		seen[rawURL] = true
		sources = append(sources, models.Source{
			Type:  models.SourceWeb,
			Title: hostOf(rawURL),
			URL:   rawURL,
		})
		if len(sources) == maxBareURLSources {
			break
		}
	}
	return sources
}

func genericSource(call models.ToolCall) models.Source {
	query := ""
	if q, ok := call.Arguments["query"].(string); ok {
		query = q
	}
	title := "Web search"
	if query != "" {
		title = fmt.Sprintf("Web search: %s", query)
	}
	return models.Source{Type: models.SourceWeb, Title: title}
}

func hostOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		return u.Host
	}
	return rawURL
}

func trimURL(raw string) string {
	return strings.TrimRight(raw, ".,;:!?")
}

func condense(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
