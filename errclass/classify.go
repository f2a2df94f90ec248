// Package errclass maps heterogeneous provider failures onto a fixed,
// closed set of user-facing categories. Matching is ordered keyword search
// over the lower-cased message, not type inspection, because provider SDKs
// raise wildly different error shapes for the same underlying condition.
package errclass

import (
	"fmt"
	"strings"
)

type Category string

const (
	Authentication         Category = "authentication"
	ToolCallingUnsupported Category = "tool_calling_unsupported"
	RateLimited            Category = "rate_limited"
	Network                Category = "network"
	ModelNotFound          Category = "model_not_found"
	FileProcessing         Category = "file_processing"
	ContextLength          Category = "context_length"
	Unknown                Category = "unknown"
)

type rule struct {
	category Category
	keywords []string
}

// rules are evaluated in order; the first keyword hit wins. Authentication
// sits first so "401 unauthorized" never falls through to a later category.
var rules = []rule{
	{Authentication, []string{
		"api key", "apikey", "unauthorized", "401", "invalid key",
		"authentication", "invalid_api_key", "incorrect api key", "forbidden", "403",
	}},
	{ToolCallingUnsupported, []string{
		"does not support tools", "tool calling", "tools are not supported",
		"function calling is not", "no endpoints found that support tool",
	}},
	{RateLimited, []string{
		"rate limit", "rate_limit", "429", "too many requests", "quota",
		"overloaded",
	}},
	{Network, []string{
		"connection refused", "connection reset", "timeout", "timed out",
		"network", "no such host", "dial tcp", "unreachable", "eof",
		"client disconnected",
	}},
	{ModelNotFound, []string{
		"model not found", "model_not_found", "no such model", "unknown model",
		"does not exist", "404",
	}},
	{FileProcessing, []string{
		"file too large", "unsupported file", "upload", "could not be processed",
		"invalid image", "attachment",
	}},
	{ContextLength, []string{
		"context length", "context_length", "context window", "token limit",
		"maximum context", "too many tokens", "prompt is too long",
	}},
}

// Classify is total: any error, including nil and non-English messages,
// resolves to one of the eight categories and never panics.
func Classify(err error) Category {
	if err == nil {
		return Unknown
	}
	msg := strings.ToLower(err.Error())
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(msg, kw) {
				return r.category
			}
		}
	}
	return Unknown
}

// templates are the fixed human-readable messages shown for each category.
var templates = map[Category]string{
	Authentication:         "Authentication failed. Check that your API key for this provider is set and still valid.",
	ToolCallingUnsupported: "This provider does not support tool calling. Disable tools or switch to a provider that supports them.",
	RateLimited:            "The provider is rate limiting requests. Wait a moment and try again.",
	Network:                "Could not reach the provider. Check your network connection and the endpoint URL.",
	ModelNotFound:          "The selected model was not found on this provider. Pick a different model in settings.",
	FileProcessing:         "An attached file could not be processed. Try a different file or remove the attachment.",
	ContextLength:          "The conversation is too long for this model's context window. Start a new conversation or shorten your message.",
}

// Message renders the fixed template for a category. The generic fallback
// still surfaces the raw message so nothing is silently swallowed.
func Message(cat Category, err error) string {
	if tmpl, ok := templates[cat]; ok {
		return tmpl
	}
	if err == nil {
		return "Something went wrong while talking to the provider."
	}
	return fmt.Sprintf("Something went wrong while talking to the provider: %s", err.Error())
}

// Describe classifies and renders in one step.
func Describe(err error) (Category, string) {
	cat := Classify(err)
	return cat, Message(cat, err)
}
