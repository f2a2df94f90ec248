// Package normalize converts a provider's raw reply into the internal turn
// telemetry: materialized usage counters, derived cost, timing, and citation
// sources scraped from web-search tool output.
package normalize

import (
	"strings"
	"time"

	"github.com/parlorchat/parlor/models"
)

// Result is everything the orchestrator attaches to the assistant turn.
type Result struct {
	Usage   models.Usage
	Cost    *models.Cost
	Timing  models.Timing
	Sources []models.Source
}

// Normalize folds a raw response into turn telemetry. Missing usage fields
// default to zero, and the total is always derived as prompt+completion.
func Normalize(resp models.ProviderResponse, providerID, model string, start, end time.Time) Result {
	usage := NormalizeUsage(resp.Usage)

	cost := resp.Cost
	if cost == nil {
		cost = DeriveCost(providerID, model, usage)
	}

	return Result{
		Usage:   usage,
		Cost:    cost,
		Timing:  NormalizeTiming(start, end, usage.CompletionTokens),
		Sources: ExtractSources(resp.ToolCalls),
	}
}

// NormalizeUsage materializes all three counters. Providers variously omit
// the total, report only a combined figure, or report nothing at all.
func NormalizeUsage(raw *models.Usage) models.Usage {
	if raw == nil {
		return models.Usage{}
	}
	usage := models.Usage{
		PromptTokens:     raw.PromptTokens,
		CompletionTokens: raw.CompletionTokens,
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	if usage.TotalTokens == 0 && raw.TotalTokens > 0 {
		// Combined-only figure: keep it as the total with unknown split.
		usage.TotalTokens = raw.TotalTokens
	}
	return usage
}

// NormalizeTiming derives duration and throughput. TokensPerSecond is left
// nil unless both completion tokens and duration are positive; zero would
// claim a measurement that was never made.
func NormalizeTiming(start, end time.Time, completionTokens int) models.Timing {
	timing := models.Timing{
		StartTime:  start,
		EndTime:    end,
		DurationMs: end.Sub(start).Milliseconds(),
	}
	if completionTokens > 0 && timing.DurationMs > 0 {
		tps := float64(completionTokens) / float64(timing.DurationMs) * 1000
		timing.TokensPerSecond = &tps
	}
	return timing
}

// modelPrice is USD per million tokens.
type modelPrice struct {
	Input  float64
	Output float64
}

// priceTable maps "provider/model-prefix" to prices. Longest matching prefix
// wins so dated model snapshots inherit their family price.
var priceTable = map[string]modelPrice{
	"openai/gpt-4o":             {Input: 2.50, Output: 10.00},
	"openai/gpt-4o-mini":        {Input: 0.15, Output: 0.60},
	"anthropic/claude-sonnet":   {Input: 3.00, Output: 15.00},
	"anthropic/claude-haiku":    {Input: 0.80, Output: 4.00},
	"anthropic/claude-opus":     {Input: 15.00, Output: 75.00},
	"gemini/gemini-2.0-flash":   {Input: 0.10, Output: 0.40},
	"gemini/gemini-2.5-pro":     {Input: 1.25, Output: 10.00},
	"mistral/mistral-large":     {Input: 2.00, Output: 6.00},
	"deepseek/deepseek-chat":    {Input: 0.27, Output: 1.10},
	"xai/grok-3":                {Input: 3.00, Output: 15.00},
	"groq/llama-3.3-70b":        {Input: 0.59, Output: 0.79},
	"perplexity/sonar":          {Input: 1.00, Output: 1.00},
}

// DeriveCost prices the turn from the table. Local providers and unknown
// models return nil: no cost is better than a wrong one.
func DeriveCost(providerID, model string, usage models.Usage) *models.Cost {
	if usage.TotalTokens == 0 {
		return nil
	}

	key := providerID + "/" + model
	var price *modelPrice
	bestLen := 0
	for prefix, p := range priceTable {
		if strings.HasPrefix(key, prefix) && len(prefix) > bestLen {
			entry := p
			price = &entry
			bestLen = len(prefix)
		}
	}
	if price == nil {
		return nil
	}

	amount := float64(usage.PromptTokens)/1_000_000*price.Input +
		float64(usage.CompletionTokens)/1_000_000*price.Output
	return &models.Cost{
		Amount:   amount,
		Currency: "USD",
		Provider: providerID,
		Model:    model,
	}
}
