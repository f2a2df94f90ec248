package parlor

import (
	"github.com/parlorchat/parlor/models"
)

// ShouldStream decides streaming vs batched dispatch for one request. It is
// a pure function of provider identity and current tool availability, and it
// is re-evaluated per request: tool-server connectivity changes at runtime,
// so the answer must never be cached.
//
// Batch is forced when:
//   - the caller supplied no stream consumer,
//   - the provider's streaming path does not report usage telemetry (usage
//     accounting is a hard requirement), or
//   - tools are actually active this turn (enabled, at least one server
//     connected, at least one tool registered) and the provider's streaming
//     handler cannot execute tool calls. Tool-capable providers with tools
//     disabled still stream normally.
func ShouldStream(providerID string, toolCallingEnabled bool, connectedServerCount, availableToolCount int, hasStreamConsumer bool) bool {
	if !hasStreamConsumer {
		return false
	}

	caps := models.CapabilitiesFor(providerID)
	if !caps.StreamingReportsUsage {
		return false
	}

	toolsActive := toolCallingEnabled && connectedServerCount > 0 && availableToolCount > 0
	if toolsActive && !caps.StreamingSupportsTools {
		return false
	}

	return true
}
