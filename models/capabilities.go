package models

// Capabilities describes what a provider can do, looked up once per request.
// Adding a provider is a data change here, not a logic change elsewhere.
type Capabilities struct {
	// SupportsVision: accepts image parts in message content.
	SupportsVision bool
	// SupportsNativeDocuments: accepts raw document blocks (PDF, plain text)
	// without client-side text extraction.
	SupportsNativeDocuments bool
	// StreamingSupportsTools: the streaming path can execute tool calls.
	StreamingSupportsTools bool
	// StreamingReportsUsage: the streaming path reports usage telemetry.
	// Usage accounting is a hard requirement, so false forces batch calls.
	StreamingReportsUsage bool
	// RequiresCredential: an API key must be present before dispatch.
	RequiresCredential bool
	// NativeFilePipeline: the provider has its own file ingestion which gets
	// first refusal before generic content adaptation.
	NativeFilePipeline bool
}

var capabilityTable = map[string]Capabilities{
	"openai": {
		SupportsVision:         true,
		StreamingSupportsTools: true,
		StreamingReportsUsage:  true,
		RequiresCredential:     true,
	},
	"anthropic": {
		SupportsVision:          true,
		SupportsNativeDocuments: true,
		StreamingSupportsTools:  true,
		StreamingReportsUsage:   true,
		RequiresCredential:      true,
	},
	"gemini": {
		SupportsVision:          true,
		SupportsNativeDocuments: true,
		StreamingReportsUsage:   true,
		RequiresCredential:      true,
		NativeFilePipeline:      true,
	},
	"openrouter": {
		SupportsVision:         true,
		StreamingSupportsTools: true,
		StreamingReportsUsage:  true,
		RequiresCredential:     true,
	},
	"ollama": {
		SupportsVision:        true,
		StreamingReportsUsage: true,
	},
	"lmstudio": {},
	"groq": {
		StreamingReportsUsage: true,
		RequiresCredential:    true,
	},
	"cerebras": {
		RequiresCredential: true,
	},
	"mistral": {
		SupportsVision:         true,
		StreamingSupportsTools: true,
		StreamingReportsUsage:  true,
		RequiresCredential:     true,
	},
	"deepseek": {
		StreamingSupportsTools: true,
		StreamingReportsUsage:  true,
		RequiresCredential:     true,
	},
	"xai": {
		SupportsVision:         true,
		StreamingSupportsTools: true,
		StreamingReportsUsage:  true,
		RequiresCredential:     true,
	},
	"perplexity": {
		RequiresCredential: true,
	},
}

// CapabilitiesFor returns the capability row for a provider id. Unknown ids
// get conservative defaults: no vision, no native documents, batch-only
// telemetry, credential required.
func CapabilitiesFor(providerID string) Capabilities {
	if caps, ok := capabilityTable[providerID]; ok {
		return caps
	}
	return Capabilities{RequiresCredential: true}
}

// KnownProviderIDs lists every provider in the capability table.
func KnownProviderIDs() []string {
	ids := make([]string, 0, len(capabilityTable))
	for id := range capabilityTable {
		ids = append(ids, id)
	}
	return ids
}
