package models

const (
	PayloadText       = "text"
	PayloadParts      = "parts"
	PayloadTextImages = "text_images"
)

const (
	PartText     = "text"
	PartImage    = "image"
	PartDocument = "document"
)

// ContentPart is one ordered element of a multi-part payload.
type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	// Data holds base64 content for image and document parts. Image parts
	// use a data URL so they can go straight into an image_url field.
	Data     string `json:"data,omitempty"`
	FileName string `json:"file_name,omitempty"`
}

// ProviderPayload is the wire-shaped content a specific provider expects,
// produced by the content adapter.
//
//   - PayloadText: everything flattened into Text.
//   - PayloadParts: ordered Parts, leading part is text.
//   - PayloadTextImages: Text plus a parallel Images side-channel.
type ProviderPayload struct {
	Kind   string        `json:"kind"`
	Text   string        `json:"text,omitempty"`
	Parts  []ContentPart `json:"parts,omitempty"`
	Images []string      `json:"images,omitempty"`
}
