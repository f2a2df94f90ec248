// Package content converts a user turn (text plus zero or more files) into
// the wire-shaped payload the selected provider expects.
package content

import (
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/parlorchat/parlor/docparse"
	"github.com/parlorchat/parlor/models"
)

// defaultAttachmentPrompt stands in when the user attached files but typed
// nothing.
const defaultAttachmentPrompt = "Please analyze the attached content."

// NativeAdapter is a provider-specific file pipeline. It gets first refusal;
// if it returns an error the generic path below takes over.
type NativeAdapter func(text string, files []models.File) (models.ProviderPayload, error)

type Adapter struct {
	Parser docparse.Parser
	Logger *log.Logger

	native map[string]NativeAdapter
}

func New(parser docparse.Parser) *Adapter {
	if parser == nil {
		parser = docparse.NewPlainText()
	}
	return &Adapter{
		Parser: parser,
		Logger: log.New(os.Stderr, "[content] ", log.LstdFlags),
		native: make(map[string]NativeAdapter),
	}
}

// RegisterNative installs a provider-specific file pipeline for a provider id.
func (a *Adapter) RegisterNative(providerID string, fn NativeAdapter) {
	a.native[providerID] = fn
}

// Adapt never fails: any file that cannot be converted degrades to a
// placeholder string naming the file, and the rest of the turn proceeds.
func (a *Adapter) Adapt(text string, files []models.File, providerID string) models.ProviderPayload {
	caps := models.CapabilitiesFor(providerID)

	if len(files) == 0 {
		return models.ProviderPayload{Kind: models.PayloadText, Text: text}
	}

	if caps.NativeFilePipeline {
		if fn, ok := a.native[providerID]; ok {
			payload, err := fn(text, files)
			if err == nil {
				return payload
			}
			a.Logger.Printf("native file pipeline for %s failed, falling back: %v", providerID, err)
		}
	}

	prompt := text
	if strings.TrimSpace(prompt) == "" {
		prompt = defaultAttachmentPrompt
	}

	switch {
	case caps.SupportsVision && caps.SupportsNativeDocuments:
		return a.adaptParts(prompt, files, caps)
	case caps.SupportsVision:
		return a.adaptTextImages(prompt, files)
	default:
		return a.adaptTextOnly(prompt, files)
	}
}

// adaptParts builds an ordered part array: one leading text part, then one
// part per file. Unsupported document types fold into the leading text part.
func (a *Adapter) adaptParts(prompt string, files []models.File, caps models.Capabilities) models.ProviderPayload {
	leading := prompt
	parts := []models.ContentPart{{Type: models.PartText}}

	for _, file := range files {
		switch {
		case file.IsImage():
			parts = append(parts, models.ContentPart{
				Type:     models.PartImage,
				MimeType: file.MimeType,
				Data:     dataURL(file),
				FileName: file.Name,
			})
		case file.IsPDF() || file.IsPlainText():
			parts = append(parts, models.ContentPart{
				Type:     models.PartDocument,
				MimeType: file.MimeType,
				Data:     base64.StdEncoding.EncodeToString(file.Data),
				FileName: file.Name,
			})
		default:
			leading += "\n\n" + a.extractText(file)
		}
	}

	parts[0].Text = leading
	return models.ProviderPayload{Kind: models.PayloadParts, Parts: parts}
}

// adaptTextImages concatenates text and non-image files into one blob and
// collects images into the parallel side-channel list.
func (a *Adapter) adaptTextImages(prompt string, files []models.File) models.ProviderPayload {
	var sb strings.Builder
	sb.WriteString(prompt)
	var images []string

	for _, file := range files {
		if file.IsImage() {
			images = append(images, dataURL(file))
			continue
		}
		sb.WriteString("\n\n")
		sb.WriteString(a.extractText(file))
	}

	return models.ProviderPayload{
		Kind:   models.PayloadTextImages,
		Text:   sb.String(),
		Images: images,
	}
}

// adaptTextOnly degrades every file to text for providers with neither
// vision nor document-block support.
func (a *Adapter) adaptTextOnly(prompt string, files []models.File) models.ProviderPayload {
	var sb strings.Builder
	sb.WriteString(prompt)

	for _, file := range files {
		sb.WriteString("\n\n")
		if file.IsImage() {
			sb.WriteString(fmt.Sprintf("[image attachment %q omitted: this provider does not support image input]", file.Name))
			continue
		}
		sb.WriteString(a.extractText(file))
	}

	return models.ProviderPayload{Kind: models.PayloadText, Text: sb.String()}
}

// extractText runs the document parser and localizes any failure to this one
// file as a placeholder string.
func (a *Adapter) extractText(file models.File) string {
	res, err := a.Parser.Parse(file)
	if err != nil || !res.Metadata.Success {
		reason := res.Metadata.Error
		if reason == "" && err != nil {
			reason = err.Error()
		}
		return fmt.Sprintf("[attachment %q (%d bytes) could not be processed: %s]", file.Name, file.Size(), reason)
	}
	return fmt.Sprintf("--- %s ---\n%s", file.Name, res.Text)
}

func dataURL(file models.File) string {
	return fmt.Sprintf("data:%s;base64,%s", file.MimeType, base64.StdEncoding.EncodeToString(file.Data))
}
