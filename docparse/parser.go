// Package docparse defines the narrow "parse file into text" contract the
// content adapter depends on. Real format parsers (DOCX, XLSX, PDF, ...)
// live in the host application and implement Parser; this package ships only
// the plain-text fallback.
package docparse

import (
	"fmt"
	"strings"
	"time"

	"github.com/parlorchat/parlor/models"
)

type Metadata struct {
	Format         string        `json:"format"`
	Success        bool          `json:"success"`
	Error          string        `json:"error,omitempty"`
	ProcessingTime time.Duration `json:"processing_time,omitempty"`
	Title          string        `json:"title,omitempty"`
}

type Result struct {
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

type Parser interface {
	Parse(file models.File) (Result, error)
}

// PlainText handles text-shaped MIME types byte-for-byte and rejects
// everything else, letting the adapter degrade the file to a placeholder.
type PlainText struct{}

func NewPlainText() *PlainText { return &PlainText{} }

func (p *PlainText) Parse(file models.File) (Result, error) {
	start := time.Now()

	if !isTextual(file.MimeType) {
		err := fmt.Errorf("unsupported format: %s", file.MimeType)
		return Result{
			Metadata: Metadata{
				Format:         file.MimeType,
				Success:        false,
				Error:          err.Error(),
				ProcessingTime: time.Since(start),
			},
		}, err
	}

	return Result{
		Text: string(file.Data),
		Metadata: Metadata{
			Format:         file.MimeType,
			Success:        true,
			ProcessingTime: time.Since(start),
			Title:          file.Name,
		},
	}, nil
}

func isTextual(mimeType string) bool {
	if strings.HasPrefix(mimeType, "text/") {
		return true
	}
	switch mimeType {
	case "application/json", "application/xml", "application/x-yaml",
		"application/javascript", "application/sql":
		return true
	}
	return false
}
