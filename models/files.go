package models

import "strings"

// File is an opaque attachment blob handed in by the host application.
type File struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

func (f File) Size() int { return len(f.Data) }

func (f File) IsImage() bool {
	return strings.HasPrefix(f.MimeType, "image/")
}

func (f File) IsPDF() bool {
	return f.MimeType == "application/pdf"
}

func (f File) IsPlainText() bool {
	return strings.HasPrefix(f.MimeType, "text/")
}
