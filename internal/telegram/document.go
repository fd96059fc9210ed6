package telegram

import (
	"mime"
	"strings"
)

// DocumentKind is the closed set of document types the bot handles.
type DocumentKind int

const (
	Unsupported DocumentKind = iota
	PlainText
	PDF
)

func (k DocumentKind) String() string {
	switch k {
	case PlainText:
		return "text"
	case PDF:
		return "pdf"
	default:
		return "unsupported"
	}
}

// KindOf maps a declared MIME type to a DocumentKind. Parameters such as
// charset are ignored.
func KindOf(mimeType string) DocumentKind {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(mimeType))
	}
	switch mt {
	case "text/plain":
		return PlainText
	case "application/pdf":
		return PDF
	default:
		return Unsupported
	}
}
