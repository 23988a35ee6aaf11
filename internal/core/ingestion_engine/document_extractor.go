package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"code.sajari.com/docconv"

	"github.com/gurnoornatt/code-chat/internal/core"
)

var _ core.TextExtractor = (*DocconvExtractor)(nil)

func NewDocconvExtractor(useReadability bool) *DocconvExtractor {
	return &DocconvExtractor{useReadability: useReadability}
}

// ExtractText uses docconv to pull plain text out of PDF, DOCX, ODT, RTF, HTML and XML uploads.
func (e *DocconvExtractor) ExtractText(ctx context.Context, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	res, err := docconv.Convert(bytes.NewReader(data), contentType, e.useReadability)
	if err != nil {
		return "", fmt.Errorf("docconv %s: %w", contentType, err)
	}
	return strings.TrimSpace(res.Body), nil
}

// Supports reports whether docconv has a converter for contentType.
func (e *DocconvExtractor) Supports(contentType string) bool {
	switch contentType {
	case "application/pdf",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.oasis.opendocument.text",
		"application/rtf", "application/x-rtf", "text/rtf",
		"application/vnd.openxmlformats-officedocument.presentationml.presentation",
		"text/html", "application/xml", "text/xml":
		return true
	default:
		return false
	}
}
