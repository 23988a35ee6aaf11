package core

import (
	"context"
)

// TextExtractor turns an uploaded document into plain text.
// The contentType hint helps the extractor choose the right parsing strategy.
type TextExtractor interface {
	Supports(contentType string) bool
	ExtractText(ctx context.Context, data []byte, contentType string) (string, error)
}
