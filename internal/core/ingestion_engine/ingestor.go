package ingestion_engine

import "github.com/gurnoornatt/code-chat/internal/core"

var (
	_ core.ResourceIndexer = (*ResourceIndexer)(nil)
	_ core.ResourceIndexer = NoopIndexer{}
)

// NoopIndexer is wired when no embedding provider is configured.
type NoopIndexer struct{}

func (NoopIndexer) Enqueue(string) bool { return false }
