package ingestion_engine

import (
	"sync"

	"github.com/gurnoornatt/code-chat/internal/core"
	"github.com/gurnoornatt/code-chat/internal/logger"
)

// IndexConfig tunes the streaming pipeline.
//
// TargetTokens:   approximate tokens per chunk (e.g., 200).
// OverlapTokens:  token overlap between consecutive chunks for context bleed (e.g., 20).
// BatchSize:      how many chunks to embed in one request (e.g., 16).
// MaxFragmentLen: soft upper bound for individual fragments coming from the extractor.
// QueueSize:      capacity of the job queue; Enqueue drops when it is full.
type IndexConfig struct {
	TargetTokens   int
	OverlapTokens  int
	BatchSize      int
	MaxFragmentLen int
	QueueSize      int
}

func (c IndexConfig) withDefaults() IndexConfig {
	if c.TargetTokens <= 0 {
		c.TargetTokens = 200
	}
	if c.OverlapTokens < 0 {
		c.OverlapTokens = 0
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	if c.MaxFragmentLen <= 0 {
		c.MaxFragmentLen = 1000
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	return c
}

// chunk is the internal representation passed through the pipeline.
//
// Pos:      stable, zero-based position of the chunk inside the resource.
// Text:     chunk content (built from one or more fragments).
// TokenCnt: approximate token count (used for batching and overlap math).
type chunk struct {
	Pos      int
	Text     string
	TokenCnt int
}

// ResourceIndexer orchestrates the background indexing pipeline:
//
// db:        persistence for resources and their chunks.
// embedder:  embedding provider (Gemini).
// cfg:       runtime tuning knobs for the pipeline.
// jobs:      in-memory queue of resource IDs to process.
// running:   resource IDs a worker is indexing right now.
// rerun:     running IDs that were enqueued again and need one more pass.
type ResourceIndexer struct {
	db       core.DbClient
	embedder core.EmbeddingProvider
	cfg      IndexConfig
	log      *logger.Logger
	jobs     chan string

	// mu guards running and rerun, which keep jobs for one resource sequential.
	mu      sync.Mutex
	running map[string]bool
	rerun   map[string]bool
}

// DocconvExtractor implements core.TextExtractor using sajari/docconv.
type DocconvExtractor struct {
	useReadability bool
}
