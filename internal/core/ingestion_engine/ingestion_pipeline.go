package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gurnoornatt/code-chat/internal/core"
	"github.com/gurnoornatt/code-chat/internal/logger"
)

// NewResourceIndexer constructs the indexer with a bounded job queue.
func NewResourceIndexer(db core.DbClient, emb core.EmbeddingProvider, cfg IndexConfig, log *logger.Logger) *ResourceIndexer {
	cfg = cfg.withDefaults()
	return &ResourceIndexer{
		db: db, embedder: emb, cfg: cfg, log: log,
		jobs:    make(chan string, cfg.QueueSize),
		running: make(map[string]bool),
		rerun:   make(map[string]bool),
	}
}

// Start runs numWorkers goroutines reading from the jobs channel until ctx is done.
func (i *ResourceIndexer) Start(ctx context.Context, numWorkers int) {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	for w := 1; w <= numWorkers; w++ {
		go func(w int) {
			for {
				select {
				case <-ctx.Done():
					i.log.Debug("indexer worker shutting down", "worker", w)
					return
				case resourceID := <-i.jobs:
					i.run(ctx, resourceID, w)
				}
			}
		}(w)
	}
}

// run indexes one resource. A job for an id another worker already holds is folded
// into that worker's loop, so the last ReplaceResourceChunks always reflects the newest row.
func (i *ResourceIndexer) run(ctx context.Context, resourceID string, worker int) {
	if !i.claim(resourceID) {
		i.log.Debug("resource already indexing, scheduled another pass", "resource_id", resourceID, "worker", worker)
		return
	}
	for {
		i.log.Info("indexing resource", "resource_id", resourceID, "worker", worker)
		if err := i.processOne(ctx, resourceID); err != nil {
			i.log.Error("indexing failed", "resource_id", resourceID, "error", err)
		}
		if !i.release(resourceID) {
			return
		}
	}
}

// claim marks resourceID as running. If it already is, it flags a rerun and returns false.
func (i *ResourceIndexer) claim(resourceID string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.running[resourceID] {
		i.rerun[resourceID] = true
		return false
	}
	i.running[resourceID] = true
	return true
}

// release ends a pass. It returns true, keeping the claim, when a rerun was requested meanwhile.
func (i *ResourceIndexer) release(resourceID string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.rerun[resourceID] {
		delete(i.rerun, resourceID)
		return true
	}
	delete(i.running, resourceID)
	return false
}

// Enqueue schedules a resource for indexing without blocking the caller.
// It returns false when the queue is full; the resource is re-indexed on its next update.
func (i *ResourceIndexer) Enqueue(resourceID string) bool {
	select {
	case i.jobs <- resourceID:
		return true
	default:
		i.log.Warn("index queue full, dropping job", "resource_id", resourceID)
		return false
	}
}

// processOne streams, chunks, embeds and persists a single resource.
func (i *ResourceIndexer) processOne(ctx context.Context, resourceID string) error {
	procCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	res, err := i.db.GetResourceByID(procCtx, resourceID)
	if errors.Is(err, core.ErrNotFound) {
		i.log.Debug("resource gone before indexing", "resource_id", resourceID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load resource: %w", err)
	}

	text := strings.Join([]string{res.Title, res.Description, res.Content}, "\n")

	// Build an errgroup to tie the pipeline stages together.
	g, gctx := errgroup.WithContext(procCtx)

	// text -> fragments.
	fragCh := i.streamExtract(gctx, g, strings.NewReader(text), i.cfg.MaxFragmentLen)

	// fragments -> chunks.
	chunkCh := i.streamChunk(gctx, g, fragCh, i.cfg.TargetTokens, i.cfg.OverlapTokens)

	// chunks -> embed + persist.
	g.Go(func() error {
		return i.embedAndPersist(gctx, resourceID, chunkCh, i.cfg.BatchSize)
	})

	// Any stage error cancels the rest.
	return g.Wait()
}
