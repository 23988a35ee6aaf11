package ingestion_engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	db "github.com/gurnoornatt/code-chat/internal/core/database"
	"github.com/gurnoornatt/code-chat/internal/logger"
	"github.com/gurnoornatt/code-chat/internal/models"
)

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func collectChunks(t *testing.T, ix *ResourceIndexer, text string, target, overlap int) []chunk {
	t.Helper()
	g, ctx := errgroup.WithContext(context.Background())
	frags := ix.streamExtract(ctx, g, strings.NewReader(text), 1000)
	chunks := ix.streamChunk(ctx, g, frags, target, overlap)

	var out []chunk
	g.Go(func() error {
		for c := range chunks {
			out = append(out, c)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	return out
}

func TestStreamChunkRespectsTargetAndOverlap(t *testing.T) {
	ix := NewResourceIndexer(db.NewMemoryClient(), &fakeEmbedder{}, IndexConfig{}, logger.Nop())

	// Each line is 8 chars = 2 tokens.
	text := "aaaaaaaa\nbbbbbbbb\n\n  \ncccccccc\ndddddddd\neeeeeeee"
	chunks := collectChunks(t, ix, text, 4, 2)

	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d: %+v", len(chunks), chunks)
	}
	if chunks[0].Text != "aaaaaaaa\nbbbbbbbb" {
		t.Fatalf("unexpected first chunk %q", chunks[0].Text)
	}
	if !strings.HasPrefix(chunks[1].Text, "bbbbbbbb\n") {
		t.Fatalf("expected overlap to seed the second chunk, got %q", chunks[1].Text)
	}
	for i, c := range chunks {
		if c.Pos != i {
			t.Fatalf("expected position %d, got %d", i, c.Pos)
		}
	}
}

func TestStreamChunkWithoutOverlapDoesNotRepeat(t *testing.T) {
	ix := NewResourceIndexer(db.NewMemoryClient(), &fakeEmbedder{}, IndexConfig{}, logger.Nop())
	chunks := collectChunks(t, ix, "aaaaaaaa\nbbbbbbbb\ncccccccc", 4, 0)
	if len(chunks) != 2 || chunks[1].Text != "cccccccc" {
		t.Fatalf("unexpected chunks %+v", chunks)
	}
}

func TestProcessOneReplacesChunks(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryClient()
	emb := &fakeEmbedder{}
	ix := NewResourceIndexer(store, emb, IndexConfig{TargetTokens: 4, BatchSize: 2}, logger.Nop())

	now := time.Now()
	res := &models.Resource{ID: "r1", Title: "Recursion", Description: "base cases", Content: "a function that calls itself\nuntil the base case", CreatedAt: now, UpdatedAt: now}
	if err := store.CreateResource(ctx, res); err != nil {
		t.Fatalf("create resource: %v", err)
	}

	if err := ix.processOne(ctx, "r1"); err != nil {
		t.Fatalf("process: %v", err)
	}
	first := store.Chunks("r1")
	if len(first) == 0 {
		t.Fatalf("expected chunks to be stored")
	}
	if emb.calls < 2 {
		t.Fatalf("expected batched embedding calls, got %d", emb.calls)
	}

	res.Content = "short"
	_ = store.UpdateResource(ctx, res)
	if err := ix.processOne(ctx, "r1"); err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	second := store.Chunks("r1")
	for _, c := range second {
		if strings.Contains(c.Text, "calls itself") {
			t.Fatalf("stale chunk survived re-index: %q", c.Text)
		}
	}
}

func TestProcessOneSkipsMissingAndSurfacesEmbedErrors(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryClient()
	boom := errors.New("quota exceeded")
	ix := NewResourceIndexer(store, &fakeEmbedder{err: boom}, IndexConfig{}, logger.Nop())

	if err := ix.processOne(ctx, "missing"); err != nil {
		t.Fatalf("expected deleted resource to be skipped, got %v", err)
	}

	_ = store.CreateResource(ctx, &models.Resource{ID: "r1", Title: "Loops"})
	if err := ix.processOne(ctx, "r1"); !errors.Is(err, boom) {
		t.Fatalf("expected embed error, got %v", err)
	}
	if len(store.Chunks("r1")) != 0 {
		t.Fatalf("expected no chunks after failed embed")
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	ix := NewResourceIndexer(db.NewMemoryClient(), &fakeEmbedder{}, IndexConfig{QueueSize: 1}, logger.Nop())
	if !ix.Enqueue("r1") {
		t.Fatalf("expected first enqueue to succeed")
	}
	if ix.Enqueue("r2") {
		t.Fatalf("expected enqueue on a full queue to drop")
	}
}

func TestWorkersDrainQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := db.NewMemoryClient()
	_ = store.CreateResource(ctx, &models.Resource{ID: "r1", Title: "Pointers", Content: "addresses and values"})

	ix := NewResourceIndexer(store, &fakeEmbedder{}, IndexConfig{}, logger.Nop())
	ix.Start(ctx, 2)
	ix.Enqueue("r1")

	deadline := time.Now().Add(2 * time.Second)
	for len(store.Chunks("r1")) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("worker never indexed the resource")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestClaimFoldsDuplicateJobs(t *testing.T) {
	ix := NewResourceIndexer(db.NewMemoryClient(), &fakeEmbedder{}, IndexConfig{}, logger.Nop())

	if !ix.claim("r1") {
		t.Fatalf("expected first claim to succeed")
	}
	if ix.claim("r1") || ix.claim("r1") {
		t.Fatalf("expected claims on a running id to fail")
	}
	if !ix.claim("r2") {
		t.Fatalf("claims must be per resource")
	}
	if !ix.release("r1") {
		t.Fatalf("expected release to request one more pass")
	}
	if ix.release("r1") {
		t.Fatalf("repeated enqueues should collapse into a single extra pass")
	}
	if !ix.claim("r1") {
		t.Fatalf("expected id to be claimable after release")
	}
}

// gatedEmbedder blocks every call until gate is closed and records peak concurrency.
type gatedEmbedder struct {
	mu        sync.Mutex
	active    int
	maxActive int
	calls     int
	gate      chan struct{}
}

func (g *gatedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	g.mu.Lock()
	g.active++
	g.calls++
	if g.active > g.maxActive {
		g.maxActive = g.active
	}
	g.mu.Unlock()

	select {
	case <-g.gate:
	case <-ctx.Done():
	}

	g.mu.Lock()
	g.active--
	g.mu.Unlock()
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (g *gatedEmbedder) snapshot() (calls, maxActive int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls, g.maxActive
}

func TestWorkersIndexOneResourceSequentially(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := db.NewMemoryClient()
	_ = store.CreateResource(ctx, &models.Resource{ID: "r1", Title: "Closures", Content: "captured variables"})

	emb := &gatedEmbedder{gate: make(chan struct{})}
	ix := NewResourceIndexer(store, emb, IndexConfig{}, logger.Nop())
	ix.Start(ctx, 3)
	ix.Enqueue("r1")
	ix.Enqueue("r1")
	ix.Enqueue("r1")

	deadline := time.Now().Add(2 * time.Second)
	for {
		if calls, _ := emb.snapshot(); calls >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no worker picked up the job")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(emb.gate)

	for {
		calls, _ := emb.snapshot()
		if calls >= 2 && len(store.Chunks("r1")) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected the repeated enqueue to trigger another pass, got %d calls", calls)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, maxActive := emb.snapshot(); maxActive != 1 {
		t.Fatalf("expected one pass at a time for a resource, saw %d concurrent", maxActive)
	}
}
