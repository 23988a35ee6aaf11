package services

import (
	"context"
	"errors"
	"testing"

	"github.com/gurnoornatt/code-chat/internal/core"
	db "github.com/gurnoornatt/code-chat/internal/core/database"
	"github.com/gurnoornatt/code-chat/internal/logger"
	"github.com/gurnoornatt/code-chat/internal/models"
)

func newResourceService(emb core.EmbeddingProvider) (*ResourceService, *db.MemoryClient, *recordingIndexer) {
	store := db.NewMemoryClient()
	idx := &recordingIndexer{}
	return NewResourceService(store, emb, idx, logger.Nop()), store, idx
}

func sampleResource(title string, tags ...string) ResourceRequest {
	return ResourceRequest{
		Title:       title,
		Description: "notes on " + title,
		Content:     "content about " + title,
		FileType:    "markdown",
		Tags:        tags,
	}
}

func TestResourceWritesRequireAdmin(t *testing.T) {
	svc, store, idx := newResourceService(nil)
	ctx := context.Background()

	if _, err := svc.Create(ctx, alice, sampleResource("loops")); !errors.Is(err, core.ErrForbidden) {
		t.Fatalf("student create: expected ErrForbidden, got %v", err)
	}
	if all, _ := store.ListResources(ctx); len(all) != 0 {
		t.Fatalf("forbidden create was stored")
	}

	r, err := svc.Create(ctx, admin, sampleResource("loops", " python ", "python", "", "basics"))
	if err != nil {
		t.Fatalf("admin create: %v", err)
	}
	if len(r.Tags) != 2 || r.Tags[0] != "python" || r.Tags[1] != "basics" {
		t.Fatalf("tags not normalized: %v", r.Tags)
	}
	if len(idx.ids) != 1 || idx.ids[0] != r.ID {
		t.Fatalf("create did not enqueue indexing: %v", idx.ids)
	}

	if _, err := svc.Update(ctx, alice, r.ID, sampleResource("x")); !errors.Is(err, core.ErrForbidden) {
		t.Fatalf("student update: expected ErrForbidden, got %v", err)
	}
	if err := svc.Delete(ctx, alice, r.ID); !errors.Is(err, core.ErrForbidden) {
		t.Fatalf("student delete: expected ErrForbidden, got %v", err)
	}
}

func TestResourceValidation(t *testing.T) {
	svc, _, _ := newResourceService(nil)
	req := sampleResource("")
	if _, err := svc.Create(context.Background(), admin, req); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	req = sampleResource("t")
	req.FileType = ""
	if _, err := svc.Create(context.Background(), admin, req); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("missing file type: expected ErrValidation, got %v", err)
	}
}

func TestResourceUpdateAndDelete(t *testing.T) {
	svc, _, idx := newResourceService(nil)
	ctx := context.Background()
	r, err := svc.Create(ctx, admin, sampleResource("loops"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	up, err := svc.Update(ctx, admin, r.ID, sampleResource("while loops", "python"))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := svc.Get(ctx, up.ID)
	if err != nil || got.Title != "while loops" || !got.CreatedAt.Equal(r.CreatedAt) {
		t.Fatalf("update not applied: %+v %v", got, err)
	}
	if len(idx.ids) != 2 {
		t.Fatalf("update did not re-enqueue indexing: %v", idx.ids)
	}

	if _, err := svc.Update(ctx, admin, "missing", sampleResource("x")); !errors.Is(err, core.ErrNotFound) || detailOf(err) != "Resource not found" {
		t.Fatalf("update missing: %v", err)
	}
	if err := svc.Delete(ctx, admin, r.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, r.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("get after delete: %v", err)
	}
	if err := svc.Delete(ctx, admin, r.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestSearchByTag(t *testing.T) {
	svc, _, _ := newResourceService(nil)
	ctx := context.Background()
	if _, err := svc.Create(ctx, admin, sampleResource("loops", "python")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, admin, sampleResource("pointers", "c")); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := svc.SearchByTag(ctx, "python")
	if err != nil || len(got) != 1 || got[0].Title != "loops" {
		t.Fatalf("tag search: %+v %v", got, err)
	}
	if _, err := svc.SearchByTag(ctx, " "); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("empty tag: %v", err)
	}
}

func TestSearchFallsBackToText(t *testing.T) {
	svc, _, _ := newResourceService(nil)
	ctx := context.Background()
	if _, err := svc.Create(ctx, admin, sampleResource("Recursion")); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := svc.Search(ctx, "recursion", 0)
	if err != nil || len(got) != 1 {
		t.Fatalf("text search: %+v %v", got, err)
	}
	if _, err := svc.Search(ctx, "", 0); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("empty query: %v", err)
	}

	broken, _, _ := newResourceService(&fakeEmbedder{err: errors.New("upstream down")})
	if _, err := broken.Create(ctx, admin, sampleResource("Recursion")); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err = broken.Search(ctx, "recursion", 5)
	if err != nil || len(got) != 1 {
		t.Fatalf("fallback after embed failure: %+v %v", got, err)
	}
}

func TestSemanticSearchRanksByNearestChunk(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{"iterate a list": {1, 0}}}
	svc, store, _ := newResourceService(emb)
	ctx := context.Background()

	loops, err := svc.Create(ctx, admin, sampleResource("loops"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	graphs, err := svc.Create(ctx, admin, sampleResource("graphs"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	mustChunks := func(id string, vecs ...[]float32) {
		t.Helper()
		var chunks []models.ResourceChunk
		for i, v := range vecs {
			chunks = append(chunks, models.ResourceChunk{ID: id + "-" + string(rune('a'+i)), Embedding: v, Position: i})
		}
		if err := store.ReplaceResourceChunks(ctx, id, chunks); err != nil {
			t.Fatalf("chunks: %v", err)
		}
	}
	mustChunks(loops.ID, []float32{0.9, 0.1}, []float32{0.8, 0.2})
	mustChunks(graphs.ID, []float32{0, 1})

	got, err := svc.Search(ctx, "iterate a list", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 || got[0].ID != loops.ID || got[1].ID != graphs.ID {
		t.Fatalf("unexpected ranking %+v", got)
	}

	got, err = svc.Search(ctx, "iterate a list", 1)
	if err != nil || len(got) != 1 || got[0].ID != loops.ID {
		t.Fatalf("limit not applied: %+v %v", got, err)
	}
}

func TestSearchIncludesUnindexedResources(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{"Recursion basics": {1, 0}}}
	svc, store, _ := newResourceService(emb)
	ctx := context.Background()

	loops, err := svc.Create(ctx, admin, sampleResource("Loops"))
	if err != nil {
		t.Fatalf("create loops: %v", err)
	}
	if err := store.ReplaceResourceChunks(ctx, loops.ID, []models.ResourceChunk{{ID: "c1", Embedding: []float32{1, 0}}}); err != nil {
		t.Fatalf("chunks: %v", err)
	}
	recursion, err := svc.Create(ctx, admin, sampleResource("Recursion basics"))
	if err != nil {
		t.Fatalf("create recursion: %v", err)
	}

	got, err := svc.Search(ctx, "Recursion basics", 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 || got[0].ID != recursion.ID || got[1].ID != loops.ID {
		t.Fatalf("expected unindexed text match first, then semantic hit; got %+v", got)
	}

	got, err = svc.Search(ctx, "Recursion basics", 1)
	if err != nil || len(got) != 1 || got[0].ID != recursion.ID {
		t.Fatalf("text match starved by semantic hits at limit 1: %+v %v", got, err)
	}
}

func TestRankResultsOrdersAndDedupes(t *testing.T) {
	res := func(ids ...string) []models.Resource {
		out := make([]models.Resource, len(ids))
		for i, id := range ids {
			out[i] = models.Resource{ID: id}
		}
		return out
	}
	got := rankResults(res("a", "b", "c"), res("d", "b"), 10)
	want := []string{"b", "d", "a", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %+v", want, got)
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], got[i].ID)
		}
	}
	if got := rankResults(res("a", "b"), res("c"), 2); len(got) != 2 || got[0].ID != "c" {
		t.Fatalf("limit not applied: %+v", got)
	}
}
