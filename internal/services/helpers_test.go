package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/gurnoornatt/code-chat/internal/auth"
	db "github.com/gurnoornatt/code-chat/internal/core/database"
	objectclient "github.com/gurnoornatt/code-chat/internal/core/object-client"
	"github.com/gurnoornatt/code-chat/internal/models"
)

var (
	alice = auth.Principal{ID: "alice", Role: auth.RoleStudent}
	bob   = auth.Principal{ID: "bob", Role: auth.RoleStudent}
	admin = auth.Principal{ID: "admin-1", Role: auth.RoleAdmin}
)

func seedStudents(t *testing.T, store *db.MemoryClient, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := store.CreateStudent(context.Background(), &models.Student{ID: id, Email: id + "@example.com"}); err != nil {
			t.Fatalf("seed student %s: %v", id, err)
		}
	}
}

// flakyDB fails selected writes on top of the memory store.
type flakyDB struct {
	*db.MemoryClient
	createFileErr error
	deleteFileErr error
}

func (f *flakyDB) CreateFile(ctx context.Context, r *models.FileRecord) error {
	if f.createFileErr != nil {
		return f.createFileErr
	}
	return f.MemoryClient.CreateFile(ctx, r)
}

func (f *flakyDB) DeleteFile(ctx context.Context, id string) error {
	if f.deleteFileErr != nil {
		return f.deleteFileErr
	}
	return f.MemoryClient.DeleteFile(ctx, id)
}

// flakyBlobs fails Remove on demand.
type flakyBlobs struct {
	*objectclient.MemoryClient
	removeErr error
}

func (f *flakyBlobs) Remove(ctx context.Context, keys ...string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	return f.MemoryClient.Remove(ctx, keys...)
}

type fakeTutor struct {
	reply  string
	err    error
	prompt string
}

func (f *fakeTutor) Generate(_ context.Context, _ string, userPrompt string) (string, error) {
	f.prompt = userPrompt
	return f.reply, f.err
}

type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := f.vectors[t]
		if !ok {
			return nil, errors.New("no vector for " + t)
		}
		out[i] = v
	}
	return out, nil
}

type recordingIndexer struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingIndexer) Enqueue(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return true
}

type fakeExtractor struct{}

func (fakeExtractor) Supports(ct string) bool { return ct == "application/pdf" }

func (fakeExtractor) ExtractText(_ context.Context, _ []byte, _ string) (string, error) {
	return "extracted pdf text", nil
}
