package db

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/gurnoornatt/code-chat/internal/core"
	"github.com/gurnoornatt/code-chat/internal/models"
)

// MemoryClient is an in-process core.DbClient. It backs the handler and service
// tests and local runs without Postgres. Ordering rules match the SQL client.
type MemoryClient struct {
	mu        sync.RWMutex
	seq       int64
	students  map[string]models.Student
	questions map[string]models.Question
	messages  map[string]models.ConversationMessage
	feedback  map[string]models.Feedback
	files     map[string]models.FileRecord
	resources map[string]models.Resource
	chunks    map[string][]models.ResourceChunk
	order     map[string]int64
}

var _ core.DbClient = (*MemoryClient)(nil)

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		students:  map[string]models.Student{},
		questions: map[string]models.Question{},
		messages:  map[string]models.ConversationMessage{},
		feedback:  map[string]models.Feedback{},
		files:     map[string]models.FileRecord{},
		resources: map[string]models.Resource{},
		chunks:    map[string][]models.ResourceChunk{},
		order:     map[string]int64{},
	}
}

func (m *MemoryClient) Close() error { return nil }

// stamp records insertion order; it breaks created_at ties.
func (m *MemoryClient) stamp(id string) {
	m.seq++
	m.order[id] = m.seq
}

func (m *MemoryClient) CreateStudent(_ context.Context, s *models.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.students {
		if strings.EqualFold(existing.Email, s.Email) {
			return fmt.Errorf("student %s: %w", s.Email, core.ErrConflict)
		}
	}
	if _, ok := m.students[s.ID]; ok {
		return fmt.Errorf("student %s: %w", s.ID, core.ErrConflict)
	}
	m.students[s.ID] = *s
	m.stamp(s.ID)
	return nil
}

func (m *MemoryClient) GetStudentByEmail(_ context.Context, email string) (*models.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.students {
		if strings.EqualFold(s.Email, email) {
			out := s
			return &out, nil
		}
	}
	return nil, core.ErrNotFound
}

func (m *MemoryClient) GetStudentByID(_ context.Context, id string) (*models.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.students[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &s, nil
}

func (m *MemoryClient) StudentExists(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.students[id]
	return ok, nil
}

// DeleteStudent has no SQL counterpart in the API; tests use it to simulate removed accounts.
func (m *MemoryClient) DeleteStudent(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.students, id)
}

func (m *MemoryClient) CreateQuestionWithMessage(_ context.Context, q *models.Question, first *models.ConversationMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.questions[q.ID]; ok {
		return fmt.Errorf("question %s: %w", q.ID, core.ErrConflict)
	}
	m.questions[q.ID] = *q
	m.stamp(q.ID)
	m.messages[first.ID] = *first
	m.stamp(first.ID)
	return nil
}

func (m *MemoryClient) GetQuestionByID(_ context.Context, id string) (*models.Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.questions[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &q, nil
}

func (m *MemoryClient) ListQuestionsByStudent(_ context.Context, studentID string) ([]models.Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Question{}
	for _, q := range m.questions {
		if q.StudentID == studentID {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return m.order[out[i].ID] > m.order[out[j].ID]
	})
	return out, nil
}

func (m *MemoryClient) SetQuestionResolved(_ context.Context, id string, resolved bool) (*models.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	q.Resolved = resolved
	m.questions[id] = q
	return &q, nil
}

func (m *MemoryClient) CreateConversationMessage(_ context.Context, msg *models.ConversationMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.questions[msg.QuestionID]; !ok {
		return core.StoreErr("insert message", fmt.Errorf("question %s does not exist", msg.QuestionID))
	}
	m.messages[msg.ID] = *msg
	m.stamp(msg.ID)
	return nil
}

func (m *MemoryClient) GetConversationMessage(_ context.Context, id string) (*models.ConversationMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &msg, nil
}

func (m *MemoryClient) ListConversationMessages(_ context.Context, questionID string) ([]models.ConversationMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.ConversationMessage{}
	for _, msg := range m.messages {
		if msg.QuestionID == questionID {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return m.order[out[i].ID] < m.order[out[j].ID]
	})
	return out, nil
}

func (m *MemoryClient) CreateFeedback(_ context.Context, fb *models.Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[fb.ResponseID]; !ok {
		return core.StoreErr("insert feedback", fmt.Errorf("response %s does not exist", fb.ResponseID))
	}
	m.feedback[fb.ID] = *fb
	return nil
}

// Feedback lists stored feedback rows for assertions.
func (m *MemoryClient) Feedback() []models.Feedback {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Feedback, 0, len(m.feedback))
	for _, fb := range m.feedback {
		out = append(out, fb)
	}
	return out
}

func (m *MemoryClient) CreateFile(_ context.Context, f *models.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[f.ID] = *f
	m.stamp(f.ID)
	return nil
}

func (m *MemoryClient) GetFileByID(_ context.Context, id string) (*models.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &f, nil
}

func (m *MemoryClient) ListFilesByStudent(_ context.Context, studentID string) ([]models.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.FileRecord{}
	for _, f := range m.files {
		if f.StudentID == studentID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return m.order[out[i].ID] > m.order[out[j].ID]
	})
	return out, nil
}

func (m *MemoryClient) DeleteFile(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[id]; !ok {
		return core.ErrNotFound
	}
	delete(m.files, id)
	return nil
}

func (m *MemoryClient) CreateResource(_ context.Context, r *models.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[r.ID] = cloneResource(*r)
	m.stamp(r.ID)
	return nil
}

func (m *MemoryClient) GetResourceByID(_ context.Context, id string) (*models.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.resources[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	out := cloneResource(r)
	return &out, nil
}

func (m *MemoryClient) ListResources(_ context.Context) ([]models.Resource, error) {
	return m.filterResources(func(models.Resource) bool { return true }), nil
}

func (m *MemoryClient) UpdateResource(_ context.Context, r *models.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.resources[r.ID]
	if !ok {
		return core.ErrNotFound
	}
	r.CreatedAt = existing.CreatedAt
	m.resources[r.ID] = cloneResource(*r)
	return nil
}

func (m *MemoryClient) DeleteResource(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.resources[id]; !ok {
		return core.ErrNotFound
	}
	delete(m.resources, id)
	delete(m.chunks, id)
	return nil
}

func (m *MemoryClient) ListResourcesByTag(_ context.Context, tag string) ([]models.Resource, error) {
	return m.filterResources(func(r models.Resource) bool {
		for _, t := range r.Tags {
			if t == tag {
				return true
			}
		}
		return false
	}), nil
}

func (m *MemoryClient) SearchResourcesByText(_ context.Context, query string, limit int) ([]models.Resource, error) {
	needle := strings.ToLower(query)
	out := m.filterResources(func(r models.Resource) bool {
		return strings.Contains(strings.ToLower(r.Title), needle) ||
			strings.Contains(strings.ToLower(r.Description), needle) ||
			strings.Contains(strings.ToLower(r.Content), needle)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryClient) filterResources(keep func(models.Resource) bool) []models.Resource {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Resource{}
	for _, r := range m.resources {
		if keep(r) {
			out = append(out, cloneResource(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return m.order[out[i].ID] > m.order[out[j].ID]
	})
	return out
}

func (m *MemoryClient) ReplaceResourceChunks(_ context.Context, resourceID string, chunks []models.ResourceChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.resources[resourceID]; !ok {
		return core.StoreErr("replace chunks", fmt.Errorf("resource %s does not exist", resourceID))
	}
	cp := make([]models.ResourceChunk, len(chunks))
	copy(cp, chunks)
	for i := range cp {
		cp[i].ResourceID = resourceID
	}
	m.chunks[resourceID] = cp
	return nil
}

// Chunks returns the stored chunk set of a resource.
func (m *MemoryClient) Chunks(resourceID string) []models.ResourceChunk {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.ResourceChunk(nil), m.chunks[resourceID]...)
}

// SearchResourceChunks orders by euclidean distance, like pgvector's <-> operator.
func (m *MemoryClient) SearchResourceChunks(_ context.Context, queryVec []float32, limit int) ([]models.ResourceChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	type scored struct {
		ch   models.ResourceChunk
		dist float64
	}
	var all []scored
	for _, set := range m.chunks {
		for _, ch := range set {
			all = append(all, scored{ch: ch, dist: l2(queryVec, ch.Embedding)})
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].dist < all[j].dist })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]models.ResourceChunk, len(all))
	for i := range all {
		out[i] = all[i].ch
	}
	return out, nil
}

func l2(a, b []float32) float64 {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		var x, y float64
		if i < len(a) {
			x = float64(a[i])
		}
		if i < len(b) {
			y = float64(b[i])
		}
		sum += (x - y) * (x - y)
	}
	return math.Sqrt(sum)
}

func cloneResource(r models.Resource) models.Resource {
	r.Tags = append([]string{}, r.Tags...)
	return r
}
