package app

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/gurnoornatt/code-chat/internal/auth"
	db "github.com/gurnoornatt/code-chat/internal/core/database"
	"github.com/gurnoornatt/code-chat/internal/core/ingestion_engine"
	objectclient "github.com/gurnoornatt/code-chat/internal/core/object-client"
	"github.com/gurnoornatt/code-chat/internal/logger"
	"github.com/gurnoornatt/code-chat/internal/models"
	"github.com/gurnoornatt/code-chat/internal/services"
)

type stubTutor struct{}

func (stubTutor) Generate(_ context.Context, _, _ string) (string, error) {
	return "Try printing the loop index.", nil
}

type testEnv struct {
	srv    *httptest.Server
	tokens *auth.TokenService
	store  *db.MemoryClient
	blobs  *objectclient.MemoryClient
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logger.Nop()
	tokens, err := auth.NewTokenService("router-secret", time.Minute)
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	store := db.NewMemoryClient()
	blobs := objectclient.NewMemoryClient()

	router := NewRouter(RouterDeps{
		Guard:          auth.NewGuard(tokens, store),
		Students:       services.NewStudentService(store, tokens).WithHashCost(bcrypt.MinCost),
		Chat:           services.NewChatService(store, stubTutor{}, log),
		Files:          services.NewFileService(store, blobs, nil, 1<<20, log),
		Resources:      services.NewResourceService(store, nil, ingestion_engine.NoopIndexer{}, log),
		MaxUploadBytes: 1 << 20,
		CORSOrigins:    []string{"http://localhost:5173"},
		Log:            log,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, tokens: tokens, store: store, blobs: blobs}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		t.Fatalf("%s %s: expected %d, got %d (%v)", resp.Request.Method, resp.Request.URL.Path, want, resp.StatusCode, body)
	}
}

func (e *testEnv) register(t *testing.T, email string) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/auth/register", "", services.RegisterRequest{
		Email: email, Password: "password123", Name: "Student", GradeLevel: "11", School: "Central",
	})
	expectStatus(t, resp, http.StatusOK)
	body := decode[map[string]string](t, resp)
	if body["token_type"] != "bearer" || body["access_token"] == "" {
		t.Fatalf("unexpected token response %v", body)
	}
	return body["access_token"]
}

func TestHealthRoute(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/health", "", nil)
	expectStatus(t, resp, http.StatusOK)
	if body := decode[map[string]string](t, resp); body["message"] != "API is running" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestRegisterLoginFlow(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "ada@example.com")

	p, err := env.tokens.Verify(token)
	if err != nil || p.Role != auth.RoleStudent {
		t.Fatalf("registration token: %+v %v", p, err)
	}

	resp := env.do(t, http.MethodPost, "/auth/register", "", services.RegisterRequest{
		Email: "ada@example.com", Password: "password123", Name: "Ada", GradeLevel: "11", School: "Central",
	})
	expectStatus(t, resp, http.StatusBadRequest)
	if body := decode[map[string]string](t, resp); body["detail"] != "Email already registered" {
		t.Fatalf("unexpected duplicate detail %v", body)
	}

	resp = env.do(t, http.MethodPost, "/auth/login", "", services.LoginRequest{Email: "ada@example.com", Password: "password123"})
	expectStatus(t, resp, http.StatusOK)

	resp = env.do(t, http.MethodPost, "/auth/login", "", services.LoginRequest{Email: "ada@example.com", Password: "nope-nope"})
	expectStatus(t, resp, http.StatusUnauthorized)
	if body := decode[map[string]string](t, resp); body["detail"] != "Invalid email or password" {
		t.Fatalf("unexpected login detail %v", body)
	}
}

func TestChatIsolationAndFeedback(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice@example.com")
	bob := env.register(t, "bob@example.com")

	resp := env.do(t, http.MethodPost, "/chat/questions", alice, services.CreateQuestionRequest{QuestionText: "Why is my loop infinite?"})
	expectStatus(t, resp, http.StatusOK)
	q := decode[models.Question](t, resp)

	expectStatus(t, env.do(t, http.MethodGet, "/chat/conversations/"+q.ID, bob, nil), http.StatusNotFound)
	expectStatus(t, env.do(t, http.MethodGet, "/chat/conversations/"+q.ID, "", nil), http.StatusUnauthorized)

	resp = env.do(t, http.MethodPost, "/chat/questions/"+q.ID+"/messages", alice, services.AskRequest{MessageText: "It never stops"})
	expectStatus(t, resp, http.StatusOK)
	created := decode[[]models.ConversationMessage](t, resp)
	reply := created[len(created)-1]
	if reply.MessageType != models.MessageAI {
		t.Fatalf("expected ai reply, got %+v", reply)
	}

	resp = env.do(t, http.MethodGet, "/chat/conversations/"+q.ID, alice, nil)
	expectStatus(t, resp, http.StatusOK)
	if msgs := decode[[]models.ConversationMessage](t, resp); len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}

	feedbackPath := "/chat/responses/" + q.ID + "/feedback"
	expectStatus(t, env.do(t, http.MethodPost, feedbackPath, alice, services.FeedbackRequest{ResponseID: reply.ID, Rating: 9}), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodPost, feedbackPath, bob, services.FeedbackRequest{ResponseID: reply.ID, Rating: 4}), http.StatusNotFound)
	expectStatus(t, env.do(t, http.MethodPost, feedbackPath, alice, services.FeedbackRequest{ResponseID: created[0].ID, Rating: 4}), http.StatusNotFound)
	expectStatus(t, env.do(t, http.MethodPost, feedbackPath, alice, services.FeedbackRequest{ResponseID: reply.ID, Rating: 4}), http.StatusOK)

	resp = env.do(t, http.MethodPatch, "/chat/questions/"+q.ID, alice, map[string]bool{"resolved": true})
	expectStatus(t, resp, http.StatusOK)
	if got := decode[models.Question](t, resp); !got.Resolved {
		t.Fatalf("question not resolved")
	}
	expectStatus(t, env.do(t, http.MethodPatch, "/chat/questions/"+q.ID, bob, map[string]bool{"resolved": false}), http.StatusNotFound)
}

func TestExpiredAndForeignTokens(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "carol@example.com")
	stu, _ := env.store.GetStudentByEmail(context.Background(), "carol@example.com")

	past, _ := auth.NewTokenService("router-secret", time.Minute)
	expired, err := past.WithClock(func() time.Time { return time.Now().Add(-time.Hour) }).Issue(stu.ID, auth.RoleStudent, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	expectStatus(t, env.do(t, http.MethodGet, "/chat/questions", expired, nil), http.StatusUnauthorized)

	other, _ := auth.NewTokenService("some-other-secret", time.Minute)
	forged, _ := other.IssueDefault(stu.ID, auth.RoleStudent)
	expectStatus(t, env.do(t, http.MethodGet, "/chat/questions", forged, nil), http.StatusUnauthorized)
}

func TestResourceRoles(t *testing.T) {
	env := newTestEnv(t)
	student := env.register(t, "dan@example.com")
	admin, err := env.tokens.IssueDefault("admin-1", auth.RoleAdmin)
	if err != nil {
		t.Fatalf("issue admin: %v", err)
	}
	body := services.ResourceRequest{Title: "Loops 101", Content: "for loops", FileType: "markdown", Tags: []string{"python"}}

	expectStatus(t, env.do(t, http.MethodPost, "/resources", student, body), http.StatusForbidden)
	expectStatus(t, env.do(t, http.MethodPost, "/resources", "", body), http.StatusUnauthorized)

	resp := env.do(t, http.MethodPost, "/resources", admin, body)
	expectStatus(t, resp, http.StatusCreated)
	res := decode[models.Resource](t, resp)

	resp = env.do(t, http.MethodGet, "/resources", student, nil)
	expectStatus(t, resp, http.StatusOK)
	if list := decode[[]models.Resource](t, resp); len(list) != 1 {
		t.Fatalf("expected one resource, got %d", len(list))
	}

	resp = env.do(t, http.MethodGet, "/resources/search?tag=python", admin, nil)
	expectStatus(t, resp, http.StatusOK)
	if list := decode[[]models.Resource](t, resp); len(list) != 1 || list[0].ID != res.ID {
		t.Fatalf("tag search: %+v", list)
	}
	resp = env.do(t, http.MethodGet, "/resources/search?q=loops&limit=5", student, nil)
	expectStatus(t, resp, http.StatusOK)
	if list := decode[[]models.Resource](t, resp); len(list) != 1 {
		t.Fatalf("text search: %+v", list)
	}
	expectStatus(t, env.do(t, http.MethodGet, "/resources/search", student, nil), http.StatusBadRequest)

	body.Title = "Loops 102"
	expectStatus(t, env.do(t, http.MethodPut, "/resources/"+res.ID, student, body), http.StatusForbidden)
	expectStatus(t, env.do(t, http.MethodPut, "/resources/missing", admin, body), http.StatusNotFound)
	expectStatus(t, env.do(t, http.MethodPut, "/resources/"+res.ID, admin, body), http.StatusOK)

	expectStatus(t, env.do(t, http.MethodDelete, "/resources/"+res.ID, student, nil), http.StatusForbidden)
	expectStatus(t, env.do(t, http.MethodDelete, "/resources/"+res.ID, admin, nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodGet, "/resources/"+res.ID, admin, nil), http.StatusNotFound)
}

func TestFileRoutes(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "erin@example.com")
	bob := env.register(t, "finn@example.com")

	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	part, err := mw.CreateFormFile("file", "solution.py")
	if err != nil {
		t.Fatalf("form: %v", err)
	}
	_, _ = part.Write([]byte("print('done')"))
	_ = mw.Close()

	req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/files/upload", &form)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+alice)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)
	rec := decode[models.FileRecord](t, resp)
	if !env.blobs.Has(rec.StoragePath) {
		t.Fatalf("blob not stored")
	}

	resp = env.do(t, http.MethodGet, "/files/list", alice, nil)
	expectStatus(t, resp, http.StatusOK)
	if list := decode[[]models.FileRecord](t, resp); len(list) != 1 {
		t.Fatalf("expected 1 file, got %d", len(list))
	}

	resp = env.do(t, http.MethodGet, "/files/"+rec.ID+"/content", alice, nil)
	expectStatus(t, resp, http.StatusOK)
	if c := decode[services.FileContent](t, resp); c.Content != "print('done')" {
		t.Fatalf("unexpected content %+v", c)
	}

	expectStatus(t, env.do(t, http.MethodGet, "/files/"+rec.ID+"/download", bob, nil), http.StatusNotFound)
	expectStatus(t, env.do(t, http.MethodDelete, "/files/"+rec.ID, bob, nil), http.StatusNotFound)
	expectStatus(t, env.do(t, http.MethodDelete, "/files/"+rec.ID, alice, nil), http.StatusOK)
	if env.blobs.Len() != 0 {
		t.Fatalf("blob left after delete")
	}
}
