package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/gurnoornatt/code-chat/internal/api/handlers"
	appMiddleware "github.com/gurnoornatt/code-chat/internal/api/middlewares"
	"github.com/gurnoornatt/code-chat/internal/auth"
	"github.com/gurnoornatt/code-chat/internal/logger"
	"github.com/gurnoornatt/code-chat/internal/services"
)

// RouterDeps is everything the route table needs.
type RouterDeps struct {
	Guard          *auth.Guard
	Students       *services.StudentService
	Chat           *services.ChatService
	Files          *services.FileService
	Resources      *services.ResourceService
	MaxUploadBytes int64
	CORSOrigins    []string
	Log            *logger.Logger
}

// NewRouter builds the chi router with every public and protected route.
func NewRouter(d RouterDeps) http.Handler {
	authHandler := handlers.NewAuthHandler(d.Students, d.Log)
	chatHandler := handlers.NewChatHandler(d.Chat, d.Log)
	fileHandler := handlers.NewFileHandler(d.Files, d.MaxUploadBytes, d.Log)
	resourceHandler := handlers.NewResourceHandler(d.Resources, d.Log)
	authMW := appMiddleware.NewAuthMiddleware(d.Guard, d.Log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", handlers.Health)

	r.Route("/auth", func(a chi.Router) {
		a.Post("/register", authHandler.Register)
		a.Post("/login", authHandler.Login)
	})

	r.Route("/chat", func(c chi.Router) {
		c.Use(authMW.Student)
		c.Post("/questions", chatHandler.CreateQuestion)
		c.Get("/questions", chatHandler.ListQuestions)
		c.Patch("/questions/{question_id}", chatHandler.UpdateQuestion)
		c.Post("/questions/{question_id}/messages", chatHandler.Ask)
		c.Get("/conversations/{question_id}", chatHandler.Conversation)
		c.Post("/responses/{question_id}/feedback", chatHandler.SubmitFeedback)
	})

	r.Route("/files", func(f chi.Router) {
		f.Use(authMW.Student)
		f.Post("/upload", fileHandler.Upload)
		f.Get("/list", fileHandler.List)
		f.Get("/{file_id}/content", fileHandler.Content)
		f.Get("/{file_id}/download", fileHandler.Download)
		f.Delete("/{file_id}", fileHandler.Delete)
	})

	r.Route("/resources", func(res chi.Router) {
		res.Group(func(read chi.Router) {
			read.Use(authMW.Authenticated)
			read.Get("/", resourceHandler.List)
			read.Get("/search", resourceHandler.Search)
			read.Get("/{resource_id}", resourceHandler.Get)
		})
		res.Group(func(write chi.Router) {
			write.Use(authMW.Admin)
			write.Post("/", resourceHandler.Create)
			write.Put("/{resource_id}", resourceHandler.Update)
			write.Delete("/{resource_id}", resourceHandler.Delete)
		})
	})

	return r
}

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

func NewServer(port string, handler http.Handler, log *logger.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + port,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
