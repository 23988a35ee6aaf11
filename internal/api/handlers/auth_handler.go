package handlers

import (
	"net/http"

	"github.com/gurnoornatt/code-chat/internal/logger"
	"github.com/gurnoornatt/code-chat/internal/services"
)

type AuthHandler struct {
	students *services.StudentService
	log      *logger.Logger
}

func NewAuthHandler(students *services.StudentService, log *logger.Logger) *AuthHandler {
	return &AuthHandler{students: students, log: log}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req services.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, h.log, err)
		return
	}

	token, student, err := h.students.Register(r.Context(), req)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	h.log.Info("student registered", "student_id", student.ID)
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req services.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, h.log, err)
		return
	}

	token, err := h.students.Login(r.Context(), req)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}
