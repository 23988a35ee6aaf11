package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gurnoornatt/code-chat/internal/logger"
	"github.com/gurnoornatt/code-chat/internal/services"
)

type ChatHandler struct {
	chat *services.ChatService
	log  *logger.Logger
}

func NewChatHandler(chat *services.ChatService, log *logger.Logger) *ChatHandler {
	return &ChatHandler{chat: chat, log: log}
}

type resolveRequest struct {
	Resolved *bool `json:"resolved"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *ChatHandler) CreateQuestion(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	var req services.CreateQuestionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, h.log, err)
		return
	}

	q, err := h.chat.CreateQuestion(r.Context(), p, req)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *ChatHandler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	qs, err := h.chat.ListQuestions(r.Context(), p)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, qs)
}

func (h *ChatHandler) UpdateQuestion(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	var req resolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, h.log, err)
		return
	}
	if req.Resolved == nil {
		WriteError(w, h.log, errMissingField("resolved"))
		return
	}

	q, err := h.chat.SetResolved(r.Context(), p, chi.URLParam(r, "question_id"), *req.Resolved)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *ChatHandler) Conversation(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	msgs, err := h.chat.Conversation(r.Context(), p, chi.URLParam(r, "question_id"))
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *ChatHandler) Ask(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	var req services.AskRequest
	// An empty body asks the tutor about the transcript as it stands.
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		WriteError(w, h.log, err)
		return
	}

	msgs, err := h.chat.Ask(r.Context(), p, chi.URLParam(r, "question_id"), req)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *ChatHandler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	var req services.FeedbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, h.log, err)
		return
	}

	if _, err := h.chat.SubmitFeedback(r.Context(), p, chi.URLParam(r, "question_id"), req); err != nil {
		WriteError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Feedback submitted successfully"})
}
