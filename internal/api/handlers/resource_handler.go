package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/gurnoornatt/code-chat/internal/core"
	"github.com/gurnoornatt/code-chat/internal/logger"
	"github.com/gurnoornatt/code-chat/internal/models"
	"github.com/gurnoornatt/code-chat/internal/services"
)

type ResourceHandler struct {
	resources *services.ResourceService
	log       *logger.Logger
}

func NewResourceHandler(resources *services.ResourceService, log *logger.Logger) *ResourceHandler {
	return &ResourceHandler{resources: resources, log: log}
}

func (h *ResourceHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	var req services.ResourceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, h.log, err)
		return
	}

	res, err := h.resources.Create(r.Context(), p, req)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *ResourceHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.resources.List(r.Context())
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *ResourceHandler) Get(w http.ResponseWriter, r *http.Request) {
	res, err := h.resources.Get(r.Context(), chi.URLParam(r, "resource_id"))
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *ResourceHandler) Update(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	var req services.ResourceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, h.log, err)
		return
	}

	res, err := h.resources.Update(r.Context(), p, chi.URLParam(r, "resource_id"), req)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *ResourceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	if err := h.resources.Delete(r.Context(), p, chi.URLParam(r, "resource_id")); err != nil {
		WriteError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Resource deleted successfully"})
}

// Search serves ?tag= for exact tag matches and ?q= (with optional limit) for ranked search.
func (h *ResourceHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var (
		list []models.Resource
		err  error
	)
	switch {
	case query.Has("tag"):
		list, err = h.resources.SearchByTag(r.Context(), query.Get("tag"))
	case query.Has("q"):
		limit := 0
		if raw := query.Get("limit"); raw != "" {
			limit, err = strconv.Atoi(raw)
			if err != nil {
				WriteError(w, h.log, core.WithDetail(core.ErrValidation, "limit must be an integer"))
				return
			}
		}
		list, err = h.resources.Search(r.Context(), query.Get("q"), limit)
	default:
		err = errMissingField("tag")
	}
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
