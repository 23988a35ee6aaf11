package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/gurnoornatt/code-chat/internal/core"
	"github.com/gurnoornatt/code-chat/internal/logger"
	"github.com/gurnoornatt/code-chat/internal/services"
)

// multipartOverhead leaves room for the form boundaries around the file part.
const multipartOverhead = 1 << 20

type FileHandler struct {
	files    *services.FileService
	maxBytes int64
	log      *logger.Logger
}

func NewFileHandler(files *services.FileService, maxBytes int64, log *logger.Logger) *FileHandler {
	return &FileHandler{files: files, maxBytes: maxBytes, log: log}
}

// Upload handles the multipart "file" field and stores blob plus metadata.
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, h.log, core.WithDetail(core.ErrValidation, fmt.Sprintf("File exceeds the %d MB upload limit", h.maxBytes>>20)))
			return
		}
		WriteError(w, h.log, core.WithDetail(fmt.Errorf("%w: %v", core.ErrValidation, err), "No file provided"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, h.log, core.WithDetail(fmt.Errorf("%w: %v", core.ErrValidation, err), "Failed to read uploaded file"))
		return
	}

	rec, err := h.files.Upload(r.Context(), p, header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	h.log.Info("file uploaded", "file_id", rec.ID, "student_id", p.ID, "size", rec.Size)
	writeJSON(w, http.StatusOK, rec)
}

func (h *FileHandler) List(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	files, err := h.files.List(r.Context(), p)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (h *FileHandler) Content(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	content, err := h.files.Content(r.Context(), p, chi.URLParam(r, "file_id"))
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, content)
}

func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	rec, data, err := h.files.Download(r.Context(), p, chi.URLParam(r, "file_id"))
	if err != nil {
		WriteError(w, h.log, err)
		return
	}

	w.Header().Set("Content-Type", rec.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": rec.Name}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	if err := h.files.Delete(r.Context(), p, chi.URLParam(r, "file_id")); err != nil {
		WriteError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "File deleted successfully"})
}
