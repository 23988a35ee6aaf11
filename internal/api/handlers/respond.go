package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gurnoornatt/code-chat/internal/auth"
	"github.com/gurnoornatt/code-chat/internal/core"
	"github.com/gurnoornatt/code-chat/internal/logger"
)

type errorBody struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps the error taxonomy onto a status code and a {"detail": ...} body.
// Server-side failures are logged with their cause; clients only see the detail.
func WriteError(w http.ResponseWriter, log *logger.Logger, err error) {
	status, detail := classify(err)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, errorBody{Detail: detail})
}

func classify(err error) (int, string) {
	var status int
	var fallback string
	switch {
	case errors.Is(err, core.ErrUnauthorized), errors.Is(err, core.ErrInvalidToken):
		status, fallback = http.StatusUnauthorized, "Could not validate credentials"
	case errors.Is(err, core.ErrForbidden):
		status, fallback = http.StatusForbidden, "Not authorized to perform this action"
	case errors.Is(err, core.ErrNotFound):
		status, fallback = http.StatusNotFound, "Not found"
	case errors.Is(err, core.ErrValidation):
		status, fallback = http.StatusBadRequest, err.Error()
	case errors.Is(err, core.ErrConflict):
		status, fallback = http.StatusBadRequest, "Already exists"
	case errors.Is(err, core.ErrStoreFailure):
		status, fallback = http.StatusBadGateway, "Storage service unavailable"
	case errors.Is(err, core.ErrUpstream):
		status, fallback = http.StatusBadGateway, "Upstream service unavailable"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}

	var d *core.DetailError
	if errors.As(err, &d) {
		return status, d.Detail
	}
	return status, fallback
}

// maxJSONBody caps request bodies for the JSON endpoints. Uploads use their own limit.
const maxJSONBody = 1 << 20

var errBodyTooLarge = core.WithDetail(core.ErrValidation, "Request body too large")

// decodeJSON reads a JSON request body; malformed bodies are validation failures.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return decodeBody(w, r, dst, false)
}

func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return decodeBody(w, r, dst, true)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(dst)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return errBodyTooLarge
	}
	return core.WithDetail(fmt.Errorf("%w: %v", core.ErrValidation, err), "Invalid request body")
}

// principal reads what the auth middleware attached. Routes are only mounted behind
// the middleware, so a missing principal means a wiring mistake.
func principal(r *http.Request) (auth.Principal, error) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		return auth.Principal{}, core.ErrUnauthorized
	}
	return p, nil
}

func errMissingField(name string) error {
	return core.WithDetail(core.ErrValidation, name+" is required")
}
