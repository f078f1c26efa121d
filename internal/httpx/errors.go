package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/haukened/ferry/internal/domain"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string `json:"error"`
	Allowed []int  `json:"allowed,omitempty"`
}

// writeJSON writes payload as JSON with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log().Error("write json response", "domain", "http", "status", status, "error", err)
	}
}

// writeError writes a JSON error body with given status code.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code int, msg string) {
	h.writeJSON(w, code, errorBody{Error: msg})
	if cid, ok := GetCorrelationID(ctx); ok {
		h.log().Debug("wrote error response", "cid", cid, "status", code, "msg", msg)
	}
}

// errorMapping pairs a sentinel with its HTTP status and error code. Order
// matters: more specific sentinels wrap the generic ones below them.
var errorMapping = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrMissingCredential, http.StatusUnauthorized, "missing_master_key"},
	{domain.ErrInvalidCredential, http.StatusUnauthorized, "invalid_master_key"},
	{domain.ErrExpiredCredential, http.StatusUnauthorized, "expired_master_key"},
	{domain.ErrForbidden, http.StatusForbidden, "visitor_cannot_rotate"},
	{domain.ErrPasswordRequired, http.StatusForbidden, "password_required"},
	{domain.ErrInvalidTTL, http.StatusBadRequest, "minutes_invalid"},
	{domain.ErrNoFile, http.StatusBadRequest, "no_file"},
	{domain.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{domain.ErrTooLarge, http.StatusRequestEntityTooLarge, "too_large"},
	{domain.ErrChannelExpired, http.StatusGone, "channel_expired"},
	{domain.ErrFileExpired, http.StatusGone, "file_expired"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{os.ErrNotExist, http.StatusNotFound, "not_found"},
	{domain.ErrNotInitialized, http.StatusInternalServerError, "not_initialized"},
}

// mapServiceError maps domain/store/service errors to HTTP responses.
func (h *Handler) mapServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	cid, _ := GetCorrelationID(ctx)
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		err = domain.ErrTooLarge
	}
	for _, m := range errorMapping {
		if !errors.Is(err, m.err) {
			continue
		}
		switch {
		case m.status >= 500:
			h.log().Error("service error", "cid", cid, "code", m.code)
		case m.status == http.StatusUnauthorized || m.status == http.StatusForbidden:
			h.log().Info("service error", "cid", cid, "code", m.code)
		default:
			h.log().Debug("service error", "cid", cid, "code", m.code)
		}
		body := errorBody{Error: m.code}
		if m.err == domain.ErrInvalidTTL {
			body.Allowed = domain.RotationMinutes
		}
		h.writeJSON(w, m.status, body)
		return
	}
	// Internal / unexpected: do not log raw error string to avoid leaking IDs or paths.
	h.log().Error("unhandled service error", "cid", cid, "code", "internal")
	h.writeError(ctx, w, http.StatusInternalServerError, "internal")
}
