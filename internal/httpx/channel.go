package httpx

import (
	"net/http"

	"github.com/haukened/ferry/internal/app"
)

type channelResponse struct {
	Name        string `json:"name"`
	Content     string `json:"content"`
	ExpireAt    *int64 `json:"expire_at"`
	PasswordSet bool   `json:"password_set"`
}

// handleGetChannel implements GET /api/channel/{channel}.
func (h *Handler) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	channel := channelVar(r)
	if _, ok := h.authorize(w, r, channel, ""); !ok {
		return
	}
	v, err := h.Service.GetChannel(r.Context(), channel)
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, channelResponse{
		Name:        v.Name,
		Content:     v.Content,
		ExpireAt:    unixOrNil(v.ExpireAt),
		PasswordSet: v.PasswordSet,
	})
}

type saveRequest struct {
	Content       string `json:"content"`
	ExpireMinutes *int   `json:"expire_minutes"`
	Password      string `json:"password"`
}

// handleSaveChannel implements POST /api/channel/{channel}/save. The body
// password doubles as the credential for an already protected channel and
// as the new password.
func (h *Handler) handleSaveChannel(w http.ResponseWriter, r *http.Request) {
	channel := channelVar(r)
	var req saveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	k, ok := h.authorize(w, r, channel, req.Password)
	if !ok {
		return
	}
	minutes := h.DefaultExpireMinutes
	if req.ExpireMinutes != nil {
		minutes = *req.ExpireMinutes
	}
	expireAt, err := h.Service.SaveChannel(r.Context(), app.SaveChannelInput{
		Name:          channel,
		Content:       req.Content,
		ExpireMinutes: minutes,
		Password:      req.Password,
		Owner:         k.Token,
	})
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, struct {
		OK       bool   `json:"ok"`
		ExpireAt *int64 `json:"expire_at"`
	}{OK: true, ExpireAt: unixOrNil(expireAt)})
}

// handleSetPassword implements POST /api/channel/{channel}/password. An
// empty or missing password removes protection.
func (h *Handler) handleSetPassword(w http.ResponseWriter, r *http.Request) {
	channel := channelVar(r)
	var req struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	if _, ok := h.authorize(w, r, channel, req.Password); !ok {
		return
	}
	if err := h.Service.SetChannelPassword(r.Context(), channel, req.Password); err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
