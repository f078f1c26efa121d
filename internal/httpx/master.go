package httpx

import (
	"net/http"
)

// handleMasterExists implements GET /api/master/exists.
func (h *Handler) handleMasterExists(w http.ResponseWriter, r *http.Request) {
	exists, err := h.Service.KeysExist(r.Context())
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

// handlePeekOnce implements POST /api/master/peek-once. Nothing marks the
// key as revealed, so operators switch the route off once the first client
// has stored it.
func (h *Handler) handlePeekOnce(w http.ResponseWriter, r *http.Request) {
	if !h.RevealBootstrapKey {
		h.writeError(r.Context(), w, http.StatusNotFound, "not_found")
		return
	}
	token, err := h.Service.PeekBootstrapKey(r.Context())
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	cid, _ := GetCorrelationID(r.Context())
	h.log().Warn("bootstrap key revealed", "domain", "keys", "action", "peek", "cid", cid)
	h.writeJSON(w, http.StatusOK, map[string]string{"master_key": token})
}

type keyInfoResponse struct {
	CreatedAt   int64  `json:"created_at"`
	ExpiresAt   *int64 `json:"expires_at"`
	IsPermanent bool   `json:"is_permanent"`
	CanRotate   bool   `json:"can_rotate"`
}

// handleMasterMe implements GET /api/master/me.
func (h *Handler) handleMasterMe(w http.ResponseWriter, r *http.Request) {
	k, ok := h.authorize(w, r, "", "")
	if !ok {
		return
	}
	info := h.Service.DescribeKey(k)
	h.writeJSON(w, http.StatusOK, keyInfoResponse{
		CreatedAt:   info.CreatedAt.Unix(),
		ExpiresAt:   unixOrNil(info.ExpiresAt),
		IsPermanent: info.IsPermanent,
		CanRotate:   info.CanRotate,
	})
}

// handleRotate implements POST /api/master/rotate. A missing or malformed
// body is treated as a request without minutes.
func (h *Handler) handleRotate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Minutes int `json:"minutes"`
	}
	_ = decodeJSON(w, r, &req)
	k, err := h.Service.RotateKey(r.Context(), masterKey(r), req.Minutes)
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, struct {
		MasterKey string `json:"master_key"`
		ExpiresAt int64  `json:"expires_at"`
	}{MasterKey: k.Token, ExpiresAt: k.ExpiresAt.Unix()})
}
