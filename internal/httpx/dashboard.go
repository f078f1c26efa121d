package httpx

import "net/http"

type usageResponse struct {
	Channel string `json:"channel"`
	Total   int64  `json:"total"`
}

// handleDashboard implements GET /api/dashboard. It is unauthenticated and
// sweeps before aggregating, so totals never include expired content.
func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.Service.Dashboard(r.Context())
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	channels := make([]usageResponse, 0, len(d.Channels))
	for _, u := range d.Channels {
		channels = append(channels, usageResponse{Channel: u.Channel, Total: u.Total})
	}
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	h.writeJSON(w, http.StatusOK, struct {
		Channels  []usageResponse `json:"channels"`
		TotalSize int64           `json:"total_size"`
	}{Channels: channels, TotalSize: d.TotalSize})
}

// handleCleanup implements POST /api/cleanup: an on-demand sweep.
func (h *Handler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r, "", ""); !ok {
		return
	}
	res, err := h.Service.Sweep(r.Context())
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, struct {
		OK       bool `json:"ok"`
		Files    int  `json:"files"`
		Channels int  `json:"channels"`
	}{OK: true, Files: res.Files, Channels: res.Channels})
}
