package httpx

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/haukened/ferry/internal/app"
	"github.com/haukened/ferry/internal/domain"
)

// multipartMemory is how much of a multipart upload is buffered in memory
// before spilling to a temporary file.
const multipartMemory = 32 << 20

// multipartOverhead allows for multipart framing on top of the file itself.
const multipartOverhead = 1 << 20

// handleUpload implements POST /api/channel/{channel}/upload.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	channel := channelVar(r)
	if _, ok := h.authorize(w, r, channel, ""); !ok {
		return
	}
	if h.MaxBody > 0 {
		if r.ContentLength > h.MaxBody+multipartOverhead {
			h.mapServiceError(r.Context(), w, domain.ErrTooLarge)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxBody+multipartOverhead)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.mapServiceError(r.Context(), w, domain.ErrTooLarge)
			return
		}
		h.mapServiceError(r.Context(), w, domain.ErrNoFile)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	minutes := h.DefaultExpireMinutes
	if raw := strings.TrimSpace(r.FormValue("expire_minutes")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.mapServiceError(r.Context(), w, domain.ErrInvalidInput)
			return
		}
		minutes = n
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		h.mapServiceError(r.Context(), w, domain.ErrNoFile)
		return
	}
	defer f.Close()
	rec, err := h.Service.UploadFile(r.Context(), app.UploadInput{
		Channel:       channel,
		Body:          f,
		Size:          hdr.Size,
		Name:          hdr.Filename,
		ExpireMinutes: minutes,
	})
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, struct {
		OK bool  `json:"ok"`
		ID int64 `json:"id"`
	}{OK: true, ID: rec.ID})
}

type fileResponse struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	UploadedAt int64  `json:"uploaded_at"`
	ExpireAt   *int64 `json:"expire_at"`
}

// handleListFiles implements GET /api/channel/{channel}/files.
func (h *Handler) handleListFiles(w http.ResponseWriter, r *http.Request) {
	channel := channelVar(r)
	if _, ok := h.authorize(w, r, channel, ""); !ok {
		return
	}
	recs, err := h.Service.ListFiles(r.Context(), channel)
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	files := make([]fileResponse, 0, len(recs))
	for _, f := range recs {
		files = append(files, fileResponse{
			ID:         f.ID,
			Name:       f.OriginalName,
			Size:       f.Size,
			UploadedAt: f.UploadedAt.Unix(),
			ExpireAt:   unixOrNil(f.ExpireAt),
		})
	}
	h.writeJSON(w, http.StatusOK, map[string][]fileResponse{"files": files})
}

// handleDownload implements GET /api/channel/{channel}/download/{id}. The
// bytes are streamed as an attachment under the original file name.
func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	channel := channelVar(r)
	if _, ok := h.authorize(w, r, channel, ""); !ok {
		return
	}
	id, err := fileIDVar(r)
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	rec, rc, err := h.Service.DownloadFile(r.Context(), channel, id)
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	defer rc.Close()
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": rec.OriginalName})
	if disposition == "" {
		disposition = "attachment"
	}
	w.Header().Set("Content-Disposition", disposition)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(rec.Size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.CopyN(w, rc, rec.Size); err != nil {
		cid, _ := GetCorrelationID(r.Context())
		h.log().Warn("download interrupted", "domain", "http", "cid", cid, "error", err)
	}
}

// handleDeleteFile implements DELETE /api/channel/{channel}/file/{id}.
// Deleting a file that is already gone succeeds with deleted=false.
func (h *Handler) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	channel := channelVar(r)
	if _, ok := h.authorize(w, r, channel, ""); !ok {
		return
	}
	id, err := fileIDVar(r)
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	deleted, err := h.Service.DeleteFile(r.Context(), channel, id)
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"ok": true, "deleted": deleted})
}
