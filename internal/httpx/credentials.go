package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/haukened/ferry/internal/app"
	"github.com/haukened/ferry/internal/domain"
)

// Credential carriers.
const (
	MasterKeyHeader       = "X-Master-Key"
	ChannelPasswordHeader = "X-Channel-Password"
	masterKeyQuery        = "master_key"
	passwordQuery         = "password"
)

// maxJSONBody caps JSON request bodies (channel text included).
const maxJSONBody = 8 << 20

// masterKey returns the presented master key: header first, then query.
func masterKey(r *http.Request) string {
	if v := r.Header.Get(MasterKeyHeader); v != "" {
		return v
	}
	return r.URL.Query().Get(masterKeyQuery)
}

// channelPassword returns the presented channel password: header, then the
// JSON body field (when the route has one), then query.
func channelPassword(r *http.Request, bodyPassword string) string {
	if v := r.Header.Get(ChannelPasswordHeader); v != "" {
		return v
	}
	if bodyPassword != "" {
		return bodyPassword
	}
	return r.URL.Query().Get(passwordQuery)
}

// authorize checks the master key and, when channel is non-empty, the
// channel password. It writes the error response itself and reports whether
// the request may proceed.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, channel, bodyPassword string) (domain.MasterKey, bool) {
	creds := app.Credentials{Token: masterKey(r), Channel: channel}
	if channel != "" {
		creds.Password = channelPassword(r, bodyPassword)
	}
	k, err := h.Service.Authorize(r.Context(), creds)
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return domain.MasterKey{}, false
	}
	return k, true
}

// decodeJSON reads a bounded JSON body into dst. An empty body leaves dst
// untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	defer body.Close()
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return domain.ErrTooLarge
		}
		return domain.ErrInvalidInput
	}
	return nil
}

func channelVar(r *http.Request) string { return mux.Vars(r)["channel"] }

func fileIDVar(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ErrNotFound
	}
	return id, nil
}

// unixOrNil renders an optional time as epoch seconds or JSON null.
func unixOrNil(t time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	v := t.Unix()
	return &v
}
