// Package httpx contains the HTTP delivery layer (net/http handlers) for the
// ferry service. It maps JSON API requests to the application service while
// enforcing credentials, size limits, security headers, streaming downloads
// and error translation. Routing uses gorilla/mux; handlers are split across
// files (master.go, channel.go, files.go, dashboard.go, health.go, errors.go).
package httpx

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/haukened/ferry/internal/app"
	"github.com/haukened/ferry/internal/domain"
)

// ServicePort abstracts the subset of app.Service used by the HTTP layer.
// It is satisfied by *app.Service in production and mocked in tests.
type ServicePort interface {
	KeysExist(ctx context.Context) (bool, error)
	PeekBootstrapKey(ctx context.Context) (string, error)
	RotateKey(ctx context.Context, parentToken string, minutes int) (domain.MasterKey, error)
	DescribeKey(k domain.MasterKey) app.KeyInfo
	Authorize(ctx context.Context, c app.Credentials) (domain.MasterKey, error)

	GetChannel(ctx context.Context, name string) (app.ChannelView, error)
	SaveChannel(ctx context.Context, in app.SaveChannelInput) (expireAt time.Time, err error)
	SetChannelPassword(ctx context.Context, name, password string) error

	UploadFile(ctx context.Context, in app.UploadInput) (domain.FileRecord, error)
	ListFiles(ctx context.Context, channel string) ([]domain.FileRecord, error)
	DownloadFile(ctx context.Context, channel string, id int64) (domain.FileRecord, io.ReadCloser, error)
	DeleteFile(ctx context.Context, channel string, id int64) (bool, error)

	Dashboard(ctx context.Context) (app.Dashboard, error)
	Sweep(ctx context.Context) (app.SweepResult, error)
}

var _ ServicePort = (*app.Service)(nil)

// Handler wires HTTP endpoints to the application service.
// It is safe for concurrent use. Zero-value is not valid; construct via New.
type Handler struct {
	Service              ServicePort
	MaxBody              int64                       // upload size limit (0 disables the extra check)
	DefaultExpireMinutes int                         // used when a request omits expire_minutes
	RevealBootstrapKey   bool                        // enables POST /api/master/peek-once
	Readiness            func(context.Context) error // optional readiness probe
	Metrics              http.Handler                // optional, mounted at /metrics
	Logger               *slog.Logger                // optional, defaults to slog.Default()
}

// New returns a configured Handler.
// svc: application service port implementation.
// maxBody: maximum allowed upload size (0 disables extra check).
// readiness: optional probe function for /readyz (nil => always ready).
func New(svc ServicePort, maxBody int64, readiness func(context.Context) error) *Handler {
	return &Handler{Service: svc, MaxBody: maxBody, Readiness: readiness, DefaultExpireMinutes: 10, RevealBootstrapKey: true}
}

func (h *Handler) log() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// Router constructs and returns an http.Handler with all routes mounted and
// the correlation, request logging and security header middleware applied.
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.handleReady).Methods(http.MethodGet)
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", h.handleAPIHealth).Methods(http.MethodGet)
	api.HandleFunc("/master/exists", h.handleMasterExists).Methods(http.MethodGet)
	api.HandleFunc("/master/peek-once", h.handlePeekOnce).Methods(http.MethodPost)
	api.HandleFunc("/master/me", h.handleMasterMe).Methods(http.MethodGet)
	api.HandleFunc("/master/rotate", h.handleRotate).Methods(http.MethodPost)

	api.HandleFunc("/channel/{channel}", h.handleGetChannel).Methods(http.MethodGet)
	api.HandleFunc("/channel/{channel}/save", h.handleSaveChannel).Methods(http.MethodPost)
	api.HandleFunc("/channel/{channel}/password", h.handleSetPassword).Methods(http.MethodPost)
	api.HandleFunc("/channel/{channel}/upload", h.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/channel/{channel}/files", h.handleListFiles).Methods(http.MethodGet)
	api.HandleFunc("/channel/{channel}/download/{id:[0-9]+}", h.handleDownload).Methods(http.MethodGet)
	api.HandleFunc("/channel/{channel}/file/{id:[0-9]+}", h.handleDeleteFile).Methods(http.MethodDelete)

	api.HandleFunc("/dashboard", h.handleDashboard).Methods(http.MethodGet)
	api.HandleFunc("/cleanup", h.handleCleanup).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		h.writeError(req.Context(), w, http.StatusNotFound, "not_found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		h.writeError(req.Context(), w, http.StatusMethodNotAllowed, "method_not_allowed")
	})
	return CorrelationIDMiddleware(h.logRequests(h.secureHeaders(r)))
}

// secureHeaders middleware adds standard security & cache control headers.
// Routes that need different caching override Cache-Control themselves.
func (h *Handler) secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")
		next.ServeHTTP(w, r)
	})
}
