package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/haukened/ferry/internal/app"
	"github.com/haukened/ferry/internal/auth"
	"github.com/haukened/ferry/internal/config"
	"github.com/haukened/ferry/internal/metrics"
	"github.com/haukened/ferry/internal/store"
	"github.com/haukened/ferry/internal/store/filesystem"
	"github.com/haukened/ferry/internal/store/s3blob"
	"github.com/haukened/ferry/internal/store/sqlite"
)

// realClock implements app.Clock using time.Now.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// runtime bundles the opened resources every command needs.
type runtime struct {
	db      *sql.DB
	blobDir string // empty unless the filesystem backend is in use
	index   *sqlite.Index
	metrics *metrics.Manager
	svc     *app.Service
}

// ensureDataDir creates dir (and its blobs subdirectory) when missing.
func ensureDataDir(dir string) (string, string, error) {
	st, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", "", fmt.Errorf("create data directory: %w", err)
		}
	case err != nil:
		return "", "", fmt.Errorf("stat data directory: %w", err)
	case !st.IsDir():
		return "", "", fmt.Errorf("data path %s is not a directory", dir)
	}
	blobDir := filepath.Join(dir, "blobs")
	if err := os.MkdirAll(blobDir, 0o700); err != nil {
		return "", "", fmt.Errorf("create blobs directory: %w", err)
	}
	return dir, blobDir, nil
}

func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, *sqlite.Index, error) {
	db, err := sql.Open("sqlite3", cfg.SQLiteDSN())
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite: %w", err)
	}
	idx, err := sqlite.New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return db, idx, nil
}

func newBlobStorage(ctx context.Context, cfg *config.Config, blobDir string) (store.BlobStorage, error) {
	if cfg.BlobBackend == config.BackendS3 {
		return s3blob.New(ctx, s3blob.Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Prefix:    cfg.S3Prefix,
		})
	}
	return filesystem.New(blobDir)
}

func buildService(cfg *config.Config, keys app.KeyStore, content app.ContentStore, rec app.Recorder, logger *slog.Logger, clock app.Clock) *app.Service {
	return &app.Service{
		Keys:           keys,
		Store:          content,
		Clock:          clock,
		Hasher:         auth.NewHasher(cfg.PasswordCost),
		Metrics:        rec,
		Logger:         logger,
		MaxUploadBytes: int64(cfg.MaxUploadBytes),
	}
}

// openRuntime opens the data directory, database, blob storage and metrics
// and assembles the application service. Close releases them.
func openRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	_, blobDir, err := ensureDataDir(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	db, idx, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	blobs, err := newBlobStorage(ctx, cfg, blobDir)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init blob storage: %w", err)
	}
	m := metrics.New(db, metrics.Config{FlushInterval: cfg.MetricsFlush, Logger: logger})
	if err := m.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init metrics schema: %w", err)
	}
	st := store.New(idx, blobs, logger, store.WithOrphanGrace(cfg.OrphanGrace))
	rt := &runtime{
		db:      db,
		index:   idx,
		metrics: m,
		svc:     buildService(cfg, idx, st, m, logger, realClock{}),
	}
	if cfg.BlobBackend != config.BackendS3 {
		rt.blobDir = blobDir
	}
	return rt, nil
}

// ready pings the database and, for the filesystem backend, checks that the
// blob directory is still reachable.
func (r *runtime) ready(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return err
	}
	if r.blobDir != "" {
		if _, err := os.ReadDir(r.blobDir); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes pending metrics and closes the database.
func (r *runtime) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.metrics.Stop(ctx)
	return r.db.Close()
}
