// Package sqlite provides a SQLite-backed implementation of the store.Index
// port for channel and file metadata, and of the app.KeyStore port for
// master keys. The schema is managed by embedded goose migrations.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/haukened/ferry/internal/app"
	"github.com/haukened/ferry/internal/domain"
	"github.com/haukened/ferry/internal/store"

	// database/sql SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	_ store.Index  = (*Index)(nil)
	_ app.KeyStore = (*Index)(nil)
)

// goose keeps its filesystem and dialect in package globals.
var migrateMu sync.Mutex

// Index implements store.Index and app.KeyStore using SQLite (via
// database/sql). It is safe for concurrent use.
type Index struct{ db *sql.DB }

// New constructs an Index, applying pending schema migrations.
func New(ctx context.Context, db *sql.DB) (*Index, error) {
	if err := Migrate(ctx, db); err != nil {
		return nil, err
	}
	return &Index{db: db}, nil
}

// Migrate runs all pending migrations from the embedded filesystem.
func Migrate(ctx context.Context, db *sql.DB) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on error or panic. Panics are rethrown.
func (i *Index) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}

// nullUnix maps the zero time to NULL and anything else to epoch seconds.
func nullUnix(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}

func fromNullUnix(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return domain.UnixOrZero(n.Int64)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// InsertIfEmpty inserts key as the bootstrap key when the table is empty. The
// conditional insert runs in an immediate transaction and the partial unique
// index on bootstrap rejects a second bootstrap row, so concurrent callers
// create at most one key.
func (i *Index) InsertIfEmpty(ctx context.Context, key domain.MasterKey) (bool, error) {
	const q = `INSERT OR IGNORE INTO master_keys (token, created_at, expires_at, bootstrap)
SELECT ?, ?, NULL, 1 WHERE NOT EXISTS (SELECT 1 FROM master_keys)`
	var n int64
	err := i.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, q, key.Token, key.CreatedAt.Unix())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// InsertKey stores a minted key.
func (i *Index) InsertKey(ctx context.Context, key domain.MasterKey) error {
	const q = `INSERT INTO master_keys (token, created_at, expires_at, bootstrap) VALUES (?,?,?,0)`
	_, err := i.db.ExecContext(ctx, q, key.Token, key.CreatedAt.Unix(), nullUnix(key.ExpiresAt))
	return err
}

const keyColumns = `token, created_at, expires_at, bootstrap`

func scanKey(row *sql.Row) (domain.MasterKey, error) {
	var (
		k       domain.MasterKey
		created int64
		expires sql.NullInt64
		boot    int
	)
	if err := row.Scan(&k.Token, &created, &expires, &boot); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.MasterKey{}, domain.ErrNotFound
		}
		return domain.MasterKey{}, err
	}
	k.CreatedAt = time.Unix(created, 0).UTC()
	k.ExpiresAt = fromNullUnix(expires)
	k.Bootstrap = boot == 1
	return k, nil
}

// GetKey looks a key up by token.
func (i *Index) GetKey(ctx context.Context, token string) (domain.MasterKey, error) {
	return scanKey(i.db.QueryRowContext(ctx, `SELECT `+keyColumns+` FROM master_keys WHERE token=?`, token))
}

// FirstKey returns the bootstrap key, falling back to the oldest key.
func (i *Index) FirstKey(ctx context.Context) (domain.MasterKey, error) {
	return scanKey(i.db.QueryRowContext(ctx, `SELECT `+keyColumns+` FROM master_keys ORDER BY bootstrap DESC, id ASC LIMIT 1`))
}

// HasKeys reports whether any key exists.
func (i *Index) HasKeys(ctx context.Context) (bool, error) {
	var exists int
	if err := i.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM master_keys)`).Scan(&exists); err != nil {
		return false, err
	}
	return exists == 1, nil
}
