package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/ferry/internal/domain"
)

// openTestDB opens a transient SQLite database file in a temp dir with the
// same pragmas the server uses.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dir := t.TempDir()
	dsn := "file:" + filepath.Join(dir, "test.db") + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := New(context.Background(), openTestDB(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return ix
}

func storedID(n int) string { return fmt.Sprintf("%032x", n) }

func TestMigrateIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if _, err := New(ctx, db); err != nil {
		t.Fatalf("first New: %v", err)
	}
	if _, err := New(ctx, db); err != nil {
		t.Fatalf("second New: %v", err)
	}
}

func TestIndexKeysRoundTrip(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()

	has, err := ix.HasKeys(ctx)
	require.NoError(t, err)
	assert.False(t, has)
	_, err = ix.FirstKey(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	created, err := ix.InsertIfEmpty(ctx, domain.MasterKey{Token: "boot", CreatedAt: now})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = ix.InsertIfEmpty(ctx, domain.MasterKey{Token: "second", CreatedAt: now})
	require.NoError(t, err)
	assert.False(t, created, "bootstrap must not insert when a key exists")

	visitor := domain.MasterKey{Token: "visitor", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, ix.InsertKey(ctx, visitor))

	got, err := ix.GetKey(ctx, "visitor")
	require.NoError(t, err)
	assert.Equal(t, visitor.ExpiresAt, got.ExpiresAt)
	assert.False(t, got.Bootstrap)
	assert.False(t, got.IsPermanent())

	first, err := ix.FirstKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "boot", first.Token)
	assert.True(t, first.Bootstrap)
	assert.True(t, first.IsPermanent())
	assert.Equal(t, now, first.CreatedAt)

	_, err = ix.GetKey(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	has, err = ix.HasKeys(ctx)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestIndexBootstrapConcurrent(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()
	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for n := 0; n < workers; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ok, err := ix.InsertIfEmpty(ctx, domain.MasterKey{Token: fmt.Sprintf("tok-%d", n), CreatedAt: time.Now()})
			if err != nil {
				t.Errorf("InsertIfEmpty: %v", err)
				return
			}
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(n)
	}
	wg.Wait()
	assert.Equal(t, 1, created)
	var count int
	require.NoError(t, ix.db.QueryRow(`SELECT COUNT(*) FROM master_keys`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestIndexChannelUpsertPreservesPassword(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()
	exp := time.Unix(1_700_000_600, 0).UTC()

	_, err := ix.GetChannel(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, ix.UpsertChannel(ctx, domain.Channel{Name: "c1", Content: "v1", PasswordHash: "h1", ExpireAt: exp, OwnerKey: "k1"}))
	require.NoError(t, ix.UpsertChannel(ctx, domain.Channel{Name: "c1", Content: "v2", OwnerKey: "k2"}))

	ch, err := ix.GetChannel(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "v2", ch.Content)
	assert.Equal(t, "h1", ch.PasswordHash, "omitted hash keeps the stored one")
	assert.True(t, ch.ExpireAt.IsZero(), "expiry is replaced on every save")
	assert.Equal(t, "k1", ch.OwnerKey)

	require.NoError(t, ix.UpsertChannel(ctx, domain.Channel{Name: "c1", Content: "v3", PasswordHash: "h2", ExpireAt: exp}))
	ch, err = ix.GetChannel(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "h2", ch.PasswordHash)
	assert.Equal(t, exp, ch.ExpireAt)
}

func TestIndexSetPasswordHash(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.SetPasswordHash(ctx, "fresh", "hash"))
	ch, err := ix.GetChannel(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, "hash", ch.PasswordHash)
	assert.Equal(t, "", ch.Content)

	require.NoError(t, ix.SetPasswordHash(ctx, "fresh", ""))
	ch, err = ix.GetChannel(ctx, "fresh")
	require.NoError(t, err)
	assert.False(t, ch.HasPassword())
}

func TestIndexFiles(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0).UTC()

	id1, err := ix.InsertFile(ctx, domain.FileRecord{Channel: "c", StoredID: storedID(1), OriginalName: "a.txt", Size: 3, UploadedAt: base})
	require.NoError(t, err)
	id2, err := ix.InsertFile(ctx, domain.FileRecord{Channel: "c", StoredID: storedID(2), OriginalName: "b.txt", Size: 5, UploadedAt: base.Add(time.Second), ExpireAt: base.Add(time.Minute)})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	_, err = ix.GetChannel(ctx, "c")
	require.NoError(t, err, "upload creates the channel row")

	files, err := ix.ListFiles(ctx, "c")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, id2, files[0].ID, "most recent first")
	assert.Equal(t, base.Add(time.Minute), files[0].ExpireAt)
	assert.True(t, files[1].ExpireAt.IsZero())

	empty, err := ix.ListFiles(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, empty)

	f, err := ix.GetFile(ctx, "c", id1)
	require.NoError(t, err)
	assert.Equal(t, "a.txt", f.OriginalName)
	_, err = ix.GetFile(ctx, "other", id1)
	assert.ErrorIs(t, err, domain.ErrNotFound, "file ids are scoped to their channel")

	usage, err := ix.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.ChannelUsage{{Channel: "c", Total: 8}}, usage)

	sid, err := ix.DeleteFile(ctx, "c", id1)
	require.NoError(t, err)
	assert.Equal(t, storedID(1), sid)
	_, err = ix.DeleteFile(ctx, "c", id1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ids, err := ix.ListStoredIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{storedID(2)}, ids)
}

func TestIndexDeleteChannelCascade(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()
	require.NoError(t, ix.UpsertChannel(ctx, domain.Channel{Name: "c", Content: "x"}))
	for n := 1; n <= 3; n++ {
		_, err := ix.InsertFile(ctx, domain.FileRecord{Channel: "c", StoredID: storedID(n), OriginalName: "f", Size: 1, UploadedAt: now})
		require.NoError(t, err)
	}
	_, err := ix.InsertFile(ctx, domain.FileRecord{Channel: "keep", StoredID: storedID(9), OriginalName: "f", Size: 1, UploadedAt: now})
	require.NoError(t, err)

	ids, existed, err := ix.DeleteChannel(ctx, "c")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.ElementsMatch(t, []string{storedID(1), storedID(2), storedID(3)}, ids)

	_, err = ix.GetChannel(ctx, "c")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	files, err := ix.ListFiles(ctx, "c")
	require.NoError(t, err)
	assert.Empty(t, files)

	ids, existed, err = ix.DeleteChannel(ctx, "c")
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Empty(t, ids)

	kept, err := ix.ListFiles(ctx, "keep")
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func TestIndexExpiryBoundary(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()

	_, err := ix.InsertFile(ctx, domain.FileRecord{Channel: "c", StoredID: storedID(1), OriginalName: "due", Size: 1, UploadedAt: now, ExpireAt: now})
	require.NoError(t, err)
	_, err = ix.InsertFile(ctx, domain.FileRecord{Channel: "c", StoredID: storedID(2), OriginalName: "later", Size: 1, UploadedAt: now, ExpireAt: now.Add(time.Second)})
	require.NoError(t, err)
	_, err = ix.InsertFile(ctx, domain.FileRecord{Channel: "c", StoredID: storedID(3), OriginalName: "never", Size: 1, UploadedAt: now})
	require.NoError(t, err)

	ids, err := ix.DeleteExpiredFiles(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []string{storedID(1)}, ids, "the boundary second counts as expired")
	assert.True(t, domain.Expired(now, now), "sweep and read path share the boundary")

	require.NoError(t, ix.UpsertChannel(ctx, domain.Channel{Name: "c", ExpireAt: now}))
	require.NoError(t, ix.UpsertChannel(ctx, domain.Channel{Name: "d", ExpireAt: now.Add(time.Minute)}))
	require.NoError(t, ix.UpsertChannel(ctx, domain.Channel{Name: "e"}))
	names, err := ix.ExpiredChannels(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, names)
}

func newMockIndex(t *testing.T) (*Index, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &Index{db: db}, mock
}

func TestInsertIfEmptyExecError(t *testing.T) {
	ix, mock := newMockIndex(t)
	mock.ExpectBegin()
	mock.ExpectExec(`(?s)^INSERT OR IGNORE INTO master_keys`).
		WithArgs("tok", int64(10)).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err := ix.InsertIfEmpty(context.Background(), domain.MasterKey{Token: "tok", CreatedAt: time.Unix(10, 0)})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteChannelRollsBackOnError(t *testing.T) {
	ix, mock := newMockIndex(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`^DELETE FROM files WHERE channel_name=\? RETURNING stored_id`).
		WithArgs("c").
		WillReturnRows(sqlmock.NewRows([]string{"stored_id"}).AddRow(storedID(1)))
	mock.ExpectExec(`^DELETE FROM channels WHERE name=\?`).
		WithArgs("c").
		WillReturnError(errors.New("locked"))
	mock.ExpectRollback()

	ids, existed, err := ix.DeleteChannel(context.Background(), "c")
	require.Error(t, err)
	assert.Nil(t, ids, "no stored ids are handed out for an uncommitted delete")
	assert.False(t, existed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertFileCommit(t *testing.T) {
	ix, mock := newMockIndex(t)
	mock.ExpectBegin()
	mock.ExpectExec(`^INSERT OR IGNORE INTO channels`).WithArgs("c").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`^INSERT INTO files`).
		WithArgs("c", storedID(1), "a", int64(2), int64(100), nil).
		WillReturnResult(sqlmock.NewResult(42, 1))
	mock.ExpectCommit()

	id, err := ix.InsertFile(context.Background(), domain.FileRecord{Channel: "c", StoredID: storedID(1), OriginalName: "a", Size: 2, UploadedAt: time.Unix(100, 0)})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	require.NoError(t, mock.ExpectationsWereMet())
}
