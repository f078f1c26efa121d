package store_test

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/ferry/internal/app"
	"github.com/haukened/ferry/internal/domain"
	"github.com/haukened/ferry/internal/store"
	"github.com/haukened/ferry/internal/store/filesystem"
	"github.com/haukened/ferry/internal/store/sqlite"
)

// openTestDB mirrors the sqlite test helper.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "store.db") + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type fixture struct {
	st      *store.Store
	ix      *sqlite.Index
	blobs   *filesystem.BlobStore
	blobDir string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ix, err := sqlite.New(context.Background(), openTestDB(t))
	require.NoError(t, err)
	dir := t.TempDir()
	bs, err := filesystem.New(dir)
	require.NoError(t, err)
	return fixture{st: store.New(ix, bs, nil), ix: ix, blobs: bs, blobDir: dir}
}

func (f fixture) blobExists(id string) bool {
	_, err := os.Stat(filepath.Join(f.blobDir, id+".blob"))
	return err == nil
}

func sid(n int) string { return fmt.Sprintf("%032x", n) }

func putFile(t *testing.T, st *store.Store, channel string, n int, data string, uploaded, expire time.Time) domain.FileRecord {
	t.Helper()
	rec, err := st.PutFile(context.Background(), domain.FileRecord{
		Channel:      channel,
		StoredID:     sid(n),
		OriginalName: fmt.Sprintf("f%d.txt", n),
		Size:         int64(len(data)),
		UploadedAt:   uploaded,
		ExpireAt:     expire,
	}, bytes.NewReader([]byte(data)))
	require.NoError(t, err)
	return rec
}

func TestStorePutOpenDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()

	rec := putFile(t, f.st, "c", 1, "payload", now, time.Time{})
	assert.NotZero(t, rec.ID)

	got, err := f.st.GetFile(ctx, "c", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, sid(1), got.StoredID)

	rc, err := f.st.OpenBlob(ctx, got.StoredID)
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	_ = rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "payload", string(b))

	deleted, err := f.st.DeleteFile(ctx, "c", rec.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, f.blobExists(sid(1)))

	deleted, err = f.st.DeleteFile(ctx, "c", rec.ID)
	require.NoError(t, err)
	assert.False(t, deleted, "second delete reports nothing removed")
}

// failingInsertIndex rejects every file insert.
type failingInsertIndex struct{ store.Index }

func (failingInsertIndex) InsertFile(context.Context, domain.FileRecord) (int64, error) {
	return 0, errors.New("constraint failed")
}

func TestStorePutFileRollsBackBlob(t *testing.T) {
	f := newFixture(t)
	st := store.New(failingInsertIndex{f.ix}, f.blobs, nil)
	_, err := st.PutFile(context.Background(), domain.FileRecord{Channel: "c", StoredID: sid(7), OriginalName: "x", Size: 1}, bytes.NewReader([]byte("x")))
	require.Error(t, err)
	assert.False(t, f.blobExists(sid(7)), "blob is removed when the metadata insert fails")
}

func TestStorePutFileShortBody(t *testing.T) {
	f := newFixture(t)
	_, err := f.st.PutFile(context.Background(), domain.FileRecord{Channel: "c", StoredID: sid(8), OriginalName: "x", Size: 10}, bytes.NewReader([]byte("x")))
	require.Error(t, err)
	files, err := f.st.ListFiles(context.Background(), "c")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestStoreDeleteChannelCascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()
	require.NoError(t, f.st.SaveChannel(ctx, domain.Channel{Name: "c", Content: "hello"}))
	putFile(t, f.st, "c", 1, "a", now, time.Time{})
	putFile(t, f.st, "c", 2, "bb", now, time.Time{})

	n, existed, err := f.st.DeleteChannel(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, existed)
	assert.False(t, f.blobExists(sid(1)))
	assert.False(t, f.blobExists(sid(2)))
	_, err = f.st.GetChannel(ctx, "c")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	n, existed, err = f.st.DeleteChannel(ctx, "c")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, existed)
}

func TestStoreDeleteExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()

	// An expired file in a live channel.
	putFile(t, f.st, "live", 1, "a", now.Add(-time.Hour), now.Add(-time.Minute))
	putFile(t, f.st, "live", 2, "b", now.Add(-time.Hour), time.Time{})
	// An expired channel whose files have no expiry of their own.
	require.NoError(t, f.st.SaveChannel(ctx, domain.Channel{Name: "old", ExpireAt: now}))
	putFile(t, f.st, "old", 3, "c", now.Add(-time.Hour), time.Time{})

	res, err := f.st.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Files)
	assert.Equal(t, 1, res.Channels)
	assert.Zero(t, res.BlobErrors)
	assert.False(t, f.blobExists(sid(1)))
	assert.True(t, f.blobExists(sid(2)))
	assert.False(t, f.blobExists(sid(3)))

	res, err = f.st.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, res.Files+res.Channels, "a second sweep finds nothing")
}

// flakyBlobs fails every delete.
type flakyBlobs struct{ store.BlobStorage }

func (flakyBlobs) Delete(context.Context, string) error { return errors.New("permission denied") }

func TestStoreBlobDeleteFailureIsCounted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()
	st := store.New(f.ix, flakyBlobs{f.blobs}, nil)
	putFile(t, st, "c", 1, "a", now.Add(-time.Hour), now.Add(-time.Second))

	res, err := st.DeleteExpired(ctx, now)
	require.NoError(t, err, "metadata deletion stands when blobs cannot be removed")
	assert.Equal(t, 1, res.Files)
	assert.Equal(t, 1, res.BlobErrors)
	assert.True(t, f.blobExists(sid(1)))

	files, err := st.ListFiles(ctx, "c")
	require.NoError(t, err)
	assert.Empty(t, files)

	// The orphan is collected once it is older than the grace.
	past := time.Now().Add(-store.DefaultOrphanGrace - time.Minute)
	require.NoError(t, os.Chtimes(filepath.Join(f.blobDir, sid(1)+".blob"), past, past))
	n, err := f.st.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, f.blobExists(sid(1)))
}

func TestStoreReconcileKeepsReferencedAndFresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()
	putFile(t, f.st, "c", 1, "kept", now, time.Time{})
	past := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(filepath.Join(f.blobDir, sid(1)+".blob"), past, past))

	// A fresh unreferenced blob mimics an upload whose row is not written yet.
	require.NoError(t, os.WriteFile(filepath.Join(f.blobDir, sid(2)+".blob"), []byte("x"), 0o600))

	n, err := f.st.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, f.blobExists(sid(1)))
	assert.True(t, f.blobExists(sid(2)))
}

// reconcilingIndex runs hook between the blob write and the metadata insert,
// standing in for an insert that waits on the SQLite write lock.
type reconcilingIndex struct {
	store.Index
	hook func()
}

func (r *reconcilingIndex) InsertFile(ctx context.Context, rec domain.FileRecord) (int64, error) {
	r.hook()
	return r.Index.InsertFile(ctx, rec)
}

func TestStoreReconcileSparesUploadAwaitingCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ix := &reconcilingIndex{Index: f.ix}
	st := store.New(ix, f.blobs, nil)

	var removed int
	ix.hook = func() {
		// The blob has been on disk for a while; the row is still pending.
		past := time.Now().Add(-2 * time.Second)
		require.NoError(t, os.Chtimes(filepath.Join(f.blobDir, sid(1)+".blob"), past, past))
		n, err := st.Reconcile(ctx)
		require.NoError(t, err)
		removed = n
	}
	rec := putFile(t, st, "c", 1, "payload", time.Now().UTC(), time.Time{})
	assert.Zero(t, removed)

	rc, err := st.OpenBlob(ctx, rec.StoredID)
	require.NoError(t, err, "a committed record keeps its blob")
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "payload", string(data))
}

func TestStoreReconcileOrphanGrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()
	st := store.New(f.ix, f.blobs, nil, store.WithOrphanGrace(time.Hour), store.WithClock(func() time.Time { return now }))

	for n, age := range map[int]time.Duration{1: 30 * time.Minute, 2: 2 * time.Hour} {
		require.NoError(t, os.WriteFile(filepath.Join(f.blobDir, sid(n)+".blob"), []byte("x"), 0o600))
		past := now.Add(-age)
		require.NoError(t, os.Chtimes(filepath.Join(f.blobDir, sid(n)+".blob"), past, past))
	}

	removed, err := st.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.True(t, f.blobExists(sid(1)), "inside the grace")
	assert.False(t, f.blobExists(sid(2)), "past the grace")
}

func TestStoreConcurrentChannelDeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()
	require.NoError(t, f.st.SaveChannel(ctx, domain.Channel{Name: "c", Content: "hello"}))
	putFile(t, f.st, "c", 1, "a", now, time.Time{})
	putFile(t, f.st, "c", 2, "bb", now, time.Time{})

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		files   int
		existed int
		errs    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, ok, err := f.st.DeleteChannel(ctx, "c")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
			files += n
			if ok {
				existed++
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, errs)
	assert.Equal(t, 2, files, "each file is reported by exactly one delete")
	assert.Equal(t, 1, existed, "exactly one delete removes the channel row")
	assert.False(t, f.blobExists(sid(1)))
	assert.False(t, f.blobExists(sid(2)))
}

func TestStoreSweepRacesExplicitDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()

	for round := 1; round <= 5; round++ {
		rec := putFile(t, f.st, "c", round, "x", now.Add(-time.Hour), now.Add(-time.Minute))

		var (
			wg                  sync.WaitGroup
			res                 app.SweepResult
			deleted             bool
			sweepErr, deleteErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			res, sweepErr = f.st.DeleteExpired(ctx, now)
		}()
		go func() {
			defer wg.Done()
			deleted, deleteErr = f.st.DeleteFile(ctx, "c", rec.ID)
		}()
		wg.Wait()

		require.NoError(t, sweepErr, "round %d", round)
		require.NoError(t, deleteErr, "round %d", round)
		reported := res.Files
		if deleted {
			reported++
		}
		assert.Equal(t, 1, reported, "round %d: exactly one side reports the deletion", round)
		assert.False(t, f.blobExists(rec.StoredID), "round %d", round)
	}
}

func TestStoreUsage(t *testing.T) {
	f := newFixture(t)
	now := time.Unix(1_700_000_000, 0).UTC()
	putFile(t, f.st, "a", 1, "123", now, time.Time{})
	putFile(t, f.st, "a", 2, "45", now, time.Time{})
	putFile(t, f.st, "b", 3, "6", now, time.Time{})
	usage, err := f.st.Usage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.ChannelUsage{{Channel: "a", Total: 5}, {Channel: "b", Total: 1}}, usage)
}

func TestStoreNotInitialized(t *testing.T) {
	var s *store.Store
	_, err := s.GetChannel(context.Background(), "c")
	assert.Error(t, err)
	s = store.New(nil, nil, nil)
	_, err = s.DeleteExpired(context.Background(), time.Now())
	assert.Error(t, err)
}
