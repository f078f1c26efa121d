package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/haukened/ferry/internal/domain"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// GetChannel returns the channel row or domain.ErrNotFound.
func (i *Index) GetChannel(ctx context.Context, name string) (domain.Channel, error) {
	const q = `SELECT name, content, password_hash, expire_at, owner_key FROM channels WHERE name=?`
	var (
		ch     domain.Channel
		hash   sql.NullString
		expire sql.NullInt64
		owner  sql.NullString
	)
	err := i.db.QueryRowContext(ctx, q, name).Scan(&ch.Name, &ch.Content, &hash, &expire, &owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Channel{}, domain.ErrNotFound
		}
		return domain.Channel{}, err
	}
	ch.PasswordHash = hash.String
	ch.ExpireAt = fromNullUnix(expire)
	ch.OwnerKey = owner.String
	return ch, nil
}

// UpsertChannel writes the channel. Content and expiry are replaced; the
// password hash is replaced only when a new one is given; the first owner
// sticks.
func (i *Index) UpsertChannel(ctx context.Context, ch domain.Channel) error {
	const q = `INSERT INTO channels (name, content, password_hash, expire_at, owner_key) VALUES (?,?,?,?,?)
ON CONFLICT(name) DO UPDATE SET
    content = excluded.content,
    expire_at = excluded.expire_at,
    password_hash = COALESCE(excluded.password_hash, channels.password_hash),
    owner_key = COALESCE(channels.owner_key, excluded.owner_key)`
	_, err := i.db.ExecContext(ctx, q, ch.Name, ch.Content, nullString(ch.PasswordHash), nullUnix(ch.ExpireAt), nullString(ch.OwnerKey))
	return err
}

// SetPasswordHash replaces the password hash; an empty hash clears it.
func (i *Index) SetPasswordHash(ctx context.Context, name, hash string) error {
	const q = `INSERT INTO channels (name, password_hash) VALUES (?,?)
ON CONFLICT(name) DO UPDATE SET password_hash = excluded.password_hash`
	_, err := i.db.ExecContext(ctx, q, name, nullString(hash))
	return err
}

// DeleteChannel removes the channel's files and then the channel itself in
// one transaction.
func (i *Index) DeleteChannel(ctx context.Context, name string) ([]string, bool, error) {
	var (
		ids     []string
		existed bool
	)
	err := i.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		ids, err = collectIDs(ctx, tx, `DELETE FROM files WHERE channel_name=? RETURNING stored_id`, name)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM channels WHERE name=?`, name)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		existed = n > 0
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return ids, existed, nil
}

// ExpiredChannels lists channels whose expiry is at or before now. A row
// expiring exactly at now is included rather than waiting for the next
// second, so the sweep agrees with domain.Expired on the read path.
func (i *Index) ExpiredChannels(ctx context.Context, now time.Time) ([]string, error) {
	return collectIDs(ctx, i.db, `SELECT name FROM channels WHERE expire_at IS NOT NULL AND expire_at <= ? ORDER BY name`, now.Unix())
}

// InsertFile records a file, creating its channel row when the channel has
// never been saved.
func (i *Index) InsertFile(ctx context.Context, rec domain.FileRecord) (int64, error) {
	var id int64
	err := i.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO channels (name) VALUES (?)`, rec.Channel); err != nil {
			return err
		}
		const q = `INSERT INTO files (channel_name, stored_id, original_name, size, uploaded_at, expire_at) VALUES (?,?,?,?,?,?)`
		res, err := tx.ExecContext(ctx, q, rec.Channel, rec.StoredID, rec.OriginalName, rec.Size, rec.UploadedAt.Unix(), nullUnix(rec.ExpireAt))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

const fileColumns = `id, channel_name, stored_id, original_name, size, uploaded_at, expire_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(r rowScanner) (domain.FileRecord, error) {
	var (
		f        domain.FileRecord
		uploaded int64
		expire   sql.NullInt64
	)
	if err := r.Scan(&f.ID, &f.Channel, &f.StoredID, &f.OriginalName, &f.Size, &uploaded, &expire); err != nil {
		return domain.FileRecord{}, err
	}
	f.UploadedAt = time.Unix(uploaded, 0).UTC()
	f.ExpireAt = fromNullUnix(expire)
	return f, nil
}

// ListFiles returns the channel's files, most recently uploaded first.
func (i *Index) ListFiles(ctx context.Context, channel string) ([]domain.FileRecord, error) {
	rows, err := i.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM files WHERE channel_name=? ORDER BY uploaded_at DESC, id DESC`, channel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	files := []domain.FileRecord{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return files, nil
}

// GetFile returns one file of a channel or domain.ErrNotFound.
func (i *Index) GetFile(ctx context.Context, channel string, id int64) (domain.FileRecord, error) {
	row := i.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE channel_name=? AND id=?`, channel, id)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FileRecord{}, domain.ErrNotFound
	}
	return f, err
}

// DeleteFile removes one file row and returns its stored id.
func (i *Index) DeleteFile(ctx context.Context, channel string, id int64) (string, error) {
	var storedID string
	err := i.db.QueryRowContext(ctx, `DELETE FROM files WHERE channel_name=? AND id=? RETURNING stored_id`, channel, id).Scan(&storedID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return storedID, nil
}

// DeleteExpiredFiles removes every file whose expiry is at or before now.
// The inclusive bound matches domain.Expired: a file a download already
// rejects as expired is also swept.
func (i *Index) DeleteExpiredFiles(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := i.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		ids, err = collectIDs(ctx, tx, `DELETE FROM files WHERE expire_at IS NOT NULL AND expire_at <= ? RETURNING stored_id`, now.Unix())
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Usage returns the byte total of every channel holding files.
func (i *Index) Usage(ctx context.Context) ([]domain.ChannelUsage, error) {
	rows, err := i.db.QueryContext(ctx, `SELECT channel_name, SUM(size) FROM files GROUP BY channel_name ORDER BY channel_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	usage := []domain.ChannelUsage{}
	for rows.Next() {
		var u domain.ChannelUsage
		if err := rows.Scan(&u.Channel, &u.Total); err != nil {
			return nil, err
		}
		usage = append(usage, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return usage, nil
}

// ListStoredIDs returns every stored id referenced by a file row.
func (i *Index) ListStoredIDs(ctx context.Context) ([]string, error) {
	return collectIDs(ctx, i.db, `SELECT stored_id FROM files`)
}

// collectIDs runs a query returning one string column and collects it.
func collectIDs(ctx context.Context, q queryer, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
