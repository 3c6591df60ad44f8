package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// KVEntry is one row of the generic key-value table. Values are opaque
// strings with a caller-defined encoding, typically JSON.
type KVEntry struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// KVSet upserts a key.
func (s *Store) KVSet(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_store(key, value, updated_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.now().UnixMilli())
	return err
}

// KVGet fetches a key. The second return is false when the key is absent.
func (s *Store) KVGet(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// KVDelete removes a key, reporting whether it existed.
func (s *Store) KVDelete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?`, key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// KVList returns entries whose key matches the glob pattern (`*` and `?`
// wildcards). An empty pattern lists everything.
func (s *Store) KVList(ctx context.Context, pattern string) ([]KVEntry, error) {
	like := "%"
	if pattern != "" {
		like = globToLike(pattern)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, updated_at FROM kv_store WHERE key LIKE ? ESCAPE '\' ORDER BY key`,
		like)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []KVEntry
	for rows.Next() {
		var e KVEntry
		var ms int64
		if err := rows.Scan(&e.Key, &e.Value, &ms); err != nil {
			return nil, err
		}
		e.UpdatedAt = time.UnixMilli(ms)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// KVSearchValues returns entries under a key prefix whose value contains
// the query substring. Used by memory search.
func (s *Store) KVSearchValues(ctx context.Context, prefix, query string) ([]KVEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, updated_at FROM kv_store
		 WHERE key LIKE ? ESCAPE '\' AND value LIKE ? ESCAPE '\'
		 ORDER BY key`,
		escapeLike(prefix)+"%", "%"+escapeLike(query)+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []KVEntry
	for rows.Next() {
		var e KVEntry
		var ms int64
		if err := rows.Scan(&e.Key, &e.Value, &ms); err != nil {
			return nil, err
		}
		e.UpdatedAt = time.UnixMilli(ms)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// globToLike translates shell-style globs to a SQL LIKE pattern:
// `*` becomes `%`, `?` becomes `_`, literal LIKE metacharacters are
// escaped.
func globToLike(glob string) string {
	var b strings.Builder
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
