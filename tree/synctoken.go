package tree

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// BumpSyncToken advances the named collection's sync token. The increment is
// a single atomic UPSERT so concurrent writers cannot lose an update, and
// the counter never decreases.
func (s *Store) BumpSyncToken(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_tokens (name, counter, last_modified) VALUES (?, 1, ?)
		ON CONFLICT(name) DO UPDATE SET counter = counter + 1, last_modified = excluded.last_modified`,
		name, nowString())
	if err != nil {
		return fmt.Errorf("bumping sync token %q: %w", name, err)
	}
	return nil
}

// SyncToken returns the named collection's current token and its last
// modification time. A collection that has never been mutated reports the
// zero token.
func (s *Store) SyncToken(ctx context.Context, name string) (string, time.Time, error) {
	var (
		counter      int64
		lastModified string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT counter, last_modified FROM sync_tokens WHERE name = ?`, name).
		Scan(&counter, &lastModified)
	if err == sql.ErrNoRows {
		return "sync-0", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("querying sync token %q: %w", name, err)
	}
	return fmt.Sprintf("sync-%d", counter), parseTime(lastModified), nil
}
