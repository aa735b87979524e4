package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/webmvc/internal/domain/mvc"
	"github.com/Strob0t/webmvc/internal/port/flashstore"
)

// FlashStore implements flashstore.Store using PostgreSQL. The session row
// is locked for the duration of an update.
type FlashStore struct {
	pool *pgxpool.Pool
}

var _ flashstore.Store = (*FlashStore)(nil)

// NewFlashStore creates a FlashStore backed by the given connection pool.
func NewFlashStore(pool *pgxpool.Pool) *FlashStore {
	return &FlashStore{pool: pool}
}

// Update locks the session row, applies fn and writes the result back.
// An empty result deletes the row.
func (s *FlashStore) Update(ctx context.Context, sessionID string, fn flashstore.UpdateFunc) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx,
		`INSERT INTO flash_sessions (session_id) VALUES ($1) ON CONFLICT (session_id) DO NOTHING`,
		sessionID); err != nil {
		return fmt.Errorf("ensure flash session: %w", err)
	}

	var raw []byte
	if err := tx.QueryRow(ctx,
		`SELECT maps FROM flash_sessions WHERE session_id = $1 FOR UPDATE`,
		sessionID).Scan(&raw); err != nil {
		return fmt.Errorf("lock flash session: %w", err)
	}

	var maps []mvc.FlashMap
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &maps); err != nil {
			return fmt.Errorf("decode flash maps: %w", err)
		}
	}

	next, err := fn(maps)
	if err != nil {
		return err
	}

	if len(next) == 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM flash_sessions WHERE session_id = $1`, sessionID); err != nil {
			return fmt.Errorf("delete flash session: %w", err)
		}
	} else {
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode flash maps: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE flash_sessions SET maps = $2, updated_at = now() WHERE session_id = $1`,
			sessionID, data); err != nil {
			return fmt.Errorf("update flash session: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit flash session: %w", err)
	}
	return nil
}

// PurgeStale deletes sessions not written for longer than olderThan and
// returns the number of removed rows.
func (s *FlashStore) PurgeStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM flash_sessions WHERE updated_at < $1`, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("purge flash sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
