package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Watermark returns the table's last_pulled_at timestamp, or Epoch if the
// table has never been pulled.
func (s *Store) Watermark(ctx context.Context, table string) (string, error) {
	var ts sql.NullString
	err := s.conn.QueryRowContext(ctx,
		"SELECT last_pulled_at FROM sync_metadata WHERE table_name = ?", table).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return Epoch, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read watermark for %s: %w", table, err)
	}
	if !ts.Valid || ts.String == "" {
		return Epoch, nil
	}
	return ts.String, nil
}

// AdvanceWatermark moves the table's last_pulled_at forward to ts, within
// the caller's transaction so the watermark never advances past rows that
// didn't actually get persisted. The watermark never moves backwards.
func AdvanceWatermark(ctx context.Context, tx *sql.Tx, table, ts string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE sync_metadata SET last_pulled_at = ?
		WHERE table_name = ? AND (last_pulled_at IS NULL OR last_pulled_at < ?)`,
		ts, table, ts)
	if err != nil {
		return fmt.Errorf("failed to advance watermark for %s: %w", table, err)
	}
	return nil
}

// SetLastPushedAt records the time of the table's last successful push.
func (s *Store) SetLastPushedAt(ctx context.Context, table, ts string) error {
	_, err := s.conn.ExecContext(ctx,
		"UPDATE sync_metadata SET last_pushed_at = ? WHERE table_name = ?", ts, table)
	if err != nil {
		return fmt.Errorf("failed to set last_pushed_at for %s: %w", table, err)
	}
	return nil
}

// SetPendingCount records the table's current dirty-row count.
func (s *Store) SetPendingCount(ctx context.Context, table string, n int) error {
	_, err := s.conn.ExecContext(ctx,
		"UPDATE sync_metadata SET pending_count = ? WHERE table_name = ?", n, table)
	if err != nil {
		return fmt.Errorf("failed to set pending_count for %s: %w", table, err)
	}
	return nil
}
