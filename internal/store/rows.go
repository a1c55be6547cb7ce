package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// execer is satisfied by both *sql.DB and *sql.Tx, letting row helpers run
// standalone or inside a pull/cleanup transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// UpsertRow inserts or replaces a row built from a snake_case column map.
//
// Keys absent from cols (the local column set) are skipped, so the server
// can add columns without breaking the client. Columns are emitted in
// sorted order to keep statements deterministic.
func UpsertRow(ctx context.Context, q execer, table string, cols map[string]bool, row Row) error {
	if !identPattern.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}

	keys := make([]string, 0, len(row))
	for k := range row {
		if cols[k] {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)

	args := make([]any, 0, len(keys))
	placeholders := make([]string, 0, len(keys))
	for _, k := range keys {
		args = append(args, row[k])
		placeholders = append(placeholders, "?")
	}

	query := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		table, strings.Join(keys, ", "), strings.Join(placeholders, ", "))

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert into %s: %w", table, err)
	}
	return nil
}

// DirtyRows returns all rows in table with _dirty=1, in natural scan order.
func (s *Store) DirtyRows(ctx context.Context, table string) ([]Row, error) {
	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	rows, err := s.conn.QueryContext(ctx,
		fmt.Sprintf("SELECT * FROM %s WHERE _dirty = 1", table))
	if err != nil {
		return nil, fmt.Errorf("failed to query dirty rows in %s: %w", table, err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// RowByID returns a single row by primary key, or ErrNotFound.
func (s *Store) RowByID(ctx context.Context, table, id string) (Row, error) {
	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	rows, err := s.conn.QueryContext(ctx,
		fmt.Sprintf("SELECT * FROM %s WHERE id = ?", table), id)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result[0], nil
}

// ClearDirty marks a row as clean after a confirmed server write, and
// resets its retry counter.
func (s *Store) ClearDirty(ctx context.Context, table, id string) error {
	if !identPattern.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	_, err := s.conn.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET _dirty = 0, _retry_count = 0 WHERE id = ?", table), id)
	if err != nil {
		return fmt.Errorf("failed to clear dirty flag on %s/%s: %w", table, id, err)
	}
	return nil
}

// DeleteRowLocal physically removes a row, after the server confirmed its
// deletion.
func (s *Store) DeleteRowLocal(ctx context.Context, table, id string) error {
	if !identPattern.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	_, err := s.conn.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id)
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", table, id, err)
	}
	return nil
}

// BumpRetry increments a row's push retry counter.
func (s *Store) BumpRetry(ctx context.Context, table, id string) error {
	if !identPattern.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	_, err := s.conn.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET _retry_count = _retry_count + 1 WHERE id = ?", table), id)
	if err != nil {
		return fmt.Errorf("failed to bump retry count on %s/%s: %w", table, id, err)
	}
	return nil
}

// ResetRetryCounts zeroes retry counters on the given tables, un-quarantining
// rows so the next push attempts them again.
func (s *Store) ResetRetryCounts(ctx context.Context, tables []string) error {
	for _, table := range tables {
		if !identPattern.MatchString(table) {
			return fmt.Errorf("invalid table name %q", table)
		}
		if _, err := s.conn.ExecContext(ctx,
			fmt.Sprintf("UPDATE %s SET _retry_count = 0 WHERE _dirty = 1", table)); err != nil {
			return fmt.Errorf("failed to reset retry counts on %s: %w", table, err)
		}
	}
	return nil
}

// DirtyCount returns the number of dirty rows in table.
func (s *Store) DirtyCount(ctx context.Context, table string) (int, error) {
	if !identPattern.MatchString(table) {
		return 0, fmt.Errorf("invalid table name %q", table)
	}
	var n int
	err := s.conn.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE _dirty = 1", table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count dirty rows in %s: %w", table, err)
	}
	return n, nil
}

// QuarantinedCount returns the number of dirty rows in table that reached
// the retry ceiling and are excluded from push until manually reset.
func (s *Store) QuarantinedCount(ctx context.Context, table string, ceiling int) (int, error) {
	if !identPattern.MatchString(table) {
		return 0, fmt.Errorf("invalid table name %q", table)
	}
	var n int
	err := s.conn.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE _dirty = 1 AND _retry_count >= ?", table),
		ceiling).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count quarantined rows in %s: %w", table, err)
	}
	return n, nil
}

// scanRows converts generic query results into Row maps.
// BLOB values are normalized to strings.
func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return out, nil
}
