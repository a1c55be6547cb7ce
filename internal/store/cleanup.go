package store

import (
	"context"
	"database/sql"
	"fmt"
)

// recordChildTables are the tables keyed by record_id, in deletion order.
var recordChildTables = []string{
	"record_answers",
	"record_pages",
	"record_locations",
	"record_files",
	"record_notes",
	"record_status_history",
}

// QuestionnaireDirtyCount counts unsynced rows under a questionnaire for
// one assignee: dirty records plus dirty rows in any record child table.
// Cleanup must not touch a questionnaire while this is nonzero.
func (s *Store) QuestionnaireDirtyCount(ctx context.Context, questionnaireID, assigneeID string) (int, error) {
	total := 0
	var n int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE questionnaire_id = ? AND assignee_id = ? AND _dirty = 1`,
		questionnaireID, assigneeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count dirty records: %w", err)
	}
	total += n

	for _, child := range recordChildTables {
		q := fmt.Sprintf(
			`SELECT COUNT(*) FROM %s WHERE _dirty = 1 AND record_id IN
			   (SELECT id FROM records WHERE questionnaire_id = ? AND assignee_id = ?)`, child)
		if err := s.conn.QueryRowContext(ctx, q, questionnaireID, assigneeID).Scan(&n); err != nil {
			return 0, fmt.Errorf("count dirty %s: %w", child, err)
		}
		total += n
	}
	return total, nil
}

// PurgeQuestionnaire removes a questionnaire's local data for one
// assignee in a single transaction: record children first, then records,
// then the questionnaire's questions, assignment rows, and the
// questionnaire itself. Callers must check QuestionnaireDirtyCount
// first.
func (s *Store) PurgeQuestionnaire(ctx context.Context, questionnaireID, assigneeID string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, child := range recordChildTables {
			q := fmt.Sprintf(
				`DELETE FROM %s WHERE record_id IN
				   (SELECT id FROM records WHERE questionnaire_id = ? AND assignee_id = ?)`, child)
			if _, err := tx.ExecContext(ctx, q, questionnaireID, assigneeID); err != nil {
				return fmt.Errorf("purge %s: %w", child, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM records WHERE questionnaire_id = ? AND assignee_id = ?`,
			questionnaireID, assigneeID); err != nil {
			return fmt.Errorf("purge records: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM questions WHERE questionnaire_id = ?`, questionnaireID); err != nil {
			return fmt.Errorf("purge questions: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM questionnaire_assignments WHERE questionnaire_id = ? AND user_id = ?`,
			questionnaireID, assigneeID); err != nil {
			return fmt.Errorf("purge assignments: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM questionnaires WHERE id = ?`, questionnaireID); err != nil {
			return fmt.Errorf("purge questionnaire: %w", err)
		}
		return nil
	})
}
