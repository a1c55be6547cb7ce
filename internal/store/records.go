package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/datrix/fieldsync/internal/idgen"
)

// Record statuses, in workflow order.
const (
	StatusNotStarted    = "not_started"
	StatusInProgress    = "in_progress"
	StatusFormFilled    = "form_filled"
	StatusHandled       = "handled"
	StatusSentToControl = "sent_to_control"
	StatusPassedQC      = "passed_quality_control"
)

// Record is one survey instance assigned to a field user.
type Record struct {
	ID              string
	ProjectID       string
	QuestionnaireID string
	AssigneeID      string
	ExternalID      string
	SerialNumber    string
	Status          string
	Area            string
	Category        string
	CreatedDate     string
	UpdatedAt       string
	Dirty           bool
	Deleted         bool
}

// Answer is one question's response within a record. Exactly one answer
// exists per (record, question, page) triple.
type Answer struct {
	ID           string
	RecordID     string
	QuestionID   string
	PageID       string
	Value        string
	DisplayValue string
	CreatedBy    string
	CreatedDate  string
	UpdatedAt    string
	Dirty        bool
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// CreateRecord creates a new survey record entirely locally, with a
// client-generated primary key and external reference, marked dirty for the
// next push. An initial status-history row is written in the same
// transaction.
func (s *Store) CreateRecord(ctx context.Context, projectID, questionnaireID, assigneeID string) (*Record, error) {
	now := nowRFC3339()
	rec := &Record{
		ID:              idgen.NewOfflineID(),
		ProjectID:       projectID,
		QuestionnaireID: questionnaireID,
		AssigneeID:      assigneeID,
		ExternalID:      idgen.NewExternalRef(time.Now()),
		Status:          StatusNotStarted,
		CreatedDate:     now,
		UpdatedAt:       now,
		Dirty:           true,
	}

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO records (id, project_id, questionnaire_id, assignee_id,
				external_id, status, created_date, updated_at, _dirty)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			rec.ID, rec.ProjectID, rec.QuestionnaireID, rec.AssigneeID,
			rec.ExternalID, rec.Status, rec.CreatedDate, rec.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert record: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO record_status_history (id, record_id, status, created_by_id,
				event_time, created_date, updated_at, _dirty)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
			idgen.NewOfflineID(), rec.ID, rec.Status, assigneeID, now, now, now)
		if err != nil {
			return fmt.Errorf("failed to insert status history: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// GetRecord returns a record by id. Rows soft-deleted locally are treated
// as absent.
func (s *Store) GetRecord(ctx context.Context, id string) (*Record, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, project_id, questionnaire_id, assignee_id,
		       COALESCE(external_id, ''), COALESCE(serial_number, ''),
		       COALESCE(status, ''), COALESCE(area, ''), COALESCE(category, ''),
		       COALESCE(created_date, ''), COALESCE(updated_at, ''),
		       _dirty, _deleted
		FROM records WHERE id = ? AND _deleted = 0`, id)

	var rec Record
	var dirty, deleted int
	err := row.Scan(&rec.ID, &rec.ProjectID, &rec.QuestionnaireID, &rec.AssigneeID,
		&rec.ExternalID, &rec.SerialNumber, &rec.Status, &rec.Area, &rec.Category,
		&rec.CreatedDate, &rec.UpdatedAt, &dirty, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", id, err)
	}
	rec.Dirty = dirty == 1
	rec.Deleted = deleted == 1
	return &rec, nil
}

// ListRecords returns the assignee's records, newest first, excluding rows
// soft-deleted locally.
func (s *Store) ListRecords(ctx context.Context, assigneeID string) ([]*Record, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, project_id, questionnaire_id, assignee_id,
		       COALESCE(external_id, ''), COALESCE(serial_number, ''),
		       COALESCE(status, ''), COALESCE(area, ''), COALESCE(category, ''),
		       COALESCE(created_date, ''), COALESCE(updated_at, ''),
		       _dirty, _deleted
		FROM records
		WHERE assignee_id = ? AND _deleted = 0
		ORDER BY created_date DESC`, assigneeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var rec Record
		var dirty, deleted int
		if err := rows.Scan(&rec.ID, &rec.ProjectID, &rec.QuestionnaireID, &rec.AssigneeID,
			&rec.ExternalID, &rec.SerialNumber, &rec.Status, &rec.Area, &rec.Category,
			&rec.CreatedDate, &rec.UpdatedAt, &dirty, &deleted); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec.Dirty = dirty == 1
		rec.Deleted = deleted == 1
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return out, nil
}

// LocalRecordIDs returns the ids of the assignee's records, including
// soft-deleted ones (child rows of a pending deletion still need pulling
// blocked and pushing handled consistently).
func (s *Store) LocalRecordIDs(ctx context.Context, assigneeID string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT id FROM records WHERE assignee_id = ?", assigneeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query record ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan record id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpsertAnswer writes a question response, keyed by its natural key
// (record, question, page).
//
// Answering the same question twice while offline must not create a second
// row: the existing row is looked up by the triple inside the same
// transaction as the write, and updated in place.
func (s *Store) UpsertAnswer(ctx context.Context, recordID, questionID, pageID, value, displayValue, createdBy string) (*Answer, error) {
	now := nowRFC3339()
	ans := &Answer{
		RecordID:     recordID,
		QuestionID:   questionID,
		PageID:       pageID,
		Value:        value,
		DisplayValue: displayValue,
		CreatedBy:    createdBy,
		UpdatedAt:    now,
		Dirty:        true,
	}

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		var existingID string
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM record_answers
			WHERE record_id = ? AND question_id = ? AND COALESCE(page_id, '') = ?`,
			recordID, questionID, pageID).Scan(&existingID)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			ans.ID = idgen.NewOfflineID()
			ans.CreatedDate = now
			_, err = tx.ExecContext(ctx, `
				INSERT INTO record_answers (id, record_id, question_id, page_id,
					value, display_value, created_by, created_date, updated_at, _dirty)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
				ans.ID, recordID, questionID, pageID, value, displayValue,
				createdBy, now, now)
			if err != nil {
				return fmt.Errorf("failed to insert answer: %w", err)
			}

		case err != nil:
			return fmt.Errorf("failed to look up answer: %w", err)

		default:
			ans.ID = existingID
			_, err = tx.ExecContext(ctx, `
				UPDATE record_answers
				SET value = ?, display_value = ?, updated_at = ?, _dirty = 1
				WHERE id = ?`,
				value, displayValue, now, existingID)
			if err != nil {
				return fmt.Errorf("failed to update answer: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return ans, nil
}

// SetRecordStatus transitions a record's status and appends a history row.
//
// Retried submissions must not duplicate history: when the record's most
// recent history entry already holds the target status, no new entry is
// written.
func (s *Store) SetRecordStatus(ctx context.Context, recordID, status, comment, byID string) error {
	now := nowRFC3339()

	return s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE records SET status = ?, updated_at = ?, _dirty = 1
			WHERE id = ? AND _deleted = 0`,
			status, now, recordID)
		if err != nil {
			return fmt.Errorf("failed to update record status: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}

		var lastStatus string
		err = tx.QueryRowContext(ctx, `
			SELECT status FROM record_status_history
			WHERE record_id = ?
			ORDER BY event_time DESC, rowid DESC
			LIMIT 1`, recordID).Scan(&lastStatus)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read status history: %w", err)
		}
		if lastStatus == status {
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO record_status_history (id, record_id, status, comment,
				created_by_id, event_time, created_date, updated_at, _dirty)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			idgen.NewOfflineID(), recordID, status, comment, byID, now, now, now)
		if err != nil {
			return fmt.Errorf("failed to insert status history: %w", err)
		}
		return nil
	})
}

// MarkRecordDeleted soft-deletes a record. The row disappears from
// user-facing queries immediately but stays on disk until the push
// protocol confirms the server-side delete.
func (s *Store) MarkRecordDeleted(ctx context.Context, id string) error {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE records SET _deleted = 1, _dirty = 1, updated_at = ?
		WHERE id = ?`, nowRFC3339(), id)
	if err != nil {
		return fmt.Errorf("failed to mark record deleted: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddNote appends a free-text note to a record.
func (s *Store) AddNote(ctx context.Context, recordID, authorID, text string) (string, error) {
	now := nowRFC3339()
	id := idgen.NewOfflineID()
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO record_notes (id, record_id, author_id, text,
			created_date, updated_at, _dirty)
		VALUES (?, ?, ?, ?, ?, ?, 1)`,
		id, recordID, authorID, text, now, now)
	if err != nil {
		return "", fmt.Errorf("failed to add note: %w", err)
	}
	return id, nil
}

// AddLocation records a GPS fix for a record.
func (s *Store) AddLocation(ctx context.Context, recordID string, lat, lon, accuracy float64) (string, error) {
	now := nowRFC3339()
	id := idgen.NewOfflineID()
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO record_locations (id, record_id, latitude, longitude, accuracy,
			created_date, updated_at, _dirty)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
		id, recordID, lat, lon, accuracy, now, now)
	if err != nil {
		return "", fmt.Errorf("failed to add location: %w", err)
	}
	return id, nil
}

// AssignedQuestionnaireIDs returns the questionnaires locally recorded as
// assigned to the user.
func (s *Store) AssignedQuestionnaireIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT questionnaire_id FROM questionnaire_assignments WHERE user_id = ?", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
