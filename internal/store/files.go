package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/datrix/fieldsync/internal/idgen"
)

// UploadStatus is the state of a queued file attachment.
type UploadStatus string

const (
	// UploadPending means the file is queued and has not been attempted.
	UploadPending UploadStatus = "pending"
	// UploadInProgress means an upload attempt is currently running.
	UploadInProgress UploadStatus = "uploading"
	// UploadDone means the file reached object storage and the row carries
	// its public URL.
	UploadDone UploadStatus = "uploaded"
	// UploadFailed means the file exhausted its retry budget.
	UploadFailed UploadStatus = "failed"
)

// uploadTransitions defines the legal state machine edges.
var uploadTransitions = map[UploadStatus][]UploadStatus{
	UploadPending:    {UploadInProgress},
	UploadInProgress: {UploadDone, UploadFailed, UploadPending},
	UploadFailed:     {UploadPending},
}

// CanTransition reports whether moving from one upload status to another is
// a legal edge of the state machine.
func CanTransition(from, to UploadStatus) bool {
	for _, next := range uploadTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// QueuedFile is a file attachment waiting in the upload queue.
type QueuedFile struct {
	ID           string
	RecordID     string
	ProjectID    string
	FileName     string
	FileType     string
	FileURL      string
	LocalPath    string
	UploadStatus UploadStatus
	RetryCount   int
}

// QueueFile registers a local file for upload and eventual push. The row is
// created pending and NOT dirty: it only becomes push-eligible once the
// binary has reached object storage and the row carries a server URL.
func (s *Store) QueueFile(ctx context.Context, recordID, projectID, fileName, fileType, localPath string) (*QueuedFile, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	f := &QueuedFile{
		ID:           idgen.NewOfflineID(),
		RecordID:     recordID,
		ProjectID:    projectID,
		FileName:     fileName,
		FileType:     fileType,
		LocalPath:    localPath,
		UploadStatus: UploadPending,
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO record_files (id, record_id, project_id, file_name, file_type,
			local_path, upload_status, created_date, updated_at, _dirty)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		f.ID, recordID, projectID, fileName, fileType, localPath,
		string(UploadPending), now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to queue file: %w", err)
	}
	return f, nil
}

// FileQueuedForPath reports whether a queue row already exists for the
// given local path. Used to make spool intake idempotent across
// restarts.
func (s *Store) FileQueuedForPath(ctx context.Context, localPath string) (bool, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM record_files WHERE local_path = ?", localPath).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check queued path: %w", err)
	}
	return n > 0, nil
}

// PendingFiles returns queued files eligible for an upload attempt, oldest
// first. Rows at or past the retry ceiling are excluded.
func (s *Store) PendingFiles(ctx context.Context, maxRetries int) ([]*QueuedFile, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, record_id, COALESCE(project_id, ''), COALESCE(file_name, ''),
		       COALESCE(file_type, ''), COALESCE(file_url, ''),
		       COALESCE(local_path, ''), upload_status, _retry_count
		FROM record_files
		WHERE upload_status = ? AND _retry_count < ?
		ORDER BY created_date ASC`,
		string(UploadPending), maxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending files: %w", err)
	}
	defer rows.Close()

	var out []*QueuedFile
	for rows.Next() {
		var f QueuedFile
		var status string
		if err := rows.Scan(&f.ID, &f.RecordID, &f.ProjectID, &f.FileName,
			&f.FileType, &f.FileURL, &f.LocalPath, &status, &f.RetryCount); err != nil {
			return nil, fmt.Errorf("failed to scan queued file: %w", err)
		}
		f.UploadStatus = UploadStatus(status)
		out = append(out, &f)
	}
	return out, rows.Err()
}

// SetUploadStatus moves a queued file to a new state, enforcing the state
// machine's legal transitions.
func (s *Store) SetUploadStatus(ctx context.Context, id string, from, to UploadStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("illegal upload transition %s -> %s", from, to)
	}

	res, err := s.conn.ExecContext(ctx, `
		UPDATE record_files SET upload_status = ?, updated_at = ?
		WHERE id = ? AND upload_status = ?`,
		string(to), time.Now().UTC().Format(time.RFC3339), id, string(from))
	if err != nil {
		return fmt.Errorf("failed to set upload status on %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("file %s not in state %s: %w", id, from, ErrNotFound)
	}
	return nil
}

// MarkFileUploaded records a successful upload: the row gets its server
// URL, leaves the queue, and becomes dirty so the next push sends the
// metadata row to the server.
func (s *Store) MarkFileUploaded(ctx context.Context, id, url, uploadedByID string) error {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE record_files
		SET upload_status = ?, file_url = ?, uploaded_by_id = ?,
		    updated_at = ?, _dirty = 1, _retry_count = 0
		WHERE id = ? AND upload_status = ?`,
		string(UploadDone), url, uploadedByID,
		time.Now().UTC().Format(time.RFC3339), id, string(UploadInProgress))
	if err != nil {
		return fmt.Errorf("failed to mark file uploaded: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("file %s not uploading: %w", id, ErrNotFound)
	}
	return nil
}

// BumpFileRetry increments the retry counter after a failed upload attempt
// and returns the file to pending, or parks it as failed once the budget
// is exhausted.
func (s *Store) BumpFileRetry(ctx context.Context, id string, maxRetries int) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		var retries int
		err := tx.QueryRowContext(ctx,
			"SELECT _retry_count FROM record_files WHERE id = ?", id).Scan(&retries)
		if err != nil {
			return fmt.Errorf("failed to read retry count for %s: %w", id, err)
		}

		retries++
		next := UploadPending
		if retries >= maxRetries {
			next = UploadFailed
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE record_files SET _retry_count = ?, upload_status = ?, updated_at = ?
			WHERE id = ?`,
			retries, string(next), time.Now().UTC().Format(time.RFC3339), id)
		if err != nil {
			return fmt.Errorf("failed to bump file retry for %s: %w", id, err)
		}
		return nil
	})
}
