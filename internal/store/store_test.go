package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
	return s
}

func TestInitSchemaCreatesTables(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"projects", "records", "record_answers", "record_files", "sync_metadata"} {
		cols, err := s.Columns(ctx, table)
		if err != nil {
			t.Fatalf("Columns(%s): %v", table, err)
		}
		if len(cols) == 0 {
			t.Errorf("table %s has no columns", table)
		}
	}

	// Running InitSchema again must be a no-op, including migrations.
	if err := s.InitSchema(ctx); err != nil {
		t.Fatalf("second InitSchema: %v", err)
	}
}

func TestUpsertRowSkipsUnknownColumns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cols, err := s.Columns(ctx, "projects")
	if err != nil {
		t.Fatalf("Columns: %v", err)
	}

	row := Row{
		"id":          "p1",
		"name":        "Census North",
		"updated_at":  "2026-01-02T03:04:05Z",
		"brand_new":   "server-side column we do not know yet",
		"another_new": 42,
	}
	if err := UpsertRow(ctx, s.RawDB(), "projects", cols, row); err != nil {
		t.Fatalf("UpsertRow: %v", err)
	}

	got, err := s.RowByID(ctx, "projects", "p1")
	if err != nil {
		t.Fatalf("RowByID: %v", err)
	}
	if got["name"] != "Census North" {
		t.Errorf("name = %v, want Census North", got["name"])
	}

	// Replacing the row with fresher data must win.
	row["name"] = "Census North v2"
	if err := UpsertRow(ctx, s.RawDB(), "projects", cols, row); err != nil {
		t.Fatalf("second UpsertRow: %v", err)
	}
	got, err = s.RowByID(ctx, "projects", "p1")
	if err != nil {
		t.Fatalf("RowByID: %v", err)
	}
	if got["name"] != "Census North v2" {
		t.Errorf("name after replace = %v, want Census North v2", got["name"])
	}
}

func TestWatermarkAdvancesMonotonically(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wm, err := s.Watermark(ctx, "records")
	if err != nil {
		t.Fatalf("Watermark: %v", err)
	}
	if wm != Epoch {
		t.Errorf("initial watermark = %q, want epoch", wm)
	}

	advance := func(ts string) {
		t.Helper()
		err := s.WithTx(ctx, func(tx *sql.Tx) error {
			return AdvanceWatermark(ctx, tx, "records", ts)
		})
		if err != nil {
			t.Fatalf("AdvanceWatermark(%s): %v", ts, err)
		}
	}

	advance("2026-03-01T10:00:00Z")
	advance("2026-02-01T10:00:00Z") // older, must not regress

	wm, err = s.Watermark(ctx, "records")
	if err != nil {
		t.Fatalf("Watermark: %v", err)
	}
	if wm != "2026-03-01T10:00:00Z" {
		t.Errorf("watermark = %q, want 2026-03-01T10:00:00Z", wm)
	}
}

func TestCreateRecordIsDirtyWithHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.CreateRecord(ctx, "p1", "q1", "user-1")
	if err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	if rec.Status != StatusNotStarted {
		t.Errorf("status = %q, want %q", rec.Status, StatusNotStarted)
	}
	if !rec.Dirty {
		t.Error("new record not marked dirty")
	}

	n, err := s.DirtyCount(ctx, "records")
	if err != nil {
		t.Fatalf("DirtyCount: %v", err)
	}
	if n != 1 {
		t.Errorf("dirty records = %d, want 1", n)
	}
	n, err = s.DirtyCount(ctx, "record_status_history")
	if err != nil {
		t.Fatalf("DirtyCount: %v", err)
	}
	if n != 1 {
		t.Errorf("dirty history rows = %d, want 1", n)
	}
}

func TestUpsertAnswerDeduplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.CreateRecord(ctx, "p1", "q1", "user-1")
	if err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}

	a1, err := s.UpsertAnswer(ctx, rec.ID, "question-1", "page-1", "yes", "Yes", "user-1")
	if err != nil {
		t.Fatalf("first UpsertAnswer: %v", err)
	}
	a2, err := s.UpsertAnswer(ctx, rec.ID, "question-1", "page-1", "no", "No", "user-1")
	if err != nil {
		t.Fatalf("second UpsertAnswer: %v", err)
	}
	if a1.ID != a2.ID {
		t.Errorf("answer ids differ: %s vs %s, want same row updated", a1.ID, a2.ID)
	}
	if a2.Value != "no" {
		t.Errorf("value = %q, want no", a2.Value)
	}

	var count int
	err = s.RawDB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM record_answers WHERE record_id = ?", rec.ID).Scan(&count)
	if err != nil {
		t.Fatalf("count answers: %v", err)
	}
	if count != 1 {
		t.Errorf("answer rows = %d, want 1", count)
	}

	// A different page is a different answer.
	a3, err := s.UpsertAnswer(ctx, rec.ID, "question-1", "page-2", "maybe", "Maybe", "user-1")
	if err != nil {
		t.Fatalf("third UpsertAnswer: %v", err)
	}
	if a3.ID == a1.ID {
		t.Error("answer on different page reused the same row")
	}
}

func TestSetRecordStatusSkipsDuplicateHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.CreateRecord(ctx, "p1", "q1", "user-1")
	if err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}

	if err := s.SetRecordStatus(ctx, rec.ID, StatusInProgress, "", "user-1"); err != nil {
		t.Fatalf("SetRecordStatus: %v", err)
	}
	// Same status again: the record updates but no new history row.
	if err := s.SetRecordStatus(ctx, rec.ID, StatusInProgress, "", "user-1"); err != nil {
		t.Fatalf("repeat SetRecordStatus: %v", err)
	}

	var count int
	err = s.RawDB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM record_status_history WHERE record_id = ?", rec.ID).Scan(&count)
	if err != nil {
		t.Fatalf("count history: %v", err)
	}
	if count != 2 { // created + in_progress
		t.Errorf("history rows = %d, want 2", count)
	}
}

func TestMarkRecordDeletedIsSoft(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.CreateRecord(ctx, "p1", "q1", "user-1")
	if err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	if err := s.MarkRecordDeleted(ctx, rec.ID); err != nil {
		t.Fatalf("MarkRecordDeleted: %v", err)
	}

	if _, err := s.GetRecord(ctx, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRecord after delete: err = %v, want ErrNotFound", err)
	}

	// The tombstone must still be dirty so push can tell the server.
	rows, err := s.DirtyRows(ctx, "records")
	if err != nil {
		t.Fatalf("DirtyRows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("dirty rows = %d, want 1", len(rows))
	}
}

func TestRetryCeilingAndReset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.CreateRecord(ctx, "p1", "q1", "user-1")
	if err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}

	const ceiling = 5
	for i := 0; i < ceiling; i++ {
		if err := s.BumpRetry(ctx, "records", rec.ID); err != nil {
			t.Fatalf("BumpRetry: %v", err)
		}
	}

	q, err := s.QuarantinedCount(ctx, "records", ceiling)
	if err != nil {
		t.Fatalf("QuarantinedCount: %v", err)
	}
	if q != 1 {
		t.Errorf("quarantined = %d, want 1", q)
	}

	if err := s.ResetRetryCounts(ctx, []string{"records"}); err != nil {
		t.Fatalf("ResetRetryCounts: %v", err)
	}
	q, err = s.QuarantinedCount(ctx, "records", ceiling)
	if err != nil {
		t.Fatalf("QuarantinedCount: %v", err)
	}
	if q != 0 {
		t.Errorf("quarantined after reset = %d, want 0", q)
	}
}

func TestOfflineRecordSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "survey.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.InitSchema(ctx); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
	rec, err := s.CreateRecord(ctx, "p1", "qn-1", "user-1")
	if err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	if _, err := s.UpsertAnswer(ctx, rec.ID, "q1", "", "42", "42", "user-1"); err != nil {
		t.Fatalf("UpsertAnswer: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Work captured in the field must still be there after the app
	// restarts, still marked for upload.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { s2.Close() })
	if err := s2.InitSchema(ctx); err != nil {
		t.Fatalf("InitSchema after reopen: %v", err)
	}
	got, err := s2.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRecord after reopen: %v", err)
	}
	if got.ExternalID != rec.ExternalID || got.Status != rec.Status {
		t.Errorf("record changed across reopen: got %+v, want %+v", got, rec)
	}
	if !got.Dirty {
		t.Error("record lost its dirty mark across reopen")
	}
	n, err := s2.DirtyCount(ctx, "record_answers")
	if err != nil {
		t.Fatalf("DirtyCount: %v", err)
	}
	if n != 1 {
		t.Errorf("dirty answers after reopen = %d, want 1", n)
	}
}

func TestDestroyRemovesDatabase(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "gone.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
	if err := s.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	s2, err := Open(filepath.Join(dir, "gone.db"))
	if err != nil {
		t.Fatalf("reopen after destroy: %v", err)
	}
	s2.Close()
}
