package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datrix/fieldsync/internal/backend"
	"github.com/datrix/fieldsync/internal/store"
)

// fakeBackend is an in-memory server speaking the subset of the data
// service's REST dialect the sync protocols use: filtered selects,
// upsert-by-id, and delete-by-id.
type fakeBackend struct {
	mu          sync.Mutex
	tables      map[string][]backend.Row
	upserts     map[string]int
	deletes     int
	failUpserts bool

	srv *httptest.Server
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{
		tables:  make(map[string][]backend.Row),
		upserts: make(map[string]int),
	}
	fb.srv = httptest.NewServer(http.HandlerFunc(fb.handle))
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBackend) client() *backend.Client {
	return backend.NewClient(fb.srv.URL, func(context.Context) (string, error) {
		return "test-token", nil
	})
}

func (fb *fakeBackend) seed(table string, rows ...backend.Row) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.tables[table] = append(fb.tables[table], rows...)
}

func (fb *fakeBackend) rows(table string) []backend.Row {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]backend.Row(nil), fb.tables[table]...)
}

func (fb *fakeBackend) rowByID(table, id string) backend.Row {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	for _, r := range fb.tables[table] {
		if r["id"] == id {
			return r
		}
	}
	return nil
}

func (fb *fakeBackend) setFailUpserts(fail bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.failUpserts = fail
}

func (fb *fakeBackend) upsertCount(table string) int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.upserts[table]
}

func (fb *fakeBackend) handle(w http.ResponseWriter, r *http.Request) {
	table := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/rest/v1/"), "/")

	fb.mu.Lock()
	defer fb.mu.Unlock()

	switch r.Method {
	case http.MethodHead:
		w.WriteHeader(http.StatusOK)

	case http.MethodGet:
		var out []backend.Row
		for _, row := range fb.tables[table] {
			if rowMatches(row, r.URL.Query()) {
				out = append(out, row)
			}
		}
		if out == nil {
			out = []backend.Row{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)

	case http.MethodPost:
		if fb.failUpserts {
			http.Error(w, `{"message":"boom"}`, http.StatusInternalServerError)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var incoming []backend.Row
		if err := json.Unmarshal(body, &incoming); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, in := range incoming {
			fb.upserts[table]++
			replaced := false
			for i, existing := range fb.tables[table] {
				if existing["id"] == in["id"] {
					fb.tables[table][i] = in
					replaced = true
					break
				}
			}
			if !replaced {
				fb.tables[table] = append(fb.tables[table], in)
			}
		}
		w.WriteHeader(http.StatusCreated)

	case http.MethodDelete:
		fb.deletes++
		var kept []backend.Row
		for _, row := range fb.tables[table] {
			if !rowMatches(row, r.URL.Query()) {
				kept = append(kept, row)
			}
		}
		fb.tables[table] = kept
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func rowMatches(row backend.Row, query url.Values) bool {
	for col, vals := range query {
		if col == "order" || col == "on_conflict" {
			continue
		}
		cond := vals[0]
		cell := fmt.Sprint(row[col])
		switch {
		case strings.HasPrefix(cond, "eq."):
			if cell != strings.TrimPrefix(cond, "eq.") {
				return false
			}
		case strings.HasPrefix(cond, "gt."):
			if !(cell > strings.TrimPrefix(cond, "gt.")) {
				return false
			}
		case strings.HasPrefix(cond, "in."):
			set := strings.Trim(strings.TrimPrefix(cond, "in."), "()")
			found := false
			for _, v := range strings.Split(set, ",") {
				if cell == v {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.InitSchema(context.Background()))
	return s
}

func testLogger(t *testing.T) *log.Logger {
	return log.New(testWriter{t}, "", 0)
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func newPusher(s *store.Store, fb *fakeBackend, t *testing.T) (*Pusher, *Status) {
	status := NewStatus()
	return &Pusher{
		Store:      s,
		Client:     fb.client(),
		Status:     status,
		Logger:     testLogger(t),
		MaxRetries: 5,
	}, status
}

func newPuller(s *store.Store, fb *fakeBackend, t *testing.T) (*Puller, *Status) {
	status := NewStatus()
	return &Puller{
		Store:  s,
		Client: fb.client(),
		Status: status,
		Logger: testLogger(t),
	}, status
}

func TestPushUploadsDirtyRowsAndClears(t *testing.T) {
	s := newTestStore(t)
	fb := newFakeBackend(t)
	pusher, status := newPusher(s, fb, t)
	ctx := context.Background()

	rec, err := s.CreateRecord(ctx, "p1", "qn-1", "user-1")
	require.NoError(t, err)
	_, err = s.UpsertAnswer(ctx, rec.ID, "q-1", "", "yes", "Yes", "user-1")
	require.NoError(t, err)

	require.NoError(t, pusher.Run(ctx))

	remote := fb.rowByID("records", rec.ID)
	require.NotNil(t, remote, "record did not reach the server")
	assert.Equal(t, "not_started", remote["status"])
	assert.NotContains(t, remote, "_dirty", "local-only column leaked to the wire")
	assert.NotContains(t, remote, "_retry_count")

	n, err := s.DirtyCount(ctx, "records")
	require.NoError(t, err)
	assert.Zero(t, n, "pushed record still dirty")

	snap := status.Snapshot()
	assert.Zero(t, snap.PendingCount)

	// A second push with nothing dirty must not touch the server.
	before := fb.upsertCount("records")
	require.NoError(t, pusher.Run(ctx))
	assert.Equal(t, before, fb.upsertCount("records"))
}

func TestPushRetryIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	fb := newFakeBackend(t)
	pusher, _ := newPusher(s, fb, t)
	ctx := context.Background()

	rec, err := s.CreateRecord(ctx, "p1", "qn-1", "user-1")
	require.NoError(t, err)

	require.NoError(t, pusher.Run(ctx))

	// Simulate a lost acknowledgement: the row is on the server but the
	// device still thinks it is dirty.
	_, err = s.RawDB().ExecContext(ctx, "UPDATE records SET _dirty = 1 WHERE id = ?", rec.ID)
	require.NoError(t, err)

	require.NoError(t, pusher.Run(ctx))

	count := 0
	for _, r := range fb.rows("records") {
		if r["id"] == rec.ID {
			count++
		}
	}
	assert.Equal(t, 1, count, "retried push duplicated the row")
}

func TestPushDeleteRemovesServerRowAndTombstone(t *testing.T) {
	s := newTestStore(t)
	fb := newFakeBackend(t)
	pusher, _ := newPusher(s, fb, t)
	ctx := context.Background()

	rec, err := s.CreateRecord(ctx, "p1", "qn-1", "user-1")
	require.NoError(t, err)
	require.NoError(t, pusher.Run(ctx))
	require.NotNil(t, fb.rowByID("records", rec.ID))

	require.NoError(t, s.MarkRecordDeleted(ctx, rec.ID))
	require.NoError(t, pusher.Run(ctx))

	assert.Nil(t, fb.rowByID("records", rec.ID), "server row survived delete")
	_, err = s.RowByID(ctx, "records", rec.ID)
	assert.ErrorIs(t, err, store.ErrNotFound, "local tombstone survived delete")
}

func TestPushQuarantinesAfterRetryCeiling(t *testing.T) {
	s := newTestStore(t)
	fb := newFakeBackend(t)
	pusher, status := newPusher(s, fb, t)
	pusher.MaxRetries = 3
	ctx := context.Background()

	rec, err := s.CreateRecord(ctx, "p1", "qn-1", "user-1")
	require.NoError(t, err)

	fb.setFailUpserts(true)
	for i := 0; i < 3; i++ {
		err := pusher.Run(ctx)
		assert.Error(t, err, "push %d should report the failure", i)
	}

	// The row is now quarantined: a healthy server sees no more attempts.
	fb.setFailUpserts(false)
	before := fb.upsertCount("records")
	require.NoError(t, pusher.Run(ctx))
	assert.Equal(t, before, fb.upsertCount("records"), "quarantined row was retried")

	snap := status.Snapshot()
	assert.NotZero(t, snap.QuarantinedCount)
	assert.NotEmpty(t, snap.Errors)

	// Manual recovery: reset the budget and push again.
	require.NoError(t, s.ResetRetryCounts(ctx, PushTableNames()))
	require.NoError(t, pusher.Run(ctx))
	assert.NotNil(t, fb.rowByID("records", rec.ID))
}

func TestPullAppliesDeltaAndAdvancesWatermark(t *testing.T) {
	s := newTestStore(t)
	fb := newFakeBackend(t)
	puller, _ := newPuller(s, fb, t)
	ctx := context.Background()

	fb.seed("project_users", backend.Row{"project_id": "p1", "user_id": "user-1"})
	fb.seed("projects", backend.Row{
		"id": "p1", "name": "Census North", "updated_at": "2026-05-01T10:00:00Z",
	})
	fb.seed("questionnaires",
		backend.Row{"id": "qn-1", "project_id": "p1", "name": "Household", "updated_at": "2026-05-01T09:00:00Z"},
		backend.Row{"id": "qn-2", "project_id": "p2", "name": "Other project", "updated_at": "2026-05-01T09:00:00Z"},
	)

	require.NoError(t, puller.Run(ctx, "user-1"))

	row, err := s.RowByID(ctx, "projects", "p1")
	require.NoError(t, err)
	assert.Equal(t, "Census North", row["name"])

	// Scoping: the questionnaire of a foreign project must not arrive.
	_, err = s.RowByID(ctx, "questionnaires", "qn-2")
	assert.ErrorIs(t, err, store.ErrNotFound)

	wm, err := s.Watermark(ctx, "projects")
	require.NoError(t, err)
	assert.Equal(t, "2026-05-01T10:00:00Z", wm)

	// An empty delta leaves the watermark untouched.
	require.NoError(t, puller.Run(ctx, "user-1"))
	wm2, err := s.Watermark(ctx, "projects")
	require.NoError(t, err)
	assert.Equal(t, wm, wm2)

	// A newer server edit comes down on the next pull.
	fb.mu.Lock()
	fb.tables["projects"][0]["name"] = "Census North v2"
	fb.tables["projects"][0]["updated_at"] = "2026-05-02T08:00:00Z"
	fb.mu.Unlock()

	require.NoError(t, puller.Run(ctx, "user-1"))
	row, err = s.RowByID(ctx, "projects", "p1")
	require.NoError(t, err)
	assert.Equal(t, "Census North v2", row["name"])
}

func TestPullRenamesReservedColumns(t *testing.T) {
	s := newTestStore(t)
	fb := newFakeBackend(t)
	puller, _ := newPuller(s, fb, t)
	ctx := context.Background()

	fb.seed("project_users", backend.Row{"project_id": "p1", "user_id": "user-1"})
	fb.seed("project_data", backend.Row{
		"id": "pd-1", "project_id": "p1", "name": "villages",
		"values": `["north","south"]`, "updated_at": "2026-05-01T10:00:00Z",
	})

	require.NoError(t, puller.Run(ctx, "user-1"))

	row, err := s.RowByID(ctx, "project_data", "pd-1")
	require.NoError(t, err)
	assert.Equal(t, `["north","south"]`, row["values_json"])
}

func TestPullSkipsUnknownServerColumns(t *testing.T) {
	s := newTestStore(t)
	fb := newFakeBackend(t)
	puller, _ := newPuller(s, fb, t)
	ctx := context.Background()

	fb.seed("project_users", backend.Row{"project_id": "p1", "user_id": "user-1"})
	fb.seed("projects", backend.Row{
		"id": "p1", "name": "Census", "freshly_added_column": "surprise",
		"updated_at": "2026-05-01T10:00:00Z",
	})

	require.NoError(t, puller.Run(ctx, "user-1"))
	row, err := s.RowByID(ctx, "projects", "p1")
	require.NoError(t, err)
	assert.Equal(t, "Census", row["name"])
}

func TestPushBeforePullKeepsLocalEdit(t *testing.T) {
	s := newTestStore(t)
	fb := newFakeBackend(t)
	pusher, _ := newPusher(s, fb, t)
	puller, _ := newPuller(s, fb, t)
	ctx := context.Background()

	fb.seed("project_users", backend.Row{"project_id": "p1", "user_id": "user-1"})

	rec, err := s.CreateRecord(ctx, "p1", "qn-1", "user-1")
	require.NoError(t, err)
	require.NoError(t, s.SetRecordStatus(ctx, rec.ID, store.StatusFormFilled, "", "user-1"))

	// Full cycle order: push first, then pull.
	require.NoError(t, pusher.Run(ctx))
	require.NoError(t, puller.Run(ctx, "user-1"))

	got, err := s.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFormFilled, got.Status, "pull overwrote the freshly pushed edit")
	assert.False(t, got.Dirty)
}

func TestCleanupPurgesUnassignedButGuardsDirty(t *testing.T) {
	s := newTestStore(t)
	fb := newFakeBackend(t)
	pusher, _ := newPusher(s, fb, t)
	status := NewStatus()
	cleaner := &Cleaner{Store: s, Client: fb.client(), Status: status, Logger: testLogger(t)}
	ctx := context.Background()

	seed := func(qID string) {
		_, err := s.RawDB().ExecContext(ctx,
			`INSERT INTO questionnaires (id, project_id, updated_at) VALUES (?, 'p1', '2026-01-01T00:00:00Z')`, qID)
		require.NoError(t, err)
		_, err = s.RawDB().ExecContext(ctx,
			`INSERT INTO questionnaire_assignments (id, questionnaire_id, user_id, updated_at)
			 VALUES (?, ?, 'user-1', '2026-01-01T00:00:00Z')`, "as-"+qID, qID)
		require.NoError(t, err)
	}
	seed("qn-keep")
	seed("qn-drop")
	seed("qn-dirty")

	// Server still assigns only qn-keep.
	fb.seed("questionnaire_assignments",
		backend.Row{"id": "as-qn-keep", "questionnaire_id": "qn-keep", "user_id": "user-1"})

	// qn-dirty has unsynced local work.
	_, err := s.CreateRecord(ctx, "p1", "qn-dirty", "user-1")
	require.NoError(t, err)

	require.NoError(t, cleaner.Run(ctx, "user-1"))

	ids, err := s.AssignedQuestionnaireIDs(ctx, "user-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"qn-keep", "qn-dirty"}, ids,
		"cleanup must drop qn-drop and spare the dirty questionnaire")

	// After the work syncs, the next cleanup reclaims it.
	require.NoError(t, pusher.Run(ctx))
	require.NoError(t, cleaner.Run(ctx, "user-1"))

	ids, err = s.AssignedQuestionnaireIDs(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"qn-keep"}, ids)
}

func TestFullCycleDrainsPendingCount(t *testing.T) {
	s := newTestStore(t)
	fb := newFakeBackend(t)
	pusher, status := newPusher(s, fb, t)
	ctx := context.Background()

	rec, err := s.CreateRecord(ctx, "p1", "qn-1", "user-1")
	require.NoError(t, err)
	_, err = s.UpsertAnswer(ctx, rec.ID, "q-1", "", "3", "3 people", "user-1")
	require.NoError(t, err)

	require.NoError(t, pusher.refreshPending(ctx))
	// record + answer + status history row.
	assert.Equal(t, 3, status.Snapshot().PendingCount)

	require.NoError(t, pusher.Run(ctx))
	assert.Zero(t, status.Snapshot().PendingCount)
	assert.False(t, status.Snapshot().LastSyncAt.IsZero())
}
