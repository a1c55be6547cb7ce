package syncer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/datrix/fieldsync/internal/backend"
	"github.com/datrix/fieldsync/internal/store"
)

// Puller runs the incremental download protocol: for each registered
// table it fetches rows newer than the stored watermark, scoped to the
// user's accessible data, and applies them with insert-or-replace.
type Puller struct {
	Store  *store.Store
	Client *backend.Client
	Status *Status
	Logger *log.Logger
}

// Run pulls every table in registry order. A failing table is logged and
// recorded but does not stop the remaining tables; the first error is
// returned after all tables have been attempted.
func (p *Puller) Run(ctx context.Context, userID string) error {
	projectIDs, err := p.projectIDs(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve project membership: %w", err)
	}
	if len(projectIDs) == 0 {
		p.Logger.Printf("[pull] user %s has no project memberships, nothing to pull", userID)
		return nil
	}

	var firstErr error
	for _, t := range PullTables {
		n, err := p.pullTable(ctx, t, userID, projectIDs)
		if err != nil {
			p.Logger.Printf("[pull] %s: %v", t.Name, err)
			p.Status.AddError(SyncError{Table: t.Name, Message: err.Error(), Time: time.Now()})
			if firstErr == nil {
				firstErr = fmt.Errorf("pull %s: %w", t.Name, err)
			}
			continue
		}
		if n > 0 {
			p.Logger.Printf("[pull] %s: applied %d rows", t.Name, n)
		}
	}
	return firstErr
}

// projectIDs returns the ids of projects the user belongs to.
func (p *Puller) projectIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := p.Client.Select(ctx, "project_users", backend.Query{
		Filters: []backend.Filter{backend.Eq("user_id", userID)},
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		if id, ok := r["project_id"].(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// pullTable fetches and applies one table's delta. The watermark only
// advances, inside the same transaction as the row writes, to the
// largest updated_at actually observed; an empty delta leaves it
// untouched.
func (p *Puller) pullTable(ctx context.Context, t Table, userID string, projectIDs []string) (int, error) {
	q := backend.Query{OrderBy: "updated_at"}
	wm, err := p.Store.Watermark(ctx, t.Name)
	if err != nil {
		return 0, err
	}
	q.UpdatedAfter = wm

	switch t.Scope {
	case ScopeProjects:
		q.Filters = append(q.Filters, backend.In("id", projectIDs...))
	case ScopeUser:
		q.Filters = append(q.Filters, backend.Eq("user_id", userID))
	case ScopeAssignee:
		q.Filters = append(q.Filters, backend.Eq("assignee_id", userID))
	case ScopeProjectID:
		q.Filters = append(q.Filters, backend.In("project_id", projectIDs...))
	case ScopeRecordID:
		ids, err := p.Store.LocalRecordIDs(ctx, userID)
		if err != nil {
			return 0, err
		}
		if len(ids) == 0 {
			return 0, nil
		}
		q.Filters = append(q.Filters, backend.In("record_id", ids...))
	}

	remote, err := p.Client.Select(ctx, t.Name, q)
	if err != nil {
		return 0, err
	}
	if len(remote) == 0 {
		return 0, nil
	}

	cols, err := p.Store.Columns(ctx, t.Name)
	if err != nil {
		return 0, err
	}

	applied := 0
	err = p.Store.WithTx(ctx, func(tx *sql.Tx) error {
		maxTS := ""
		for _, r := range remote {
			local := make(store.Row, len(r))
			for k, v := range r {
				local[t.LocalColumn(k)] = normalizeValue(v)
			}
			if err := store.UpsertRow(ctx, tx, t.Name, cols, local); err != nil {
				return err
			}
			applied++
			if ts, ok := r["updated_at"].(string); ok && ts > maxTS {
				maxTS = ts
			}
		}
		if maxTS != "" {
			return store.AdvanceWatermark(ctx, tx, t.Name, maxTS)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return applied, nil
}

// normalizeValue flattens JSON-decoded values for SQLite storage.
// Objects and arrays are stored as JSON text.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return nil
		}
		return string(b)
	default:
		return v
	}
}
