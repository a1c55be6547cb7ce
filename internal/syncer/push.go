package syncer

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/datrix/fieldsync/internal/backend"
	"github.com/datrix/fieldsync/internal/idgen"
	"github.com/datrix/fieldsync/internal/store"
)

// Pusher runs the upload protocol: every dirty row is sent individually,
// deletions as server deletes and everything else as upsert-by-id, so a
// retried push after a half-applied failure converges instead of
// duplicating.
type Pusher struct {
	Store      *store.Store
	Client     *backend.Client
	Status     *Status
	Logger     *log.Logger
	MaxRetries int
}

// Run pushes all tables in registry order, then recomputes the pending
// and quarantined totals. Row failures are isolated: they bump the row's
// retry count and are reported through Status, and the remaining rows
// still go out.
func (p *Pusher) Run(ctx context.Context) error {
	var firstErr error
	pushed := 0
	for _, t := range PushTables {
		n, err := p.pushTable(ctx, t)
		pushed += n
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("push %s: %w", t.Name, err)
		}
	}

	if err := p.refreshPending(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if pushed > 0 {
		p.Status.SetLastSyncAt(time.Now())
	}
	return firstErr
}

func (p *Pusher) pushTable(ctx context.Context, t Table) (int, error) {
	rows, err := p.Store.DirtyRows(ctx, t.Name)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	pushed := 0
	var firstErr error
	for _, row := range rows {
		id, _ := row["id"].(string)
		if id == "" {
			continue
		}
		if asInt(row["_retry_count"]) >= p.MaxRetries {
			// Quarantined: left dirty but not retried until a manual
			// sync resets the counter.
			continue
		}

		var pushErr error
		if t.SoftDelete && asInt(row["_deleted"]) == 1 {
			pushErr = p.pushDelete(ctx, t, id)
		} else {
			pushErr = p.pushUpsert(ctx, t, row)
		}
		if pushErr != nil {
			p.Logger.Printf("[push] %s %s: %v", t.Name, id, pushErr)
			p.Status.AddError(SyncError{Table: t.Name, RowID: id, Message: pushErr.Error(), Time: time.Now()})
			if err := p.Store.BumpRetry(ctx, t.Name, id); err != nil {
				p.Logger.Printf("[push] %s %s: bump retry: %v", t.Name, id, err)
			}
			if firstErr == nil {
				firstErr = pushErr
			}
			continue
		}
		pushed++
	}

	if pushed > 0 {
		p.Logger.Printf("[push] %s: pushed %d rows", t.Name, pushed)
		if err := p.Store.SetLastPushedAt(ctx, t.Name, time.Now().UTC().Format(time.RFC3339)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return pushed, firstErr
}

// pushDelete removes the row on the server, then purges the local
// tombstone. A 404 from the server counts as success: the row is already
// gone.
func (p *Pusher) pushDelete(ctx context.Context, t Table, id string) error {
	if err := p.Client.Delete(ctx, t.Name, id); err != nil {
		if se, ok := err.(*backend.StatusError); !ok || se.Code != 404 {
			return err
		}
	}
	return p.Store.DeleteRowLocal(ctx, t.Name, id)
}

func (p *Pusher) pushUpsert(ctx context.Context, t Table, row store.Row) error {
	payload := make(backend.Row, len(row))
	for k, v := range row {
		if t.IsLocalOnly(k) {
			continue
		}
		payload[t.ServerColumn(k)] = v
	}
	if err := p.Client.Upsert(ctx, t.Name, payload); err != nil {
		return err
	}
	id, _ := row["id"].(string)
	if idgen.IsOfflineID(id) {
		p.Logger.Printf("[push] %s %s created offline, now on server", t.Name, id)
	}
	return p.Store.ClearDirty(ctx, t.Name, id)
}

// refreshPending recomputes per-table and total dirty counts after a
// push pass.
func (p *Pusher) refreshPending(ctx context.Context) error {
	total, quarantined := 0, 0
	for _, t := range PushTables {
		n, err := p.Store.DirtyCount(ctx, t.Name)
		if err != nil {
			return err
		}
		q, err := p.Store.QuarantinedCount(ctx, t.Name, p.MaxRetries)
		if err != nil {
			return err
		}
		if err := p.Store.SetPendingCount(ctx, t.Name, n); err != nil {
			return err
		}
		total += n
		quarantined += q
	}
	p.Status.SetPending(total, quarantined)
	return nil
}

// asInt converts SQLite-scanned numeric values, tolerating the int64,
// float64, and string representations the driver can produce.
func asInt(v any) int {
	switch x := v.(type) {
	case int64:
		return int(x)
	case int:
		return x
	case float64:
		return int(x)
	case string:
		n, _ := strconv.Atoi(x)
		return n
	default:
		return 0
	}
}
