package syncer

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/datrix/fieldsync/internal/backend"
	"github.com/datrix/fieldsync/internal/store"
)

// Cleaner reclaims local data for questionnaires the user is no longer
// assigned to. A questionnaire with any unsynced work underneath it is
// never touched; it stays on the device until a later push drains it.
type Cleaner struct {
	Store  *store.Store
	Client *backend.Client
	Status *Status
	Logger *log.Logger
}

// Run diffs the server's current assignment set against the local one
// and purges questionnaires that disappeared from it.
func (c *Cleaner) Run(ctx context.Context, userID string) error {
	remote, err := c.Client.Select(ctx, "questionnaire_assignments", backend.Query{
		Filters: []backend.Filter{backend.Eq("user_id", userID)},
	})
	if err != nil {
		return fmt.Errorf("fetch assignments: %w", err)
	}
	assigned := make(map[string]bool, len(remote))
	for _, r := range remote {
		if id, ok := r["questionnaire_id"].(string); ok {
			assigned[id] = true
		}
	}

	local, err := c.Store.AssignedQuestionnaireIDs(ctx, userID)
	if err != nil {
		return fmt.Errorf("local assignments: %w", err)
	}

	var firstErr error
	for _, qID := range local {
		if assigned[qID] {
			continue
		}
		dirty, err := c.Store.QuestionnaireDirtyCount(ctx, qID, userID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if dirty > 0 {
			c.Logger.Printf("[cleanup] questionnaire %s unassigned but has %d unsynced rows, keeping", qID, dirty)
			continue
		}
		if err := c.Store.PurgeQuestionnaire(ctx, qID, userID); err != nil {
			c.Logger.Printf("[cleanup] purge %s: %v", qID, err)
			c.Status.AddError(SyncError{Table: "questionnaires", RowID: qID, Message: err.Error(), Time: time.Now()})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		c.Logger.Printf("[cleanup] purged unassigned questionnaire %s", qID)
	}
	return firstErr
}
