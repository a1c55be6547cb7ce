// Package syncer implements the offline-first synchronization protocols:
// incremental pull with per-table watermarks, per-row push with
// upsert-by-id idempotency, cleanup of unassigned questionnaires, and
// the trigger engine that schedules them.
package syncer
