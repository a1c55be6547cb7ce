package syncer

import (
	"sync"
	"time"
)

// maxRecentErrors bounds the error list carried in each snapshot.
const maxRecentErrors = 10

// SyncError records one failed row or table operation.
type SyncError struct {
	Table   string    `json:"table"`
	RowID   string    `json:"rowId,omitempty"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Snapshot is an immutable view of the sync state at one instant.
type Snapshot struct {
	UserID           string      `json:"userId,omitempty"`
	Online           bool        `json:"online"`
	Syncing          bool        `json:"syncing"`
	PendingCount     int         `json:"pendingCount"`
	QuarantinedCount int         `json:"quarantinedCount"`
	LastSyncAt       time.Time   `json:"lastSyncAt,omitzero"`
	Errors           []SyncError `json:"errors,omitempty"`
}

// Status tracks observable sync state and fans snapshots out to
// subscribers. All methods are safe for concurrent use. Subscriber
// channels are buffered and never block a publisher; a slow subscriber
// misses intermediate snapshots, not the final one it reads.
type Status struct {
	mu   sync.Mutex
	snap Snapshot
	subs map[chan Snapshot]struct{}
}

func NewStatus() *Status {
	return &Status{subs: make(map[chan Snapshot]struct{})}
}

// Begin records the authenticated user and resets per-session state.
func (s *Status) Begin(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.UserID = userID
	s.snap.Errors = nil
	s.notifyLocked()
}

// End clears the user and marks the engine idle and offline.
func (s *Status) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.UserID = ""
	s.snap.Syncing = false
	s.snap.Online = false
	s.notifyLocked()
}

// SetOnline updates connectivity and returns the previous value so the
// caller can detect an offline-to-online transition.
func (s *Status) SetOnline(online bool) (was bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	was = s.snap.Online
	if was != online {
		s.snap.Online = online
		s.notifyLocked()
	}
	return was
}

func (s *Status) SetSyncing(syncing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Syncing = syncing
	s.notifyLocked()
}

// SetPending updates the dirty and quarantined row totals.
func (s *Status) SetPending(pending, quarantined int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.PendingCount = pending
	s.snap.QuarantinedCount = quarantined
	s.notifyLocked()
}

func (s *Status) SetLastSyncAt(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.LastSyncAt = t
	s.notifyLocked()
}

// AddError appends a row error, deduplicating on (table, rowID) so a row
// that fails on every cycle occupies one slot with its latest message.
func (s *Status) AddError(e SyncError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, prev := range s.snap.Errors {
		if prev.Table == e.Table && prev.RowID == e.RowID {
			s.snap.Errors[i] = e
			s.notifyLocked()
			return
		}
	}
	s.snap.Errors = append(s.snap.Errors, e)
	if len(s.snap.Errors) > maxRecentErrors {
		s.snap.Errors = s.snap.Errors[len(s.snap.Errors)-maxRecentErrors:]
	}
	s.notifyLocked()
}

// ClearErrors drops the error list, typically at the start of a manual
// sync.
func (s *Status) ClearErrors() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snap.Errors) == 0 {
		return
	}
	s.snap.Errors = nil
	s.notifyLocked()
}

// Snapshot returns a copy of the current state.
func (s *Status) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

// Subscribe registers a snapshot channel. The current snapshot is
// delivered immediately.
func (s *Status) Subscribe() chan Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Snapshot, 8)
	s.subs[ch] = struct{}{}
	ch <- s.copyLocked()
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (s *Status) Unsubscribe(ch chan Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		close(ch)
	}
}

func (s *Status) copyLocked() Snapshot {
	snap := s.snap
	snap.Errors = append([]SyncError(nil), s.snap.Errors...)
	return snap
}

func (s *Status) notifyLocked() {
	snap := s.copyLocked()
	for ch := range s.subs {
		select {
		case ch <- snap:
		default:
			// Drain one stale snapshot and retry so the subscriber
			// always ends up with the newest state.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
