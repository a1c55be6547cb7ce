package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/datrix/fieldsync/internal/backend"
	"github.com/datrix/fieldsync/internal/store"
)

var (
	// ErrSyncBusy is returned when a manual sync is requested while a
	// cycle is already in flight.
	ErrSyncBusy = errors.New("sync already in progress")
	// ErrOffline is returned when a manual sync is requested without
	// connectivity.
	ErrOffline = errors.New("backend not reachable")
	// ErrNotStarted is returned by triggers on an engine that was never
	// started.
	ErrNotStarted = errors.New("sync engine not started")
)

// Config holds the engine's timing knobs. Zero values fall back to the
// defaults below.
type Config struct {
	PullInterval  time.Duration // periodic download cadence
	PushDebounce  time.Duration // quiet period after a local write
	ProbeInterval time.Duration // connectivity re-check cadence
	MaxRetries    int           // per-row push attempts before quarantine
	Probe         backend.NetProbe
	Logger        *log.Logger
}

const (
	defaultPullInterval  = 5 * time.Minute
	defaultPushDebounce  = 3 * time.Second
	defaultProbeInterval = 30 * time.Second
	defaultMaxRetries    = 5
)

func (c *Config) applyDefaults() {
	if c.PullInterval <= 0 {
		c.PullInterval = defaultPullInterval
	}
	if c.PushDebounce <= 0 {
		c.PushDebounce = defaultPushDebounce
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = defaultProbeInterval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.Logger == nil {
		c.Logger = log.New(log.Writer(), "", log.LstdFlags)
	}
}

// Engine owns the sync lifecycle for one logged-in user. It arms the
// triggers (periodic pull, debounced push after local writes,
// connectivity recovery, foreground, manual) and funnels them all
// through a single-flight full or partial cycle. A full cycle always
// runs push, then pull, then cleanup, so local work reaches the server
// before anything is overwritten or reclaimed.
type Engine struct {
	store  *store.Store
	client *backend.Client
	status *Status
	cfg    Config
	logger *log.Logger

	puller  *Puller
	pusher  *Pusher
	cleaner *Cleaner

	userID   string
	debounce *Debouncer
	inFlight atomic.Bool

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an engine. Start must be called before any trigger fires.
func New(st *store.Store, client *backend.Client, status *Status, cfg Config) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		store:  st,
		client: client,
		status: status,
		cfg:    cfg,
		logger: cfg.Logger,
	}
	e.puller = &Puller{Store: st, Client: client, Status: status, Logger: cfg.Logger}
	e.pusher = &Pusher{Store: st, Client: client, Status: status, Logger: cfg.Logger, MaxRetries: cfg.MaxRetries}
	e.cleaner = &Cleaner{Store: st, Client: client, Status: status, Logger: cfg.Logger}
	return e
}

// Start binds the engine to a user, probes connectivity, arms the
// periodic and debounced triggers, and kicks off an initial full cycle
// in the background if the backend is reachable.
func (e *Engine) Start(userID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx != nil {
		return errors.New("sync engine already started")
	}
	e.userID = userID
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.status.Begin(userID)
	e.debounce = NewDebouncer(e.cfg.PushDebounce, e.firePush)

	online := e.checkConnectivity(e.ctx)
	e.logger.Printf("[engine] started for user %s (online=%v)", userID, online)

	e.spawnLocked(e.pullLoop)
	e.spawnLocked(e.probeLoop)

	if online {
		e.spawnLocked(func(ctx context.Context) {
			e.runFull(ctx, "startup")
		})
	}
	return nil
}

// spawnLocked launches a trigger goroutine bound to the current run
// context. Callers hold e.mu, so the context capture and the WaitGroup
// increment are atomic with respect to Stop.
func (e *Engine) spawnLocked(fn func(ctx context.Context)) {
	ctx := e.ctx
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(ctx)
	}()
}

// spawn is spawnLocked for triggers that fire after Start returns. It
// is a no-op on a stopped engine.
func (e *Engine) spawn(fn func(ctx context.Context)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil {
		return
	}
	e.spawnLocked(fn)
}

// Stop cancels all triggers and waits for an in-flight cycle to drain.
// The engine must be stopped before its store is closed.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.ctx == nil {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	e.ctx, e.cancel = nil, nil
	e.mu.Unlock()

	e.debounce.Cancel()
	cancel()
	e.wg.Wait()
	e.status.End()
	e.logger.Printf("[engine] stopped")
}

// NotifyWrite signals that local data changed. Pushes are debounced so a
// burst of edits produces one upload pass.
func (e *Engine) NotifyWrite() {
	e.mu.Lock()
	started := e.ctx != nil
	e.mu.Unlock()
	if started {
		e.debounce.Reset()
	}
}

// Foreground signals that the app returned to the foreground: re-probe
// connectivity and refresh in the background.
func (e *Engine) Foreground() {
	e.spawn(func(ctx context.Context) {
		if e.checkConnectivity(ctx) {
			e.runPull(ctx, "foreground")
		}
	})
}

// SyncNow runs a full cycle synchronously for a user-initiated sync.
// Quarantined rows get their retry budget back first, so "press the
// sync button" is the documented recovery path for rows that exhausted
// automatic retries.
func (e *Engine) SyncNow(ctx context.Context) error {
	if e.runCtx() == nil {
		return ErrNotStarted
	}
	if !e.checkConnectivity(ctx) {
		return ErrOffline
	}
	if err := e.store.ResetRetryCounts(ctx, PushTableNames()); err != nil {
		return fmt.Errorf("reset retry counts: %w", err)
	}
	e.status.ClearErrors()
	if !e.inFlight.CompareAndSwap(false, true) {
		return ErrSyncBusy
	}
	defer e.inFlight.Store(false)
	return e.cycle(ctx, "manual")
}

// firePush is the debounce callback for local writes.
func (e *Engine) firePush() {
	e.spawn(func(ctx context.Context) {
		if !e.status.Snapshot().Online {
			return
		}
		e.runPush(ctx, "write")
	})
}

func (e *Engine) pullLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PullInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.status.Snapshot().Online {
				e.runPull(ctx, "periodic")
			}
		}
	}
}

func (e *Engine) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wasOnline := e.status.Snapshot().Online
			if e.checkConnectivity(ctx) && !wasOnline {
				e.logger.Printf("[engine] connectivity restored")
				e.runFull(ctx, "reconnect")
			}
		}
	}
}

// checkConnectivity probes the backend and records the result.
func (e *Engine) checkConnectivity(ctx context.Context) bool {
	conn := e.client.CheckConnectivity(ctx, e.cfg.Probe)
	online := conn.Online()
	e.status.SetOnline(online)
	return online
}

// runFull runs push, pull, cleanup under the single-flight guard.
// Overlapping triggers are dropped, not queued.
func (e *Engine) runFull(ctx context.Context, reason string) {
	if !e.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer e.inFlight.Store(false)
	if err := e.cycle(ctx, reason); err != nil {
		e.logger.Printf("[engine] %s cycle: %v", reason, err)
	}
}

func (e *Engine) runPush(ctx context.Context, reason string) {
	if !e.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer e.inFlight.Store(false)
	e.status.SetSyncing(true)
	defer e.status.SetSyncing(false)
	if err := e.pusher.Run(ctx); err != nil {
		e.logger.Printf("[engine] %s push: %v", reason, err)
	}
}

func (e *Engine) runPull(ctx context.Context, reason string) {
	if !e.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer e.inFlight.Store(false)
	e.status.SetSyncing(true)
	defer e.status.SetSyncing(false)
	if err := e.puller.Run(ctx, e.userID); err != nil {
		e.logger.Printf("[engine] %s pull: %v", reason, err)
	}
}

// cycle is the full push-pull-cleanup pass. Callers hold the in-flight
// guard.
func (e *Engine) cycle(ctx context.Context, reason string) error {
	e.status.SetSyncing(true)
	defer e.status.SetSyncing(false)
	e.logger.Printf("[engine] %s cycle starting", reason)

	var firstErr error
	if err := e.pusher.Run(ctx); err != nil {
		firstErr = err
	}
	if err := e.puller.Run(ctx, e.userID); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.cleaner.Run(ctx, e.userID); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr == nil {
		e.status.SetLastSyncAt(time.Now())
	}
	return firstErr
}

func (e *Engine) runCtx() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctx
}
