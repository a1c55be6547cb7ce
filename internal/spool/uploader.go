package spool

import (
	"context"
	"fmt"
	"log"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/datrix/fieldsync/internal/backend"
	"github.com/datrix/fieldsync/internal/store"
)

// DefaultBucket is the object-storage bucket holding record attachments.
const DefaultBucket = "record-files"

// Uploader drains the upload queue: it claims pending files one at a
// time, streams them to object storage with exponential backoff, and on
// success marks the queue row uploaded and dirty so the next push sends
// the metadata with its server URL. Upload failures feed the row's retry
// counter; at the ceiling the row parks as failed until a manual sync.
type Uploader struct {
	Store      *store.Store
	Files      backend.FileStore
	Logger     *log.Logger
	Bucket     string
	MaxRetries int
	Interval   time.Duration

	// RetryBudget caps the in-attempt backoff before the failure counts
	// against the row's retry counter.
	RetryBudget time.Duration

	// OnUploaded fires after a file's metadata turns dirty, so the sync
	// engine can schedule a push.
	OnUploaded func()

	kick   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// Start launches the drain loop. The uploader wakes on its interval and
// whenever Kick is called.
func (u *Uploader) Start() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cancel != nil {
		return fmt.Errorf("uploader already running")
	}
	if u.Bucket == "" {
		u.Bucket = DefaultBucket
	}
	if u.Interval <= 0 {
		u.Interval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	u.cancel = cancel
	u.kick = make(chan struct{}, 1)
	u.wg.Add(1)
	go u.loop(ctx)
	return nil
}

// Stop cancels the drain loop and waits for an in-flight upload to
// finish.
func (u *Uploader) Stop() {
	u.mu.Lock()
	cancel := u.cancel
	u.cancel = nil
	u.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	u.wg.Wait()
}

// Kick asks the loop to drain now instead of waiting for the next tick.
func (u *Uploader) Kick() {
	u.mu.Lock()
	kick := u.kick
	u.mu.Unlock()
	if kick == nil {
		return
	}
	select {
	case kick <- struct{}{}:
	default:
	}
}

func (u *Uploader) loop(ctx context.Context) {
	defer u.wg.Done()
	ticker := time.NewTicker(u.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-u.kick:
		}
		if err := u.Drain(ctx); err != nil && ctx.Err() == nil {
			u.Logger.Printf("[spool] drain: %v", err)
		}
	}
}

// Drain uploads every currently pending file. Per-file failures bump
// that file's retry count and move on.
func (u *Uploader) Drain(ctx context.Context) error {
	files, err := u.Store.PendingFiles(ctx, u.MaxRetries)
	if err != nil {
		return fmt.Errorf("list pending files: %w", err)
	}
	uploaded := 0
	for _, f := range files {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := u.uploadOne(ctx, f); err != nil {
			u.Logger.Printf("[spool] upload %s (%s): %v", f.ID, f.FileName, err)
			if err := u.Store.BumpFileRetry(ctx, f.ID, u.MaxRetries); err != nil {
				u.Logger.Printf("[spool] bump retry %s: %v", f.ID, err)
			}
			continue
		}
		uploaded++
	}
	if uploaded > 0 {
		u.Logger.Printf("[spool] uploaded %d files", uploaded)
		if u.OnUploaded != nil {
			u.OnUploaded()
		}
	}
	return nil
}

func (u *Uploader) uploadOne(ctx context.Context, f *store.QueuedFile) error {
	if err := u.Store.SetUploadStatus(ctx, f.ID, store.UploadPending, store.UploadInProgress); err != nil {
		return err
	}

	var url string
	op := func() error {
		r, err := os.Open(f.LocalPath)
		if err != nil {
			// The source file is gone; retrying will not bring it back.
			return backoff.Permanent(err)
		}
		defer r.Close()
		url, err = u.Files.Put(ctx, u.Bucket, objectName(f), contentType(f.FileName), r)
		return err
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = u.RetryBudget
	if bo.MaxElapsedTime <= 0 {
		bo.MaxElapsedTime = 30 * time.Second
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		// Return the row to pending so the next drain can try again.
		if serr := u.Store.SetUploadStatus(ctx, f.ID, store.UploadInProgress, store.UploadPending); serr != nil {
			u.Logger.Printf("[spool] reset status %s: %v", f.ID, serr)
		}
		return err
	}

	return u.Store.MarkFileUploaded(ctx, f.ID, url, "")
}

// objectName places each attachment under its record's prefix.
func objectName(f *store.QueuedFile) string {
	return f.RecordID + "/" + f.ID + "_" + filepath.Base(f.FileName)
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
