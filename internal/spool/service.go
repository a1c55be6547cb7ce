package spool

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/datrix/fieldsync/internal/backend"
	"github.com/datrix/fieldsync/internal/store"
)

// Service ties the spool together: the watcher feeds new photo drops
// into the upload queue, and the uploader drains the queue to object
// storage. On start it also sweeps the directory so files dropped while
// the process was down are not lost.
type Service struct {
	Store      *store.Store
	Files      backend.FileStore
	Logger     *log.Logger
	Dir        string
	Bucket     string
	MaxRetries int

	// OnUploaded is forwarded to the uploader.
	OnUploaded func()

	watcher  *Watcher
	uploader *Uploader
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Start creates the spool directory if needed, sweeps it, and launches
// the watcher and uploader.
func (s *Service) Start() error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create spool directory: %w", err)
	}

	s.uploader = &Uploader{
		Store:      s.Store,
		Files:      s.Files,
		Logger:     s.Logger,
		Bucket:     s.Bucket,
		MaxRetries: s.MaxRetries,
		Interval:   time.Minute,
		OnUploaded: s.OnUploaded,
	}
	if err := s.uploader.Start(); err != nil {
		return err
	}

	w, err := NewWatcher()
	if err != nil {
		s.uploader.Stop()
		return err
	}
	if err := w.Start(s.Dir); err != nil {
		s.uploader.Stop()
		return err
	}
	s.watcher = w

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.intakeLoop(ctx)

	if err := s.Sweep(ctx); err != nil {
		s.Logger.Printf("[spool] startup sweep: %v", err)
	}
	return nil
}

// Stop shuts down the watcher, intake loop, and uploader in order.
func (s *Service) Stop() {
	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			s.Logger.Printf("[spool] stop watcher: %v", err)
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	if s.uploader != nil {
		s.uploader.Stop()
	}
}

// Sweep queues any conforming files already sitting in the spool
// directory. Queue rows are deduplicated by local path, so sweeping is
// idempotent.
func (s *Service) Sweep(ctx context.Context) error {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		pe, ok := ParsePhotoPath(filepath.Join(s.Dir, entry.Name()))
		if !ok {
			continue
		}
		if err := s.queue(ctx, pe); err != nil {
			s.Logger.Printf("[spool] sweep %s: %v", entry.Name(), err)
		}
	}
	return nil
}

func (s *Service) intakeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case pe, ok := <-s.watcher.Events():
			if !ok {
				return
			}
			if err := s.queue(ctx, pe); err != nil {
				s.Logger.Printf("[spool] queue %s: %v", pe.FileName, err)
			}
		case err, ok := <-s.watcher.Errors():
			if !ok {
				return
			}
			s.Logger.Printf("[spool] watcher: %v", err)
		}
	}
}

func (s *Service) queue(ctx context.Context, pe PhotoEvent) error {
	queued, err := s.Store.FileQueuedForPath(ctx, pe.Path)
	if err != nil {
		return err
	}
	if queued {
		return nil
	}
	f, err := s.Store.QueueFile(ctx, pe.RecordID, pe.ProjectID, pe.FileName, contentType(pe.FileName), pe.Path)
	if err != nil {
		return err
	}
	s.Logger.Printf("[spool] queued %s for record %s", f.FileName, f.RecordID)
	s.uploader.Kick()
	return nil
}
