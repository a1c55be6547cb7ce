// Package spool watches a drop directory for captured photos and drains
// the resulting upload queue to remote object storage.
package spool

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// photoExtensions are the file types accepted from the spool directory.
var photoExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".heic": true,
	".webp": true,
}

// PhotoEvent reports a new photo dropped into the spool directory.
// Files follow the naming convention <recordID>__<projectID>__<name.ext>
// so the capturing app can hand over ownership without a second channel.
type PhotoEvent struct {
	Path      string
	RecordID  string
	ProjectID string
	FileName  string
}

// Watcher monitors the spool directory using fsnotify and emits a
// PhotoEvent for every completed photo drop.
type Watcher struct {
	watcher *fsnotify.Watcher
	events  chan PhotoEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	dir     string
}

// NewWatcher creates a spool watcher. It must be started with Start
// before it emits events.
func NewWatcher() (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		watcher: w,
		events:  make(chan PhotoEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the spool directory for new photo files.
func (w *Watcher) Start(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}
	w.dir = dir
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch spool directory %s: %w", dir, err)
	}
	w.running = true
	w.wg.Add(1)
	go w.processEvents()
	return nil
}

// Stop stops watching and blocks until the event loop has exited.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return nil
}

// Events returns the channel emitting photo drops. Closed on Stop.
func (w *Watcher) Events() <-chan PhotoEvent {
	return w.events
}

// Errors returns the channel emitting watcher errors. Closed on Stop.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			// Writers drop the file then rename or chmod it to mark
			// completion; Create covers atomic renames into the dir.
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			pe, ok := ParsePhotoPath(event.Name)
			if !ok {
				continue
			}
			select {
			case w.events <- pe:
			case <-w.done:
				return
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			case <-w.done:
				return
			}
		}
	}
}

// ParsePhotoPath validates the spool naming convention and splits a path
// into its PhotoEvent parts. Returns false for files that do not match.
func ParsePhotoPath(path string) (PhotoEvent, bool) {
	base := filepath.Base(path)
	if !photoExtensions[strings.ToLower(filepath.Ext(base))] {
		return PhotoEvent{}, false
	}
	parts := strings.SplitN(base, "__", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return PhotoEvent{}, false
	}
	if strings.TrimSuffix(parts[2], filepath.Ext(parts[2])) == "" {
		return PhotoEvent{}, false
	}
	return PhotoEvent{
		Path:      path,
		RecordID:  parts[0],
		ProjectID: parts[1],
		FileName:  parts[2],
	}, true
}
