package store

import (
	"log"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/coursedeck/coursedeck"
)

// UploadWatcher watches the uploads directory and keeps locally dropped
// courseware files in the active list. Removal events are ignored; entries
// leave the active list only by explicit user action.
type UploadWatcher struct {
	watcher *fsnotify.Watcher
	dir     string
	store   *Store
	done    chan struct{}
}

// NewUploadWatcher creates a watcher for dir, creating the directory when it
// does not exist yet.
func NewUploadWatcher(dir string, store *Store) (*UploadWatcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(dir); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	return &UploadWatcher{
		watcher: fsWatcher,
		dir:     dir,
		store:   store,
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching for dropped courseware files.
func (w *UploadWatcher) Start() {
	go func() {
		for {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
					ext := filepath.Ext(event.Name)
					if ext == ".html" || ext == ".htm" {
						w.ingest(event.Name)
					}
				}

			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[Watch] Error: %v", err)

			case <-w.done:
				return
			}
		}
	}()
}

// ingest parses a dropped file and adds or refreshes it in the active list.
func (w *UploadWatcher) ingest(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[Watch] Failed to read %s: %v", path, err)
		return
	}

	cw := coursedeck.ParseHTML(string(data), filepath.Base(path), nil)
	cw.ID = uuid.NewString()
	cw.FilePath = path

	if w.store.RefreshUpload(path, cw) {
		log.Printf("[Watch] Refreshed upload: %s", filepath.Base(path))
		return
	}
	w.store.Add(cw)
	log.Printf("[Watch] Added upload: %s", filepath.Base(path))
}

// Stop stops the watcher.
func (w *UploadWatcher) Stop() error {
	close(w.done)
	return w.watcher.Close()
}
