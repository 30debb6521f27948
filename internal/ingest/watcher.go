package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher ingests patient files dropped into a directory.
type Watcher struct {
	watcher   *fsnotify.Watcher
	ingester  *Ingester
	sessionID string
	logger    *slog.Logger

	// OnIngest, if set, is called after each successfully indexed file.
	OnIngest func(path string, chunks int)
}

// NewWatcher creates a watcher that indexes new files for sessionID.
func NewWatcher(ingester *Ingester, sessionID string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	return &Watcher{
		watcher:   w,
		ingester:  ingester,
		sessionID: sessionID,
		logger:    ingester.logger,
	}, nil
}

// Run watches dir until ctx is cancelled. Created or written files with a
// supported extension are ingested; failures are logged and watching goes on.
func (w *Watcher) Run(ctx context.Context, dir string) error {
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("[Watcher] watching for patient files", "dir", dir, "session", w.sessionID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if DetectFormat(event.Name) == FormatUnknown {
				continue
			}
			n, err := w.ingester.IngestPatientFiles(ctx, w.sessionID, []string{event.Name})
			if err != nil {
				w.logger.Warn("[Watcher] ingest failed", "file", event.Name, "error", err)
				continue
			}
			if n > 0 && w.OnIngest != nil {
				w.OnIngest(event.Name, n)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("[Watcher] watch error", "error", err)
		}
	}
}

// Close stops the underlying watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
