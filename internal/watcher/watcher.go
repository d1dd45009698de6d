package watcher

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/JohnPreston/credproxy/internal/config"
	"github.com/JohnPreston/credproxy/internal/credential"
	"github.com/JohnPreston/credproxy/internal/log"
)

// Watcher drives dynamic service discovery: it subscribes to filesystem
// events for the configured directories, debounces change bursts for the
// reload interval, and runs a reconciliation pass once the directory
// contents go quiet.
type Watcher struct {
	cfg        config.DynamicServices
	reconciler *Reconciler
	fsw        *fsnotify.Watcher
	done       chan struct{}
}

// New builds a watcher for the dynamic services configuration.
func New(cfg config.DynamicServices, defaults *config.SourceCredentials, table *credential.Table) *Watcher {
	return &Watcher{
		cfg:        cfg,
		reconciler: NewReconciler(cfg.Directories, defaults, table),
		done:       make(chan struct{}),
	}
}

// Start creates missing directories, loads the files already present, and
// launches the event loop. It returns once the initial load has completed.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating filesystem watcher: %w", err)
	}
	w.fsw = fsw

	for _, dir := range w.cfg.Directories {
		if err := os.MkdirAll(dir.Path, 0o755); err != nil {
			fsw.Close()
			return fmt.Errorf("creating watch directory %s: %w", dir.Path, err)
		}
		if err := fsw.Add(dir.Path); err != nil {
			fsw.Close()
			return fmt.Errorf("watching directory %s: %w", dir.Path, err)
		}
		log.Info("watching directory", "directory", dir.Path)
	}

	// Pick up files that existed before the watch began.
	w.reconciler.ReconcileAll()

	go w.run(ctx)
	return nil
}

// Done is closed when the event loop has exited.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// run is the debounce state machine: idle until an event arrives, then
// collecting while events keep coming, firing one reconciliation pass after
// a full quiet period. The timer restarts on every relevant event.
func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	defer w.fsw.Close()

	interval := w.cfg.ReloadIntervalDuration()
	timer := time.NewTimer(interval)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	var pending bool
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			log.Debug("filesystem event", "op", event.Op.String(), "file", event.Name)
			if pending && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(interval)
			pending = true

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warn("filesystem watch error", "error", err)

		case <-timer.C:
			pending = false
			w.reconciler.ReconcileAll()
		}
	}
}

// relevant reports whether an event concerns a file one of the watched
// directories would load.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) &&
		!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return false
	}
	path := NormalizePath(event.Name)
	for _, dir := range w.reconciler.dirs {
		if strings.HasPrefix(path, NormalizePath(dir.spec.Path)+"/") {
			return dir.filter.Match(path)
		}
	}
	return false
}
