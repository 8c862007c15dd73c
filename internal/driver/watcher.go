package driver

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/buildorch/internal/logfields"
)

// DefaultDebounce collapses bursts of editor writes into one trigger.
const DefaultDebounce = 2 * time.Second

// CollectionWatcher calls onChange when the collection file is written, created
// or renamed into place.
type CollectionWatcher struct {
	path     string
	onChange func(ctx context.Context)
	debounce time.Duration
	clock    clockwork.Clock
	watcher  *fsnotify.Watcher

	mu      sync.Mutex
	timer   clockwork.Timer
	stopped chan struct{}
}

// NewCollectionWatcher watches path. A zero debounce uses DefaultDebounce.
func NewCollectionWatcher(path string, debounce time.Duration, clock clockwork.Clock, onChange func(ctx context.Context)) (*CollectionWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve collection path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CollectionWatcher{
		path:     abs,
		onChange: onChange,
		debounce: debounce,
		clock:    clock,
		watcher:  w,
	}, nil
}

// Start watches the file's directory, which survives editors replacing the file.
func (cw *CollectionWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(cw.path)
	if err := cw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch collection directory %s: %w", dir, err)
	}
	slog.Info("Watching collection file", logfields.Path(cw.path))
	stopped := make(chan struct{})
	cw.mu.Lock()
	cw.stopped = stopped
	cw.mu.Unlock()
	go cw.loop(ctx, stopped)
	return nil
}

// Stop ends the watch.
func (cw *CollectionWatcher) Stop() error {
	cw.mu.Lock()
	if cw.timer != nil {
		cw.timer.Stop()
	}
	stopped := cw.stopped
	cw.mu.Unlock()
	err := cw.watcher.Close()
	if stopped != nil {
		<-stopped
	}
	return err
}

func (cw *CollectionWatcher) loop(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)
	name := filepath.Base(cw.path)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				slog.Debug("Collection file changed", logfields.Path(event.Name), slog.String("op", event.Op.String()))
				cw.schedule(ctx)
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Collection watcher error", logfields.Error(err))
		}
	}
}

func (cw *CollectionWatcher) schedule(ctx context.Context) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.timer != nil {
		cw.timer.Stop()
	}
	cw.timer = cw.clock.AfterFunc(cw.debounce, func() { cw.onChange(ctx) })
}
