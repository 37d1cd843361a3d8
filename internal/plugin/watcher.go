package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDelay is how long the watcher waits for changes to settle
// before rediscovering packages.
const DefaultWatchDelay = 250 * time.Millisecond

// ErrWatcherClosed is returned when using a closed watcher.
var ErrWatcherClosed = errors.New("watcher is closed")

// Watcher rediscovers packages when the plugin search paths change.
// Bursts of filesystem events within the delay window are coalesced into
// one refresh. It does not install or reload anything; subscribers to
// EventPackagesChanged decide what to do.
type Watcher struct {
	manager *Manager
	delay   time.Duration
	fsw     *fsnotify.Watcher

	// OnRefresh receives the packages after each refresh. Optional.
	OnRefresh func([]*PackageInfo)

	mu      sync.Mutex
	timer   *time.Timer
	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// NewWatcher creates a watcher over the manager's search paths. A delay of
// zero uses DefaultWatchDelay.
func NewWatcher(m *Manager, delay time.Duration) (*Watcher, error) {
	if delay <= 0 {
		delay = DefaultWatchDelay
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		manager: m,
		delay:   delay,
		fsw:     fsw,
		closeCh: make(chan struct{}),
	}, nil
}

// Start watches every existing search path and each package directory in
// it, then begins processing events. Missing paths are skipped.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}

	for _, base := range w.manager.Loader().Paths() {
		if err := w.watchTree(base); err != nil {
			return err
		}
	}

	w.wg.Add(1)
	go w.processLoop()
	return nil
}

// watchTree watches base and its immediate subdirectories.
func (w *Watcher) watchTree(base string) error {
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := w.fsw.Add(base); err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			_ = w.fsw.Add(filepath.Join(base, entry.Name()))
		}
	}
	return nil
}

func (w *Watcher) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			// New package directories need their own watch
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.fsw.Add(event.Name)
				}
			}
			w.schedule()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.manager.env.Logger.Warn("plugin watcher: %v", err)
		}
	}
}

// schedule (re)starts the debounce timer.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, w.refresh)
}

func (w *Watcher) refresh() {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}

	pkgs, err := w.manager.Loader().Refresh()
	if err != nil {
		w.manager.emitEvent(ManagerEvent{Type: EventPackagesChanged, Error: err})
		return
	}

	w.manager.emitEvent(ManagerEvent{Type: EventPackagesChanged})
	if w.OnRefresh != nil {
		w.OnRefresh(pkgs)
	}
}

// Close stops the watcher. Pending refreshes are dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	close(w.closeCh)
	w.mu.Unlock()

	err := w.fsw.Close()
	w.wg.Wait()
	return err
}
