package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherOption configures a [Watcher] or [FileWatcher].
type WatcherOption func(*FileWatcher)

// WithDebounce sets how long the watcher waits after the last file event
// before reloading. Editors often write a file in several steps. The default
// is 200ms.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// FileWatcher delivers the contents of a single file every time it changes on
// disk. It watches the parent directory so that atomic saves (write to a temp
// file, then rename over the original) are seen. Writes that leave the content
// unchanged are ignored.
type FileWatcher struct {
	path     string
	debounce time.Duration
	onData   func([]byte) error

	fs       *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// guarded by the run goroutine
	lastHash [sha256.Size]byte
}

// WatchFile starts watching path. onData is called from a background
// goroutine with the new file contents; when it returns an error the change
// is logged and the next change is delivered again even if identical.
func WatchFile(path string, onData func([]byte) error, opts ...WatcherOption) (*FileWatcher, error) {
	data, _ := os.ReadFile(path)
	return watchFile(path, data, onData, opts...)
}

func watchFile(path string, initial []byte, onData func([]byte) error, opts ...WatcherOption) (*FileWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create fsnotify watcher: %w", err)
	}
	if err := fs.Add(filepath.Dir(abs)); err != nil {
		fs.Close()
		return nil, fmt.Errorf("config: watch %q: %w", filepath.Dir(abs), err)
	}

	w := &FileWatcher{
		path:     filepath.Clean(abs),
		debounce: 200 * time.Millisecond,
		onData:   onData,
		fs:       fs,
		done:     make(chan struct{}),
	}
	if initial != nil {
		w.lastHash = sha256.Sum256(initial)
	}
	for _, opt := range opts {
		opt(w)
	}

	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Stop stops the watcher and waits for a running callback to return. It must
// not be called from inside the callback.
func (w *FileWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
		w.fs.Close()
	})
}

func (w *FileWatcher) run() {
	defer w.wg.Done()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		case evt, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != w.path {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			slog.Warn("file watcher: fsnotify error", "path", w.path, "err", err)
		case <-fire:
			fire = nil
			w.check()
		}
	}
}

func (w *FileWatcher) check() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		// Renamed away mid-save; the following create event reloads it.
		slog.Debug("file watcher: cannot read file", "path", w.path, "err", err)
		return
	}
	hash := sha256.Sum256(data)
	if hash == w.lastHash {
		return
	}
	if err := w.onData(data); err != nil {
		slog.Warn("file watcher: rejected change", "path", w.path, "err", err)
		return
	}
	w.lastHash = hash
}

// Watcher monitors a config file and calls a callback with the old and new
// configuration whenever the file changes to a different, valid config.
// Invalid edits are logged and the previous config stays current.
type Watcher struct {
	path     string
	onChange func(old, new *Config)
	file     *FileWatcher

	mu      sync.Mutex
	current *Config
}

// NewWatcher creates a config file watcher. It loads the initial config
// immediately and starts watching in a background goroutine.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}

	w := &Watcher{path: path, onChange: onChange, current: cfg}
	if w.file, err = watchFile(path, data, w.apply, opts...); err != nil {
		return nil, err
	}
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops the file watcher.
func (w *Watcher) Stop() {
	w.file.Stop()
}

func (w *Watcher) apply(data []byte) error {
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return err
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)

	// Invoke the callback outside the lock so it can safely call Current().
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return nil
}
