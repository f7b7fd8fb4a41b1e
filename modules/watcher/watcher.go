package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GoCodeAlone/dappkit"
	"github.com/fsnotify/fsnotify"
)

// Options configures a Watcher.
type Options struct {
	// Root is the directory changed paths are reported relative to.
	Root     string
	Debounce time.Duration
	// ConfigFile changes call OnConfig instead of being collected.
	ConfigFile string

	// OnChange receives the changed paths of one debounce window, sorted.
	OnChange func(paths []string)
	OnConfig func()
	Logger   dappkit.Logger
}

// Watcher coalesces filesystem changes below a set of watched paths.
type Watcher struct {
	opts   Options
	logger dappkit.Logger
	fsw    *fsnotify.Watcher

	mu      sync.Mutex
	files   map[string]bool
	dirs    map[string]bool
	pending map[string]struct{}
	timer   *time.Timer
}

// New creates a watcher. Call Add, then Run.
func New(opts Options) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = dappkit.NopLogger()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 300 * time.Millisecond
	}
	w := &Watcher{
		opts:    opts,
		logger:  opts.Logger,
		fsw:     fsw,
		files:   make(map[string]bool),
		dirs:    make(map[string]bool),
		pending: make(map[string]struct{}),
	}
	if opts.ConfigFile != "" {
		if err := w.Add(opts.ConfigFile); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Add watches paths. A directory is watched with everything below it; a
// file is watched through its parent directory.
func (w *Watcher) Add(paths ...string) error {
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			w.mu.Lock()
			w.files[abs] = true
			w.mu.Unlock()
			if err := w.fsw.Add(filepath.Dir(abs)); err != nil {
				return err
			}
			continue
		}
		if err := w.addTree(abs); err != nil {
			return err
		}
	}
	return nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		if d.Name() == "node_modules" || (path != root && strings.HasPrefix(d.Name(), ".")) {
			return filepath.SkipDir
		}
		w.mu.Lock()
		w.dirs[path] = true
		w.mu.Unlock()
		return w.fsw.Add(path)
	})
}

// relevant reports whether path is watched, directly or through a watched
// directory.
func (w *Watcher) relevant(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.files[path] || w.dirs[filepath.Dir(path)]
}

// Run delivers changes until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("File watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	path := filepath.Clean(ev.Name)

	if w.opts.ConfigFile != "" && sameFile(path, w.opts.ConfigFile) {
		if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
			w.logger.Info("Configuration file changed, reloading", "path", path)
			if w.opts.OnConfig != nil {
				w.opts.OnConfig()
			}
		}
		return
	}
	if !w.relevant(path) {
		return
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := w.addTree(path); err != nil {
				w.logger.Warn("Failed to watch new directory", "path", path, "error", err)
			}
			return
		}
	}
	w.collect(path)
}

func (w *Watcher) collect(path string) {
	rel := path
	if w.opts.Root != "" {
		if r, err := filepath.Rel(w.opts.Root, path); err == nil && !strings.HasPrefix(r, "..") {
			rel = filepath.ToSlash(r)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[rel] = struct{}{}
	if w.timer == nil {
		w.timer = time.AfterFunc(w.opts.Debounce, w.flush)
	} else {
		w.timer.Reset(w.opts.Debounce)
	}
}

func (w *Watcher) flush() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.timer = nil
	w.mu.Unlock()

	if len(paths) == 0 || w.opts.OnChange == nil {
		return
	}
	sort.Strings(paths)
	w.logger.Debug("Assets changed", "paths", paths)
	w.opts.OnChange(paths)
}

func (w *Watcher) close() {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
	if err := w.fsw.Close(); err != nil && !errors.Is(err, fs.ErrClosed) {
		w.logger.Warn("Failed to close file watcher", "error", err)
	}
}

func sameFile(a, b string) bool {
	absB, err := filepath.Abs(b)
	if err != nil {
		return false
	}
	return a == absB
}
