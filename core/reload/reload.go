// Package reload swaps the action set of a registry during development.
// A reload runs BeginReload, repopulates the registry through a Loader and
// commits, rolling back to the previous action set when loading fails.
package reload

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/artpar/actionkit/core/registry"
)

// Loader registers the full action set into reg.
type Loader func(reg *registry.Registry) error

// Reloader drives registry reloads from files and signals.
type Reloader struct {
	reg      *registry.Registry
	load     Loader
	logger   zerolog.Logger
	debounce time.Duration

	// serializes reloads; the registry assumes a single writer
	run sync.Mutex

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	watched  map[string]bool
	timer    *time.Timer
	onReload []func(err error)
	stopCh   chan struct{}
	stopOnce sync.Once
}

// Option configures a Reloader.
type Option func(*Reloader)

// WithDebounce coalesces bursts of file events. Zero reloads on every event.
func WithDebounce(d time.Duration) Option {
	return func(r *Reloader) { r.debounce = d }
}

// New creates a reloader for reg.
func New(reg *registry.Registry, load Loader, logger zerolog.Logger, opts ...Option) *Reloader {
	r := &Reloader{
		reg:      reg,
		load:     load,
		logger:   logger,
		debounce: 100 * time.Millisecond,
		watched:  make(map[string]bool),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnReload registers a callback run after every reload attempt. err is nil
// when the new action set was committed.
func (r *Reloader) OnReload(fn func(err error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onReload = append(r.onReload, fn)
}

// Reload rebuilds the registry. On failure the previous action set is
// restored and the load error returned.
func (r *Reloader) Reload() (err error) {
	r.run.Lock()
	defer r.run.Unlock()

	defer func() { r.notify(err) }()

	if err := r.reg.BeginReload(); err != nil {
		return fmt.Errorf("begin reload: %w", err)
	}

	if err := r.loadSafely(); err != nil {
		if rbErr := r.reg.RollbackReload(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		r.logger.Error().Err(err).Msg("reload failed, kept previous actions")
		return err
	}

	if err := r.reg.CommitReload(); err != nil {
		return fmt.Errorf("commit reload: %w", err)
	}
	r.logger.Info().Int("actions", r.reg.Len()).Msg("actions reloaded")
	return nil
}

func (r *Reloader) loadSafely() (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("loader panic: %v", v)
		}
	}()
	return r.load(r.reg)
}

func (r *Reloader) notify(err error) {
	r.mu.Lock()
	fns := slices.Clone(r.onReload)
	r.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

// Watch reloads when any of paths change. A file path reacts only to that
// file; a directory reacts to every file in it.
func (r *Reloader) Watch(paths ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.watcher == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		r.watcher = w
		go r.watchLoop(w)
	}

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("absolute path: %w", err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}
		dir := abs
		if !info.IsDir() {
			dir = filepath.Dir(abs)
			r.watched[abs] = true
		} else {
			r.watched[abs+string(filepath.Separator)] = true
		}
		// Watch the directory; editors that save atomically replace the file.
		if err := r.watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		r.logger.Info().Str("path", abs).Msg("watching for action changes")
	}
	return nil
}

// WatchSignals reloads on SIGHUP.
func (r *Reloader) WatchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		for {
			select {
			case <-sigCh:
				r.logger.Info().Msg("received SIGHUP, reloading actions")
				_ = r.Reload()
			case <-r.stopCh:
				signal.Stop(sigCh)
				return
			}
		}
	}()
}

// Stop ends file and signal watching.
func (r *Reloader) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.timer != nil {
			r.timer.Stop()
		}
		if r.watcher != nil {
			r.watcher.Close()
		}
	})
}

func (r *Reloader) matches(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	if r.watched[abs] {
		return true
	}
	return r.watched[filepath.Dir(abs)+string(filepath.Separator)]
}

func (r *Reloader) watchLoop(w *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if !r.matches(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			r.logger.Debug().Str("event", event.Op.String()).Str("file", event.Name).Msg("action source changed")
			r.schedule()

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			r.logger.Error().Err(err).Msg("file watcher error")

		case <-r.stopCh:
			return
		}
	}
}

func (r *Reloader) schedule() {
	if r.debounce <= 0 {
		_ = r.Reload()
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.debounce, func() { _ = r.Reload() })
}
