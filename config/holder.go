package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Holder serves the current configuration and swaps it on reload. Readers
// never block; a failed reload keeps the previous configuration.
type Holder struct {
	current atomic.Pointer[Config]
	path    string
	logger  zerolog.Logger

	mu        sync.Mutex
	listeners []func(*Config)

	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHolder creates a new config holder and loads the initial configuration.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}

	h := &Holder{
		path:   absPath,
		logger: logger.With().Str("component", "config").Logger(),
		stopCh: make(chan struct{}),
	}
	h.current.Store(cfg)
	return h, nil
}

// Get returns the current configuration.
func (h *Holder) Get() *Config {
	return h.current.Load()
}

// Path returns the absolute path of the config file.
func (h *Holder) Path() string {
	return h.path
}

// Reload loads the file again and, when it is valid, publishes it and runs
// the OnChange listeners in registration order.
func (h *Holder) Reload() error {
	next, err := Load(h.path)
	if err != nil {
		h.logger.Error().Err(err).Str("path", h.path).Msg("config reload failed, keeping previous config")
		return fmt.Errorf("reload config: %w", err)
	}

	// Listeners run under mu so concurrent reloads apply in publish order.
	h.mu.Lock()
	defer h.mu.Unlock()

	prev := h.current.Swap(next)
	h.logChanges(prev, next)
	for _, fn := range h.listeners {
		fn(next)
	}
	h.logger.Info().Str("path", h.path).Msg("config reloaded")
	return nil
}

// OnChange registers fn to run after every successful Reload. fn must not
// call OnChange or Reload.
func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// WatchFile starts watching the config file for changes.
func (h *Holder) WatchFile() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	h.watcher = watcher

	// Editors that save atomically replace the file, so watch the directory.
	dir := filepath.Dir(h.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	go h.watchLoop()

	h.logger.Info().Str("path", h.path).Msg("watching config file for changes")
	return nil
}

// Stop stops watching for file changes.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}

// watchLoop coalesces bursts of write events into one Reload after the
// configured debounce interval.
func (h *Holder) watchLoop() {
	filename := filepath.Base(h.path)
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
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			h.logger.Debug().Str("event", event.Op.String()).Msg("config file changed")

			delay := h.Get().Dev.Debounce
			if timer == nil {
				timer = time.NewTimer(delay)
			} else {
				timer.Reset(delay)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := h.Reload(); err != nil {
				h.logger.Error().Err(err).Msg("file watch reload failed")
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("config watcher error")

		case <-h.stopCh:
			return
		}
	}
}

func (h *Holder) logChanges(old, new *Config) {
	if old.Logging.Level != new.Logging.Level {
		h.logger.Info().
			Str("old", old.Logging.Level).
			Str("new", new.Logging.Level).
			Msg("log level changed")
	}

	if old.Retry != new.Retry {
		h.logger.Info().
			Int("max_attempts", new.Retry.MaxAttempts).
			Str("backoff", new.Retry.Backoff).
			Dur("base_delay", new.Retry.BaseDelay).
			Msg("default retry policy changed")
	}

	if old.RateLimit != new.RateLimit {
		h.logger.Info().
			Int("old", old.RateLimit.Limit).
			Int("new", new.RateLimit.Limit).
			Msg("rate limit changed")
	}

	for _, f := range NonReloadableFields() {
		if changed(old, new, f) {
			h.logger.Warn().Str("field", f).Msg("field changed but requires a restart")
		}
	}
}

func changed(old, new *Config, field string) bool {
	switch field {
	case "server.host":
		return old.Server.Host != new.Server.Host
	case "server.port":
		return old.Server.Port != new.Server.Port
	case "audit.driver":
		return old.Audit.Driver != new.Audit.Driver
	case "audit.dsn":
		return old.Audit.DSN != new.Audit.DSN
	case "redis.address":
		return old.Redis.Address != new.Redis.Address
	case "mcp.transport":
		return old.MCP.Transport != new.MCP.Transport
	}
	return false
}

// ReloadableFields returns which fields can be changed without restart.
func ReloadableFields() []string {
	return []string{
		"logging.level",
		"dev.debounce",
		"retry.max_attempts",
		"retry.backoff",
		"retry.base_delay",
		"retry.max_delay",
		"retry.deadline",
	}
}

// NonReloadableFields returns which fields require a restart.
func NonReloadableFields() []string {
	return []string{
		"server.host",
		"server.port",
		"audit.driver",
		"audit.dsn",
		"redis.address",
		"mcp.transport",
	}
}
