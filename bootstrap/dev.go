package bootstrap

import (
	"github.com/rs/zerolog"

	"github.com/artpar/actionkit/config"
	"github.com/artpar/actionkit/core/channel"
	"github.com/artpar/actionkit/core/reload"
)

// initReload rebuilds the registry when watched paths change or SIGHUP
// arrives, and applies reloadable config fields when the config file
// changes.
func (a *App) initReload() error {
	logger := a.Logger.With().Str("component", "reload").Logger()
	a.Reloader = reload.New(a.Registry, a.load, logger, reload.WithDebounce(a.Config.Dev.Debounce))

	if a.Metrics != nil {
		a.Reloader.OnReload(a.Metrics.Reloaded)
	}
	a.Reloader.OnReload(func(err error) {
		if err != nil {
			return
		}
		if err := channel.Remount(a.Registry, a.channels...); err != nil {
			logger.Error().Err(err).Msg("remounting channels failed")
			return
		}
		logger.Info().Int("actions", a.Registry.Len()).Msg("channels remounted")
	})

	if len(a.Config.Dev.Watch) > 0 {
		if err := a.Reloader.Watch(a.Config.Dev.Watch...); err != nil {
			return err
		}
	}
	a.Reloader.WatchSignals()

	if a.Holder != nil {
		a.Holder.OnChange(a.applyConfig)
		if err := a.Holder.WatchFile(); err != nil {
			return err
		}
	}
	return nil
}

// applyConfig applies the reloadable fields of cfg.
func (a *App) applyConfig(cfg *config.Config) {
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	a.Executor.SetDefaultRetry(cfg.Retry.Policy())
}
