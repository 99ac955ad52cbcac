package bootstrap

import (
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/artpar/actionkit/adapters/hasher"
	"github.com/artpar/actionkit/adapters/redis"
	"github.com/artpar/actionkit/config"
	"github.com/artpar/actionkit/core/action"
	"github.com/artpar/actionkit/core/guard"
	"github.com/artpar/actionkit/core/ratelimit"
	"github.com/artpar/actionkit/core/trigger"
)

// GlobalGuards builds the guards configured for every module: the API key
// check when keys are configured, then the rate limit when enabled. Both
// apply to HTTP and webhook invocations only. The rate limit window lives
// in Redis when a client is given, in memory otherwise.
func GlobalGuards(cfg *config.Config, client *goredis.Client, logger zerolog.Logger) ([]action.Guard, error) {
	var guards []action.Guard

	if len(cfg.Auth.Keys) > 0 {
		h := hasher.NewBcrypt(cfg.Auth.BcryptCost)
		keys, err := h.HashKeys(cfg.Auth.Keys)
		if err != nil {
			return nil, fmt.Errorf("hash api keys: %w", err)
		}
		guards = append(guards, requestOnly(guard.APIKey(cfg.Auth.Header, h, keys)))
		logger.Info().Int("keys", len(keys)).Str("header", cfg.Auth.Header).Msg("api key guard enabled")
	}

	if cfg.RateLimit.Enabled {
		var store ratelimit.Store = ratelimit.NewMemoryStore()
		if client != nil {
			store = redis.NewRateLimitStore(client, cfg.Redis.Prefix+"ratelimit:")
		}
		limiter := ratelimit.NewLimiter(store, ratelimit.Config{
			Limit:       cfg.RateLimit.Limit,
			Window:      cfg.RateLimit.Window,
			BurstTokens: cfg.RateLimit.BurstTokens,
		}, time.Now)
		guards = append(guards, requestOnly(guard.RateLimit(limiter, nil)))
		logger.Info().
			Int("limit", cfg.RateLimit.Limit).
			Dur("window", cfg.RateLimit.Window).
			Bool("redis", client != nil).
			Msg("rate limit guard enabled")
	}

	return guards, nil
}

// requestOnly skips g for invocations that did not arrive over HTTP.
func requestOnly(g action.Guard) action.Guard {
	return func(ctx *action.Context) error {
		if ctx.Request == nil || ctx.Trigger == trigger.Internal {
			return nil
		}
		return g(ctx)
	}
}

// WithGuards returns a copy of mod whose guards run after the given ones.
// The module's own guard mode is kept for its own guards.
func WithGuards(mod action.Module, guards ...action.Guard) action.Module {
	if len(guards) == 0 {
		return mod
	}
	own := mod.Guards
	all := append([]action.Guard{}, guards...)
	if !own.Empty() {
		all = append(all, func(ctx *action.Context) error {
			return guard.Run(ctx, own)
		})
	}
	mod.Guards = guard.Sequential(all...)
	return mod
}
