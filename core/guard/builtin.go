package guard

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/artpar/actionkit/core/action"
	"github.com/artpar/actionkit/core/failure"
	"github.com/artpar/actionkit/core/ratelimit"
)

// RequireAuth rejects anonymous callers with 401.
func RequireAuth() action.Guard {
	return func(ctx *action.Context) error {
		if ctx.Auth == nil {
			return failure.Guard(http.StatusUnauthorized, "authentication required")
		}
		return nil
	}
}

// RequireRole admits callers holding at least one of roles.
func RequireRole(roles ...string) action.Guard {
	return func(ctx *action.Context) error {
		if ctx.Auth == nil {
			return failure.Guard(http.StatusUnauthorized, "authentication required")
		}
		for _, r := range roles {
			if ctx.Auth.HasRole(r) {
				return nil
			}
		}
		return failure.Guard(http.StatusForbidden, "requires role "+strings.Join(roles, " or "))
	}
}

// KeyFunc derives the rate limit key for an invocation.
type KeyFunc func(ctx *action.Context) string

// BySubject keys by the authenticated subject, falling back to the
// client address.
func BySubject(ctx *action.Context) string {
	if ctx.Auth != nil && ctx.Auth.Subject != "" {
		return "sub:" + ctx.Auth.Subject
	}
	if ctx.Request != nil {
		return "ip:" + clientIP(ctx.Request)
	}
	return "anonymous"
}

// RateLimit rejects with 429 once the key exhausts its window.
func RateLimit(l *ratelimit.Limiter, key KeyFunc) action.Guard {
	if key == nil {
		key = BySubject
	}
	return func(ctx *action.Context) error {
		k := ctx.Key + "|" + key(ctx)
		res, err := l.Allow(ctx, k)
		if err != nil {
			return err
		}
		if res.Allowed {
			return nil
		}
		if ctx.Response != nil {
			wait := ratelimit.RetryAfter(res, l.Now())
			ctx.Response.SetHeader("Retry-After", strconv.Itoa(int(wait.Seconds()+0.999)))
		}
		return failure.Guard(http.StatusTooManyRequests, "rate limit exceeded")
	}
}

// Hasher compares a plaintext secret against a stored hash.
type Hasher interface {
	Compare(hash []byte, plaintext string) bool
}

// APIKey admits requests whose header carries a key matching one of the
// stored hashes. On success it sets Auth when no identity is present yet.
func APIKey(header string, h Hasher, keys map[string][]byte) action.Guard {
	return func(ctx *action.Context) error {
		if ctx.Request == nil {
			return failure.Guard(http.StatusUnauthorized, "api key required")
		}
		raw := strings.TrimSpace(ctx.Request.Header.Get(header))
		if raw == "" {
			return failure.Guard(http.StatusUnauthorized, "api key required")
		}
		for subject, hash := range keys {
			if h.Compare(hash, raw) {
				if ctx.Auth == nil {
					ctx.Auth = &action.Identity{Subject: subject}
				}
				return nil
			}
		}
		return failure.Guard(http.StatusUnauthorized, "invalid api key")
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		return host[:i]
	}
	return host
}
