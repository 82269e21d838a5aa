package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ngoyal88/costrelay/pkg/cache"
	"github.com/ngoyal88/costrelay/pkg/config"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// maxLocalClients bounds how many per-client limiters are kept in memory.
const maxLocalClients = 4096

// NewRateLimiter limits each client to ratelimit.requests_per_minute. With a
// Redis client the budget is shared across instances through redis_rate;
// otherwise it is enforced in-process. Limits follow config reloads.
func NewRateLimiter(rdb *cache.Client, store *config.Store, log zerolog.Logger) func(http.Handler) http.Handler {
	var allow func(ctx context.Context, key string, cfg config.RateLimitConfig) (bool, time.Duration)
	if rdb != nil {
		allow = redisAllow(redis_rate.NewLimiter(rdb.Redis()), log)
	} else {
		allow = newLocalLimiter().allow
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cfg := store.Get()
			if cfg == nil || !cfg.RateLimit.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			ok, retryAfter := allow(r.Context(), clientKey(r, cfg.Auth.Header), cfg.RateLimit)
			if !ok {
				rateLimited.Inc()
				secs := int(retryAfter.Round(time.Second) / time.Second)
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				respondError(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func redisAllow(limiter *redis_rate.Limiter, log zerolog.Logger) func(context.Context, string, config.RateLimitConfig) (bool, time.Duration) {
	return func(ctx context.Context, key string, cfg config.RateLimitConfig) (bool, time.Duration) {
		limit := redis_rate.Limit{
			Rate:   cfg.RequestsPerMinute,
			Burst:  burst(cfg),
			Period: time.Minute,
		}
		res, err := limiter.Allow(ctx, "ratelimit:"+key, limit)
		if err != nil {
			// Fail open: a Redis outage must not take the API down with it.
			log.Warn().Err(err).Msg("distributed rate limiter unavailable, allowing request")
			return true, 0
		}
		return res.Allowed > 0, res.RetryAfter
	}
}

type localLimiter struct {
	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
}

func newLocalLimiter() *localLimiter {
	c, _ := lru.New[string, *rate.Limiter](maxLocalClients)
	return &localLimiter{limiters: c}
}

func (l *localLimiter) allow(_ context.Context, key string, cfg config.RateLimitConfig) (bool, time.Duration) {
	every := rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	b := burst(cfg)

	l.mu.Lock()
	lim, ok := l.limiters.Get(key)
	if !ok {
		lim = rate.NewLimiter(every, b)
		l.limiters.Add(key, lim)
	} else if lim.Limit() != every || lim.Burst() != b {
		lim.SetLimit(every)
		lim.SetBurst(b)
	}
	l.mu.Unlock()

	res := lim.Reserve()
	if d := res.Delay(); d > 0 {
		res.Cancel()
		return false, d
	}
	return true, 0
}

func burst(cfg config.RateLimitConfig) int {
	if cfg.Burst > 0 {
		return cfg.Burst
	}
	return cfg.RequestsPerMinute
}

// clientKey identifies the caller by API key when present, else by address.
// Keys are hashed so they never end up in Redis in the clear.
func clientKey(r *http.Request, header string) string {
	if header != "" {
		if k := r.Header.Get(header); k != "" {
			sum := sha256.Sum256([]byte(k))
			return "key:" + hex.EncodeToString(sum[:8])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
