package app

import (
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"
)

const rateLimitPrefix = "colorcraft:ratelimit"

// NewPublicRateLimit limits unauthenticated endpoints per client IP. With a
// Redis client the counters are shared between processes; otherwise each
// process counts on its own. A non-positive limit disables limiting.
func NewPublicRateLimit(perMinute int, client redis.UniversalClient) (func(http.Handler) http.Handler, error) {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }, nil
	}

	var backend limiter.Store
	if client != nil {
		var err error
		backend, err = redisstore.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: rateLimitPrefix})
		if err != nil {
			return nil, fmt.Errorf("rate limit store: %w", err)
		}
	} else {
		backend = memory.NewStoreWithOptions(limiter.StoreOptions{
			Prefix:          rateLimitPrefix,
			CleanUpInterval: limiter.DefaultCleanUpInterval,
		})
	}

	rate := limiter.Rate{Period: time.Minute, Limit: int64(perMinute)}
	middleware := stdlib.NewMiddleware(
		limiter.New(backend, rate, limiter.WithTrustForwardHeader(true)),
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests, please try again shortly", nil)
		}),
		stdlib.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			log.Error("rate limiter failed", "request_id", requestIDFrom(r), "err", err)
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "An unexpected error occurred", nil)
		}),
	)
	return middleware.Handler, nil
}
