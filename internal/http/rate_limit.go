package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// NewRateLimitStore usa Redis para compartir contadores entre instancias y
// cae a memoria si no hay cliente o el store no se puede crear.
func NewRateLimitStore(logger *zap.Logger, rdb redis.UniversalClient) limiter.Store {
	if rdb == nil {
		return memory.NewStore()
	}
	store, err := sredis.NewStoreWithOptions(rdb, limiter.StoreOptions{
		Prefix:   "ratelimit:http",
		MaxRetry: 3,
	})
	if err != nil {
		logger.Warn("redis rate limit store unavailable, using memory", zap.Error(err))
		return memory.NewStore()
	}
	return store
}

// RateLimitMiddleware limita requests por IP. Por defecto 10 por minuto.
func RateLimitMiddleware(store limiter.Store, limit int64, period time.Duration) gin.HandlerFunc {
	if limit <= 0 {
		limit = 10
	}
	if period <= 0 {
		period = time.Minute
	}
	if store == nil {
		store = memory.NewStore()
	}
	instance := limiter.New(store, limiter.Rate{Period: period, Limit: limit})

	return func(c *gin.Context) {
		key := c.FullPath() + "|" + c.ClientIP()
		lctx, err := instance.Get(c, key)
		if err != nil {
			// sin contador se deja pasar el request
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests, please try again later."})
			return
		}
		c.Next()
	}
}
