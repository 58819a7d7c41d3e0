package router

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"

	"github.com/genesis-provenance/genesis/internal/pkg/env"
	"github.com/genesis-provenance/genesis/internal/pkg/tenantcontext"
)

const (
	defaultRateLimitMax    = 120
	defaultRateLimitWindow = time.Minute
)

// LimiterConfig controls the per-organization API rate limit. A nil Storage
// keeps counters in process memory.
type LimiterConfig struct {
	Max        int
	Expiration time.Duration
	Storage    fiber.Storage
}

// LoadLimiterConfig reads RATE_LIMIT_* and shares counters through Redis so
// every replica enforces the same limit.
func LoadLimiterConfig() LimiterConfig {
	return LimiterConfig{
		Max:        env.GetEnvInt("RATE_LIMIT_MAX", defaultRateLimitMax),
		Expiration: time.Duration(env.GetEnvInt("RATE_LIMIT_WINDOW_SECONDS", int(defaultRateLimitWindow/time.Second))) * time.Second,
		Storage:    NewLimiterStorage(),
	}
}

// NewLimiterStorage opens the Redis storage for limiter counters. Database 2
// keeps them apart from the cache (0) and the job queue.
func NewLimiterStorage() fiber.Storage {
	port, err := strconv.Atoi(env.GetEnv("CACHE_PORT", "6379"))
	if err != nil {
		port = 6379
	}
	return redisstorage.New(redisstorage.Config{
		Host:     env.GetEnv("CACHE_HOST", "localhost"),
		Port:     port,
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		Database: env.GetEnvInt("RATE_LIMIT_REDIS_DB", 2),
		Reset:    false,
	})
}

// NewRateLimiter keys requests by organization, falling back to the client IP
// for unauthenticated calls.
func NewRateLimiter(cfg LimiterConfig) fiber.Handler {
	if cfg.Max <= 0 {
		cfg.Max = defaultRateLimitMax
	}
	if cfg.Expiration <= 0 {
		cfg.Expiration = defaultRateLimitWindow
	}
	return limiter.New(limiter.Config{
		Max:          cfg.Max,
		Expiration:   cfg.Expiration,
		Storage:      cfg.Storage,
		KeyGenerator: limiterKey,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "Too many requests, slow down",
			})
		},
	})
}

func limiterKey(c *fiber.Ctx) string {
	if orgID := tenantcontext.GetOrganizationID(c); orgID != 0 {
		return fmt.Sprintf("org:%d", orgID)
	}
	return "ip:" + c.IP()
}
