package entitlements

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const DefaultSummaryTTL = 30 * time.Second

// SummarySource computes a fresh usage summary.
type SummarySource interface {
	UsageSummary(ctx context.Context, orgID uint) (Summary, error)
}

// SummaryCache keeps usage summaries in Redis for a short time. Writers call
// Invalidate so a summary read after a write reflects it.
type SummaryCache struct {
	rdb    *redis.Client
	source SummarySource
	ttl    time.Duration
}

func NewSummaryCache(rdb *redis.Client, source SummarySource, ttl time.Duration) *SummaryCache {
	if ttl <= 0 {
		ttl = DefaultSummaryTTL
	}
	return &SummaryCache{rdb: rdb, source: source, ttl: ttl}
}

func summaryKey(orgID uint) string {
	return fmt.Sprintf("usage:summary:%d", orgID)
}

// UsageSummary serves from cache and falls back to the source. Redis errors
// never fail the call.
func (s *SummaryCache) UsageSummary(ctx context.Context, orgID uint) (Summary, error) {
	raw, err := s.rdb.Get(ctx, summaryKey(orgID)).Bytes()
	if err == nil {
		var sum Summary
		if err := json.Unmarshal(raw, &sum); err == nil {
			return sum, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		log.Warnf("[Cache] summary read for organization %d failed: %v", orgID, err)
	}

	sum, err := s.source.UsageSummary(ctx, orgID)
	if err != nil {
		return Summary{}, err
	}
	if data, err := json.Marshal(sum); err == nil {
		if err := s.rdb.Set(ctx, summaryKey(orgID), data, s.ttl).Err(); err != nil {
			log.Warnf("[Cache] summary write for organization %d failed: %v", orgID, err)
		}
	}
	return sum, nil
}

func (s *SummaryCache) Invalidate(ctx context.Context, orgID uint) {
	if err := s.rdb.Del(ctx, summaryKey(orgID)).Err(); err != nil {
		log.Warnf("[Cache] summary invalidation for organization %d failed: %v", orgID, err)
	}
}

// SubscriptionChanged drops the summary after a plan or period change.
func (s *SummaryCache) SubscriptionChanged(ctx context.Context, orgID uint) {
	s.Invalidate(ctx, orgID)
}
