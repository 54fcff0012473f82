package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/msms-dev/msms-api/internal/models"
)

const termCalendarKey = "msms:terms:calendar"

// CacheService keeps a redis copy of the ordered school-term calendar for
// read endpoints. All methods degrade to a no-op when redis is absent.
type CacheService struct {
	client  *redis.Client
	ttl     time.Duration
	metrics *MetricsService
	logger  *zap.Logger
}

// NewCacheService constructs the calendar cache.
func NewCacheService(client *redis.Client, ttl time.Duration, logger *zap.Logger) *CacheService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CacheService{client: client, ttl: ttl, logger: logger}
}

// WithMetrics attaches hit/miss instrumentation.
func (s *CacheService) WithMetrics(m *MetricsService) *CacheService {
	s.metrics = m
	return s
}

// GetTerms returns the cached calendar and whether it was present.
func (s *CacheService) GetTerms(ctx context.Context) ([]models.SchoolTerm, bool) {
	if s == nil || s.client == nil {
		return nil, false
	}
	raw, err := s.client.Get(ctx, termCalendarKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("term calendar cache read failed", zap.Error(err))
		}
		s.metrics.RecordCacheOperation(false)
		return nil, false
	}
	var terms []models.SchoolTerm
	if err := json.Unmarshal(raw, &terms); err != nil {
		s.logger.Warn("term calendar cache decode failed", zap.Error(err))
		s.metrics.RecordCacheOperation(false)
		return nil, false
	}
	s.metrics.RecordCacheOperation(true)
	return terms, true
}

// SetTerms stores the calendar with the configured TTL.
func (s *CacheService) SetTerms(ctx context.Context, terms []models.SchoolTerm) {
	if s == nil || s.client == nil {
		return
	}
	raw, err := json.Marshal(terms)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, termCalendarKey, raw, s.ttl).Err(); err != nil {
		s.logger.Warn("term calendar cache write failed", zap.Error(err))
	}
}

// Invalidate drops the cached calendar after any registry mutation.
func (s *CacheService) Invalidate(ctx context.Context) {
	if s == nil || s.client == nil {
		return
	}
	if err := s.client.Del(ctx, termCalendarKey).Err(); err != nil {
		s.logger.Warn("term calendar cache invalidation failed", zap.Error(err))
	}
}
