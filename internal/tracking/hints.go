package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AlphaDataOmega/SurvAI-sub003/internal/models"
)

// MetricsHint maintains advisory per-offer counters in Redis: lifetime
// totals plus TTL'd daily buckets. The counters decorate the offer read
// model only — analytics queries always recompute from click records, so
// drift here is harmless.
type MetricsHint struct {
	client *redis.Client
}

// NewMetricsHint creates a hint counter backed by the given Redis client.
func NewMetricsHint(client *redis.Client) *MetricsHint {
	return &MetricsHint{client: client}
}

// IncrClick bumps the click counters for an offer. Fails open: Redis
// errors are swallowed.
func (h *MetricsHint) IncrClick(ctx context.Context, offerID string) {
	today := time.Now().UTC().Format("2006-01-02")

	pipe := h.client.Pipeline()
	pipe.Incr(ctx, fmt.Sprintf("offer:clicks:%s", offerID))
	dayKey := fmt.Sprintf("offer:clicks:%s:%s", offerID, today)
	pipe.Incr(ctx, dayKey)
	pipe.Expire(ctx, dayKey, 48*time.Hour)
	_, _ = pipe.Exec(ctx)
}

// IncrConversion bumps the conversion and revenue counters for an offer.
func (h *MetricsHint) IncrConversion(ctx context.Context, offerID string, revenue float64) {
	today := time.Now().UTC().Format("2006-01-02")

	pipe := h.client.Pipeline()
	pipe.Incr(ctx, fmt.Sprintf("offer:conversions:%s", offerID))
	dayKey := fmt.Sprintf("offer:conversions:%s:%s", offerID, today)
	pipe.Incr(ctx, dayKey)
	pipe.Expire(ctx, dayKey, 48*time.Hour)
	if revenue > 0 {
		pipe.IncrByFloat(ctx, fmt.Sprintf("offer:revenue:%s", offerID), revenue)
	}
	_, _ = pipe.Exec(ctx)
}

// Snapshot reads the lifetime counters for an offer. Missing keys read as
// zero; errors read as zero as well.
func (h *MetricsHint) Snapshot(ctx context.Context, offerID string) *models.OfferMetrics {
	clicks, err := h.client.Get(ctx, fmt.Sprintf("offer:clicks:%s", offerID)).Int64()
	if err != nil && err != redis.Nil {
		return nil
	}
	conversions, _ := h.client.Get(ctx, fmt.Sprintf("offer:conversions:%s", offerID)).Int64()
	revenue, _ := h.client.Get(ctx, fmt.Sprintf("offer:revenue:%s", offerID)).Float64()

	return &models.OfferMetrics{
		Clicks:      clicks,
		Conversions: conversions,
		Revenue:     revenue,
	}
}
