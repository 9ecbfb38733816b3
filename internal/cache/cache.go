package cache

import (
	"context"
	"fmt"
	"time"

	"cashclose/internal/domain"
)

// SummaryCache holds computed closure summaries. A cache miss is never an
// error; callers recompute.
type SummaryCache interface {
	Get(ctx context.Context, key string) (*domain.ClosureSummary, bool, error)
	Set(ctx context.Context, key string, value *domain.ClosureSummary, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

func SummaryKey(branchID string, date string) string {
	return fmt.Sprintf("closure-summary:%s:%s", branchID, date)
}

type NoopSummaryCache struct{}

func (NoopSummaryCache) Get(_ context.Context, _ string) (*domain.ClosureSummary, bool, error) {
	return nil, false, nil
}

func (NoopSummaryCache) Set(_ context.Context, _ string, _ *domain.ClosureSummary, _ time.Duration) error {
	return nil
}

func (NoopSummaryCache) Invalidate(_ context.Context, _ ...string) error {
	return nil
}
