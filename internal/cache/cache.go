package cache

import (
	"context"
	"time"

	"github.com/kazu-2020/bento-manager-sub000/internal/domain"
)

// HealthCache stores the catalog price-health report between admin writes.
type HealthCache interface {
	Get(ctx context.Context, key string) (*domain.MissingPriceReport, bool, error)
	Set(ctx context.Context, key string, value *domain.MissingPriceReport, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type NoopHealthCache struct{}

func (NoopHealthCache) Get(_ context.Context, _ string) (*domain.MissingPriceReport, bool, error) {
	return nil, false, nil
}

func (NoopHealthCache) Set(_ context.Context, _ string, _ *domain.MissingPriceReport, _ time.Duration) error {
	return nil
}

func (NoopHealthCache) Delete(_ context.Context, _ string) error {
	return nil
}
