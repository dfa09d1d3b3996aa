package cache

import (
	"context"
	"time"

	"coffybyte/backend/internal/domain"
)

// MenuCache holds the per-store menu snapshot served to POS terminals.
// Catalog writes must invalidate the store's entry.
type MenuCache interface {
	Get(ctx context.Context, storeID string) ([]domain.MenuItem, bool, error)
	Set(ctx context.Context, storeID string, items []domain.MenuItem, ttl time.Duration) error
	Invalidate(ctx context.Context, storeID string) error
}

type NoopMenuCache struct{}

func (NoopMenuCache) Get(_ context.Context, _ string) ([]domain.MenuItem, bool, error) {
	return nil, false, nil
}

func (NoopMenuCache) Set(_ context.Context, _ string, _ []domain.MenuItem, _ time.Duration) error {
	return nil
}

func (NoopMenuCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
