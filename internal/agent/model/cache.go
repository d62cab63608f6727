package model

import "context"

// ClassificationCacheStore is a shared (cross-worker) classification cache.
// Get returns (nil, nil) on a miss.
type ClassificationCacheStore interface {
	Get(ctx context.Context, query string) (*ClassificationResult, error)
	Set(ctx context.Context, query string, result ClassificationResult) error
	// Clear removes every entry and reports how many were removed.
	Clear(ctx context.Context) (int, error)
}
