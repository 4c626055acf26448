package providers

import (
	"context"
)

// LocalStorage is the flat string keyspace holding JSON lists and touch
// markers. Values are read and written whole.
type LocalStorage interface {
	// GetItem returns the value of key; found is false when absent
	GetItem(ctx context.Context, key string) (value string, found bool, err error)

	// SetItem stores value under key
	SetItem(ctx context.Context, key, value string) error

	// RemoveItem deletes key
	RemoveItem(ctx context.Context, key string) error

	// GetItems returns the present values among keys
	GetItems(ctx context.Context, keys ...string) (map[string]string, error)

	// Keys lists keys with the given prefix
	Keys(ctx context.Context, prefix string) ([]string, error)
}
