package providers

import (
	"context"

	"github.com/zatekoja/onesystem-clinic/internal/domain/entities"
)

// DocumentMirror is the optional cloud copy of selected records. It is never
// reconciled with the local store.
type DocumentMirror interface {
	// EnsureCollections creates the mirror collections if missing
	EnsureCollections(ctx context.Context) error

	// Upsert writes doc under id, generating an id when empty. The mirror
	// records a creation timestamp on first write.
	Upsert(ctx context.Context, collection, id string, doc entities.MirrorDocument) (string, error)

	// Get fetches a document; found is false when absent
	Get(ctx context.Context, collection, id string) (entities.MirrorDocument, bool, error)

	// QueryDateRange returns documents whose YYYY-MM-DD field lies in [from, to]
	QueryDateRange(ctx context.Context, collection, field, from, to string, limit int) ([]entities.MirrorDocument, error)

	// Delete removes a document
	Delete(ctx context.Context, collection, id string) error
}
