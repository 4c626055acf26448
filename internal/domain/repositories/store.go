package repositories

import (
	"context"
	"encoding/json"
)

// Record is one stored document. For store-keyed collections the key is also
// injected into Doc under the collection's key path when read.
type Record struct {
	Key string
	Doc json.RawMessage
}

// Decode unmarshals the document into v
func (r Record) Decode(v interface{}) error {
	return json.Unmarshal(r.Doc, v)
}

// FilterOp is a comparison applied to a document field
type FilterOp string

const (
	OpEq     FilterOp = "eq"
	OpPrefix FilterOp = "prefix"
	OpGte    FilterOp = "gte"
	OpLte    FilterOp = "lte"
)

// Filter compares a top-level document field. Values are compared in their
// text form, so "2024-06-01" ranges and numeric equality both work.
type Filter struct {
	Field string
	Op    FilterOp
	Value interface{}
}

// Eq is shorthand for an equality filter
func Eq(field string, value interface{}) Filter {
	return Filter{Field: field, Op: OpEq, Value: value}
}

// Query selects documents from one collection
type Query struct {
	Where   []Filter
	OrderBy string
	Desc    bool
	Limit   int
	Offset  int
}

// DocumentOps are the document operations available inside and outside a
// transaction.
type DocumentOps interface {
	// Get fetches a document by key; found is false when absent
	Get(ctx context.Context, collection, key string) (rec *Record, found bool, err error)

	// Find returns documents matching q
	Find(ctx context.Context, collection string, q Query) ([]Record, error)

	// Count returns how many documents match q
	Count(ctx context.Context, collection string, q Query) (int, error)

	// Put inserts or replaces a caller-keyed document
	Put(ctx context.Context, collection, key string, doc interface{}) error

	// Insert adds a document to a store-keyed collection and returns its new key
	Insert(ctx context.Context, collection string, doc interface{}) (string, error)

	// Update replaces an existing document; NotFound when the key is absent
	Update(ctx context.Context, collection, key string, doc interface{}) error

	// Delete removes a document; deleting an absent key is not an error
	Delete(ctx context.Context, collection, key string) error

	// Clear removes every document of a collection
	Clear(ctx context.Context, collection string) error
}

// Tx is a transactional scope. All compound read-modify-write sequences run
// inside one.
type Tx interface {
	DocumentOps
}

// Store is the durable structured store owning every clinic collection
type Store interface {
	DocumentOps

	// Tx runs fn in a serializable transaction. A lost race surfaces as a
	// CONCURRENCY_ANOMALY error.
	Tx(ctx context.Context, fn func(tx Tx) error) error

	// Probe performs a bounded read of at most one row from collection
	Probe(ctx context.Context, collection string) error

	// Ping verifies the store is reachable
	Ping(ctx context.Context) error

	// Version returns the schema version the store is migrated to
	Version(ctx context.Context) (int, error)

	// Backend names the implementation ("postgres", "memory")
	Backend() string

	// Close releases the store
	Close() error
}
