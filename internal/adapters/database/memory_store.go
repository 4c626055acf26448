package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/zatekoja/onesystem-clinic/internal/domain/repositories"
	"github.com/zatekoja/onesystem-clinic/internal/domain/schema"
	apperrors "github.com/zatekoja/onesystem-clinic/pkg/errors"
)

// BackendMemory names the in-process store
const BackendMemory = "memory"

type memCollection struct {
	docs map[string]json.RawMessage
	seq  int64
}

type memState struct {
	schema *schema.Schema
	cols   map[string]*memCollection
}

func (s *memState) clone() *memState {
	out := &memState{schema: s.schema, cols: make(map[string]*memCollection, len(s.cols))}
	for name, c := range s.cols {
		docs := make(map[string]json.RawMessage, len(c.docs))
		for k, v := range c.docs {
			docs[k] = v
		}
		out.cols[name] = &memCollection{docs: docs, seq: c.seq}
	}
	return out
}

// MemoryStore is a process-local Store. Transactions work on a copy of the
// data that replaces the live set on commit, and run one at a time.
type MemoryStore struct {
	mu       sync.Mutex
	registry *schema.Registry
	state    *memState
	version  int
	failures map[string]error
	closed   bool
}

// NewMemoryStore opens an empty store and migrates it to the registry's
// current version.
func NewMemoryStore(ctx context.Context, registry *schema.Registry) (*MemoryStore, error) {
	s := &MemoryStore{
		registry: registry,
		state:    &memState{schema: &schema.Schema{Collections: map[string]schema.Collection{}}, cols: map[string]*memCollection{}},
		failures: map[string]error{},
	}
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Migrate applies pending migrations in order. Already-current stores are left alone.
func (s *MemoryStore) Migrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.registry.Pending(s.version) {
		next := s.state.clone()
		sch, err := s.registry.At(m.Version)
		if err != nil {
			return err
		}
		next.schema = sch
		for _, c := range m.Add {
			next.cols[c.Name] = &memCollection{docs: map[string]json.RawMessage{}}
		}
		if m.TouchUp != nil {
			if err := m.TouchUp(ctx, &memOps{state: next}); err != nil {
				return apperrors.NewInternalError(fmt.Sprintf("migration v%d touch-up failed", m.Version), err)
			}
		}
		s.state = next
		s.version = m.Version
	}
	return nil
}

// Drill hooks. FailCollection and CorruptDocument simulate an unavailable or
// damaged collection so health probes and the queue fallbacks can be
// exercised without a real fault.

// FailCollection makes every operation on collection fail with err until
// cleared with a nil err.
func (s *MemoryStore) FailCollection(collection string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, collection)
		return
	}
	s.failures[collection] = err
}

// CorruptDocument overwrites an existing document with raw bytes, bypassing
// validation. It reports false and changes nothing when the document does
// not exist.
func (s *MemoryStore) CorruptDocument(collection, key string, raw []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.state.cols[collection]
	if !ok {
		return false
	}
	if _, ok := c.docs[key]; !ok {
		return false
	}
	c.docs[key] = raw
	return true
}

func (s *MemoryStore) ops() (*memOps, error) {
	if s.closed {
		return nil, apperrors.NewStoreUnavailableError("store is closed", nil)
	}
	return &memOps{state: s.state, failures: s.failures}, nil
}

// Get fetches a document by key
func (s *MemoryStore) Get(ctx context.Context, collection, key string) (*repositories.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops, err := s.ops()
	if err != nil {
		return nil, false, err
	}
	return ops.Get(ctx, collection, key)
}

// Find returns matching documents
func (s *MemoryStore) Find(ctx context.Context, collection string, q repositories.Query) ([]repositories.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops, err := s.ops()
	if err != nil {
		return nil, err
	}
	return ops.Find(ctx, collection, q)
}

// Count returns the number of matching documents
func (s *MemoryStore) Count(ctx context.Context, collection string, q repositories.Query) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops, err := s.ops()
	if err != nil {
		return 0, err
	}
	return ops.Count(ctx, collection, q)
}

// Put inserts or replaces a caller-keyed document
func (s *MemoryStore) Put(ctx context.Context, collection, key string, doc interface{}) error {
	return s.Tx(ctx, func(tx repositories.Tx) error { return tx.Put(ctx, collection, key, doc) })
}

// Insert adds a document and returns its key
func (s *MemoryStore) Insert(ctx context.Context, collection string, doc interface{}) (string, error) {
	var key string
	err := s.Tx(ctx, func(tx repositories.Tx) error {
		var err error
		key, err = tx.Insert(ctx, collection, doc)
		return err
	})
	return key, err
}

// Update replaces an existing document
func (s *MemoryStore) Update(ctx context.Context, collection, key string, doc interface{}) error {
	return s.Tx(ctx, func(tx repositories.Tx) error { return tx.Update(ctx, collection, key, doc) })
}

// Delete removes a document
func (s *MemoryStore) Delete(ctx context.Context, collection, key string) error {
	return s.Tx(ctx, func(tx repositories.Tx) error { return tx.Delete(ctx, collection, key) })
}

// Clear removes all documents of a collection
func (s *MemoryStore) Clear(ctx context.Context, collection string) error {
	return s.Tx(ctx, func(tx repositories.Tx) error { return tx.Clear(ctx, collection) })
}

// Tx runs fn against a private copy that replaces the live data on success.
// fn must only use tx; calling back into the store deadlocks.
func (s *MemoryStore) Tx(ctx context.Context, fn func(tx repositories.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return apperrors.NewStoreUnavailableError("store is closed", nil)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	work := &memOps{state: s.state.clone(), failures: s.failures}
	if err := fn(work); err != nil {
		return err
	}
	s.state = work.state
	return nil
}

// Probe reads at most one document of collection
func (s *MemoryStore) Probe(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops, err := s.ops()
	if err != nil {
		return err
	}
	recs, err := ops.Find(ctx, collection, repositories.Query{Limit: 1})
	if err != nil {
		return err
	}
	for _, r := range recs {
		var obj map[string]interface{}
		if err := json.Unmarshal(r.Doc, &obj); err != nil {
			return apperrors.NewInternalError(fmt.Sprintf("%s: unreadable document %s", collection, r.Key), err)
		}
	}
	return nil
}

// Ping reports whether the store is open
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.ops()
	return err
}

// Version returns the migrated schema version
func (s *MemoryStore) Version(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.ops(); err != nil {
		return 0, err
	}
	return s.version, nil
}

// Backend returns "memory"
func (s *MemoryStore) Backend() string {
	return BackendMemory
}

// Close makes every further operation fail with STORE_UNAVAILABLE
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// memOps implements the document operations over one memState
type memOps struct {
	state    *memState
	failures map[string]error
}

func (o *memOps) collection(name string) (schema.Collection, *memCollection, error) {
	if err, failed := o.failures[name]; failed {
		return schema.Collection{}, nil, apperrors.NewStoreUnavailableError(fmt.Sprintf("collection %s unavailable", name), err)
	}
	c, ok := o.state.schema.Collection(name)
	data, present := o.state.cols[name]
	if !ok || !present {
		return schema.Collection{}, nil, apperrors.NewValidationError(fmt.Sprintf("unknown collection %q", name))
	}
	return c, data, nil
}

func (o *memOps) Get(_ context.Context, collection, key string) (*repositories.Record, bool, error) {
	c, data, err := o.collection(collection)
	if err != nil {
		return nil, false, err
	}
	raw, ok := data.docs[key]
	if !ok {
		return nil, false, nil
	}
	doc, err := withKey(raw, c, key)
	if err != nil {
		return nil, false, apperrors.NewInternalError(fmt.Sprintf("%s: unreadable document %s", collection, key), err)
	}
	return &repositories.Record{Key: key, Doc: doc}, true, nil
}

type memRow struct {
	key string
	obj map[string]interface{}
	raw json.RawMessage
}

func (o *memOps) scan(collection string, q repositories.Query) (schema.Collection, []memRow, error) {
	c, data, err := o.collection(collection)
	if err != nil {
		return c, nil, err
	}

	rows := make([]memRow, 0, len(data.docs))
	for key, raw := range data.docs {
		var obj map[string]interface{}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return c, nil, apperrors.NewInternalError(fmt.Sprintf("%s: unreadable document %s", collection, key), err)
		}
		if !matches(obj, key, c, q.Where) {
			continue
		}
		rows = append(rows, memRow{key: key, obj: obj, raw: raw})
	}

	byKey := q.OrderBy == "" || (c.IsAuto() && q.OrderBy == c.KeyPath)
	sort.SliceStable(rows, func(i, j int) bool {
		cmp := 0
		if !byKey {
			cmp = compareValues(rows[i].obj[q.OrderBy], rows[j].obj[q.OrderBy])
		}
		if cmp == 0 {
			cmp = compareKeys(c, rows[i].key, rows[j].key)
		}
		if q.Desc {
			return cmp > 0
		}
		return cmp < 0
	})
	return c, rows, nil
}

func (o *memOps) Find(_ context.Context, collection string, q repositories.Query) ([]repositories.Record, error) {
	c, rows, err := o.scan(collection, q)
	if err != nil {
		return nil, err
	}
	if q.Offset > 0 {
		if q.Offset >= len(rows) {
			rows = nil
		} else {
			rows = rows[q.Offset:]
		}
	}
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}

	out := make([]repositories.Record, 0, len(rows))
	for _, r := range rows {
		doc, err := withKey(r.raw, c, r.key)
		if err != nil {
			return nil, apperrors.NewInternalError(fmt.Sprintf("%s: unreadable document %s", collection, r.key), err)
		}
		out = append(out, repositories.Record{Key: r.key, Doc: doc})
	}
	return out, nil
}

func (o *memOps) Count(_ context.Context, collection string, q repositories.Query) (int, error) {
	_, rows, err := o.scan(collection, repositories.Query{Where: q.Where})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (o *memOps) checkUnique(c schema.Collection, data *memCollection, key string, obj map[string]interface{}) error {
	for _, idx := range c.UniqueIndexes() {
		want, ok := uniqueTuple(obj, idx)
		if !ok {
			continue
		}
		for otherKey, raw := range data.docs {
			if otherKey == key {
				continue
			}
			var other map[string]interface{}
			if json.Unmarshal(raw, &other) != nil {
				continue
			}
			if have, ok := uniqueTuple(other, idx); ok && have == want {
				return apperrors.NewConflictError(fmt.Sprintf("%s: unique index [%s] violated", c.Name, idx.Name), nil)
			}
		}
	}
	return nil
}

func (o *memOps) Put(_ context.Context, collection, key string, doc interface{}) error {
	c, data, err := o.collection(collection)
	if err != nil {
		return err
	}
	if c.IsAuto() {
		return apperrors.NewValidationError(fmt.Sprintf("%s: keys are store-assigned; use Insert or Update", collection))
	}
	if key == "" {
		return apperrors.NewValidationError(fmt.Sprintf("%s: empty key", collection))
	}
	raw, obj, err := encodeDoc(doc)
	if err != nil {
		return err
	}
	if err := o.checkUnique(c, data, key, obj); err != nil {
		return err
	}
	data.docs[key] = raw
	return nil
}

func (o *memOps) Insert(_ context.Context, collection string, doc interface{}) (string, error) {
	c, data, err := o.collection(collection)
	if err != nil {
		return "", err
	}
	raw, obj, err := encodeDoc(doc)
	if err != nil {
		return "", err
	}

	var key string
	if c.IsAuto() {
		key = strconv.FormatInt(data.seq+1, 10)
		delete(obj, c.KeyPath)
		if raw, err = json.Marshal(obj); err != nil {
			return "", apperrors.NewInternalError("re-encode document", err)
		}
	} else {
		if key, err = callerKey(obj, c); err != nil {
			return "", err
		}
		if _, exists := data.docs[key]; exists {
			return "", apperrors.NewConflictError(fmt.Sprintf("%s: key %s already exists", collection, key), nil)
		}
	}

	if err := o.checkUnique(c, data, key, obj); err != nil {
		return "", err
	}
	if c.IsAuto() {
		data.seq++
	}
	data.docs[key] = raw
	return key, nil
}

func (o *memOps) Update(_ context.Context, collection, key string, doc interface{}) error {
	c, data, err := o.collection(collection)
	if err != nil {
		return err
	}
	if _, ok := data.docs[key]; !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("%s: %s not found", collection, key))
	}
	raw, obj, err := encodeDoc(doc)
	if err != nil {
		return err
	}
	if c.IsAuto() {
		delete(obj, c.KeyPath)
		if raw, err = json.Marshal(obj); err != nil {
			return apperrors.NewInternalError("re-encode document", err)
		}
	}
	if err := o.checkUnique(c, data, key, obj); err != nil {
		return err
	}
	data.docs[key] = raw
	return nil
}

func (o *memOps) Delete(_ context.Context, collection, key string) error {
	_, data, err := o.collection(collection)
	if err != nil {
		return err
	}
	delete(data.docs, key)
	return nil
}

func (o *memOps) Clear(_ context.Context, collection string) error {
	_, data, err := o.collection(collection)
	if err != nil {
		return err
	}
	data.docs = map[string]json.RawMessage{}
	return nil
}

// Rewrite implements schema.Rewriter for migration touch-ups
func (o *memOps) Rewrite(_ context.Context, collection string, fn func(string, map[string]interface{}) (bool, error)) (int, error) {
	_, data, err := o.collection(collection)
	if err != nil {
		return 0, err
	}
	keys := make([]string, 0, len(data.docs))
	for k := range data.docs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	changed := 0
	for _, key := range keys {
		var obj map[string]interface{}
		if err := json.Unmarshal(data.docs[key], &obj); err != nil {
			return changed, fmt.Errorf("%s: unreadable document %s: %w", collection, key, err)
		}
		ok, err := fn(key, obj)
		if err != nil {
			return changed, err
		}
		if !ok {
			continue
		}
		raw, err := json.Marshal(obj)
		if err != nil {
			return changed, err
		}
		data.docs[key] = raw
		changed++
	}
	return changed, nil
}

var _ repositories.Store = (*MemoryStore)(nil)
var _ schema.Rewriter = (*memOps)(nil)
