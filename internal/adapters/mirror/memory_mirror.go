package mirror

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zatekoja/onesystem-clinic/internal/domain/entities"
	apperrors "github.com/zatekoja/onesystem-clinic/pkg/errors"
)

// MemoryMirror is an in-process DocumentMirror used when no cloud mirror is
// configured and in tests.
type MemoryMirror struct {
	mu    sync.RWMutex
	colls map[string]map[string]map[string]interface{}
	now   func() time.Time
}

// NewMemoryMirror creates an empty mirror
func NewMemoryMirror() *MemoryMirror {
	return &MemoryMirror{colls: map[string]map[string]map[string]interface{}{}, now: time.Now}
}

// EnsureCollections creates the mirror collections
func (m *MemoryMirror) EnsureCollections(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range entities.MirrorCollections {
		if m.colls[c] == nil {
			m.colls[c] = map[string]map[string]interface{}{}
		}
	}
	return nil
}

func (m *MemoryMirror) coll(name string) (map[string]map[string]interface{}, error) {
	c, ok := m.colls[name]
	if !ok {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown mirror collection %q", name))
	}
	return c, nil
}

// Upsert writes doc under id
func (m *MemoryMirror) Upsert(_ context.Context, collection, id string, doc entities.MirrorDocument) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.coll(collection)
	if err != nil {
		return "", err
	}
	if id == "" {
		id = uuid.NewString()
	}
	var previous entities.MirrorDocument
	if p, ok := c[id]; ok {
		previous = p
	}
	c[id] = prepare(id, doc, previous, m.now().UnixMilli())
	return id, nil
}

// Get fetches a document
func (m *MemoryMirror) Get(_ context.Context, collection, id string) (entities.MirrorDocument, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, err := m.coll(collection)
	if err != nil {
		return nil, false, err
	}
	d, ok := c[id]
	if !ok {
		return nil, false, nil
	}
	return strip(d), true, nil
}

// QueryDateRange returns documents whose field lies in [from, to]
func (m *MemoryMirror) QueryDateRange(_ context.Context, collection, field, from, to string, limit int) ([]entities.MirrorDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, err := m.coll(collection)
	if err != nil {
		return nil, err
	}
	lo, ok1 := dayOrdinal(from)
	hi, ok2 := dayOrdinal(to)
	if !ok1 || !ok2 {
		return nil, apperrors.NewValidationError("date range must be YYYY-MM-DD")
	}

	type hit struct {
		ord int64
		doc map[string]interface{}
	}
	var hits []hit
	for _, d := range c {
		n, ok := d[field+ordSuffix].(int64)
		if ok && n >= lo && n <= hi {
			hits = append(hits, hit{n, d})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].ord < hits[j].ord })

	out := []entities.MirrorDocument{}
	for _, h := range hits {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, strip(h.doc))
	}
	return out, nil
}

// Delete removes a document
func (m *MemoryMirror) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.coll(collection)
	if err != nil {
		return err
	}
	delete(c, id)
	return nil
}
