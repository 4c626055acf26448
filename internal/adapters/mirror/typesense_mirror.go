package mirror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/typesense/typesense-go/v2/typesense"
	"github.com/typesense/typesense-go/v2/typesense/api"
	"github.com/typesense/typesense-go/v2/typesense/api/pointer"

	"github.com/zatekoja/onesystem-clinic/internal/domain/entities"
	"github.com/zatekoja/onesystem-clinic/internal/domain/providers"
	tsclient "github.com/zatekoja/onesystem-clinic/internal/infrastructure/clients/typesense"
	"github.com/zatekoja/onesystem-clinic/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/onesystem-clinic/pkg/errors"
)

// TypesenseMirror implements DocumentMirror on Typesense collections named
// "<prefix>_<collection>" with an auto-typed schema.
type TypesenseMirror struct {
	client *tsclient.Client
	prefix string
	now    func() time.Time
	logger zerolog.Logger
}

var _ providers.DocumentMirror = (*TypesenseMirror)(nil)

// NewTypesenseMirror creates a mirror whose collections are prefixed with prefix
func NewTypesenseMirror(client *tsclient.Client, prefix string) *TypesenseMirror {
	return &TypesenseMirror{
		client: client,
		prefix: prefix,
		now:    time.Now,
		logger: observability.Component("typesense_mirror"),
	}
}

func (m *TypesenseMirror) name(collection string) string {
	return m.prefix + "_" + collection
}

func (m *TypesenseMirror) check(collection string) error {
	if !validCollection(collection) {
		return apperrors.NewValidationError(fmt.Sprintf("unknown mirror collection %q", collection))
	}
	return nil
}

// EnsureCollections creates every mirror collection that does not exist yet
func (m *TypesenseMirror) EnsureCollections(ctx context.Context) error {
	for _, c := range entities.MirrorCollections {
		_, err := m.client.Client().Collection(m.name(c)).Retrieve(ctx)
		if err == nil {
			continue
		}
		if !isNotFound(err) {
			return mapTypesenseError("retrieve collection "+c, err)
		}

		schema := &api.CollectionSchema{
			Name:               m.name(c),
			Fields:             []api.Field{{Name: ".*", Type: "auto"}},
			EnableNestedFields: pointer.True(),
		}
		if _, err := m.client.Client().Collections().Create(ctx, schema); err != nil {
			return mapTypesenseError("create collection "+c, err)
		}
		m.logger.Info().Str("collection", m.name(c)).Msg("Created mirror collection")
	}
	return nil
}

// Upsert writes doc under id, generating an id when empty
func (m *TypesenseMirror) Upsert(ctx context.Context, collection, id string, doc entities.MirrorDocument) (string, error) {
	if err := m.check(collection); err != nil {
		return "", err
	}
	if id == "" {
		id = uuid.NewString()
	}

	previous, _, err := m.Get(ctx, collection, id)
	if err != nil {
		return "", err
	}

	document := prepare(id, doc, previous, m.now().UnixMilli())
	if _, err := m.client.Client().Collection(m.name(collection)).Documents().Upsert(ctx, document); err != nil {
		return "", mapTypesenseError("upsert "+collection, err)
	}
	return id, nil
}

// Get fetches a document
func (m *TypesenseMirror) Get(ctx context.Context, collection, id string) (entities.MirrorDocument, bool, error) {
	if err := m.check(collection); err != nil {
		return nil, false, err
	}
	doc, err := m.client.Client().Collection(m.name(collection)).Document(id).Retrieve(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, mapTypesenseError("get "+collection, err)
	}
	return strip(doc), true, nil
}

// QueryDateRange returns documents whose YYYY-MM-DD field lies in [from, to]
func (m *TypesenseMirror) QueryDateRange(ctx context.Context, collection, field, from, to string, limit int) ([]entities.MirrorDocument, error) {
	if err := m.check(collection); err != nil {
		return nil, err
	}
	lo, ok := dayOrdinal(from)
	if !ok {
		return nil, apperrors.NewValidationError("from must be YYYY-MM-DD")
	}
	hi, ok := dayOrdinal(to)
	if !ok {
		return nil, apperrors.NewValidationError("to must be YYYY-MM-DD")
	}
	if limit <= 0 || limit > 250 {
		limit = 250
	}

	ord := field + ordSuffix
	params := &api.SearchCollectionParams{
		Q:        pointer.String("*"),
		FilterBy: pointer.String(fmt.Sprintf("%s:>=%d && %s:<=%d", ord, lo, ord, hi)),
		SortBy:   pointer.String(ord + ":asc"),
		PerPage:  pointer.Int(limit),
	}

	result, err := m.client.Client().Collection(m.name(collection)).Documents().Search(ctx, params)
	if err != nil {
		return nil, mapTypesenseError("query "+collection, err)
	}

	out := []entities.MirrorDocument{}
	if result.Hits == nil {
		return out, nil
	}
	for _, hit := range *result.Hits {
		if hit.Document == nil {
			continue
		}
		out = append(out, strip(*hit.Document))
	}
	return out, nil
}

// Delete removes a document; a missing document is not an error
func (m *TypesenseMirror) Delete(ctx context.Context, collection, id string) error {
	if err := m.check(collection); err != nil {
		return err
	}
	if _, err := m.client.Client().Collection(m.name(collection)).Document(id).Delete(ctx); err != nil && !isNotFound(err) {
		return mapTypesenseError("delete "+collection, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var httpErr *typesense.HTTPError
	return errors.As(err, &httpErr) && httpErr.Status == http.StatusNotFound
}

func mapTypesenseError(op string, err error) error {
	return apperrors.NewExternalError("mirror "+op, err)
}
