package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/lib/pq"

	"github.com/zatekoja/onesystem-clinic/internal/domain/repositories"
	"github.com/zatekoja/onesystem-clinic/internal/domain/schema"
	"github.com/zatekoja/onesystem-clinic/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/onesystem-clinic/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/onesystem-clinic/pkg/errors"
)

// BackendPostgres names the Postgres store
const BackendPostgres = "postgres"

const versionsTable = "schema_versions"

// sqlExecutor is satisfied by *sql.DB and *sql.Tx
type sqlExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PostgresStore keeps each collection in its own table of JSONB documents
// inside a Postgres schema named after the store.
type PostgresStore struct {
	client   *postgres.Client
	db       *goqu.Database
	registry *schema.Registry
	schema   *schema.Schema
	name     string
	metrics  *observability.Metrics
}

// NewPostgresStore creates a store over client. Call Migrate before use.
func NewPostgresStore(client *postgres.Client, registry *schema.Registry, storeName string, metrics *observability.Metrics) *PostgresStore {
	return &PostgresStore{
		client:   client,
		db:       goqu.New("postgres", client.DB()),
		registry: registry,
		schema:   registry.Current(),
		name:     storeName,
		metrics:  metrics,
	}
}

func (s *PostgresStore) ops(exec sqlExecutor, sch *schema.Schema) *pgOps {
	return &pgOps{store: s, exec: exec, schema: sch}
}

// Get fetches a document by key
func (s *PostgresStore) Get(ctx context.Context, collection, key string) (*repositories.Record, bool, error) {
	return s.ops(s.client.DB(), s.schema).Get(ctx, collection, key)
}

// Find returns matching documents
func (s *PostgresStore) Find(ctx context.Context, collection string, q repositories.Query) ([]repositories.Record, error) {
	return s.ops(s.client.DB(), s.schema).Find(ctx, collection, q)
}

// Count returns the number of matching documents
func (s *PostgresStore) Count(ctx context.Context, collection string, q repositories.Query) (int, error) {
	return s.ops(s.client.DB(), s.schema).Count(ctx, collection, q)
}

// Put inserts or replaces a caller-keyed document
func (s *PostgresStore) Put(ctx context.Context, collection, key string, doc interface{}) error {
	return s.ops(s.client.DB(), s.schema).Put(ctx, collection, key, doc)
}

// Insert adds a document and returns its key
func (s *PostgresStore) Insert(ctx context.Context, collection string, doc interface{}) (string, error) {
	return s.ops(s.client.DB(), s.schema).Insert(ctx, collection, doc)
}

// Update replaces an existing document
func (s *PostgresStore) Update(ctx context.Context, collection, key string, doc interface{}) error {
	return s.ops(s.client.DB(), s.schema).Update(ctx, collection, key, doc)
}

// Delete removes a document
func (s *PostgresStore) Delete(ctx context.Context, collection, key string) error {
	return s.ops(s.client.DB(), s.schema).Delete(ctx, collection, key)
}

// Clear removes all documents of a collection
func (s *PostgresStore) Clear(ctx context.Context, collection string) error {
	return s.ops(s.client.DB(), s.schema).Clear(ctx, collection)
}

// Tx runs fn inside a SERIALIZABLE transaction
func (s *PostgresStore) Tx(ctx context.Context, fn func(tx repositories.Tx) error) error {
	tx, err := s.client.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return mapPgError("begin transaction", err)
	}

	if err := fn(s.ops(tx, s.schema)); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapPgError("commit transaction", err)
	}
	return nil
}

// Probe reads at most one row of collection and checks it decodes
func (s *PostgresStore) Probe(ctx context.Context, collection string) error {
	c, ok := s.schema.Collection(collection)
	if !ok {
		return apperrors.NewValidationError(fmt.Sprintf("unknown collection %q", collection))
	}

	query, _, err := s.db.From(s.table(c)).Select(goqu.C("doc")).Limit(1).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build probe query", err)
	}

	var raw []byte
	err = s.client.DB().QueryRowContext(ctx, query).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return mapPgError("probe "+collection, err)
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return apperrors.NewInternalError(fmt.Sprintf("%s: unreadable document", collection), err)
	}
	return nil
}

// Ping verifies the database is reachable
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx); err != nil {
		return apperrors.NewStoreUnavailableError("postgres unreachable", err)
	}
	return nil
}

// Version returns the highest applied migration
func (s *PostgresStore) Version(ctx context.Context) (int, error) {
	return s.version(ctx, s.client.DB())
}

func (s *PostgresStore) version(ctx context.Context, exec sqlExecutor) (int, error) {
	query, _, err := s.db.From(goqu.S(s.name).Table(versionsTable)).
		Select(goqu.COALESCE(goqu.MAX("version"), 0)).
		ToSQL()
	if err != nil {
		return 0, apperrors.NewInternalError("failed to build version query", err)
	}

	var v int
	if err := exec.QueryRowContext(ctx, query).Scan(&v); err != nil {
		return 0, mapPgError("read schema version", err)
	}
	return v, nil
}

// Backend returns "postgres"
func (s *PostgresStore) Backend() string {
	return BackendPostgres
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	return s.client.Close()
}

func (s *PostgresStore) table(c schema.Collection) exp.IdentifierExpression {
	return goqu.S(s.name).Table(c.Name)
}

func (s *PostgresStore) observe(ctx context.Context, op, collection string, start time.Time) {
	observability.RecordStoreMetric(ctx, s.metrics, BackendPostgres, op, collection, time.Since(start))
}

// pgOps implements the document operations over one executor
type pgOps struct {
	store  *PostgresStore
	exec   sqlExecutor
	schema *schema.Schema
}

func (o *pgOps) collection(name string) (schema.Collection, error) {
	c, ok := o.schema.Collection(name)
	if !ok {
		return c, apperrors.NewValidationError(fmt.Sprintf("unknown collection %q", name))
	}
	return c, nil
}

func (o *pgOps) keyColumn(c schema.Collection) string {
	if c.IsAuto() {
		return "id"
	}
	return "key"
}

// keyWhere builds the primary key predicate. ok is false for auto keys that
// are not numeric, which cannot exist.
func (o *pgOps) keyWhere(c schema.Collection, key string) (goqu.Ex, bool) {
	if c.IsAuto() {
		n, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, false
		}
		return goqu.Ex{"id": n}, true
	}
	return goqu.Ex{"key": key}, true
}

func (o *pgOps) selectColumns(c schema.Collection) []interface{} {
	if c.IsAuto() {
		return []interface{}{
			goqu.L("id::text").As("key"),
			goqu.L("doc || jsonb_build_object(?::text, id)", c.KeyPath).As("doc"),
		}
	}
	return []interface{}{goqu.C("key"), goqu.C("doc")}
}

func (o *pgOps) fieldExpr(c schema.Collection, field string) exp.LiteralExpression {
	if c.IsAuto() && field == c.KeyPath {
		return goqu.L("id::text")
	}
	return goqu.L("doc->>?", field)
}

func (o *pgOps) where(c schema.Collection, filters []repositories.Filter) ([]exp.Expression, error) {
	out := make([]exp.Expression, 0, len(filters))
	for _, f := range filters {
		field := o.fieldExpr(c, f.Field)
		value := filterText(f.Value)
		switch f.Op {
		case repositories.OpEq, "":
			out = append(out, field.Eq(value))
		case repositories.OpPrefix:
			out = append(out, field.Like(escapeLike(value)+"%"))
		case repositories.OpGte:
			out = append(out, field.Gte(value))
		case repositories.OpLte:
			out = append(out, field.Lte(value))
		default:
			return nil, apperrors.NewValidationError(fmt.Sprintf("unsupported filter op %q", f.Op))
		}
	}
	return out, nil
}

func (o *pgOps) order(c schema.Collection, q repositories.Query) []exp.OrderedExpression {
	key := goqu.C(o.keyColumn(c))
	if q.OrderBy == "" || (c.IsAuto() && q.OrderBy == c.KeyPath) {
		if q.Desc {
			return []exp.OrderedExpression{key.Desc()}
		}
		return []exp.OrderedExpression{key.Asc()}
	}
	field := goqu.L("doc->?", q.OrderBy)
	if q.Desc {
		return []exp.OrderedExpression{field.Desc().NullsLast(), key.Desc()}
	}
	return []exp.OrderedExpression{field.Asc().NullsFirst(), key.Asc()}
}

func (o *pgOps) Get(ctx context.Context, collection, key string) (*repositories.Record, bool, error) {
	defer o.store.observe(ctx, "get", collection, time.Now())

	c, err := o.collection(collection)
	if err != nil {
		return nil, false, err
	}
	where, ok := o.keyWhere(c, key)
	if !ok {
		return nil, false, nil
	}

	query, _, err := o.store.db.From(o.store.table(c)).
		Select(o.selectColumns(c)...).
		Where(where).
		ToSQL()
	if err != nil {
		return nil, false, apperrors.NewInternalError("failed to build get query", err)
	}

	var rec repositories.Record
	var raw []byte
	err = o.exec.QueryRowContext(ctx, query).Scan(&rec.Key, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mapPgError("get "+collection, err)
	}
	rec.Doc = raw
	return &rec, true, nil
}

func (o *pgOps) Find(ctx context.Context, collection string, q repositories.Query) ([]repositories.Record, error) {
	defer o.store.observe(ctx, "find", collection, time.Now())

	c, err := o.collection(collection)
	if err != nil {
		return nil, err
	}
	where, err := o.where(c, q.Where)
	if err != nil {
		return nil, err
	}

	ds := o.store.db.From(o.store.table(c)).
		Select(o.selectColumns(c)...).
		Where(where...).
		Order(o.order(c, q)...)
	if q.Limit > 0 {
		ds = ds.Limit(uint(q.Limit))
	}
	if q.Offset > 0 {
		ds = ds.Offset(uint(q.Offset))
	}

	query, _, err := ds.ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build find query", err)
	}

	rows, err := o.exec.QueryContext(ctx, query)
	if err != nil {
		return nil, mapPgError("find "+collection, err)
	}
	defer rows.Close()

	var out []repositories.Record
	for rows.Next() {
		var rec repositories.Record
		var raw []byte
		if err := rows.Scan(&rec.Key, &raw); err != nil {
			return nil, mapPgError("scan "+collection, err)
		}
		rec.Doc = raw
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError("iterate "+collection, err)
	}
	return out, nil
}

func (o *pgOps) Count(ctx context.Context, collection string, q repositories.Query) (int, error) {
	defer o.store.observe(ctx, "count", collection, time.Now())

	c, err := o.collection(collection)
	if err != nil {
		return 0, err
	}
	where, err := o.where(c, q.Where)
	if err != nil {
		return 0, err
	}

	query, _, err := o.store.db.From(o.store.table(c)).
		Select(goqu.COUNT(goqu.Star())).
		Where(where...).
		ToSQL()
	if err != nil {
		return 0, apperrors.NewInternalError("failed to build count query", err)
	}

	var n int
	if err := o.exec.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, mapPgError("count "+collection, err)
	}
	return n, nil
}

func (o *pgOps) Put(ctx context.Context, collection, key string, doc interface{}) error {
	defer o.store.observe(ctx, "put", collection, time.Now())

	c, err := o.collection(collection)
	if err != nil {
		return err
	}
	if c.IsAuto() {
		return apperrors.NewValidationError(fmt.Sprintf("%s: keys are store-assigned; use Insert or Update", collection))
	}
	if key == "" {
		return apperrors.NewValidationError(fmt.Sprintf("%s: empty key", collection))
	}
	raw, _, err := encodeDoc(doc)
	if err != nil {
		return err
	}

	query, _, err := o.store.db.Insert(o.store.table(c)).
		Rows(goqu.Record{
			"key":        key,
			"doc":        goqu.L("?::jsonb", string(raw)),
			"updated_at": goqu.L("now()"),
		}).
		OnConflict(goqu.DoUpdate("key", goqu.Record{
			"doc":        goqu.L("EXCLUDED.doc"),
			"updated_at": goqu.L("now()"),
		})).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build put query", err)
	}

	if _, err := o.exec.ExecContext(ctx, query); err != nil {
		return mapPgError("put "+collection, err)
	}
	return nil
}

func (o *pgOps) Insert(ctx context.Context, collection string, doc interface{}) (string, error) {
	defer o.store.observe(ctx, "insert", collection, time.Now())

	c, err := o.collection(collection)
	if err != nil {
		return "", err
	}
	raw, obj, err := encodeDoc(doc)
	if err != nil {
		return "", err
	}

	if !c.IsAuto() {
		key, err := callerKey(obj, c)
		if err != nil {
			return "", err
		}
		query, _, err := o.store.db.Insert(o.store.table(c)).
			Rows(goqu.Record{"key": key, "doc": goqu.L("?::jsonb", string(raw))}).
			ToSQL()
		if err != nil {
			return "", apperrors.NewInternalError("failed to build insert query", err)
		}
		if _, err := o.exec.ExecContext(ctx, query); err != nil {
			return "", mapPgError("insert "+collection, err)
		}
		return key, nil
	}

	delete(obj, c.KeyPath)
	if raw, err = json.Marshal(obj); err != nil {
		return "", apperrors.NewInternalError("re-encode document", err)
	}

	query, _, err := o.store.db.Insert(o.store.table(c)).
		Rows(goqu.Record{"doc": goqu.L("?::jsonb", string(raw))}).
		Returning("id").
		ToSQL()
	if err != nil {
		return "", apperrors.NewInternalError("failed to build insert query", err)
	}

	var id int64
	if err := o.exec.QueryRowContext(ctx, query).Scan(&id); err != nil {
		return "", mapPgError("insert "+collection, err)
	}
	return strconv.FormatInt(id, 10), nil
}

func (o *pgOps) Update(ctx context.Context, collection, key string, doc interface{}) error {
	defer o.store.observe(ctx, "update", collection, time.Now())

	c, err := o.collection(collection)
	if err != nil {
		return err
	}
	where, ok := o.keyWhere(c, key)
	if !ok {
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

	query, _, err := o.store.db.Update(o.store.table(c)).
		Set(goqu.Record{
			"doc":        goqu.L("?::jsonb", string(raw)),
			"updated_at": goqu.L("now()"),
		}).
		Where(where).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	result, err := o.exec.ExecContext(ctx, query)
	if err != nil {
		return mapPgError("update "+collection, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("%s: %s not found", collection, key))
	}
	return nil
}

func (o *pgOps) Delete(ctx context.Context, collection, key string) error {
	defer o.store.observe(ctx, "delete", collection, time.Now())

	c, err := o.collection(collection)
	if err != nil {
		return err
	}
	where, ok := o.keyWhere(c, key)
	if !ok {
		return nil
	}

	query, _, err := o.store.db.Delete(o.store.table(c)).Where(where).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build delete query", err)
	}
	if _, err := o.exec.ExecContext(ctx, query); err != nil {
		return mapPgError("delete "+collection, err)
	}
	return nil
}

func (o *pgOps) Clear(ctx context.Context, collection string) error {
	defer o.store.observe(ctx, "clear", collection, time.Now())

	c, err := o.collection(collection)
	if err != nil {
		return err
	}
	query, _, err := o.store.db.Delete(o.store.table(c)).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build clear query", err)
	}
	if _, err := o.exec.ExecContext(ctx, query); err != nil {
		return mapPgError("clear "+collection, err)
	}
	return nil
}

// Rewrite implements schema.Rewriter. Rows are locked for the duration of
// the surrounding transaction.
func (o *pgOps) Rewrite(ctx context.Context, collection string, fn func(string, map[string]interface{}) (bool, error)) (int, error) {
	c, err := o.collection(collection)
	if err != nil {
		return 0, err
	}

	query, _, err := o.store.db.From(o.store.table(c)).
		Select(goqu.L(o.keyColumn(c)+"::text"), goqu.C("doc")).
		Order(goqu.C(o.keyColumn(c)).Asc()).
		ForUpdate(exp.Wait).
		ToSQL()
	if err != nil {
		return 0, apperrors.NewInternalError("failed to build rewrite query", err)
	}

	rows, err := o.exec.QueryContext(ctx, query)
	if err != nil {
		return 0, mapPgError("rewrite "+collection, err)
	}

	type pending struct {
		key string
		obj map[string]interface{}
	}
	var changed []pending
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			rows.Close()
			return 0, mapPgError("scan "+collection, err)
		}
		var obj map[string]interface{}
		if err := json.Unmarshal(raw, &obj); err != nil {
			rows.Close()
			return 0, fmt.Errorf("%s: unreadable document %s: %w", collection, key, err)
		}
		ok, err := fn(key, obj)
		if err != nil {
			rows.Close()
			return 0, err
		}
		if ok {
			changed = append(changed, pending{key: key, obj: obj})
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, mapPgError("iterate "+collection, err)
	}
	rows.Close()

	for _, p := range changed {
		if err := o.Update(ctx, collection, p.key, p.obj); err != nil {
			return 0, err
		}
	}
	return len(changed), nil
}

// mapPgError converts driver errors into AppErrors
func mapPgError(op string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "40001" || pqErr.Code == "40P01":
			return apperrors.NewConcurrencyAnomalyError(op+": concurrent update detected", err)
		case pqErr.Code == "23505":
			return apperrors.NewConflictError(op+": unique constraint violated", err)
		case pqErr.Code.Class() == "08" || pqErr.Code.Class() == "53" || pqErr.Code.Class() == "57":
			return apperrors.NewStoreUnavailableError(op+": database unavailable", err)
		case pqErr.Code == "42P01" || pqErr.Code == "3F000":
			return apperrors.NewStoreUnavailableError(op+": store not migrated", err)
		}
		return apperrors.NewInternalError(op+" failed", err)
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return apperrors.NewStoreUnavailableError(op+": database unavailable", err)
	}
	return apperrors.NewInternalError(op+" failed", err)
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}

var _ repositories.Store = (*PostgresStore)(nil)
var _ schema.Rewriter = (*pgOps)(nil)
