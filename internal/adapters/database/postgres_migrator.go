package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/zatekoja/onesystem-clinic/internal/domain/schema"
	apperrors "github.com/zatekoja/onesystem-clinic/pkg/errors"
)

// Migrate brings the database up to the registry's current version. Each
// step runs in its own transaction under an advisory lock, so concurrent
// starters apply every step exactly once. Reopening a current store is a no-op.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	bootstrap := []string{
		fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pq.QuoteIdentifier(s.name)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
	version INTEGER PRIMARY KEY,
	description TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, pq.QuoteIdentifier(s.name), pq.QuoteIdentifier(versionsTable)),
	}
	for _, stmt := range bootstrap {
		if _, err := s.client.DB().ExecContext(ctx, stmt); err != nil {
			return mapPgError("bootstrap schema", err)
		}
	}

	current, err := s.Version(ctx)
	if err != nil {
		return err
	}

	for _, m := range s.registry.Pending(current) {
		if err := s.migrateStep(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) migrateStep(ctx context.Context, m schema.Migration) error {
	tx, err := s.client.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return mapPgError("begin migration", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SELECT pg_advisory_xact_lock(hashtext(%s))", pq.QuoteLiteral(s.name))); err != nil {
		return mapPgError("lock migrations", err)
	}

	applied, err := s.version(ctx, tx)
	if err != nil {
		return err
	}
	if applied >= m.Version {
		return nil
	}

	sch, err := s.registry.At(m.Version)
	if err != nil {
		return apperrors.NewInternalError("resolve schema", err)
	}

	for _, stmt := range s.ddl(m, sch) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return mapPgError(fmt.Sprintf("migration v%d", m.Version), err)
		}
	}

	if m.TouchUp != nil {
		if err := m.TouchUp(ctx, s.ops(tx, sch)); err != nil {
			return apperrors.NewInternalError(fmt.Sprintf("migration v%d touch-up failed", m.Version), err)
		}
	}

	query, _, err := s.db.Insert(goqu.S(s.name).Table(versionsTable)).
		Rows(goqu.Record{"version": m.Version, "description": m.Description}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build version insert", err)
	}
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return mapPgError("record schema version", err)
	}

	if err := tx.Commit(); err != nil {
		return mapPgError("commit migration", err)
	}

	log.Info().Int("version", m.Version).Str("description", m.Description).Str("store", s.name).Msg("Applied store migration")
	return nil
}

// ddl renders the statements for one migration step
func (s *PostgresStore) ddl(m schema.Migration, sch *schema.Schema) []string {
	var stmts []string
	for _, c := range m.Add {
		stmts = append(stmts, createTableSQL(s.name, c))
		for _, idx := range c.Indexes {
			stmts = append(stmts, createIndexSQL(s.name, c.Name, idx))
		}
	}

	names := make([]string, 0, len(m.AddIndexes))
	for name := range m.AddIndexes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := sch.Collection(name); !ok {
			continue
		}
		for _, idx := range m.AddIndexes[name] {
			stmts = append(stmts, createIndexSQL(s.name, name, idx))
		}
	}
	return stmts
}

func createTableSQL(storeName string, c schema.Collection) string {
	table := pq.QuoteIdentifier(storeName) + "." + pq.QuoteIdentifier(c.Name)
	if c.IsAuto() {
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	doc JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, table)
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	key TEXT PRIMARY KEY,
	doc JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, table)
}

func createIndexSQL(storeName, collection string, idx schema.Index) string {
	exprs := make([]string, 0, len(idx.Fields))
	for _, f := range idx.Fields {
		exprs = append(exprs, fmt.Sprintf("(doc->>%s)", pq.QuoteLiteral(f)))
	}
	kind := "INDEX"
	if idx.Unique {
		kind = "UNIQUE INDEX"
	}
	name := collection + "_" + strings.ReplaceAll(idx.Name, "+", "_") + "_idx"
	return fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s.%s (%s)",
		kind,
		pq.QuoteIdentifier(name),
		pq.QuoteIdentifier(storeName),
		pq.QuoteIdentifier(collection),
		strings.Join(exprs, ", "),
	)
}
