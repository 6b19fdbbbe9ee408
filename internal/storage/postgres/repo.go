package postgres

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"repscan/internal/storage"
)

// Kind is the registry key of this backend.
const Kind = "postgres"

/*
Repo implements storage.Repository for Postgres.

observed_at is TIMESTAMPTZ. Dedupe is a UNIQUE constraint over
storage.DedupeColumns combined with INSERT ... ON CONFLICT DO NOTHING.
*/
type Repo struct {
	pool      *pgxpool.Pool
	closeOnce sync.Once
}

func init() {
	storage.Register(Kind, New)
}

// New creates a pool for cfg.DSN and checks connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() error {
	r.closeOnce.Do(r.pool.Close)
	return nil
}

func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, stmt := range buildCreateSQL(storage.Table) {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return storage.Wrap(Kind, "ensure schema", err)
		}
	}
	return nil
}

// Save inserts all rows of o with a single statement.
func (r *Repo) Save(ctx context.Context, o storage.Observation) error {
	query, args := buildInsertSQL(storage.Table, storage.Rows(o))
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return storage.Wrap(Kind, "save", fmt.Errorf("insert %s: %w", o.Identifier, err))
	}
	return nil
}

func (r *Repo) Load(ctx context.Context, identifier string) (storage.Observation, error) {
	rs, err := r.pool.Query(ctx, buildLoadSQL(storage.Table), identifier)
	if err != nil {
		return storage.Observation{}, storage.Wrap(Kind, "load", err)
	}
	defer rs.Close()

	var rows []storage.Row
	for rs.Next() {
		var row storage.Row
		if err := rs.Scan(&row.RunID, &row.Identifier, &row.ObservedAt, &row.RecordHash, &row.Group, &row.Field, &row.Value, &row.Position); err != nil {
			return storage.Observation{}, storage.Wrap(Kind, "load", err)
		}
		rows = append(rows, row)
	}
	if err := rs.Err(); err != nil {
		return storage.Observation{}, storage.Wrap(Kind, "load", err)
	}

	o, err := storage.Assemble(rows)
	if err != nil {
		return storage.Observation{}, storage.Wrap(Kind, "load", err)
	}
	return o, nil
}

func pgIdent(name string) string {
	return storage.SQLIdent(name, `"`, `"`)
}

// splitQualifiedName splits "schema.table". Unqualified names return an
// empty schema.
func splitQualifiedName(name string) (schema string, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

// buildCreateSQL returns the DDL statements in execution order. A schema
// qualified table name also gets CREATE SCHEMA IF NOT EXISTS.
func buildCreateSQL(table string) []string {
	var out []string
	schema, base := splitQualifiedName(table)
	if schema != "" {
		out = append(out, "CREATE SCHEMA IF NOT EXISTS "+pgIdent(schema))
	}
	ident := pgIdent(table)
	out = append(out,
		`CREATE TABLE IF NOT EXISTS `+ident+` (
  "run_id" TEXT NOT NULL,
  "identifier" TEXT NOT NULL,
  "observed_at" TIMESTAMPTZ NOT NULL,
  "record_hash" TEXT NOT NULL,
  "group_name" TEXT NOT NULL,
  "field_name" TEXT NOT NULL,
  "value" TEXT NOT NULL,
  "position" INTEGER NOT NULL,
  CONSTRAINT `+pgIdent(base+"_dedupe")+` UNIQUE (`+dedupeList()+`)
)`,
		`CREATE INDEX IF NOT EXISTS `+pgIdent(base+"_latest")+` ON `+ident+` ("identifier", "observed_at" DESC)`,
	)
	return out
}

// buildInsertSQL builds a multi-row INSERT with $n placeholders.
//
// Dedupe is enforced at the SQL layer:
//
//	ON CONFLICT (<storage.DedupeColumns...>) DO NOTHING
func buildInsertSQL(table string, rows []storage.Row) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgIdent(table))
	b.WriteString(" (")

	for i, c := range storage.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(storage.Columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j, v := range row.Values() {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(fmt.Sprintf("$%d", p))
			args = append(args, v)
			p++
		}
		b.WriteString(")")
	}

	b.WriteString(" ON CONFLICT (")
	b.WriteString(dedupeList())
	b.WriteString(") DO NOTHING;")
	return b.String(), args
}

func dedupeList() string {
	cols := make([]string, len(storage.DedupeColumns))
	for i, c := range storage.DedupeColumns {
		cols[i] = pgIdent(c)
	}
	return strings.Join(cols, ", ")
}

// buildLoadSQL selects the rows of the newest (observed_at, record_hash)
// pair of one identifier.
func buildLoadSQL(table string) string {
	ident := pgIdent(table)
	return `WITH "latest" AS (
  SELECT "observed_at", "record_hash" FROM ` + ident + `
  WHERE "identifier" = $1
  ORDER BY "observed_at" DESC, "record_hash" DESC
  LIMIT 1
)
SELECT o."run_id", o."identifier", o."observed_at", o."record_hash", o."group_name", o."field_name", o."value", o."position"
FROM ` + ident + ` o
JOIN "latest" l ON o."observed_at" = l."observed_at" AND o."record_hash" = l."record_hash"
WHERE o."identifier" = $1
ORDER BY o."position"`
}
