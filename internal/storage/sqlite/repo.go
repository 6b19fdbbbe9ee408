package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"repscan/internal/storage"
)

// Kind is the registry key of this backend.
const Kind = "sqlite"

// Repo implements storage.Repository for SQLite.
//
// SQLite has no native timestamp type. observed_at is stored as TEXT in a
// fixed-width UTC layout so that ORDER BY and MAX compare chronologically.
type Repo struct {
	db        *sql.DB
	closeOnce sync.Once
	closeErr  error
}

func init() {
	storage.Register(Kind, New)
}

// New opens the database at cfg.DSN (a file path or "file::memory:?cache=shared").
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlite: empty dsn")
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() error {
	r.closeOnce.Do(func() { r.closeErr = r.db.Close() })
	return r.closeErr
}

// EnsureSchema creates the observations table and its dedupe index.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, stmt := range buildCreateSQL() {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return storage.Wrap(Kind, "ensure schema", err)
		}
	}
	return nil
}

// Save inserts all rows of o in one transaction. "INSERT OR IGNORE" relies
// on the UNIQUE index over storage.DedupeColumns.
func (r *Repo) Save(ctx context.Context, o storage.Observation) error {
	rows := storage.Rows(o)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Wrap(Kind, "save", err)
	}
	defer func() { _ = tx.Rollback() }()

	query, args := buildInsertSQL(rows)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return storage.Wrap(Kind, "save", fmt.Errorf("insert %s: %w", o.Identifier, err))
	}
	if err := tx.Commit(); err != nil {
		return storage.Wrap(Kind, "save", err)
	}
	return nil
}

// Load returns the rows of the newest observation of identifier.
func (r *Repo) Load(ctx context.Context, identifier string) (storage.Observation, error) {
	rs, err := r.db.QueryContext(ctx, buildLoadSQL(), identifier)
	if err != nil {
		return storage.Observation{}, storage.Wrap(Kind, "load", err)
	}
	defer rs.Close()

	var rows []storage.Row
	for rs.Next() {
		var (
			row storage.Row
			ts  string
		)
		if err := rs.Scan(&row.RunID, &row.Identifier, &ts, &row.RecordHash, &row.Group, &row.Field, &row.Value, &row.Position); err != nil {
			return storage.Observation{}, storage.Wrap(Kind, "load", err)
		}
		if row.ObservedAt, err = parseSQLiteTime(ts); err != nil {
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

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return storage.SQLIdent(id, `"`, `"`)
}

// buildLoadSQL selects the rows of the newest (observed_at, record_hash)
// pair of one identifier.
func buildLoadSQL() string {
	table := sqlIdent(storage.Table)
	return `WITH "latest" AS (
  SELECT "observed_at", "record_hash" FROM ` + table + `
  WHERE "identifier" = ?1
  ORDER BY "observed_at" DESC, "record_hash" DESC
  LIMIT 1
)
SELECT o."run_id", o."identifier", o."observed_at", o."record_hash", o."group_name", o."field_name", o."value", o."position"
FROM ` + table + ` o
JOIN "latest" l ON o."observed_at" = l."observed_at" AND o."record_hash" = l."record_hash"
WHERE o."identifier" = ?1
ORDER BY o."position"`
}

func buildCreateSQL() []string {
	table := sqlIdent(storage.Table)
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + table + ` (
  "run_id" TEXT NOT NULL,
  "identifier" TEXT NOT NULL,
  "observed_at" TEXT NOT NULL,
  "record_hash" TEXT NOT NULL,
  "group_name" TEXT NOT NULL,
  "field_name" TEXT NOT NULL,
  "value" TEXT NOT NULL,
  "position" INTEGER NOT NULL
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS "observations_dedupe" ON ` + table + ` ("identifier", "observed_at", "record_hash", "position")`,
		`CREATE INDEX IF NOT EXISTS "observations_latest" ON ` + table + ` ("identifier", "observed_at")`,
	}
}

func buildInsertSQL(rows []storage.Row) (string, []any) {
	cols := make([]string, len(storage.Columns))
	for i, c := range storage.Columns {
		cols[i] = sqlIdent(c)
	}
	ph := "(" + strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",") + ")"

	var sb strings.Builder
	sb.WriteString("INSERT OR IGNORE INTO ")
	sb.WriteString(sqlIdent(storage.Table))
	sb.WriteString(" (")
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(cols))
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(ph)
		vals := row.Values()
		vals[2] = formatSQLiteTime(row.ObservedAt)
		args = append(args, vals...)
	}
	return sb.String(), args
}

// sqliteTimeLayout is fixed width so that lexical order equals time order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

// parseSQLiteTime parses timestamps returned by SQLite into time.Time.
//
// Supported formats:
//   - the fixed-width layout we write
//   - RFC3339Nano and RFC3339
//   - Common "SQLite-like" formats used by other tools/libs:
//     "2006-01-02 15:04:05Z07:00"
//     "2006-01-02 15:04:05.999999999Z07:00"
//     "2006-01-02 15:04:05" (interpreted as UTC)
func parseSQLiteTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}

	layouts := []string{
		sqliteTimeLayout,
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if layout == "2006-01-02 15:04:05" {
			if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return ts.UTC(), nil
			}
			continue
		}
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}
