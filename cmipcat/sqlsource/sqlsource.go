// Package sqlsource loads record snapshots from SQL tables.
//
// A record table has two text columns, dataset_id and path. SQLite tables
// are read in rowid order, so their snapshots keep insertion order.
// PostgreSQL tables have no such order and are read as the server returns
// them.
package sqlsource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"github.com/pithecene-io/cmipcat/cmipcat"
)

// Dialect describes the SQL differences between supported databases.
type Dialect struct {
	// Driver is the database/sql driver name.
	Driver string

	// OrderBy is appended to record queries. Empty means unordered.
	OrderBy string

	// Placeholder renders the i-th (1-based) bind parameter.
	Placeholder func(i int) string
}

// Supported dialects.
var (
	SQLite = Dialect{
		Driver:      "sqlite",
		OrderBy:     "rowid",
		Placeholder: func(int) string { return "?" },
	}
	Postgres = Dialect{
		Driver:      "pgx",
		Placeholder: func(i int) string { return fmt.Sprintf("$%d", i) },
	}
)

// LoadSQLite reads table from the SQLite database at path.
func LoadSQLite(ctx context.Context, path, table string) (*cmipcat.Records, error) {
	return open(ctx, SQLite, path, table)
}

// LoadPostgres reads table from the PostgreSQL database at dsn.
func LoadPostgres(ctx context.Context, dsn, table string) (*cmipcat.Records, error) {
	return open(ctx, Postgres, dsn, table)
}

func open(ctx context.Context, d Dialect, dsn, table string) (*cmipcat.Records, error) {
	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlsource: open %s: %w", d.Driver, err)
	}
	defer func() { _ = db.Close() }()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("sqlsource: ping %s: %w", d.Driver, err)
	}
	return Load(ctx, db, d, table)
}

// Load reads every row of table into an ordered snapshot.
// A missing table or a NULL column is an error.
func Load(ctx context.Context, db *sql.DB, d Dialect, table string) (*cmipcat.Records, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}
	query := "SELECT dataset_id, path FROM " + table
	if d.OrderBy != "" {
		query += " ORDER BY " + d.OrderBy
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlsource: query %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	records := cmipcat.NewRecords()
	for rows.Next() {
		var id, path sql.NullString
		if err := rows.Scan(&id, &path); err != nil {
			return nil, fmt.Errorf("sqlsource: scan %s: %w", table, err)
		}
		if !id.Valid || !path.Valid {
			return nil, fmt.Errorf("sqlsource: %s: NULL record after %d rows", table, records.Len())
		}
		records.Set(cmipcat.DatasetID(id.String), path.String)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlsource: read %s: %w", table, err)
	}
	return records, nil
}

// Save creates table if needed and replaces its contents with src, in
// source order, within one transaction.
func Save(ctx context.Context, db *sql.DB, d Dialect, table string, src cmipcat.RecordSource) (retErr error) {
	if err := validateTable(table); err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlsource: begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	ddl := "CREATE TABLE IF NOT EXISTS " + table + " (dataset_id TEXT PRIMARY KEY, path TEXT NOT NULL)"
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("sqlsource: create %s: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("sqlsource: clear %s: %w", table, err)
	}

	insert := fmt.Sprintf("INSERT INTO %s (dataset_id, path) VALUES (%s, %s)",
		table, d.Placeholder(1), d.Placeholder(2))
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("sqlsource: prepare %s: %w", table, err)
	}
	defer func() { _ = stmt.Close() }()

	for id, path := range src.All() {
		if _, err := stmt.ExecContext(ctx, string(id), path); err != nil {
			return fmt.Errorf("sqlsource: insert %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlsource: commit: %w", err)
	}
	return nil
}

// validateTable accepts plain identifiers only; table names are
// interpolated into queries.
func validateTable(table string) error {
	if table == "" {
		return errors.New("sqlsource: table name is required")
	}
	for i, r := range table {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return fmt.Errorf("sqlsource: invalid table name %q", table)
		}
	}
	if strings.EqualFold(table, "sqlite_master") {
		return fmt.Errorf("sqlsource: invalid table name %q", table)
	}
	return nil
}
