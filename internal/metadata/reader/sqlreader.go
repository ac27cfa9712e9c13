package reader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	_ "modernc.org/sqlite"

	"github.com/sdi-catalog/csw-indexer/internal/metadata"
	apperrors "github.com/sdi-catalog/csw-indexer/pkg/errors"
	"github.com/sdi-catalog/csw-indexer/pkg/postgres"
)

// Dialect picks the SQL placeholder style.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

func (d Dialect) placeholder(n int) string {
	if d == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLReader serves records from a table with identifier and xml columns.
type SQLReader struct {
	db         *sql.DB
	dialect    Dialect
	table      string
	mode       Mode
	additional map[string][]string
}

// NewSQLReader reads records from table, whose identifier and xml columns hold the
// identifier and the document.
func NewSQLReader(db *sql.DB, dialect Dialect, table string, mode Mode, additional map[string][]string) (*SQLReader, error) {
	if !tableName.MatchString(table) {
		return nil, apperrors.Configf("invalid records table name %q", table)
	}
	return &SQLReader{db: db, dialect: dialect, table: table, mode: mode, additional: additional}, nil
}

// OpenSQLite opens (creating if needed) an embedded record store.
func OpenSQLite(ctx context.Context, path, table string, mode Mode, additional map[string][]string) (*SQLReader, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMetadataIO, apperrors.KindConfiguration, err, "opening sqlite "+path)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrMetadataIO, apperrors.KindConfiguration, err, "enabling WAL")
	}
	r, err := NewSQLReader(db, SQLite, table, mode, additional)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := r.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// InitSchema creates the records table when it does not exist.
func (r *SQLReader) InitSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	identifier TEXT PRIMARY KEY,
	xml TEXT NOT NULL
)`, r.table)
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return apperrors.Wrap(apperrors.ErrMetadataIO, apperrors.KindConfiguration, err, "creating table "+r.table)
	}
	return nil
}

func (r *SQLReader) Close() error { return r.db.Close() }

func (r *SQLReader) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *SQLReader) AdditionalQueryables() map[string][]string { return r.additional }

// AllIdentifiers returns every identifier in the table, ordered.
func (r *SQLReader) AllIdentifiers(ctx context.Context) ([]string, error) {
	it, err := r.Identifiers(ctx)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var ids []string
	for it.Next() {
		ids = append(ids, it.Identifier())
	}
	return ids, it.Err()
}

// Identifiers streams the identifier column through an open cursor.
func (r *SQLReader) Identifiers(ctx context.Context) (IdentifierIterator, error) {
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf("SELECT identifier FROM %s ORDER BY identifier", r.table))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMetadataIO, apperrors.KindIndex, err, "listing identifiers")
	}
	return &rowIterator{rows: rows}, nil
}

func (r *SQLReader) Entry(ctx context.Context, id string) (metadata.Record, error) {
	var doc string
	err := r.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT xml FROM %s WHERE identifier = %s", r.table, r.dialect.placeholder(1)),
		id,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrRecordNotFound, apperrors.KindRecord, "record %q", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMetadataIO, apperrors.KindRecord, err, "reading record "+id)
	}
	return Decode([]byte(doc), r.mode)
}

// Put stores or replaces one record document.
func (r *SQLReader) Put(ctx context.Context, id string, doc []byte) error {
	return r.PutAll(ctx, map[string][]byte{id: doc})
}

// PutAll stores several documents in one transaction.
func (r *SQLReader) PutAll(ctx context.Context, docs map[string][]byte) error {
	stmt := fmt.Sprintf(
		"INSERT INTO %s (identifier, xml) VALUES (%s, %s) ON CONFLICT (identifier) DO UPDATE SET xml = excluded.xml",
		r.table, r.dialect.placeholder(1), r.dialect.placeholder(2),
	)
	return postgres.InTx(ctx, r.db, func(tx *sql.Tx) error {
		for id, doc := range docs {
			if _, err := tx.ExecContext(ctx, stmt, id, string(doc)); err != nil {
				return apperrors.Wrap(apperrors.ErrMetadataIO, apperrors.KindRecord, err, "storing record "+id)
			}
		}
		return nil
	})
}

// Delete removes a record document. Missing records are not an error.
func (r *SQLReader) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE identifier = %s", r.table, r.dialect.placeholder(1)), id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrMetadataIO, apperrors.KindRecord, err, "deleting record "+id)
	}
	return nil
}

type rowIterator struct {
	rows    *sql.Rows
	current string
	err     error
}

func (it *rowIterator) Next() bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}
	if err := it.rows.Scan(&it.current); err != nil {
		it.err = apperrors.Wrap(apperrors.ErrMetadataIO, apperrors.KindIndex, err, "scanning identifier")
		return false
	}
	return true
}

func (it *rowIterator) Identifier() string { return it.current }

func (it *rowIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.rows.Err()
}

func (it *rowIterator) Close() error { return it.rows.Close() }
