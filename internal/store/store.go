// Public domain.

// Package store keeps run state that outlives one invocation in a SQLite
// database: the filtered SDSS field list for each deep field and the SDSS
// reference objects used to seed fluxes.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/soniakeys/cs82phot/internal/fields"
)

const schema = `
CREATE TABLE IF NOT EXISTS field_list (
	key     TEXT PRIMARY KEY,
	nfields INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS field (
	key      TEXT NOT NULL,
	ord      INTEGER NOT NULL,
	run      INTEGER NOT NULL,
	camcol   INTEGER NOT NULL,
	field    INTEGER NOT NULL,
	rerun    TEXT NOT NULL,
	ra0      REAL NOT NULL,
	ra1      REAL NOT NULL,
	dec0     REAL NOT NULL,
	dec1     REAL NOT NULL,
	ra       REAL NOT NULL,
	dec      REAL NOT NULL,
	score    REAL NOT NULL,
	enclosed INTEGER NOT NULL,
	PRIMARY KEY (key, ord)
);
CREATE TABLE IF NOT EXISTS ref_object (
	id             INTEGER PRIMARY KEY,
	ra             REAL NOT NULL,
	dec            REAL NOT NULL,
	flux_u         REAL NOT NULL,
	flux_g         REAL NOT NULL,
	flux_r         REAL NOT NULL,
	flux_i         REAL NOT NULL,
	flux_z         REAL NOT NULL,
	resolve_status INTEGER NOT NULL,
	type           INTEGER NOT NULL,
	frac_dev       REAL NOT NULL,
	theta_dev      REAL NOT NULL,
	ab_dev         REAL NOT NULL,
	phi_dev        REAL NOT NULL,
	theta_exp      REAL NOT NULL,
	ab_exp         REAL NOT NULL,
	phi_exp        REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS ref_object_dec ON ref_object (dec);
`

// DB is an open store.
type DB struct {
	conn *sql.DB
	Path string
	Log  *zap.SugaredLogger
}

// Open opens or creates the store at path.
func Open(path string, log *zap.SugaredLogger) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &DB{conn: conn, Path: path, Log: log}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Fields returns the cached field list for key.  The bool result is false
// if nothing is cached; an empty cached list is a hit.
func (d *DB) Fields(ctx context.Context, key string) ([]fields.Field, bool, error) {
	var n int
	err := d.conn.QueryRowContext(ctx,
		`SELECT nfields FROM field_list WHERE key = ?`, key).Scan(&n)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading field list %s: %w", key, err)
	}
	rows, err := d.conn.QueryContext(ctx, `
		SELECT run, camcol, field, rerun, ra0, ra1, dec0, dec1, ra, dec, score, enclosed
		FROM field WHERE key = ? ORDER BY ord`, key)
	if err != nil {
		return nil, false, fmt.Errorf("reading fields %s: %w", key, err)
	}
	defer rows.Close()
	fs := make([]fields.Field, 0, n)
	for rows.Next() {
		var f fields.Field
		if err := rows.Scan(&f.Run, &f.Camcol, &f.Field, &f.Rerun,
			&f.RA0, &f.RA1, &f.Dec0, &f.Dec1, &f.RA, &f.Dec,
			&f.Score, &f.Enclosed); err != nil {
			return nil, false, fmt.Errorf("scanning field: %w", err)
		}
		fs = append(fs, f)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	if len(fs) != n {
		return nil, false, fmt.Errorf("field list %s: have %d fields, want %d", key, len(fs), n)
	}
	return fs, true, nil
}

// PutFields replaces the cached field list for key, keeping order.
func (d *DB) PutFields(ctx context.Context, key string, fs []fields.Field) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM field WHERE key = ?`, key); err != nil {
		return fmt.Errorf("clearing fields %s: %w", key, err)
	}
	st, err := tx.PrepareContext(ctx, `
		INSERT INTO field (key, ord, run, camcol, field, rerun,
			ra0, ra1, dec0, dec1, ra, dec, score, enclosed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer st.Close()
	for i, f := range fs {
		if _, err := st.ExecContext(ctx, key, i, f.Run, f.Camcol, f.Field, f.Rerun,
			f.RA0, f.RA1, f.Dec0, f.Dec1, f.RA, f.Dec, f.Score, f.Enclosed); err != nil {
			return fmt.Errorf("writing field %s: %w", f.String(), err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO field_list (key, nfields) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET nfields = excluded.nfields`,
		key, len(fs)); err != nil {
		return fmt.Errorf("writing field list %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	d.Log.Debugw("cached field list", "key", key, "fields", len(fs))
	return nil
}
