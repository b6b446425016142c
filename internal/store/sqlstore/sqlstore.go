// Package sqlstore is the SQL-table object store backend (spec.md §6
// "Persisted layout"), the JDBC-analog backend in the pack (grounded on
// roach88-nysm's use of mattn/go-sqlite3 as its embedded SQL driver).
//
// One row per record: uid, the numeric status ordinal, the type name, and
// the LRA id string, plus the opaque serialized payload. store.Store only
// promises opaque bytes to its callers, so the status/lra_id columns are
// best-effort projections decoded from the payload for operator
// queryability; a payload that doesn't decode as an envelope still stores
// and reads back correctly, with status -1 and an empty lra_id.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"lracoord/internal/lra"
	"lracoord/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS lra_records (
	uid       TEXT NOT NULL,
	status    INTEGER NOT NULL DEFAULT 0,
	type      TEXT NOT NULL,
	lra_id    TEXT NOT NULL DEFAULT '',
	data      BLOB NOT NULL,
	PRIMARY KEY (type, uid)
);
`

// envelope is the minimal shape sqlstore peeks at to project the status
// and lra_id columns. internal/lra's on-wire record satisfies this --
// Status marshals as a string (e.g. "Closing"), not a number, so the
// envelope decodes it as a string and projects lra.Status.Ordinal() into
// the numeric column.
type envelope struct {
	ID     string     `json:"id"`
	Status lra.Status `json:"status"`
}

// Store implements store.Store over a SQL table.
type Store struct {
	db *sql.DB
}

// Open connects to the SQLite database at dsn and ensures the schema
// exists. dsn is any DSN accepted by mattn/go-sqlite3 (a file path, or
// ":memory:" for an ephemeral database).
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Write(ctx context.Context, typ store.Type, uid string, data []byte) error {
	// A payload that doesn't decode as an envelope (e.g. a caller storing
	// something other than an LRA record) still stores and reads back
	// correctly; its status column is then -1 (Ordinal of an empty status)
	// and its lra_id is empty.
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		env = envelope{}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lra_records (uid, status, type, lra_id, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(type, uid) DO UPDATE SET status=excluded.status, lra_id=excluded.lra_id, data=excluded.data
	`, uid, env.Status.Ordinal(), string(typ), env.ID, data)
	if err != nil {
		return fmt.Errorf("sqlstore: write: %w", err)
	}
	return nil
}

func (s *Store) Read(ctx context.Context, typ store.Type, uid string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM lra_records WHERE type = ? AND uid = ?`, string(typ), uid,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: read: %w", err)
	}
	return data, nil
}

func (s *Store) Remove(ctx context.Context, typ store.Type, uid string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM lra_records WHERE type = ? AND uid = ?`, string(typ), uid,
	); err != nil {
		return fmt.Errorf("sqlstore: remove: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, typ store.Type) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT uid FROM lra_records WHERE type = ?`, string(typ))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list: %w", err)
	}
	defer rows.Close()

	var uids []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("sqlstore: scan: %w", err)
		}
		uids = append(uids, uid)
	}
	return uids, rows.Err()
}

// Move reclassifies a row's type within one transaction so the row is
// never absent from both types, nor briefly present in both.
func (s *Store) Move(ctx context.Context, fromType, toType store.Type, uid string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: move begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE lra_records SET type = ? WHERE type = ? AND uid = ?`,
		string(toType), string(fromType), uid,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: move: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: move rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return tx.Commit()
}

func (s *Store) Close() error {
	return s.db.Close()
}
