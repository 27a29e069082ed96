package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/solshield/ledger/internal/model"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS accounts (
	kind       INTEGER NOT NULL,
	address    BLOB    NOT NULL,
	data       BLOB    NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (kind, address)
)`

// SQLiteStore implements Store on a single SQLite file. One connection is
// kept open, so transactions are serialized by the pool.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA busy_timeout=5000`,
		sqliteSchema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) View(ctx context.Context, fn func(tx Tx) error) error {
	return s.run(ctx, true, fn)
}

func (s *SQLiteStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	return s.run(ctx, false, fn)
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) run(ctx context.Context, readOnly bool, fn func(tx Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sqlite tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&sqliteTx{tx: tx, readOnly: readOnly}); err != nil {
		return err
	}
	if readOnly {
		return tx.Rollback()
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit sqlite tx: %w", err)
	}
	return nil
}

type sqliteTx struct {
	tx       *sql.Tx
	readOnly bool
}

func (t *sqliteTx) Get(ctx context.Context, kind Kind, addr model.Address) ([]byte, error) {
	var data []byte
	err := t.tx.QueryRowContext(ctx,
		`SELECT data FROM accounts WHERE kind = ? AND address = ?`,
		int(kind), addr[:],
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(kind, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", kind, addr, err)
	}
	return data, nil
}

func (t *sqliteTx) Create(ctx context.Context, kind Kind, addr model.Address, data []byte) error {
	if t.readOnly {
		return errReadOnly
	}
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO accounts (kind, address, data, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (kind, address) DO NOTHING`,
		int(kind), addr[:], data, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("create %s %s: %w", kind, addr, err)
	}
	return expectRow(res, alreadyExists(kind, addr))
}

func (t *sqliteTx) Put(ctx context.Context, kind Kind, addr model.Address, data []byte) error {
	if t.readOnly {
		return errReadOnly
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE accounts SET data = ?, updated_at = ? WHERE kind = ? AND address = ?`,
		data, time.Now().Unix(), int(kind), addr[:],
	)
	if err != nil {
		return fmt.Errorf("put %s %s: %w", kind, addr, err)
	}
	return expectRow(res, notFound(kind, addr))
}

func (t *sqliteTx) Delete(ctx context.Context, kind Kind, addr model.Address) error {
	if t.readOnly {
		return errReadOnly
	}
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM accounts WHERE kind = ? AND address = ?`,
		int(kind), addr[:],
	)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, addr, err)
	}
	return expectRow(res, notFound(kind, addr))
}

// expectRow returns missing when the statement touched no row.
func expectRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return missing
	}
	return nil
}
