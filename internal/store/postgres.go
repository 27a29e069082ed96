package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solshield/ledger/internal/model"
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS accounts (
	kind       SMALLINT    NOT NULL,
	address    BYTEA       NOT NULL,
	data       BYTEA       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (kind, address)
)`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Reads inside Update take row locks (SELECT ... FOR UPDATE), which
// serializes concurrent mutations of the same record across instances.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the accounts table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate accounts: %w", err)
	}
	return nil
}

func (s *PostgresStore) View(ctx context.Context, fn func(tx Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

func (s *PostgresStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx, lock: true})
	})
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type pgTx struct {
	tx   pgx.Tx
	lock bool
}

func (t *pgTx) Get(ctx context.Context, kind Kind, addr model.Address) ([]byte, error) {
	query := `SELECT data FROM accounts WHERE kind = $1 AND address = $2`
	if t.lock {
		query += ` FOR UPDATE`
	}
	var data []byte
	err := t.tx.QueryRow(ctx, query, int16(kind), addr[:]).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(kind, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", kind, addr, err)
	}
	return data, nil
}

func (t *pgTx) Create(ctx context.Context, kind Kind, addr model.Address, data []byte) error {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO accounts (kind, address, data)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (kind, address) DO NOTHING`,
		int16(kind), addr[:], data,
	)
	if err != nil {
		return fmt.Errorf("create %s %s: %w", kind, addr, err)
	}
	if tag.RowsAffected() == 0 {
		return alreadyExists(kind, addr)
	}
	return nil
}

func (t *pgTx) Put(ctx context.Context, kind Kind, addr model.Address, data []byte) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE accounts SET data = $3, updated_at = now()
		 WHERE kind = $1 AND address = $2`,
		int16(kind), addr[:], data,
	)
	if err != nil {
		return fmt.Errorf("put %s %s: %w", kind, addr, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(kind, addr)
	}
	return nil
}

func (t *pgTx) Delete(ctx context.Context, kind Kind, addr model.Address) error {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM accounts WHERE kind = $1 AND address = $2`,
		int16(kind), addr[:],
	)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, addr, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(kind, addr)
	}
	return nil
}
