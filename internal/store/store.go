// Package store is the entity store of the ledger. Records are fixed-size
// binary blobs addressed by a key derived from their logical identity.
// Implementations include PostgreSQL (source of truth), SQLite (single
// node), Redis (read-through cache) and in-memory (for testing).
package store

import (
	"context"
	"fmt"

	"github.com/solshield/ledger/internal/model"
)

// Kind identifies the record type stored at an address.
type Kind uint8

const (
	KindProtocolConfig Kind = iota + 1
	KindPosition
	KindRebalanceRecord
	KindOwnerStats
)

func (k Kind) String() string {
	switch k {
	case KindProtocolConfig:
		return "protocol_config"
	case KindPosition:
		return "position"
	case KindRebalanceRecord:
		return "rebalance_record"
	case KindOwnerStats:
		return "owner_stats"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Tx is the view of the store inside one transaction.
type Tx interface {
	// Get returns the record at addr, or errcode.ErrNotFound.
	Get(ctx context.Context, kind Kind, addr model.Address) ([]byte, error)

	// Create stores a new record, or fails with errcode.ErrAlreadyExists.
	Create(ctx context.Context, kind Kind, addr model.Address, data []byte) error

	// Put overwrites an existing record, or fails with errcode.ErrNotFound.
	Put(ctx context.Context, kind Kind, addr model.Address, data []byte) error

	// Delete removes an existing record, or fails with errcode.ErrNotFound.
	Delete(ctx context.Context, kind Kind, addr model.Address) error
}

// Store is the persistence interface. Update applies every write made by
// fn or none of them; inside Update, reads of a record lock it until
// commit on backends that support row locks.
type Store interface {
	// View runs fn in a read transaction. Writes fail.
	View(ctx context.Context, fn func(tx Tx) error) error

	// Update runs fn in a read-write transaction and commits if fn
	// returns nil.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// Close releases the backend.
	Close() error
}
