package store

import (
	"context"
	"errors"

	"github.com/solshield/ledger/internal/errcode"
	"github.com/solshield/ledger/internal/model"
)

// Entities is a typed view of a transaction. Addresses are always derived
// from logical identity, never taken on trust from the caller's struct.
type Entities struct {
	tx Tx
}

// NewEntities wraps tx.
func NewEntities(tx Tx) Entities { return Entities{tx: tx} }

// --- Protocol config ---

func (e Entities) Config(ctx context.Context) (*model.ProtocolConfig, error) {
	data, err := e.tx.Get(ctx, KindProtocolConfig, ConfigAddress())
	if err != nil {
		return nil, err
	}
	return DecodeConfig(data)
}

func (e Entities) CreateConfig(ctx context.Context, c *model.ProtocolConfig) error {
	return e.tx.Create(ctx, KindProtocolConfig, ConfigAddress(), EncodeConfig(c))
}

func (e Entities) PutConfig(ctx context.Context, c *model.ProtocolConfig) error {
	return e.tx.Put(ctx, KindProtocolConfig, ConfigAddress(), EncodeConfig(c))
}

// --- Positions ---

func (e Entities) Position(ctx context.Context, addr model.Address) (*model.Position, error) {
	data, err := e.tx.Get(ctx, KindPosition, addr)
	if err != nil {
		return nil, err
	}
	p, err := DecodePosition(data)
	if err != nil {
		return nil, err
	}
	p.Address = addr
	return p, nil
}

// CreatePosition stores p at the address derived from its owner and
// obligation and sets p.Address.
func (e Entities) CreatePosition(ctx context.Context, p *model.Position) error {
	addr := PositionAddress(p.Owner, p.ObligationKey)
	if err := e.tx.Create(ctx, KindPosition, addr, EncodePosition(p)); err != nil {
		return err
	}
	p.Address = addr
	return nil
}

func (e Entities) PutPosition(ctx context.Context, p *model.Position) error {
	return e.tx.Put(ctx, KindPosition, PositionAddress(p.Owner, p.ObligationKey), EncodePosition(p))
}

func (e Entities) DeletePosition(ctx context.Context, p *model.Position) error {
	return e.tx.Delete(ctx, KindPosition, PositionAddress(p.Owner, p.ObligationKey))
}

// --- Rebalance records ---

func (e Entities) Rebalance(ctx context.Context, position model.Address, ordinal uint32) (*model.RebalanceRecord, error) {
	addr := RebalanceAddress(position, ordinal)
	data, err := e.tx.Get(ctx, KindRebalanceRecord, addr)
	if err != nil {
		return nil, err
	}
	r, err := DecodeRebalance(data)
	if err != nil {
		return nil, err
	}
	r.Address = addr
	r.Ordinal = ordinal
	return r, nil
}

// CreateRebalance appends r at (r.Position, r.Ordinal) and sets r.Address.
// Records are never updated or deleted.
func (e Entities) CreateRebalance(ctx context.Context, r *model.RebalanceRecord) error {
	addr := RebalanceAddress(r.Position, r.Ordinal)
	if err := e.tx.Create(ctx, KindRebalanceRecord, addr, EncodeRebalance(r)); err != nil {
		return err
	}
	r.Address = addr
	return nil
}

// --- Owner stats ---

// OwnerStats returns the owner's counters; an owner with no record has
// zero counts.
func (e Entities) OwnerStats(ctx context.Context, owner model.Address) (*model.OwnerStats, bool, error) {
	data, err := e.tx.Get(ctx, KindOwnerStats, OwnerStatsAddress(owner))
	if errors.Is(err, errcode.ErrNotFound) {
		return &model.OwnerStats{Owner: owner}, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	s, err := DecodeOwnerStats(data)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// SaveOwnerStats creates or overwrites the owner's counters. exists is the
// flag returned by OwnerStats.
func (e Entities) SaveOwnerStats(ctx context.Context, s *model.OwnerStats, exists bool) error {
	addr := OwnerStatsAddress(s.Owner)
	if exists {
		return e.tx.Put(ctx, KindOwnerStats, addr, EncodeOwnerStats(s))
	}
	return e.tx.Create(ctx, KindOwnerStats, addr, EncodeOwnerStats(s))
}
