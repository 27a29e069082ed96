package ledger

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/solshield/ledger/internal/errcode"
	"github.com/solshield/ledger/internal/guard"
	"github.com/solshield/ledger/internal/lifecycle"
	"github.com/solshield/ledger/internal/model"
	"github.com/solshield/ledger/internal/store"
)

// MaxRebalancePage bounds one Rebalances walk.
const MaxRebalancePage = 1000

// RebalancePageSize returns how many records Rebalances returns at most
// for a requested limit. Zero, negative and oversized limits get
// MaxRebalancePage.
func RebalancePageSize(limit int) int {
	if limit <= 0 || limit > MaxRebalancePage {
		return MaxRebalancePage
	}
	return limit
}

// RebalanceRequest is the agent's attestation of an off-ledger action.
type RebalanceRequest struct {
	Action        model.RebalanceAction `json:"action_type"`
	Amount        uint64                `json:"amount"`
	TxSignature   model.Signature       `json:"tx_signature"`
	ReasoningHash model.Hash            `json:"ai_reasoning_hash"`
}

// RebalanceResult is the outcome of RecordRebalance.
type RebalanceResult struct {
	Record   *model.RebalanceRecord
	Position *model.Position

	// Fee is the rebalance fee quoted from the protocol's fee rate. The
	// ledger never collects it.
	Fee uint64
}

// RecordRebalance appends an immutable record at the position's next
// ordinal. It moves no funds and leaves collateral and debt untouched.
func (s *Service) RecordRebalance(ctx context.Context, agent, position model.Address, req RebalanceRequest) (*RebalanceResult, error) {
	if !req.Action.Valid() {
		return nil, errcode.ErrInvalidArgument.Withf("unknown rebalance action %d", uint8(req.Action))
	}

	defer s.locks.lock(position)()

	now := s.clock.Now().Unix()
	cooldown := int64(s.opts.RebalanceCooldown.Seconds())

	var (
		res   RebalanceResult
		total uint64
	)
	err := s.store.Update(ctx, func(tx store.Tx) error {
		ents := store.NewEntities(tx)
		cfg, err := loadConfig(ctx, ents)
		if err != nil {
			return err
		}
		if err := guard.RequireAgent(agent, cfg); err != nil {
			return err
		}
		p, err := loadPosition(ctx, ents, position)
		if err != nil {
			return err
		}
		if p.Status == model.StatusClosed {
			return errcode.ErrPositionClosed
		}
		if s.opts.RequireUnhealthyForRebalance {
			if err := lifecycle.CheckRebalanceEligible(p); err != nil {
				return err
			}
		}
		if p.LastRebalanceTs > 0 && now-p.LastRebalanceTs < cooldown {
			return errcode.ErrRebalanceCooldown.Withf(
				"Rebalance cooldown not elapsed: %ds of %ds", now-p.LastRebalanceTs, cooldown)
		}

		rec := &model.RebalanceRecord{
			Position:        p.Address,
			Owner:           p.Owner,
			Ordinal:         p.RebalanceCount,
			ActionType:      req.Action,
			Amount:          req.Amount,
			HealthBefore:    p.HealthFactor,
			TxSignature:     req.TxSignature,
			AIReasoningHash: req.ReasoningHash,
			Timestamp:       now,
		}
		if err := ents.CreateRebalance(ctx, rec); err != nil {
			if errors.Is(err, errcode.ErrAlreadyExists) {
				return errcode.ErrAlreadyExists.Withf("rebalance %d of position %s already recorded", rec.Ordinal, p.Address)
			}
			return err
		}

		if p.RebalanceCount, err = checkedAdd32(p.RebalanceCount, 1); err != nil {
			return err
		}
		p.LastRebalanceTs = now
		if cfg.TotalRebalances, err = checkedAdd64(cfg.TotalRebalances, 1); err != nil {
			return err
		}
		if err := ents.PutPosition(ctx, p); err != nil {
			return err
		}
		if err := ents.PutConfig(ctx, cfg); err != nil {
			return err
		}

		total = cfg.TotalRebalances
		res = RebalanceResult{
			Record:   rec,
			Position: p,
			Fee:      model.FeeQuote(req.Amount, cfg.RebalanceFeeBps),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("rebalance recorded",
		"position", position.String(),
		"record", res.Record.Address.String(),
		"ordinal", res.Record.Ordinal,
		"action", req.Action.String(),
		"amount", req.Amount,
		"health_before", res.Record.HealthBefore,
		"tx_signature", req.TxSignature.String(),
		"fee_quote", res.Fee,
		"total_rebalances", total,
	)
	return &res, nil
}

// Rebalance returns one record by position and ordinal. Records outlive
// their position.
func (s *Service) Rebalance(ctx context.Context, position model.Address, ordinal uint32) (*model.RebalanceRecord, error) {
	var rec *model.RebalanceRecord
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		rec, err = store.NewEntities(tx).Rebalance(ctx, position, ordinal)
		if errors.Is(err, errcode.ErrNotFound) {
			return errcode.ErrNotFound.Withf("rebalance %d of position %s not found", ordinal, position)
		}
		return err
	})
	return rec, err
}

// Rebalances walks a position's records in ordinal order, starting at
// from, until the first gap or limit records. A limit of 0 uses the
// maximum page size.
func (s *Service) Rebalances(ctx context.Context, position model.Address, from uint32, limit int) ([]*model.RebalanceRecord, error) {
	limit = RebalancePageSize(limit)
	out := make([]*model.RebalanceRecord, 0)
	err := s.store.View(ctx, func(tx store.Tx) error {
		ents := store.NewEntities(tx)
		for ord := uint64(from); ord <= math.MaxUint32 && len(out) < limit; ord++ {
			rec, err := ents.Rebalance(ctx, position, uint32(ord))
			if errors.Is(err, errcode.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
