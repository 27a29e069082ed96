// Package ledger runs the guarded operations of the position ledger. Each
// operation is one store transaction: the authorization guard runs first,
// then the lifecycle state machine validates the transition, then the
// records are written, all or nothing.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/solshield/ledger/internal/errcode"
	"github.com/solshield/ledger/internal/guard"
	"github.com/solshield/ledger/internal/lifecycle"
	"github.com/solshield/ledger/internal/model"
	"github.com/solshield/ledger/internal/store"
)

// DefaultRebalanceCooldown is the minimum spacing of rebalance records on
// one position. Options may lengthen it, never shorten it.
const DefaultRebalanceCooldown = 60 * time.Second

// Options toggles the policies that are off unless deliberately enabled.
type Options struct {
	// RebalanceCooldown values below DefaultRebalanceCooldown are raised
	// to it.
	RebalanceCooldown time.Duration

	// EnforcePositionLimit applies ProtocolConfig.MaxPositionsPerUser at
	// registration.
	EnforcePositionLimit bool

	// RequireUnhealthyForRebalance rejects rebalances on positions that
	// are Active at or above their warn threshold.
	RequireUnhealthyForRebalance bool
}

// Service executes ledger operations against a store.
type Service struct {
	store store.Store
	clock Clock
	opts  Options
	locks stripedMutex
}

// NewService creates a ledger service. A nil clock uses the wall clock.
func NewService(st store.Store, clock Clock, opts Options) *Service {
	if clock == nil {
		clock = SystemClock{}
	}
	if opts.RebalanceCooldown < DefaultRebalanceCooldown {
		opts.RebalanceCooldown = DefaultRebalanceCooldown
	}
	return &Service{
		store: st,
		clock: clock,
		opts:  opts,
	}
}

// RegisterRequest describes a position to monitor.
type RegisterRequest struct {
	Protocol          model.DeFiProtocol `json:"protocol"`
	ObligationKey     model.Address      `json:"obligation_key"`
	WarnThreshold     uint64             `json:"warn_threshold"`
	CriticalThreshold uint64             `json:"critical_threshold"`
}

// HealthInput is one agent reading.
type HealthInput struct {
	HealthFactor       uint64 `json:"health_factor"`
	TotalCollateralUSD uint64 `json:"total_collateral_usd"`
	TotalDebtUSD       uint64 `json:"total_debt_usd"`
}

// HealthUpdate is the outcome of UpdateHealth.
type HealthUpdate struct {
	Position       *model.Position
	PreviousStatus model.PositionStatus
}

// OwnerUpdate is the outcome of an owner lifecycle operation.
// PreviousStatus is read inside the same transaction as the change.
type OwnerUpdate struct {
	Position       *model.Position
	PreviousStatus model.PositionStatus
}

// Initialize creates the protocol singleton. The caller becomes its
// authority. It can only succeed once.
func (s *Service) Initialize(ctx context.Context, authority model.Address, params model.ConfigParams) (*model.ProtocolConfig, error) {
	if err := lifecycle.ValidateThresholds(params.DefaultWarnThreshold, params.DefaultCriticalThreshold); err != nil {
		return nil, err
	}

	cfg := &model.ProtocolConfig{
		Authority:                authority,
		AgentAuthority:           params.AgentAuthority,
		DefaultWarnThreshold:     params.DefaultWarnThreshold,
		DefaultCriticalThreshold: params.DefaultCriticalThreshold,
		MaxPositionsPerUser:      params.MaxPositionsPerUser,
		RebalanceFeeBps:          params.RebalanceFeeBps,
	}
	err := s.store.Update(ctx, func(tx store.Tx) error {
		err := store.NewEntities(tx).CreateConfig(ctx, cfg)
		if errors.Is(err, errcode.ErrAlreadyExists) {
			return errcode.ErrAlreadyExists.Withf("protocol is already initialized")
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("protocol initialized",
		"authority", authority.String(),
		"agent_authority", cfg.AgentAuthority.String(),
		"warn_threshold", cfg.DefaultWarnThreshold,
		"critical_threshold", cfg.DefaultCriticalThreshold,
	)
	return cfg, nil
}

// RegisterPosition starts monitoring the caller's obligation. The caller
// becomes the owner.
func (s *Service) RegisterPosition(ctx context.Context, owner model.Address, req RegisterRequest) (*model.Position, error) {
	if err := lifecycle.ValidateProtocol(req.Protocol); err != nil {
		return nil, err
	}
	if err := lifecycle.ValidateThresholds(req.WarnThreshold, req.CriticalThreshold); err != nil {
		return nil, err
	}

	p := &model.Position{
		Owner:             owner,
		Protocol:          req.Protocol,
		ObligationKey:     req.ObligationKey,
		WarnThreshold:     req.WarnThreshold,
		CriticalThreshold: req.CriticalThreshold,
		Status:            model.StatusActive,
		CreatedAt:         s.clock.Now().Unix(),
	}

	defer s.locks.lock(store.PositionAddress(owner, req.ObligationKey))()

	var total uint64
	err := s.store.Update(ctx, func(tx store.Tx) error {
		ents := store.NewEntities(tx)
		cfg, err := loadConfig(ctx, ents)
		if err != nil {
			return err
		}
		stats, exists, err := ents.OwnerStats(ctx, owner)
		if err != nil {
			return err
		}
		if s.opts.EnforcePositionLimit {
			if err := lifecycle.CheckPositionLimit(stats, cfg.MaxPositionsPerUser); err != nil {
				return err
			}
		}

		if err := ents.CreatePosition(ctx, p); err != nil {
			if errors.Is(err, errcode.ErrAlreadyExists) {
				return errcode.ErrAlreadyExists.Withf("position for obligation %s is already registered", req.ObligationKey)
			}
			return err
		}

		if cfg.TotalPositions, err = checkedAdd64(cfg.TotalPositions, 1); err != nil {
			return err
		}
		if stats.OpenPositions, err = checkedAdd32(stats.OpenPositions, 1); err != nil {
			return err
		}
		if stats.LifetimePositions, err = checkedAdd64(stats.LifetimePositions, 1); err != nil {
			return err
		}
		if err := ents.PutConfig(ctx, cfg); err != nil {
			return err
		}
		total = cfg.TotalPositions
		return ents.SaveOwnerStats(ctx, stats, exists)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("position registered",
		"position", p.Address.String(),
		"owner", owner.String(),
		"protocol", p.Protocol.String(),
		"obligation", p.ObligationKey.String(),
		"warn_threshold", p.WarnThreshold,
		"critical_threshold", p.CriticalThreshold,
		"total_positions", total,
	)
	return p, nil
}

// UpdateHealth records an agent reading and moves the position to Active,
// Warning or Critical. Paused and closed positions reject readings.
func (s *Service) UpdateHealth(ctx context.Context, agent, position model.Address, in HealthInput) (*HealthUpdate, error) {
	defer s.locks.lock(position)()

	var res HealthUpdate
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

		prev, err := lifecycle.ApplyHealth(p, lifecycle.HealthReport{
			HealthFactor:       in.HealthFactor,
			TotalCollateralUSD: in.TotalCollateralUSD,
			TotalDebtUSD:       in.TotalDebtUSD,
			CheckedAt:          s.clock.Now().Unix(),
		})
		if err != nil {
			return err
		}
		if err := ents.PutPosition(ctx, p); err != nil {
			return err
		}
		res = HealthUpdate{Position: p, PreviousStatus: prev}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p := res.Position
	attrs := []any{
		"position", p.Address.String(),
		"health_factor", p.HealthFactor,
		"collateral_usd", model.MicroUSD(p.TotalCollateralUSD).String(),
		"debt_usd", model.MicroUSD(p.TotalDebtUSD).String(),
		"status", p.Status.String(),
		"previous_status", res.PreviousStatus.String(),
	}
	switch p.Status {
	case model.StatusCritical:
		slog.Warn("health below critical threshold", append(attrs, "critical_threshold", p.CriticalThreshold)...)
	case model.StatusWarning:
		slog.Warn("health below warn threshold", append(attrs, "warn_threshold", p.WarnThreshold)...)
	default:
		slog.Info("health updated", attrs...)
	}
	return &res, nil
}

// PausePosition suspends agent-driven status evaluation. Owner only.
func (s *Service) PausePosition(ctx context.Context, owner, position model.Address) (*OwnerUpdate, error) {
	return s.ownerTransition(ctx, "paused", owner, position, lifecycle.Pause)
}

// ResumePosition re-enables a paused position as Active. Owner only.
func (s *Service) ResumePosition(ctx context.Context, owner, position model.Address) (*OwnerUpdate, error) {
	return s.ownerTransition(ctx, "resumed", owner, position, lifecycle.Resume)
}

func (s *Service) ownerTransition(ctx context.Context, verb string, owner, position model.Address, apply func(*model.Position) error) (*OwnerUpdate, error) {
	defer s.locks.lock(position)()

	var (
		p    *model.Position
		prev model.PositionStatus
	)
	err := s.store.Update(ctx, func(tx store.Tx) error {
		ents := store.NewEntities(tx)
		var err error
		if p, err = loadPosition(ctx, ents, position); err != nil {
			return err
		}
		if err := guard.RequireOwner(owner, p); err != nil {
			return err
		}
		prev = p.Status
		if err := apply(p); err != nil {
			return err
		}
		return ents.PutPosition(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("position "+verb+" by owner",
		"position", position.String(),
		"owner", owner.String(),
		"previous_status", prev.String(),
	)
	return &OwnerUpdate{Position: p, PreviousStatus: prev}, nil
}

// ClosePosition removes the position permanently. Owner only. Its
// rebalance records stay readable.
func (s *Service) ClosePosition(ctx context.Context, owner, position model.Address) (*OwnerUpdate, error) {
	defer s.locks.lock(position)()

	var (
		p     *model.Position
		prev  model.PositionStatus
		total uint64
	)
	err := s.store.Update(ctx, func(tx store.Tx) error {
		ents := store.NewEntities(tx)
		cfg, err := loadConfig(ctx, ents)
		if err != nil {
			return err
		}
		if p, err = loadPosition(ctx, ents, position); err != nil {
			return err
		}
		if err := guard.RequireOwner(owner, p); err != nil {
			return err
		}
		prev = p.Status
		if err := lifecycle.Close(p); err != nil {
			return err
		}
		if err := ents.DeletePosition(ctx, p); err != nil {
			return err
		}

		cfg.TotalPositions = saturatingSub64(cfg.TotalPositions, 1)
		if err := ents.PutConfig(ctx, cfg); err != nil {
			return err
		}
		total = cfg.TotalPositions

		stats, exists, err := ents.OwnerStats(ctx, owner)
		if err != nil {
			return err
		}
		stats.OpenPositions = saturatingSub32(stats.OpenPositions, 1)
		return ents.SaveOwnerStats(ctx, stats, exists)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("position closed",
		"position", position.String(),
		"owner", owner.String(),
		"rebalances", p.RebalanceCount,
		"total_positions", total,
		"previous_status", prev.String(),
	)
	return &OwnerUpdate{Position: p, PreviousStatus: prev}, nil
}

// --- Reads ---

// Protocol returns the protocol singleton.
func (s *Service) Protocol(ctx context.Context) (*model.ProtocolConfig, error) {
	var cfg *model.ProtocolConfig
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		cfg, err = loadConfig(ctx, store.NewEntities(tx))
		return err
	})
	return cfg, err
}

// Position returns a live position.
func (s *Service) Position(ctx context.Context, addr model.Address) (*model.Position, error) {
	var p *model.Position
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		p, err = loadPosition(ctx, store.NewEntities(tx), addr)
		return err
	})
	return p, err
}

// OwnerStats returns the owner's position counters.
func (s *Service) OwnerStats(ctx context.Context, owner model.Address) (*model.OwnerStats, error) {
	var stats *model.OwnerStats
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		stats, _, err = store.NewEntities(tx).OwnerStats(ctx, owner)
		return err
	})
	return stats, err
}

func loadConfig(ctx context.Context, ents store.Entities) (*model.ProtocolConfig, error) {
	cfg, err := ents.Config(ctx)
	if errors.Is(err, errcode.ErrNotFound) {
		return nil, errcode.ErrNotFound.Withf("protocol is not initialized")
	}
	return cfg, err
}

func loadPosition(ctx context.Context, ents store.Entities, addr model.Address) (*model.Position, error) {
	p, err := ents.Position(ctx, addr)
	if errors.Is(err, errcode.ErrNotFound) {
		return nil, errcode.ErrNotFound.Withf("position %s not found", addr)
	}
	return p, err
}
