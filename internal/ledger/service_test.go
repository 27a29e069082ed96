package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solshield/ledger/internal/errcode"
	"github.com/solshield/ledger/internal/model"
	"github.com/solshield/ledger/internal/store"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var (
	authority = model.Address{0xa0}
	agent     = model.Address{0xa1}
	owner     = model.Address{0xb0}
	stranger  = model.Address{0xb1}
)

type fixture struct {
	svc   *Service
	st    *store.MemoryStore
	clock *manualClock
}

func newFixture(t *testing.T, opts Options, params model.ConfigParams) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	clock := &manualClock{now: time.Unix(1_700_000_000, 0)}
	svc := NewService(st, clock, opts)
	params.AgentAuthority = agent
	if params.DefaultWarnThreshold == 0 {
		params.DefaultWarnThreshold = 15_000
		params.DefaultCriticalThreshold = 12_000
	}
	_, err := svc.Initialize(context.Background(), authority, params)
	require.NoError(t, err)
	return &fixture{svc: svc, st: st, clock: clock}
}

func (f *fixture) register(t *testing.T, who model.Address, obligation byte) *model.Position {
	t.Helper()
	p, err := f.svc.RegisterPosition(context.Background(), who, RegisterRequest{
		Protocol:          model.ProtocolKamino,
		ObligationKey:     model.Address{obligation},
		WarnThreshold:     15_000,
		CriticalThreshold: 12_000,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) health(hf uint64) HealthInput {
	return HealthInput{HealthFactor: hf, TotalCollateralUSD: 2_000_000_000, TotalDebtUSD: 1_000_000_000}
}

func rebalance(action model.RebalanceAction) RebalanceRequest {
	return RebalanceRequest{
		Action:        action,
		Amount:        250_000_000,
		TxSignature:   model.Signature{0x51},
		ReasoningHash: model.Hash{0x52},
	}
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()
	svc := NewService(store.NewMemoryStore(), nil, Options{})

	_, err := svc.Protocol(ctx)
	assert.ErrorIs(t, err, errcode.ErrNotFound)

	_, err = svc.Initialize(ctx, authority, model.ConfigParams{
		AgentAuthority:           agent,
		DefaultWarnThreshold:     12_000,
		DefaultCriticalThreshold: 12_000,
	})
	assert.ErrorIs(t, err, errcode.ErrInvalidThresholds)

	cfg, err := svc.Initialize(ctx, authority, model.ConfigParams{
		AgentAuthority:           agent,
		DefaultWarnThreshold:     15_000,
		DefaultCriticalThreshold: 12_000,
		MaxPositionsPerUser:      5,
		RebalanceFeeBps:          30,
	})
	require.NoError(t, err)
	assert.Equal(t, authority, cfg.Authority)
	assert.Equal(t, agent, cfg.AgentAuthority)
	assert.Zero(t, cfg.TotalPositions)

	_, err = svc.Initialize(ctx, stranger, model.ConfigParams{
		AgentAuthority:           stranger,
		DefaultWarnThreshold:     15_000,
		DefaultCriticalThreshold: 12_000,
	})
	assert.ErrorIs(t, err, errcode.ErrAlreadyExists)

	got, err := svc.Protocol(ctx)
	require.NoError(t, err)
	assert.Equal(t, agent, got.AgentAuthority, "second initialize must not overwrite")
}

func TestRegisterPosition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{}, model.ConfigParams{})

	p := f.register(t, owner, 1)
	assert.Equal(t, store.PositionAddress(owner, model.Address{1}), p.Address)
	assert.Equal(t, model.StatusActive, p.Status)
	assert.Zero(t, p.HealthFactor)
	assert.Equal(t, f.clock.Now().Unix(), p.CreatedAt)

	_, err := f.svc.RegisterPosition(ctx, owner, RegisterRequest{
		Protocol:          model.ProtocolKamino,
		ObligationKey:     model.Address{1},
		WarnThreshold:     15_000,
		CriticalThreshold: 12_000,
	})
	assert.ErrorIs(t, err, errcode.ErrAlreadyExists)

	_, err = f.svc.RegisterPosition(ctx, owner, RegisterRequest{
		Protocol:          model.ProtocolSolend,
		ObligationKey:     model.Address{2},
		WarnThreshold:     12_000,
		CriticalThreshold: 15_000,
	})
	assert.ErrorIs(t, err, errcode.ErrInvalidThresholds)

	_, err = f.svc.RegisterPosition(ctx, owner, RegisterRequest{
		Protocol:          model.DeFiProtocol(9),
		ObligationKey:     model.Address{2},
		WarnThreshold:     15_000,
		CriticalThreshold: 12_000,
	})
	assert.ErrorIs(t, err, errcode.ErrInvalidProtocol)

	cfg, err := f.svc.Protocol(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cfg.TotalPositions)

	stats, err := f.svc.OwnerStats(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), stats.OpenPositions)
	assert.Equal(t, uint64(1), stats.LifetimePositions)
}

func TestRegisterBeforeInitialize(t *testing.T) {
	svc := NewService(store.NewMemoryStore(), nil, Options{})
	_, err := svc.RegisterPosition(context.Background(), owner, RegisterRequest{
		Protocol:          model.ProtocolMarginFi,
		ObligationKey:     model.Address{1},
		WarnThreshold:     15_000,
		CriticalThreshold: 12_000,
	})
	assert.ErrorIs(t, err, errcode.ErrNotFound)
}

func TestLifecycleScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{}, model.ConfigParams{})
	p := f.register(t, owner, 1)

	up, err := f.svc.UpdateHealth(ctx, agent, p.Address, f.health(11_000))
	require.NoError(t, err)
	assert.Equal(t, model.StatusCritical, up.Position.Status)
	assert.Equal(t, model.StatusActive, up.PreviousStatus)
	assert.Equal(t, uint64(11_000), up.Position.HealthFactor)
	assert.Equal(t, f.clock.Now().Unix(), up.Position.LastCheckTs)

	up, err = f.svc.UpdateHealth(ctx, agent, p.Address, f.health(13_000))
	require.NoError(t, err)
	assert.Equal(t, model.StatusWarning, up.Position.Status)

	up, err = f.svc.UpdateHealth(ctx, agent, p.Address, f.health(16_000))
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, up.Position.Status)

	paused, err := f.svc.PausePosition(ctx, owner, p.Address)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaused, paused.Position.Status)
	assert.Equal(t, model.StatusActive, paused.PreviousStatus)

	_, err = f.svc.UpdateHealth(ctx, agent, p.Address, f.health(11_000))
	assert.ErrorIs(t, err, errcode.ErrPositionPaused)

	got, err := f.svc.Position(ctx, p.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(16_000), got.HealthFactor, "rejected update must not leak")

	_, err = f.svc.PausePosition(ctx, owner, p.Address)
	assert.ErrorIs(t, err, errcode.ErrPositionPaused)

	resumed, err := f.svc.ResumePosition(ctx, owner, p.Address)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, resumed.Position.Status)
	assert.Equal(t, model.StatusPaused, resumed.PreviousStatus)

	_, err = f.svc.ResumePosition(ctx, owner, p.Address)
	assert.ErrorIs(t, err, errcode.ErrPositionNotPaused)

	closed, err := f.svc.ClosePosition(ctx, owner, p.Address)
	require.NoError(t, err)
	assert.Equal(t, model.StatusClosed, closed.Position.Status)
	assert.Equal(t, model.StatusActive, closed.PreviousStatus)

	_, err = f.svc.Position(ctx, p.Address)
	assert.ErrorIs(t, err, errcode.ErrNotFound)

	cfg, err := f.svc.Protocol(ctx)
	require.NoError(t, err)
	assert.Zero(t, cfg.TotalPositions)

	stats, err := f.svc.OwnerStats(ctx, owner)
	require.NoError(t, err)
	assert.Zero(t, stats.OpenPositions)
	assert.Equal(t, uint64(1), stats.LifetimePositions)
}

func TestZeroHealthFactorRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{}, model.ConfigParams{})
	p := f.register(t, owner, 1)

	_, err := f.svc.UpdateHealth(ctx, agent, p.Address, f.health(14_000))
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	_, err = f.svc.UpdateHealth(ctx, agent, p.Address, HealthInput{HealthFactor: 0, TotalCollateralUSD: 1})
	assert.ErrorIs(t, err, errcode.ErrInvalidHealthFactor)

	got, err := f.svc.Position(ctx, p.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(14_000), got.HealthFactor)
	assert.Equal(t, model.StatusWarning, got.Status)
	assert.Equal(t, f.clock.Now().Add(-time.Minute).Unix(), got.LastCheckTs)
}

func TestAuthorizationSeparation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{}, model.ConfigParams{})
	p := f.register(t, owner, 1)

	_, err := f.svc.UpdateHealth(ctx, owner, p.Address, f.health(16_000))
	assert.ErrorIs(t, err, errcode.ErrUnauthorizedAgent)

	_, err = f.svc.RecordRebalance(ctx, authority, p.Address, rebalance(model.ActionDebtRepayment))
	assert.ErrorIs(t, err, errcode.ErrUnauthorizedAgent)

	_, err = f.svc.PausePosition(ctx, agent, p.Address)
	assert.ErrorIs(t, err, errcode.ErrUnauthorizedOwner)

	_, err = f.svc.ResumePosition(ctx, stranger, p.Address)
	assert.ErrorIs(t, err, errcode.ErrUnauthorizedOwner)

	_, err = f.svc.ClosePosition(ctx, agent, p.Address)
	assert.ErrorIs(t, err, errcode.ErrUnauthorizedOwner)

	got, err := f.svc.Position(ctx, p.Address)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, got.Status)
}

func TestRecordRebalance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{}, model.ConfigParams{RebalanceFeeBps: 30})
	p := f.register(t, owner, 1)

	_, err := f.svc.UpdateHealth(ctx, agent, p.Address, f.health(11_500))
	require.NoError(t, err)

	res, err := f.svc.RecordRebalance(ctx, agent, p.Address, rebalance(model.ActionCollateralTopUp))
	require.NoError(t, err)
	assert.Equal(t, uint32(0), res.Record.Ordinal)
	assert.Equal(t, store.RebalanceAddress(p.Address, 0), res.Record.Address)
	assert.Equal(t, uint64(11_500), res.Record.HealthBefore)
	assert.Zero(t, res.Record.HealthAfter)
	assert.Equal(t, owner, res.Record.Owner)
	assert.Equal(t, uint32(1), res.Position.RebalanceCount)
	assert.Equal(t, f.clock.Now().Unix(), res.Position.LastRebalanceTs)
	assert.Equal(t, uint64(750_000), res.Fee)

	// Collateral and debt are reported only through health updates.
	assert.Equal(t, uint64(2_000_000_000), res.Position.TotalCollateralUSD)

	_, err = f.svc.RecordRebalance(ctx, agent, p.Address, RebalanceRequest{Action: model.RebalanceAction(7)})
	assert.ErrorIs(t, err, errcode.ErrInvalidArgument)

	stored, err := f.svc.Rebalance(ctx, p.Address, 0)
	require.NoError(t, err)
	assert.Equal(t, model.ActionCollateralTopUp, stored.ActionType)
	assert.Equal(t, model.Signature{0x51}, stored.TxSignature)
	assert.Equal(t, model.Hash{0x52}, stored.AIReasoningHash)

	_, err = f.svc.Rebalance(ctx, p.Address, 1)
	assert.ErrorIs(t, err, errcode.ErrNotFound)
}

func TestRebalanceCooldown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{}, model.ConfigParams{})
	p := f.register(t, owner, 1)

	_, err := f.svc.RecordRebalance(ctx, agent, p.Address, rebalance(model.ActionDebtRepayment))
	require.NoError(t, err)

	f.clock.Advance(10 * time.Second)
	_, err = f.svc.RecordRebalance(ctx, agent, p.Address, rebalance(model.ActionDebtRepayment))
	assert.ErrorIs(t, err, errcode.ErrRebalanceCooldown)

	got, err := f.svc.Position(ctx, p.Address)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), got.RebalanceCount)

	f.clock.Advance(50 * time.Second)
	res, err := f.svc.RecordRebalance(ctx, agent, p.Address, rebalance(model.ActionCollateralSwap))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), res.Record.Ordinal)
	assert.Equal(t, uint32(2), res.Position.RebalanceCount)

	cfg, err := f.svc.Protocol(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), cfg.TotalRebalances)
}

func TestCustomCooldown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{RebalanceCooldown: 5 * time.Minute}, model.ConfigParams{})
	p := f.register(t, owner, 1)

	_, err := f.svc.RecordRebalance(ctx, agent, p.Address, rebalance(model.ActionDebtRepayment))
	require.NoError(t, err)
	f.clock.Advance(2 * time.Minute)
	_, err = f.svc.RecordRebalance(ctx, agent, p.Address, rebalance(model.ActionDebtRepayment))
	assert.ErrorIs(t, err, errcode.ErrRebalanceCooldown)
	f.clock.Advance(3 * time.Minute)
	_, err = f.svc.RecordRebalance(ctx, agent, p.Address, rebalance(model.ActionDebtRepayment))
	assert.NoError(t, err)
}

func TestCooldownCannotBeShortened(t *testing.T) {
	ctx := context.Background()
	for _, d := range []time.Duration{time.Nanosecond, time.Second, 59 * time.Second} {
		t.Run(d.String(), func(t *testing.T) {
			f := newFixture(t, Options{RebalanceCooldown: d}, model.ConfigParams{})
			p := f.register(t, owner, 1)

			_, err := f.svc.RecordRebalance(ctx, agent, p.Address, rebalance(model.ActionDebtRepayment))
			require.NoError(t, err)
			f.clock.Advance(2 * time.Second)
			_, err = f.svc.RecordRebalance(ctx, agent, p.Address, rebalance(model.ActionDebtRepayment))
			assert.ErrorIs(t, err, errcode.ErrRebalanceCooldown)

			f.clock.Advance(58 * time.Second)
			_, err = f.svc.RecordRebalance(ctx, agent, p.Address, rebalance(model.ActionDebtRepayment))
			assert.NoError(t, err)

			cfg, err := f.svc.Protocol(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint64(2), cfg.TotalRebalances)
		})
	}
}

func TestRebalanceWhilePaused(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{}, model.ConfigParams{})
	p := f.register(t, owner, 1)

	_, err := f.svc.PausePosition(ctx, owner, p.Address)
	require.NoError(t, err)

	res, err := f.svc.RecordRebalance(ctx, agent, p.Address, rebalance(model.ActionEmergencyUnwind))
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaused, res.Position.Status)
}

func TestRecordsOutliveClosedPosition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{}, model.ConfigParams{})
	p := f.register(t, owner, 1)

	for i := 0; i < 3; i++ {
		_, err := f.svc.RecordRebalance(ctx, agent, p.Address, rebalance(model.ActionDebtRepayment))
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
	}
	_, err := f.svc.ClosePosition(ctx, owner, p.Address)
	require.NoError(t, err)

	_, err = f.svc.RecordRebalance(ctx, agent, p.Address, rebalance(model.ActionDebtRepayment))
	assert.ErrorIs(t, err, errcode.ErrNotFound)

	recs, err := f.svc.Rebalances(ctx, p.Address, 0, 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for i, r := range recs {
		assert.Equal(t, uint32(i), r.Ordinal)
	}

	page, err := f.svc.Rebalances(ctx, p.Address, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, uint32(1), page[0].Ordinal)

	// Re-registering the same obligation restarts ordinals at 0, where
	// the old records still sit.
	again := f.register(t, owner, 1)
	assert.Equal(t, p.Address, again.Address)
	assert.Zero(t, again.RebalanceCount)
	_, err = f.svc.RecordRebalance(ctx, agent, again.Address, rebalance(model.ActionDebtRepayment))
	assert.ErrorIs(t, err, errcode.ErrAlreadyExists)
}

func TestCounterConsistency(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{}, model.ConfigParams{})

	var positions []*model.Position
	for i := byte(1); i <= 6; i++ {
		who := owner
		if i%2 == 0 {
			who = stranger
		}
		positions = append(positions, f.register(t, who, i))
	}
	for _, p := range positions[:4] {
		_, err := f.svc.ClosePosition(ctx, p.Owner, p.Address)
		require.NoError(t, err)
	}

	cfg, err := f.svc.Protocol(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), cfg.TotalPositions)
	assert.Zero(t, cfg.TotalValueProtected)

	stats, err := f.svc.OwnerStats(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), stats.OpenPositions)
	assert.Equal(t, uint64(3), stats.LifetimePositions)
}

func TestConcurrentHealthUpdates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{}, model.ConfigParams{})
	a := f.register(t, owner, 1)
	b := f.register(t, owner, 2)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(hf uint64) {
			defer wg.Done()
			_, err := f.svc.UpdateHealth(ctx, agent, a.Address, f.health(hf))
			assert.NoError(t, err)
		}(uint64(10_000 + i))
		go func(hf uint64) {
			defer wg.Done()
			_, err := f.svc.UpdateHealth(ctx, agent, b.Address, f.health(hf))
			assert.NoError(t, err)
		}(uint64(20_000 + i))
	}
	wg.Wait()

	got, err := f.svc.Position(ctx, a.Address)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCritical, got.Status)
	got, err = f.svc.Position(ctx, b.Address)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, got.Status)
}

func TestPositionLimitPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("Disabled", func(t *testing.T) {
		f := newFixture(t, Options{}, model.ConfigParams{MaxPositionsPerUser: 1})
		f.register(t, owner, 1)
		f.register(t, owner, 2)
	})

	t.Run("Enforced", func(t *testing.T) {
		f := newFixture(t, Options{EnforcePositionLimit: true}, model.ConfigParams{MaxPositionsPerUser: 2})
		f.register(t, owner, 1)
		p := f.register(t, owner, 2)
		_, err := f.svc.RegisterPosition(ctx, owner, RegisterRequest{
			Protocol:          model.ProtocolKamino,
			ObligationKey:     model.Address{3},
			WarnThreshold:     15_000,
			CriticalThreshold: 12_000,
		})
		assert.ErrorIs(t, err, errcode.ErrMaxPositionsExceeded)

		// Other owners are counted separately.
		f.register(t, stranger, 3)

		_, err = f.svc.ClosePosition(ctx, owner, p.Address)
		require.NoError(t, err)
		f.register(t, owner, 3)
	})
}

func TestRebalanceEligibilityPolicy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{RequireUnhealthyForRebalance: true}, model.ConfigParams{})
	p := f.register(t, owner, 1)

	_, err := f.svc.UpdateHealth(ctx, agent, p.Address, f.health(18_000))
	require.NoError(t, err)
	_, err = f.svc.RecordRebalance(ctx, agent, p.Address, rebalance(model.ActionDebtRepayment))
	assert.ErrorIs(t, err, errcode.ErrHealthFactorHealthy)

	_, err = f.svc.UpdateHealth(ctx, agent, p.Address, f.health(14_000))
	require.NoError(t, err)
	_, err = f.svc.RecordRebalance(ctx, agent, p.Address, rebalance(model.ActionDebtRepayment))
	assert.NoError(t, err)
}

func TestCheckedArithmetic(t *testing.T) {
	_, err := checkedAdd64(^uint64(0), 1)
	assert.ErrorIs(t, err, errcode.ErrArithmeticOverflow)
	_, err = checkedAdd32(^uint32(0), 1)
	assert.ErrorIs(t, err, errcode.ErrArithmeticOverflow)

	v, err := checkedAdd64(41, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v)

	assert.Zero(t, saturatingSub64(0, 1))
	assert.Zero(t, saturatingSub32(0, 1))
	assert.Equal(t, uint32(4), saturatingSub32(5, 1))
}

func TestRebalancePageSize(t *testing.T) {
	for _, tc := range []struct {
		limit, want int
	}{
		{0, MaxRebalancePage},
		{-3, MaxRebalancePage},
		{1, 1},
		{MaxRebalancePage, MaxRebalancePage},
		{MaxRebalancePage + 1, MaxRebalancePage},
	} {
		assert.Equal(t, tc.want, RebalancePageSize(tc.limit), "limit %d", tc.limit)
	}
}
