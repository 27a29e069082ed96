package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solshield/ledger/internal/errcode"
	"github.com/solshield/ledger/internal/model"
)

const (
	warn     = 15_000
	critical = 12_000
)

func position(status model.PositionStatus) *model.Position {
	return &model.Position{
		Owner:             model.Address{1},
		WarnThreshold:     warn,
		CriticalThreshold: critical,
		Status:            status,
	}
}

func TestValidateThresholds(t *testing.T) {
	cases := []struct {
		warn, critical uint64
		ok             bool
	}{
		{15_000, 12_000, true},
		{1, 0, true},
		{12_000, 12_000, false},
		{11_999, 12_000, false},
		{0, 0, false},
	}
	for _, tc := range cases {
		err := ValidateThresholds(tc.warn, tc.critical)
		if tc.ok {
			assert.NoError(t, err, "warn=%d critical=%d", tc.warn, tc.critical)
		} else {
			assert.ErrorIs(t, err, errcode.ErrInvalidThresholds, "warn=%d critical=%d", tc.warn, tc.critical)
		}
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, model.StatusCritical, Classify(1, warn, critical))
	assert.Equal(t, model.StatusCritical, Classify(critical-1, warn, critical))
	assert.Equal(t, model.StatusWarning, Classify(critical, warn, critical))
	assert.Equal(t, model.StatusWarning, Classify(warn-1, warn, critical))
	assert.Equal(t, model.StatusActive, Classify(warn, warn, critical))
	assert.Equal(t, model.StatusActive, Classify(1<<63, warn, critical))
}

func TestApplyHealthLandsInEvaluatedState(t *testing.T) {
	readings := []uint64{1, critical - 1, critical, warn - 1, warn, warn * 2}
	for _, from := range []model.PositionStatus{model.StatusActive, model.StatusWarning, model.StatusCritical} {
		for _, hf := range readings {
			p := position(from)
			prev, err := ApplyHealth(p, HealthReport{HealthFactor: hf, CheckedAt: 10})
			require.NoError(t, err)
			assert.Equal(t, from, prev)
			assert.Contains(t, []model.PositionStatus{model.StatusActive, model.StatusWarning, model.StatusCritical}, p.Status)
			assert.Equal(t, Classify(hf, warn, critical), p.Status)
			assert.Equal(t, int64(10), p.LastCheckTs)
		}
	}
}

func TestApplyHealthRejectsWithoutSideEffects(t *testing.T) {
	cases := []struct {
		name   string
		status model.PositionStatus
		hf     uint64
		want   error
	}{
		{"zero health", model.StatusActive, 0, errcode.ErrInvalidHealthFactor},
		{"zero health while paused", model.StatusPaused, 0, errcode.ErrInvalidHealthFactor},
		{"paused", model.StatusPaused, 16_000, errcode.ErrPositionPaused},
		{"closed", model.StatusClosed, 16_000, errcode.ErrPositionClosed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := position(tc.status)
			p.HealthFactor = 13_000
			p.TotalCollateralUSD = 99
			before := *p

			_, err := ApplyHealth(p, HealthReport{HealthFactor: tc.hf, TotalCollateralUSD: 1, TotalDebtUSD: 1, CheckedAt: 5})
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, before, *p)
		})
	}
}

func TestPause(t *testing.T) {
	for _, s := range []model.PositionStatus{model.StatusActive, model.StatusWarning, model.StatusCritical} {
		p := position(s)
		require.NoError(t, Pause(p))
		assert.Equal(t, model.StatusPaused, p.Status)
	}

	assert.ErrorIs(t, Pause(position(model.StatusPaused)), errcode.ErrPositionPaused)
	assert.ErrorIs(t, Pause(position(model.StatusClosed)), errcode.ErrPositionClosed)
}

func TestResume(t *testing.T) {
	p := position(model.StatusPaused)
	require.NoError(t, Resume(p))
	assert.Equal(t, model.StatusActive, p.Status)

	for _, s := range []model.PositionStatus{model.StatusActive, model.StatusWarning, model.StatusCritical, model.StatusClosed} {
		assert.ErrorIs(t, Resume(position(s)), errcode.ErrPositionNotPaused)
	}
}

func TestClose(t *testing.T) {
	for _, s := range []model.PositionStatus{model.StatusActive, model.StatusWarning, model.StatusCritical, model.StatusPaused} {
		p := position(s)
		require.NoError(t, Close(p))
		assert.Equal(t, model.StatusClosed, p.Status)
	}
	assert.ErrorIs(t, Close(position(model.StatusClosed)), errcode.ErrPositionClosed)
}

func TestCheckPositionLimit(t *testing.T) {
	stats := &model.OwnerStats{OpenPositions: 3}
	assert.NoError(t, CheckPositionLimit(stats, 0))
	assert.NoError(t, CheckPositionLimit(stats, 4))
	assert.ErrorIs(t, CheckPositionLimit(stats, 3), errcode.ErrMaxPositionsExceeded)
}

func TestCheckRebalanceEligible(t *testing.T) {
	p := position(model.StatusActive)
	assert.NoError(t, CheckRebalanceEligible(p), "never-reported position is eligible")

	p.HealthFactor = warn
	assert.ErrorIs(t, CheckRebalanceEligible(p), errcode.ErrHealthFactorHealthy)

	p.Status = model.StatusWarning
	assert.NoError(t, CheckRebalanceEligible(p))
}
