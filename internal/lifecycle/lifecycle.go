// Package lifecycle is the position state machine.
//
//	any but Closed --health < critical-------------> Critical
//	any but Closed --critical <= health < warn-----> Warning
//	any but Closed --health >= warn----------------> Active
//	Active/Warning/Critical --pause----------------> Paused
//	Paused --resume--------------------------------> Active
//	any but Closed --close-------------------------> Closed (record removed)
//
// Health updates are rejected while Paused. The functions here mutate the
// position in memory only; persisting it is the caller's job.
package lifecycle

import (
	"github.com/solshield/ledger/internal/errcode"
	"github.com/solshield/ledger/internal/model"
)

// ValidateThresholds enforces warn > critical.
func ValidateThresholds(warn, critical uint64) error {
	if warn <= critical {
		return errcode.ErrInvalidThresholds.Withf(
			"Invalid threshold: warn (%d) must be greater than critical (%d)", warn, critical)
	}
	return nil
}

// ValidateProtocol rejects venues outside the closed set.
func ValidateProtocol(p model.DeFiProtocol) error {
	if !p.Valid() {
		return errcode.ErrInvalidProtocol
	}
	return nil
}

// Classify maps a health factor onto exactly one of Active, Warning and
// Critical.
func Classify(health, warn, critical uint64) model.PositionStatus {
	switch {
	case health < critical:
		return model.StatusCritical
	case health < warn:
		return model.StatusWarning
	default:
		return model.StatusActive
	}
}

// HealthReport is one reading from the agent.
type HealthReport struct {
	HealthFactor       uint64
	TotalCollateralUSD uint64
	TotalDebtUSD       uint64
	CheckedAt          int64
}

// ApplyHealth records a reading and re-evaluates the status. It returns
// the status the position held before. On error p is unchanged.
func ApplyHealth(p *model.Position, r HealthReport) (model.PositionStatus, error) {
	if r.HealthFactor == 0 {
		return p.Status, errcode.ErrInvalidHealthFactor
	}
	switch p.Status {
	case model.StatusPaused:
		return p.Status, errcode.ErrPositionPaused
	case model.StatusClosed:
		return p.Status, errcode.ErrPositionClosed
	}

	prev := p.Status
	p.HealthFactor = r.HealthFactor
	p.TotalCollateralUSD = r.TotalCollateralUSD
	p.TotalDebtUSD = r.TotalDebtUSD
	p.LastCheckTs = r.CheckedAt
	p.Status = Classify(r.HealthFactor, p.WarnThreshold, p.CriticalThreshold)
	return prev, nil
}

// Pause suspends agent-driven evaluation. Pausing twice is an error.
func Pause(p *model.Position) error {
	switch p.Status {
	case model.StatusClosed:
		return errcode.ErrPositionClosed
	case model.StatusPaused:
		return errcode.ErrPositionPaused
	case model.StatusActive, model.StatusWarning, model.StatusCritical:
		p.Status = model.StatusPaused
		return nil
	default:
		return errcode.ErrInvalidArgument.Withf("unknown position status %d", uint8(p.Status))
	}
}

// Resume returns a paused position to Active. The next health update
// re-classifies it.
func Resume(p *model.Position) error {
	if p.Status != model.StatusPaused {
		return errcode.ErrPositionNotPaused
	}
	p.Status = model.StatusActive
	return nil
}

// Close marks the position terminal. Any non-closed status may close.
func Close(p *model.Position) error {
	if p.Status == model.StatusClosed {
		return errcode.ErrPositionClosed
	}
	p.Status = model.StatusClosed
	return nil
}
