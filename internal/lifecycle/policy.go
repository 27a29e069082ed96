package lifecycle

import (
	"github.com/solshield/ledger/internal/errcode"
	"github.com/solshield/ledger/internal/model"
)

// These guards back configuration fields that are declared but not
// enforced by default. Callers opt in explicitly.

// CheckPositionLimit fails when the owner already holds limit open
// positions. A limit of 0 means unlimited.
func CheckPositionLimit(stats *model.OwnerStats, limit uint8) error {
	if limit == 0 {
		return nil
	}
	if stats.OpenPositions >= uint32(limit) {
		return errcode.ErrMaxPositionsExceeded.Withf(
			"Maximum positions per user exceeded: %d of %d open", stats.OpenPositions, limit)
	}
	return nil
}

// CheckRebalanceEligible fails when the position is Active with a health
// factor at or above its warn threshold.
func CheckRebalanceEligible(p *model.Position) error {
	if p.Status == model.StatusActive && p.HealthFactor >= p.WarnThreshold {
		return errcode.ErrHealthFactorHealthy
	}
	return nil
}
