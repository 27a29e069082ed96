package api

import (
	"github.com/shopspring/decimal"

	"github.com/solshield/ledger/internal/model"
)

// PositionView is the JSON form of a position. Raw integer fields are kept
// beside their decimal renderings so clients never lose precision.
type PositionView struct {
	*model.Position
	HealthRatio   decimal.Decimal `json:"health_ratio"`
	CollateralUSD decimal.Decimal `json:"collateral_usd"`
	DebtUSD       decimal.Decimal `json:"debt_usd"`
}

func positionView(p *model.Position) PositionView {
	return PositionView{
		Position:      p,
		HealthRatio:   model.HealthRatio(p.HealthFactor),
		CollateralUSD: model.MicroUSD(p.TotalCollateralUSD),
		DebtUSD:       model.MicroUSD(p.TotalDebtUSD),
	}
}

// HealthUpdateResponse is returned from POST .../health.
type HealthUpdateResponse struct {
	Position       PositionView         `json:"position"`
	PreviousStatus model.PositionStatus `json:"previous_status"`
}

// RebalanceView is the JSON form of a rebalance record.
type RebalanceView struct {
	*model.RebalanceRecord
	HealthBeforeRatio decimal.Decimal `json:"health_before_ratio"`
}

func rebalanceView(r *model.RebalanceRecord) RebalanceView {
	return RebalanceView{
		RebalanceRecord:   r,
		HealthBeforeRatio: model.HealthRatio(r.HealthBefore),
	}
}

// RebalanceResponse is returned from POST .../rebalances.
type RebalanceResponse struct {
	Record   RebalanceView `json:"record"`
	Position PositionView  `json:"position"`
	Fee      uint64        `json:"fee"`
}

// RebalanceList is returned from GET .../rebalances.
type RebalanceList struct {
	Position string          `json:"position"`
	Records  []RebalanceView `json:"records"`
	Next     *uint32         `json:"next,omitempty"`
}
