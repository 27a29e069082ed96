// Package model defines the entities tracked by the position ledger.
// Health factors and thresholds are basis points (10000 = 1.0x); USD
// valuations are micro-dollars (6 decimals). Timestamps are Unix seconds.
package model

// ConfigParams are the caller-supplied settings for protocol initialization.
type ConfigParams struct {
	AgentAuthority           Address `json:"agent_authority"`
	DefaultWarnThreshold     uint64  `json:"default_warn_threshold"`
	DefaultCriticalThreshold uint64  `json:"default_critical_threshold"`
	MaxPositionsPerUser      uint8   `json:"max_positions_per_user"`
	RebalanceFeeBps          uint16  `json:"rebalance_fee_bps"`
}

// ProtocolConfig is the singleton protocol-wide record.
// The counters are only changed by the guarded ledger operations.
type ProtocolConfig struct {
	Authority                Address `json:"authority"`
	AgentAuthority           Address `json:"agent_authority"`
	DefaultWarnThreshold     uint64  `json:"default_warn_threshold"`
	DefaultCriticalThreshold uint64  `json:"default_critical_threshold"`
	MaxPositionsPerUser      uint8   `json:"max_positions_per_user"`
	RebalanceFeeBps          uint16  `json:"rebalance_fee_bps"`
	TotalPositions           uint64  `json:"total_positions"`
	TotalRebalances          uint64  `json:"total_rebalances"`
	TotalValueProtected      uint64  `json:"total_value_protected"`
}

// Position is a monitored leveraged position, one per (owner, obligation).
type Position struct {
	Address            Address        `json:"address"`
	Owner              Address        `json:"owner"`
	Protocol           DeFiProtocol   `json:"protocol"`
	ObligationKey      Address        `json:"obligation_key"`
	HealthFactor       uint64         `json:"health_factor"` // 0 = never reported
	TotalCollateralUSD uint64         `json:"total_collateral_usd"`
	TotalDebtUSD       uint64         `json:"total_debt_usd"`
	WarnThreshold      uint64         `json:"warn_threshold"`
	CriticalThreshold  uint64         `json:"critical_threshold"`
	Status             PositionStatus `json:"status"`
	RebalanceCount     uint32         `json:"rebalance_count"`
	LastCheckTs        int64          `json:"last_check_ts"`
	LastRebalanceTs    int64          `json:"last_rebalance_ts"`
	CreatedAt          int64          `json:"created_at"`
}

// RebalanceRecord is an immutable attestation that an off-system corrective
// action happened. Position and Owner are lookup keys only; the record
// outlives the position it references.
type RebalanceRecord struct {
	Address         Address         `json:"address"`
	Position        Address         `json:"position"`
	Owner           Address         `json:"owner"`
	Ordinal         uint32          `json:"ordinal"`
	ActionType      RebalanceAction `json:"action_type"`
	Amount          uint64          `json:"amount"`
	HealthBefore    uint64          `json:"health_before"`
	HealthAfter     uint64          `json:"health_after"` // always 0 when recorded
	TxSignature     Signature       `json:"tx_signature"`
	AIReasoningHash Hash            `json:"ai_reasoning_hash"`
	Timestamp       int64           `json:"timestamp"`
}

// OwnerStats counts the positions an owner holds. It is the counting
// source for the max_positions_per_user policy.
type OwnerStats struct {
	Owner             Address `json:"owner"`
	OpenPositions     uint32  `json:"open_positions"`
	LifetimePositions uint64  `json:"lifetime_positions"`
}
