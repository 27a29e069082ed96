package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownProtocol = errors.New("model: unknown lending protocol")
	ErrUnknownAction   = errors.New("model: unknown rebalance action")
	ErrUnknownStatus   = errors.New("model: unknown position status")
)

// DeFiProtocol is the lending venue a position lives on.
type DeFiProtocol uint8

const (
	ProtocolKamino DeFiProtocol = iota
	ProtocolMarginFi
	ProtocolSolend
)

func (p DeFiProtocol) Valid() bool { return p <= ProtocolSolend }

func (p DeFiProtocol) String() string {
	switch p {
	case ProtocolKamino:
		return "kamino"
	case ProtocolMarginFi:
		return "marginfi"
	case ProtocolSolend:
		return "solend"
	default:
		return fmt.Sprintf("protocol(%d)", uint8(p))
	}
}

// ParseDeFiProtocol accepts the lowercase names returned by String.
func ParseDeFiProtocol(s string) (DeFiProtocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "kamino":
		return ProtocolKamino, nil
	case "marginfi":
		return ProtocolMarginFi, nil
	case "solend":
		return ProtocolSolend, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownProtocol, s)
	}
}

func (p DeFiProtocol) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownProtocol, uint8(p))
	}
	return []byte(p.String()), nil
}

func (p *DeFiProtocol) UnmarshalText(text []byte) error {
	parsed, err := ParseDeFiProtocol(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// RebalanceAction is the corrective action an agent reports.
type RebalanceAction uint8

const (
	ActionCollateralTopUp RebalanceAction = iota
	ActionDebtRepayment
	ActionCollateralSwap
	ActionPositionMigration
	ActionEmergencyUnwind
)

func (a RebalanceAction) Valid() bool { return a <= ActionEmergencyUnwind }

func (a RebalanceAction) String() string {
	switch a {
	case ActionCollateralTopUp:
		return "collateral_top_up"
	case ActionDebtRepayment:
		return "debt_repayment"
	case ActionCollateralSwap:
		return "collateral_swap"
	case ActionPositionMigration:
		return "position_migration"
	case ActionEmergencyUnwind:
		return "emergency_unwind"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

func ParseRebalanceAction(s string) (RebalanceAction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "collateral_top_up":
		return ActionCollateralTopUp, nil
	case "debt_repayment":
		return ActionDebtRepayment, nil
	case "collateral_swap":
		return ActionCollateralSwap, nil
	case "position_migration":
		return ActionPositionMigration, nil
	case "emergency_unwind":
		return ActionEmergencyUnwind, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
}

func (a RebalanceAction) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAction, uint8(a))
	}
	return []byte(a.String()), nil
}

func (a *RebalanceAction) UnmarshalText(text []byte) error {
	parsed, err := ParseRebalanceAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// PositionStatus is the lifecycle state of a monitored position.
type PositionStatus uint8

const (
	StatusActive PositionStatus = iota
	StatusWarning
	StatusCritical
	StatusPaused
	StatusClosed
)

func (s PositionStatus) Valid() bool { return s <= StatusClosed }

func (s PositionStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusWarning:
		return "warning"
	case StatusCritical:
		return "critical"
	case StatusPaused:
		return "paused"
	case StatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

func ParsePositionStatus(s string) (PositionStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active":
		return StatusActive, nil
	case "warning":
		return StatusWarning, nil
	case "critical":
		return StatusCritical, nil
	case "paused":
		return StatusPaused, nil
	case "closed":
		return StatusClosed, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
}

func (s PositionStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStatus, uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *PositionStatus) UnmarshalText(text []byte) error {
	parsed, err := ParsePositionStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
