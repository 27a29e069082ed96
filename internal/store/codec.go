package store

import (
	"encoding/binary"
	"errors"
	"fmt"

	"lukechampine.com/blake3"

	"github.com/solshield/ledger/internal/model"
)

const (
	discriminatorLen = 8
	paddingLen       = 64
)

// Serialized sizes, padding included. Adding a field consumes padding;
// the sizes never change.
const (
	ConfigSize = discriminatorLen +
		32 + // authority
		32 + // agent_authority
		8 + // default_warn_threshold
		8 + // default_critical_threshold
		1 + // max_positions_per_user
		2 + // rebalance_fee_bps
		8 + // total_positions
		8 + // total_rebalances
		8 + // total_value_protected
		paddingLen

	PositionSize = discriminatorLen +
		32 + // owner
		1 + // protocol
		32 + // obligation_key
		8 + // health_factor
		8 + // total_collateral_usd
		8 + // total_debt_usd
		8 + // warn_threshold
		8 + // critical_threshold
		1 + // status
		4 + // rebalance_count
		8 + // last_check_ts
		8 + // last_rebalance_ts
		8 + // created_at
		paddingLen

	RebalanceSize = discriminatorLen +
		32 + // position
		32 + // owner
		1 + // action_type
		8 + // amount
		8 + // health_before
		8 + // health_after
		64 + // tx_signature
		32 + // ai_reasoning_hash
		8 + // timestamp
		paddingLen

	OwnerStatsSize = discriminatorLen +
		32 + // owner
		4 + // open_positions
		8 + // lifetime_positions
		paddingLen
)

var ErrCorruptRecord = errors.New("store: corrupt record")

var (
	configDiscriminator     = discriminator("ProtocolConfig")
	positionDiscriminator   = discriminator("Position")
	rebalanceDiscriminator  = discriminator("RebalanceRecord")
	ownerStatsDiscriminator = discriminator("OwnerStats")
)

func discriminator(name string) [discriminatorLen]byte {
	sum := blake3.Sum256([]byte("account:" + name))
	var d [discriminatorLen]byte
	copy(d[:], sum[:discriminatorLen])
	return d
}

type encoder struct {
	buf []byte
	off int
}

func newEncoder(size int, disc [discriminatorLen]byte) *encoder {
	e := &encoder{buf: make([]byte, size)}
	e.bytes(disc[:])
	return e
}

func (e *encoder) bytes(b []byte) { e.off += copy(e.buf[e.off:], b) }
func (e *encoder) u8(v uint8)     { e.buf[e.off] = v; e.off++ }

func (e *encoder) u16(v uint16) {
	binary.LittleEndian.PutUint16(e.buf[e.off:], v)
	e.off += 2
}

func (e *encoder) u32(v uint32) {
	binary.LittleEndian.PutUint32(e.buf[e.off:], v)
	e.off += 4
}

func (e *encoder) u64(v uint64) {
	binary.LittleEndian.PutUint64(e.buf[e.off:], v)
	e.off += 8
}

func (e *encoder) i64(v int64) { e.u64(uint64(v)) }

type decoder struct {
	buf []byte
	off int
}

func newDecoder(data []byte, size int, disc [discriminatorLen]byte, name string) (*decoder, error) {
	if len(data) != size {
		return nil, fmt.Errorf("%w: %s is %d bytes, want %d", ErrCorruptRecord, name, len(data), size)
	}
	var got [discriminatorLen]byte
	copy(got[:], data)
	if got != disc {
		return nil, fmt.Errorf("%w: %s discriminator mismatch", ErrCorruptRecord, name)
	}
	return &decoder{buf: data, off: discriminatorLen}, nil
}

func (d *decoder) bytes(dst []byte) { d.off += copy(dst, d.buf[d.off:]) }

func (d *decoder) u8() uint8 {
	v := d.buf[d.off]
	d.off++
	return v
}

func (d *decoder) u16() uint16 {
	v := binary.LittleEndian.Uint16(d.buf[d.off:])
	d.off += 2
	return v
}

func (d *decoder) u32() uint32 {
	v := binary.LittleEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v
}

func (d *decoder) u64() uint64 {
	v := binary.LittleEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v
}

func (d *decoder) i64() int64 { return int64(d.u64()) }

// EncodeConfig serializes the protocol singleton.
func EncodeConfig(c *model.ProtocolConfig) []byte {
	e := newEncoder(ConfigSize, configDiscriminator)
	e.bytes(c.Authority[:])
	e.bytes(c.AgentAuthority[:])
	e.u64(c.DefaultWarnThreshold)
	e.u64(c.DefaultCriticalThreshold)
	e.u8(c.MaxPositionsPerUser)
	e.u16(c.RebalanceFeeBps)
	e.u64(c.TotalPositions)
	e.u64(c.TotalRebalances)
	e.u64(c.TotalValueProtected)
	return e.buf
}

func DecodeConfig(data []byte) (*model.ProtocolConfig, error) {
	d, err := newDecoder(data, ConfigSize, configDiscriminator, "protocol config")
	if err != nil {
		return nil, err
	}
	var c model.ProtocolConfig
	d.bytes(c.Authority[:])
	d.bytes(c.AgentAuthority[:])
	c.DefaultWarnThreshold = d.u64()
	c.DefaultCriticalThreshold = d.u64()
	c.MaxPositionsPerUser = d.u8()
	c.RebalanceFeeBps = d.u16()
	c.TotalPositions = d.u64()
	c.TotalRebalances = d.u64()
	c.TotalValueProtected = d.u64()
	return &c, nil
}

// EncodePosition serializes a position. The address is the record key and
// is not part of the payload.
func EncodePosition(p *model.Position) []byte {
	e := newEncoder(PositionSize, positionDiscriminator)
	e.bytes(p.Owner[:])
	e.u8(uint8(p.Protocol))
	e.bytes(p.ObligationKey[:])
	e.u64(p.HealthFactor)
	e.u64(p.TotalCollateralUSD)
	e.u64(p.TotalDebtUSD)
	e.u64(p.WarnThreshold)
	e.u64(p.CriticalThreshold)
	e.u8(uint8(p.Status))
	e.u32(p.RebalanceCount)
	e.i64(p.LastCheckTs)
	e.i64(p.LastRebalanceTs)
	e.i64(p.CreatedAt)
	return e.buf
}

func DecodePosition(data []byte) (*model.Position, error) {
	d, err := newDecoder(data, PositionSize, positionDiscriminator, "position")
	if err != nil {
		return nil, err
	}
	var p model.Position
	d.bytes(p.Owner[:])
	p.Protocol = model.DeFiProtocol(d.u8())
	d.bytes(p.ObligationKey[:])
	p.HealthFactor = d.u64()
	p.TotalCollateralUSD = d.u64()
	p.TotalDebtUSD = d.u64()
	p.WarnThreshold = d.u64()
	p.CriticalThreshold = d.u64()
	p.Status = model.PositionStatus(d.u8())
	p.RebalanceCount = d.u32()
	p.LastCheckTs = d.i64()
	p.LastRebalanceTs = d.i64()
	p.CreatedAt = d.i64()
	if !p.Protocol.Valid() || !p.Status.Valid() {
		return nil, fmt.Errorf("%w: position enum out of range", ErrCorruptRecord)
	}
	return &p, nil
}

// EncodeRebalance serializes a rebalance record. Address and ordinal are
// implied by the key.
func EncodeRebalance(r *model.RebalanceRecord) []byte {
	e := newEncoder(RebalanceSize, rebalanceDiscriminator)
	e.bytes(r.Position[:])
	e.bytes(r.Owner[:])
	e.u8(uint8(r.ActionType))
	e.u64(r.Amount)
	e.u64(r.HealthBefore)
	e.u64(r.HealthAfter)
	e.bytes(r.TxSignature[:])
	e.bytes(r.AIReasoningHash[:])
	e.i64(r.Timestamp)
	return e.buf
}

func DecodeRebalance(data []byte) (*model.RebalanceRecord, error) {
	d, err := newDecoder(data, RebalanceSize, rebalanceDiscriminator, "rebalance record")
	if err != nil {
		return nil, err
	}
	var r model.RebalanceRecord
	d.bytes(r.Position[:])
	d.bytes(r.Owner[:])
	r.ActionType = model.RebalanceAction(d.u8())
	r.Amount = d.u64()
	r.HealthBefore = d.u64()
	r.HealthAfter = d.u64()
	d.bytes(r.TxSignature[:])
	d.bytes(r.AIReasoningHash[:])
	r.Timestamp = d.i64()
	if !r.ActionType.Valid() {
		return nil, fmt.Errorf("%w: rebalance action out of range", ErrCorruptRecord)
	}
	return &r, nil
}

func EncodeOwnerStats(s *model.OwnerStats) []byte {
	e := newEncoder(OwnerStatsSize, ownerStatsDiscriminator)
	e.bytes(s.Owner[:])
	e.u32(s.OpenPositions)
	e.u64(s.LifetimePositions)
	return e.buf
}

func DecodeOwnerStats(data []byte) (*model.OwnerStats, error) {
	d, err := newDecoder(data, OwnerStatsSize, ownerStatsDiscriminator, "owner stats")
	if err != nil {
		return nil, err
	}
	var s model.OwnerStats
	d.bytes(s.Owner[:])
	s.OpenPositions = d.u32()
	s.LifetimePositions = d.u64()
	return &s, nil
}
