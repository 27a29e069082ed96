package store

import (
	"encoding/binary"

	"lukechampine.com/blake3"

	"github.com/solshield/ledger/internal/model"
)

// Address seeds. Anyone who knows the logical identity of a record can
// recompute where it lives.
const (
	seedProtocolState = "protocol-state"
	seedPosition      = "position"
	seedRebalance     = "rebalance"
	seedOwnerStats    = "owner-stats"

	addressDomain = "solshield"
)

// DeriveAddress hashes the seeds under the ledger's domain tag.
func DeriveAddress(seeds ...[]byte) model.Address {
	h := blake3.New(model.AddressLen, nil)
	for _, s := range seeds {
		h.Write(s)
	}
	h.Write([]byte(addressDomain))
	var out model.Address
	copy(out[:], h.Sum(nil))
	return out
}

// ConfigAddress is the fixed address of the protocol singleton.
func ConfigAddress() model.Address {
	return DeriveAddress([]byte(seedProtocolState))
}

// PositionAddress is keyed by owner and obligation, so each owner has at
// most one position per obligation.
func PositionAddress(owner, obligation model.Address) model.Address {
	return DeriveAddress([]byte(seedPosition), owner[:], obligation[:])
}

// RebalanceAddress is keyed by position and the position's rebalance
// ordinal at the time of recording.
func RebalanceAddress(position model.Address, ordinal uint32) model.Address {
	var le [4]byte
	binary.LittleEndian.PutUint32(le[:], ordinal)
	return DeriveAddress([]byte(seedRebalance), position[:], le[:])
}

// OwnerStatsAddress is keyed by owner.
func OwnerStatsAddress(owner model.Address) model.Address {
	return DeriveAddress([]byte(seedOwnerStats), owner[:])
}
