package ledger

import (
	"math"
	"math/bits"

	"github.com/solshield/ledger/internal/errcode"
)

// Counter increments abort the operation on overflow; decrements saturate
// at zero because concurrent closures may legitimately race them down.

func checkedAdd64(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, errcode.ErrArithmeticOverflow
	}
	return sum, nil
}

func checkedAdd32(a, b uint32) (uint32, error) {
	if a > math.MaxUint32-b {
		return 0, errcode.ErrArithmeticOverflow
	}
	return a + b, nil
}

func saturatingSub64(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

func saturatingSub32(a, b uint32) uint32 {
	if b > a {
		return 0
	}
	return a - b
}
