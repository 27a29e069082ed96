package ledger

import (
	"sync"

	"github.com/solshield/ledger/internal/model"
)

const lockStripes = 64

// stripedMutex serializes operations on the same address inside this
// process. Addresses are hash outputs, so the first byte spreads evenly.
// Cross-process serialization is the store's job.
type stripedMutex struct {
	stripes [lockStripes]sync.Mutex
}

func (m *stripedMutex) lock(addr model.Address) func() {
	mu := &m.stripes[int(addr[0])%lockStripes]
	mu.Lock()
	return mu.Unlock
}
