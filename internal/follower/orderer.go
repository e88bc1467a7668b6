package follower

import (
	"context"
	"sync"

	"github.com/ouziel-slama/kontor/pkg/types"
)

// Orderer buffers blocks that arrive out of height order (from bounded
// parallel RPC fetches) and releases them downstream the instant a
// contiguous run starting at the next expected height becomes
// available: the output is strictly sorted by height, with no
// duplicates and no gaps.
type Orderer struct {
	mu      sync.Mutex
	next    uint64
	pending map[uint64]types.Block
	out     chan<- types.Block
}

// NewOrderer builds an Orderer expecting its first release at start,
// writing released blocks to out.
func NewOrderer(start uint64, out chan<- types.Block) *Orderer {
	return &Orderer{next: start, pending: make(map[uint64]types.Block), out: out}
}

// Submit delivers a fetched block at height h, in any order relative to
// other Submit calls. It releases h immediately if h == next, along with
// any already-buffered contiguous successors; otherwise it buffers h
// until the gap closes. A height below next (a duplicate redelivery) is
// silently dropped.
func (o *Orderer) Submit(ctx context.Context, h uint64, b types.Block) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if h < o.next {
		return nil
	}
	o.pending[h] = b

	for {
		blk, ok := o.pending[o.next]
		if !ok {
			return nil
		}
		delete(o.pending, o.next)
		select {
		case o.out <- blk:
		case <-ctx.Done():
			return ctx.Err()
		}
		o.next++
	}
}

// Next reports the next height this Orderer expects to release.
func (o *Orderer) Next() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.next
}
