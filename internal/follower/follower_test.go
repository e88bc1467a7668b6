package follower

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ouziel-slama/kontor/pkg/types"
)

// fakeChain is a mutable, in-memory blockchain a test can reorg by
// overwriting heights, used to drive fakeRPC.
type fakeChain struct {
	mu     sync.Mutex
	blocks map[uint64]types.Block
	tip    uint64
}

func newFakeChain() *fakeChain { return &fakeChain{blocks: make(map[uint64]types.Block)} }

func hashLabel(label byte, n uint64) types.Hash256 {
	var h types.Hash256
	h[0] = label
	h[1] = byte(n)
	h[2] = byte(n >> 8)
	return h
}

// extend appends height with the given hash/prevHash and advances tip.
func (c *fakeChain) extend(height uint64, hash, prevHash types.Hash256) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks[height] = types.Block{Height: height, Hash: hash, PrevHash: prevHash}
	if height > c.tip {
		c.tip = height
	}
}

func (c *fakeChain) set(height uint64, b types.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks[height] = b
	if height > c.tip {
		c.tip = height
	}
}

type fakeRPC struct {
	chain    *fakeChain
	mempool  []types.Hash256
}

func (f *fakeRPC) TipHeight(ctx context.Context) (uint64, error) {
	f.chain.mu.Lock()
	defer f.chain.mu.Unlock()
	return f.chain.tip, nil
}

func (f *fakeRPC) BlockHashAt(ctx context.Context, height uint64) (types.Hash256, error) {
	f.chain.mu.Lock()
	defer f.chain.mu.Unlock()
	b, ok := f.chain.blocks[height]
	if !ok {
		return types.Hash256{}, fmt.Errorf("fakeRPC: no block at height %d", height)
	}
	return b.Hash, nil
}

func (f *fakeRPC) BlockAt(ctx context.Context, height uint64) (types.Block, error) {
	f.chain.mu.Lock()
	defer f.chain.mu.Unlock()
	b, ok := f.chain.blocks[height]
	if !ok {
		return types.Block{}, fmt.Errorf("fakeRPC: no block at height %d", height)
	}
	return b, nil
}

func (f *fakeRPC) BlockByHash(ctx context.Context, hash types.Hash256) (types.Block, error) {
	f.chain.mu.Lock()
	defer f.chain.mu.Unlock()
	for _, b := range f.chain.blocks {
		if b.Hash == hash {
			return b, nil
		}
	}
	return types.Block{}, fmt.Errorf("fakeRPC: no block with hash %x", hash)
}

func (f *fakeRPC) RawMempool(ctx context.Context) ([]types.Hash256, error) {
	return f.mempool, nil
}

// fakeZMQ lets a test push raw events directly into the Follower's
// steady-state loop.
type fakeZMQ struct {
	events chan zmqRawEvent
}

func newFakeZMQ() *fakeZMQ { return &fakeZMQ{events: make(chan zmqRawEvent, 64)} }

func (z *fakeZMQ) Events() <-chan zmqRawEvent { return z.events }
func (z *fakeZMQ) Close() error               { close(z.events); return nil }

func (z *fakeZMQ) blockConnected(hash types.Hash256) {
	z.events <- zmqRawEvent{kind: zmqBlockConnected, hash: hash}
}
func (z *fakeZMQ) blockDisconnected(hash types.Hash256) {
	z.events <- zmqRawEvent{kind: zmqBlockDisconnected, hash: hash}
}

// TestFollowerReorgRepair feeds blocks [1..10], then reorgs heights
// 8-10 for new hashes 8',9',10',11'. Expect BlockRemove(10,9,8) then
// BlockInsert(8',9',10',11') in that order.
func TestFollowerReorgRepair(t *testing.T) {
	chain := newFakeChain()
	chain.extend(0, hashLabel('g', 0), types.Hash256{})
	for h := uint64(1); h <= 10; h++ {
		chain.extend(h, hashLabel('o', h), hashLabel('o', h-1))
	}

	rpc := &fakeRPC{chain: chain}
	zmq := newFakeZMQ()
	dial := func() (ZMQSource, error) { return zmq, nil }

	cfg := DefaultConfig()
	cfg.ChannelBuffer = 32
	f := New(rpc, dial, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := f.Seek(ctx, SeekRequest{StartHeight: 1})
	require.NoError(t, err)

	// Drain the catch-up of blocks 1..10.
	for h := uint64(1); h <= 10; h++ {
		ev := recvEvent(t, events)
		require.Equal(t, EventBlockInsert, ev.Kind)
		require.Equal(t, h, ev.Block.Height)
	}

	// Reorg: replace 8,9,10 and extend to 11 with new hashes.
	chain.set(8, types.Block{Height: 8, Hash: hashLabel('n', 8), PrevHash: hashLabel('o', 7)})
	chain.set(9, types.Block{Height: 9, Hash: hashLabel('n', 9), PrevHash: hashLabel('n', 8)})
	chain.set(10, types.Block{Height: 10, Hash: hashLabel('n', 10), PrevHash: hashLabel('n', 9)})
	chain.set(11, types.Block{Height: 11, Hash: hashLabel('n', 11), PrevHash: hashLabel('n', 10)})

	zmq.blockDisconnected(hashLabel('o', 10))
	zmq.blockDisconnected(hashLabel('o', 9))
	zmq.blockDisconnected(hashLabel('o', 8))
	zmq.blockConnected(hashLabel('n', 8))
	zmq.blockConnected(hashLabel('n', 9))
	zmq.blockConnected(hashLabel('n', 10))
	zmq.blockConnected(hashLabel('n', 11))

	wantRemoved := []types.Hash256{hashLabel('o', 10), hashLabel('o', 9), hashLabel('o', 8)}
	for i := 0; i < 3; i++ {
		ev := recvEvent(t, events)
		require.Equal(t, EventBlockRemove, ev.Kind)
		require.True(t, ev.RemoveByHash)
		require.Equal(t, wantRemoved[i], ev.RemoveHash)
	}

	var gotInserts []uint64
	for i := 0; i < 4; i++ {
		ev := recvEvent(t, events)
		require.Equal(t, EventBlockInsert, ev.Kind)
		gotInserts = append(gotInserts, ev.Block.Height)
	}
	require.Equal(t, []uint64{8, 9, 10, 11}, gotInserts)

	cancel()
}

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "event channel closed early")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}
