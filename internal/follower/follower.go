package follower

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ouziel-slama/kontor/internal/errs"
	"github.com/ouziel-slama/kontor/internal/log"
	"github.com/ouziel-slama/kontor/internal/metrics"
	"github.com/ouziel-slama/kontor/pkg/types"
)

// Config tunes the Follower's concurrency, channel buffering and retry
// behavior.
type Config struct {
	// FetchConcurrency bounds parallel block fetches during catch-up.
	FetchConcurrency int
	// ChannelBuffer sizes the Event channel returned by Seek.
	ChannelBuffer int
	// ReconnectBackoff is the fixed ZMQ reconnect delay.
	ReconnectBackoff time.Duration
	// RPCBackoffMin/Max bound the jittered exponential backoff used for
	// transient RPC errors.
	RPCBackoffMin time.Duration
	RPCBackoffMax time.Duration
}

// DefaultConfig returns the process's default Follower tuning.
func DefaultConfig() Config {
	return Config{
		FetchConcurrency: 8,
		ChannelBuffer:    64,
		ReconnectBackoff: 10 * time.Second,
		RPCBackoffMin:    500 * time.Millisecond,
		RPCBackoffMax:    10 * time.Second,
	}
}

// Follower drives RPCSource and ZMQSource through the reconciliation
// algorithm and exposes the result as a single ordered Event channel
// per Seek call.
type Follower struct {
	rpc     RPCSource
	dialZMQ func() (ZMQSource, error)
	cfg     Config
	log     *log.Logger
}

// New builds a Follower. dialZMQ is called every time the steady-state
// loop needs a fresh ZMQ connection (initial dial and every reconnect).
func New(rpc RPCSource, dialZMQ func() (ZMQSource, error), cfg Config, logger *log.Logger) *Follower {
	if logger == nil {
		logger = log.Default()
	}
	return &Follower{rpc: rpc, dialZMQ: dialZMQ, cfg: cfg, log: logger.With("component", "follower")}
}

// Seek starts (or resumes) the ordered event stream from req. The
// caller asks once; the Follower reconnects ZMQ and repairs gaps
// internally for the lifetime of ctx.
func (f *Follower) Seek(ctx context.Context, req SeekRequest) (<-chan Event, error) {
	out := make(chan Event, f.cfg.ChannelBuffer)
	go f.run(ctx, req, out)
	return out, nil
}

func (f *Follower) run(ctx context.Context, req SeekRequest, out chan<- Event) {
	defer close(out)

	start := req.StartHeight
	if req.LastHash != nil && start > 0 {
		newStart, ok := f.reorgCheck(ctx, start, *req.LastHash, req.HashAt, out)
		if !ok {
			return
		}
		start = newStart
	}

	history := newBlockHistory(historyDepth)
	lastHeight, lastHash, ok := f.catchUp(ctx, start, history, out)
	if !ok {
		return
	}

	mempool := NewMempoolCache()
	f.steadyState(ctx, lastHeight, lastHash, history, mempool, out)
}

// historyDepth bounds the in-memory record of recently emitted
// (height, hash) pairs the steady-state loop consults to roll back
// cleanly on a ZMQ BlockDisconnected notification, mapped to a
// BlockRemove(Hash) event. It only needs to cover plausible reorg
// depths, not the whole chain; the durable record
// of everything lives in the Reactor's own blocks table.
const historyDepth = 200

// blockHistory is the Follower's own rolling memory of the heights and
// hashes it has emitted during the current Seek call, independent of
// whatever the Reactor has or hasn't committed yet.
type blockHistory struct {
	depth int
	byH   map[uint64]types.Hash256
}

func newBlockHistory(depth int) *blockHistory {
	return &blockHistory{depth: depth, byH: make(map[uint64]types.Hash256)}
}

func (h *blockHistory) record(height uint64, hash types.Hash256) {
	h.byH[height] = hash
	if old := height - uint64(h.depth); old < height {
		delete(h.byH, old)
	}
}

func (h *blockHistory) forget(height uint64) { delete(h.byH, height) }

func (h *blockHistory) hashAt(height uint64) (types.Hash256, bool) {
	v, ok := h.byH[height]
	return v, ok
}

// reorgCheck verifies the chain's hash at start-1 matches what the
// caller last recorded, walking back one
// height at a time on mismatch until agreement (or until req.HashAt can
// no longer confirm further history), emitting a BlockRemove for each
// height undone. Returns the height to resume forward catch-up from.
func (f *Follower) reorgCheck(ctx context.Context, start uint64, lastHash types.Hash256, hashAt func(context.Context, uint64) (types.Hash256, bool, error), out chan<- Event) (uint64, bool) {
	h := start
	expected := lastHash

	for h > 0 {
		actual, err := f.retryHash(ctx, h-1)
		if err != nil {
			return 0, false
		}
		if actual == expected {
			return h, true
		}

		f.log.Warn(fmt.Sprintf("follower: boundary reorg detected at height %d, rolling back", h-1))
		if !emit(ctx, out, Event{Kind: EventBlockRemove, RemoveHeight: h - 1}) {
			return 0, false
		}
		h--

		if h == 0 || hashAt == nil {
			break
		}
		next, ok, err := hashAt(ctx, h-1)
		if err != nil || !ok {
			break
		}
		expected = next
	}
	return h, true
}

// catchUp fetches every height in [from, tip] with bounded parallelism,
// emitting BlockInsert events strictly in order via an Orderer. If from
// already exceeds the current tip, it resolves
// the reference hash at from-1 without emitting anything.
func (f *Follower) catchUp(ctx context.Context, from uint64, history *blockHistory, out chan<- Event) (uint64, types.Hash256, bool) {
	tip, err := f.retryTip(ctx)
	if err != nil {
		return 0, types.Hash256{}, false
	}

	if from > tip {
		if from == 0 {
			return 0, types.Hash256{}, true
		}
		h, err := f.retryHash(ctx, from-1)
		if err != nil {
			return 0, types.Hash256{}, false
		}
		history.record(from-1, h)
		return from - 1, h, true
	}

	blocks := make(chan types.Block)
	orderer := NewOrderer(from, blocks)

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go f.fetchRange(fetchCtx, from, tip, orderer, blocks)

	var lastHeight uint64
	var lastHash types.Hash256
	for h := from; h <= tip; h++ {
		select {
		case blk, ok := <-blocks:
			if !ok {
				return 0, types.Hash256{}, false
			}
			lastHeight, lastHash = blk.Height, blk.Hash
			history.record(blk.Height, blk.Hash)
			if !emit(ctx, out, Event{Kind: EventBlockInsert, Block: &blk, Tip: tip}) {
				return 0, types.Hash256{}, false
			}
		case <-ctx.Done():
			return 0, types.Hash256{}, false
		}
	}
	return lastHeight, lastHash, true
}

// fetchRange fetches [from, to] with bounded parallelism, submitting
// each result to orderer as it completes so catchUp always receives
// blocks in height order regardless of fetch completion order.
func (f *Follower) fetchRange(ctx context.Context, from, to uint64, orderer *Orderer, blocks chan<- types.Block) {
	defer close(blocks)

	concurrency := f.cfg.FetchConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var failed sync.Once
	failedErr := make(chan struct{})

	for h := from; h <= to; h++ {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-failedErr:
			wg.Wait()
			return
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(height uint64) {
			defer wg.Done()
			defer func() { <-sem }()
			blk, err := f.retryBlock(ctx, height)
			if err != nil {
				failed.Do(func() { close(failedErr) })
				return
			}
			if err := orderer.Submit(ctx, height, blk); err != nil {
				failed.Do(func() { close(failedErr) })
			}
		}(h)
	}
	wg.Wait()
}

// steadyState runs once caught up: consume the ZMQ stream, repairing
// gaps and reconnecting on disconnect for as long as ctx is live.
func (f *Follower) steadyState(ctx context.Context, lastHeight uint64, lastHash types.Hash256, history *blockHistory, mempool *MempoolCache, out chan<- Event) {
	for {
		zmq, err := f.dialZMQ()
		if err != nil {
			f.log.Warn(fmt.Sprintf("follower: zmq dial failed: %v", err))
			if !sleepCtx(ctx, f.cfg.ReconnectBackoff) {
				return
			}
			continue
		}

		var ok bool
		lastHeight, lastHash, ok = f.consumeZMQ(ctx, zmq, lastHeight, lastHash, history, mempool, out)
		zmq.Close()
		if !ok {
			return
		}
		if !sleepCtx(ctx, f.cfg.ReconnectBackoff) {
			return
		}
	}
}

// consumeZMQ drains one ZMQ connection until it disconnects or ctx is
// canceled. It returns the caller's updated (lastHeight, lastHash) and
// whether the caller should keep going (false means ctx was canceled
// and the Follower should shut down entirely).
func (f *Follower) consumeZMQ(ctx context.Context, zmq ZMQSource, lastHeight uint64, lastHash types.Hash256, history *blockHistory, mempool *MempoolCache, out chan<- Event) (uint64, types.Hash256, bool) {
	for {
		select {
		case <-ctx.Done():
			return lastHeight, lastHash, false

		case ev, chOk := <-zmq.Events():
			if !chOk {
				return lastHeight, lastHash, true
			}

			switch ev.kind {
			case zmqDisconnected:
				f.log.Warn(fmt.Sprintf("follower: zmq disconnected: %v", ev.err))
				snap, err := f.retryMempool(ctx)
				if err != nil {
					return lastHeight, lastHash, false
				}
				if !emit(ctx, out, mempool.Reset(snap)) {
					return lastHeight, lastHash, false
				}
				return lastHeight, lastHash, true

			case zmqMempoolAdded:
				if e, changed := mempool.Add(ev.hash); changed {
					if !emit(ctx, out, e) {
						return lastHeight, lastHash, false
					}
				}

			case zmqMempoolRemoved:
				if e, changed := mempool.Remove(ev.hash); changed {
					if !emit(ctx, out, e) {
						return lastHeight, lastHash, false
					}
				}

			case zmqBlockDisconnected:
				if !emit(ctx, out, Event{Kind: EventBlockRemove, RemoveByHash: true, RemoveHash: ev.hash}) {
					return lastHeight, lastHash, false
				}
				// bitcoind emits BlockDisconnected for the current tip
				// only, highest height first; the new tip is whatever
				// we last recorded one height down.
				history.forget(lastHeight)
				if lastHeight == 0 {
					continue
				}
				lastHeight--
				if h, ok := history.hashAt(lastHeight); ok {
					lastHash = h
				} else {
					h, err := f.retryHash(ctx, lastHeight)
					if err != nil {
						return lastHeight, lastHash, false
					}
					lastHash = h
				}

			case zmqBlockConnected:
				blk, err := f.retryBlockByHash(ctx, ev.hash)
				if err != nil {
					return lastHeight, lastHash, false
				}
				if blk.Height == lastHeight+1 && blk.PrevHash == lastHash {
					history.record(blk.Height, blk.Hash)
					if !emit(ctx, out, Event{Kind: EventBlockInsert, Block: &blk, Tip: blk.Height}) {
						return lastHeight, lastHash, false
					}
					lastHeight, lastHash = blk.Height, blk.Hash
					continue
				}

				// Mismatch without a preceding BlockDisconnected series
				// (missed ZMQ messages): re-run catch-up forward from
				// the last known-good height.
				f.log.Warn(fmt.Sprintf("follower: gap detected at height %d, resyncing from %d", blk.Height, lastHeight+1))
				h, hs, ok := f.catchUp(ctx, lastHeight+1, history, out)
				if !ok {
					return lastHeight, lastHash, false
				}
				lastHeight, lastHash = h, hs
			}
		}
	}
}

// emit sends ev on out, honoring cancellation.
func emit(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		metrics.FollowerQueueDepth.Set(float64(len(out)))
		return true
	case <-ctx.Done():
		return false
	}
}

// sleepCtx sleeps for d or returns false early if ctx is canceled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// retry wraps a transient RPC call: retried with exponential backoff
// plus jitter, 500ms to 10s, unbounded by default, via backoff/v4.
func (f *Follower) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.cfg.RPCBackoffMin
	b.MaxInterval = f.cfg.RPCBackoffMax
	b.MaxElapsedTime = 0
	return backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		if err := op(); err != nil {
			return errs.Transient(err)
		}
		return nil
	}, backoff.WithContext(b, ctx))
}

func (f *Follower) retryTip(ctx context.Context) (uint64, error) {
	var tip uint64
	err := f.retry(ctx, func() error {
		var err error
		tip, err = f.rpc.TipHeight(ctx)
		return err
	})
	return tip, err
}

func (f *Follower) retryHash(ctx context.Context, height uint64) (types.Hash256, error) {
	var hash types.Hash256
	err := f.retry(ctx, func() error {
		var err error
		hash, err = f.rpc.BlockHashAt(ctx, height)
		return err
	})
	return hash, err
}

func (f *Follower) retryBlock(ctx context.Context, height uint64) (types.Block, error) {
	var blk types.Block
	err := f.retry(ctx, func() error {
		var err error
		blk, err = f.rpc.BlockAt(ctx, height)
		return err
	})
	return blk, err
}

func (f *Follower) retryBlockByHash(ctx context.Context, hash types.Hash256) (types.Block, error) {
	var blk types.Block
	err := f.retry(ctx, func() error {
		var err error
		blk, err = f.rpc.BlockByHash(ctx, hash)
		return err
	})
	return blk, err
}

func (f *Follower) retryMempool(ctx context.Context) ([]types.Hash256, error) {
	var txids []types.Hash256
	err := f.retry(ctx, func() error {
		var err error
		txids, err = f.rpc.RawMempool(ctx)
		return err
	})
	return txids, err
}
