// Package follower implements the chain follower and reconciler: it
// bridges a ZMQ push stream with a pull RPC source into a single,
// totally ordered, gap-free Event channel, resuming the reconciliation
// internally across ZMQ disconnects and reorgs so the caller only ever
// asks once. Grounded on original_source's core/kontor/src/
// bitcoin_follower (reconciler.rs, seek.rs), built on btcd/rpcclient
// and gozmq.
package follower

import (
	"context"

	"github.com/ouziel-slama/kontor/pkg/types"
)

// EventKind discriminates the Event sum type.
type EventKind int

const (
	EventMempoolSet EventKind = iota
	EventMempoolInsert
	EventMempoolRemove
	EventBlockInsert
	EventBlockRemove
)

func (k EventKind) String() string {
	switch k {
	case EventMempoolSet:
		return "mempool_set"
	case EventMempoolInsert:
		return "mempool_insert"
	case EventMempoolRemove:
		return "mempool_remove"
	case EventBlockInsert:
		return "block_insert"
	case EventBlockRemove:
		return "block_remove"
	default:
		return "unknown"
	}
}

// Event is one item of the ordered stream the Follower delivers to the
// Reactor.
type Event struct {
	Kind EventKind

	// BlockInsert fields. Tip is the chain tip height known at the time
	// this block was emitted; every emitted BlockInsert carries the
	// current target tip.
	Block *types.Block
	Tip   uint64

	// BlockRemove fields: exactly one of ByHeight/ByHash is populated,
	// signaled by RemoveByHash.
	RemoveByHash bool
	RemoveHeight uint64
	RemoveHash   types.Hash256

	// Mempool fields.
	MempoolTxids []types.Hash256
}

// SeekRequest is the control message the Reactor sends exactly once to
// start (or resume) the ordered stream. Grounded on original_source's
// seek.rs SeekMessage.
type SeekRequest struct {
	StartHeight uint64
	// LastHash, if set, is the hash the caller last processed at
	// StartHeight-1; used for the reorg check at the boundary. Nil on a
	// fresh DB, where StartHeight is just the configured starting
	// height.
	LastHash *types.Hash256

	// HashAt, if set, answers "what hash did I record at this height"
	// from the caller's own durable history, letting the boundary reorg
	// check walk back more than one height: the Follower itself holds no
	// history across a fresh Seek call, but the Reactor's blocks table
	// does. Optional; without it the walk-back stops after the first
	// height it cannot verify.
	HashAt func(ctx context.Context, height uint64) (types.Hash256, bool, error)
}
