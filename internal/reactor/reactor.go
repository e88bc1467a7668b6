// Package reactor implements the block and op processor: it consumes
// the Follower's ordered Event stream, decodes ops already resolved by
// internal/wire during block decoding, drives the Contract Runtime for
// each one, persists state and results within the block's single SQL
// transaction, and publishes completion events once that transaction
// commits. Grounded on original_source/kontor/src/reactor/mod.rs's
// block loop and its seek-protocol supplement
// (core/kontor/src/bitcoin_follower/seek.rs).
package reactor

import (
	"context"
	"fmt"

	"github.com/ouziel-slama/kontor/internal/errs"
	"github.com/ouziel-slama/kontor/internal/follower"
	"github.com/ouziel-slama/kontor/internal/log"
	"github.com/ouziel-slama/kontor/internal/pubsub"
	"github.com/ouziel-slama/kontor/internal/runtime"
	"github.com/ouziel-slama/kontor/internal/state"
	"github.com/ouziel-slama/kontor/pkg/types"
)

// Reactor drives the database forward one block at a time, never
// skipping a height or re-applying one already committed.
type Reactor struct {
	store      *state.Store
	dispatcher *runtime.Dispatcher
	bus        *pubsub.Bus
	follower   *follower.Follower
	log        *log.Logger

	startingHeight uint64
	issuanceAmount uint64
	tokenAddr      types.ContractAddress
}

// errBlockLevel wraps a formatted error as errs.BlockLevel, the
// convention used throughout this file for a failure that aborts the
// current block's transaction for retry.
func errBlockLevel(format string, a ...any) error {
	return errs.BlockLevel(fmt.Errorf(format, a...))
}

// Config carries the subset of the process config the Reactor itself
// needs.
type Config struct {
	StartingBlockHeight uint64
	IssuanceAmount      uint64
}

// New builds a Reactor wiring the state store, runtime dispatcher,
// result bus and chain follower together.
func New(store *state.Store, dispatcher *runtime.Dispatcher, bus *pubsub.Bus, f *follower.Follower, cfg Config, logger *log.Logger) *Reactor {
	if logger == nil {
		logger = log.Default()
	}
	return &Reactor{
		store:          store,
		dispatcher:     dispatcher,
		bus:            bus,
		follower:       f,
		log:            logger.With("component", "reactor"),
		startingHeight: cfg.StartingBlockHeight,
		issuanceAmount: cfg.IssuanceAmount,
	}
}

// Run resumes the follower at the right height (the seek protocol) and
// then drives the resulting event stream until ctx is canceled or a
// fatal error occurs.
func (r *Reactor) Run(ctx context.Context) error {
	req, err := r.buildSeekRequest(ctx)
	if err != nil {
		return err
	}

	events, err := r.follower.Seek(ctx, req)
	if err != nil {
		return fmt.Errorf("reactor: seeking follower: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := r.handle(ctx, ev); err != nil {
				if errs.IsFatal(err) {
					return err
				}
				// Block-level errors are logged and the process relies
				// on the operator/supervisor to restart; the seek
				// protocol on the next Run call resumes cleanly from
				// the last committed height and retries the block.
				r.log.Error(err, "reactor: block processing failed")
				return err
			}
		}
	}
}

// buildSeekRequest reads the latest processed height/hash, or falls
// back to the configured starting height on a fresh database.
func (r *Reactor) buildSeekRequest(ctx context.Context) (follower.SeekRequest, error) {
	height, hash, ok, err := r.store.LatestHeight(ctx)
	if err != nil {
		return follower.SeekRequest{}, errs.Fatal(fmt.Errorf("reactor: reading latest height: %w", err))
	}
	if !ok {
		return follower.SeekRequest{StartHeight: r.startingHeight}, nil
	}
	h := hash
	return follower.SeekRequest{
		StartHeight: height + 1,
		LastHash:    &h,
		HashAt: func(ctx context.Context, height uint64) (types.Hash256, bool, error) {
			hash, ok, err := r.store.BlockHash(ctx, height)
			return hash, ok, err
		},
	}, nil
}

// handle dispatches one Follower event to the matching processing path.
func (r *Reactor) handle(ctx context.Context, ev follower.Event) error {
	switch ev.Kind {
	case follower.EventBlockInsert:
		return r.processBlock(ctx, ev.Block)
	case follower.EventBlockRemove:
		return r.rollback(ctx, ev)
	case follower.EventMempoolSet, follower.EventMempoolInsert, follower.EventMempoolRemove:
		// Reserved for future use, not persisted by the core reactor;
		// external subscribers would see these via a separate feed
		// this package does not own.
		return nil
	default:
		return nil
	}
}
