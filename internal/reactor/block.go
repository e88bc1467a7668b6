package reactor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ouziel-slama/kontor/internal/follower"
	"github.com/ouziel-slama/kontor/internal/metrics"
	"github.com/ouziel-slama/kontor/internal/runtime"
	"github.com/ouziel-slama/kontor/internal/state"
	"github.com/ouziel-slama/kontor/pkg/types"
)

// processBlock applies one block: one SQL transaction for the whole
// block, one SAVEPOINT per op (via state.BlockTx.RunOp), results
// recorded alongside the writes they describe, and published only
// after the transaction commits.
func (r *Reactor) processBlock(ctx context.Context, block *types.Block) error {
	if block == nil {
		return errBlockLevel("reactor: nil block in BlockInsert event")
	}

	btx, err := r.store.BeginBlock(ctx, block.Height)
	if err != nil {
		return errBlockLevel("reactor: beginning block %d: %w", block.Height, err)
	}

	if err := btx.InsertBlock(block.Hash, block.PrevHash); err != nil {
		btx.Rollback()
		return errBlockLevel("reactor: inserting block %d: %w", block.Height, err)
	}

	view := r.store.ViewAt(ctx, block.Height)

	needsBootstrap, err := r.needsBootstrap(ctx)
	if err != nil {
		btx.Rollback()
		return errBlockLevel("reactor: checking bootstrap state: %w", err)
	}
	if needsBootstrap {
		if err := r.publishBootstrap(ctx, block.Height, btx, view); err != nil {
			btx.Rollback()
			return err
		}
	}

	var results []types.ResultEvent
	for _, tx := range block.Transactions {
		txID, err := btx.InsertTransaction(tx.Txid, tx.Index)
		if err != nil {
			btx.Rollback()
			return errBlockLevel("reactor: inserting transaction %d at height %d: %w", tx.Index, block.Height, err)
		}

		for _, op := range tx.Ops {
			ev, gasUsed, blockErr := r.runOp(ctx, block.Height, btx, view, tx, txID, op)
			if blockErr != nil {
				btx.Rollback()
				return blockErr
			}
			if err := btx.InsertResult(ev, gasUsed); err != nil {
				btx.Rollback()
				return errBlockLevel("reactor: recording result for tx %d input %d: %w", tx.Index, op.Metadata.InputIndex, err)
			}
			results = append(results, ev)
		}
	}

	if err := btx.Commit(); err != nil {
		return errBlockLevel("reactor: committing block %d: %w", block.Height, err)
	}
	metrics.BlockHeight.Set(float64(block.Height))

	for _, ev := range results {
		r.bus.Publish(ev)
	}
	r.log.Info(fmt.Sprintf("reactor: processed block %d (%d ops)", block.Height, len(results)))
	return nil
}

// runOp drives one op through the runtime and classifies its outcome
// into a ResultEvent: anything that is the op's own business — a
// trap, gas exhaustion, reentrancy, a malformed expression, a missing
// contract — becomes ResultEvent::Err and the block continues; a
// block-level error (a DB write failure) is returned so the caller
// aborts the whole block.
func (r *Reactor) runOp(ctx context.Context, height uint64, btx *state.BlockTx, view *state.View, tx types.Transaction, txID int64, op types.Op) (types.ResultEvent, uint64, error) {
	id := types.ContractResultID{Txid: tx.Txid, InputIndex: op.Metadata.InputIndex}

	ev, gasUsed := r.dispatchOp(ctx, height, btx, view, tx, txID, op, id)
	metrics.RecordOp(opKindLabel(op.Kind), outcomeLabel(ev), gasUsed)
	return ev, gasUsed, nil
}

func (r *Reactor) dispatchOp(ctx context.Context, height uint64, btx *state.BlockTx, view *state.View, tx types.Transaction, txID int64, op types.Op, id types.ContractResultID) (types.ResultEvent, uint64) {
	switch op.Kind {
	case types.OpPublish:
		_, addr, gasUsed, err := r.dispatcher.Publish(ctx, height, op.Metadata.Signer, op.Name, tx.Index, op.Bytes, btx, view, txID, op.GasLimit)
		ev := classify(id, gasUsed, err)
		if err == nil {
			ev.Value = fmt.Sprintf("%q", addr.String())
		}
		return ev, gasUsed

	case types.OpCall:
		val, gasUsed, err := r.dispatcher.Execute(ctx, runtime.KindProc, height, op.Metadata.Signer, op.Contract, op.Expr, op.GasLimit, btx, view, txID)
		ev := classify(id, gasUsed, err)
		if err == nil {
			ev.Value = val.String()
		}
		return ev, gasUsed

	case types.OpIssuance:
		addr, err := r.resolveTokenAddr(ctx)
		if err != nil {
			return classify(id, 0, err), 0
		}
		expr := fmt.Sprintf("issuance(%d)", r.issuanceAmount)
		_, gasUsed, err := r.dispatcher.Execute(ctx, runtime.KindCore, height, op.Metadata.Signer, addr, expr, op.GasLimit, btx, view, txID)
		return classify(id, gasUsed, err), gasUsed

	default:
		return classify(id, 0, fmt.Errorf("reactor: unknown op kind %v", op.Kind)), 0
	}
}

func opKindLabel(k types.OpKind) string {
	switch k {
	case types.OpPublish:
		return "publish"
	case types.OpCall:
		return "call"
	case types.OpIssuance:
		return "issuance"
	default:
		return "unknown"
	}
}

func outcomeLabel(ev types.ResultEvent) string {
	if ev.Ok {
		return "ok"
	}
	return "err"
}

// classify turns a runtime outcome into a ResultEvent. A genuine WASM
// trap's message is replaced with the fixed EphemeralMessage, while
// any other op-level failure (reentrancy, out-of-gas, a malformed
// call, a missing contract) reports its own message since it is
// deterministic and safe to persist.
func classify(id types.ContractResultID, gasUsed uint64, err error) types.ResultEvent {
	if err == nil {
		return types.ResultEvent{ID: id, Ok: true, Value: "()"}
	}

	var trap *runtime.TrapError
	if errors.As(err, &trap) {
		return types.ResultEvent{ID: id, Ok: false, Message: types.EphemeralMessage, Ephemeral: true}
	}
	return types.ResultEvent{ID: id, Ok: false, Message: err.Error(), Ephemeral: false}
}

// rollback drops the blocks row (and everything FK-cascaded from it,
// per internal/state's schema) for the disconnected block, identified
// either by height or by hash.
func (r *Reactor) rollback(ctx context.Context, ev follower.Event) error {
	height := ev.RemoveHeight
	if ev.RemoveByHash {
		h, ok, err := r.heightForHash(ctx, ev.RemoveHash)
		if err != nil {
			return errBlockLevel("reactor: resolving hash for rollback: %w", err)
		}
		if !ok {
			// Already rolled back (or never committed); nothing to do.
			return nil
		}
		height = h
	}

	if err := r.store.RollbackTo(ctx, height-1); err != nil {
		return errBlockLevel("reactor: rolling back to height %d: %w", height-1, err)
	}
	r.dispatcher.Registry.Reset()
	r.log.Info(fmt.Sprintf("reactor: rolled back block %d", height))
	return nil
}

func (r *Reactor) heightForHash(ctx context.Context, hash types.Hash256) (uint64, bool, error) {
	var height uint64
	err := r.store.ReaderDB().QueryRowContext(ctx, `SELECT height FROM blocks WHERE hash = ?`, hash[:]).Scan(&height)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return height, true, nil
}
