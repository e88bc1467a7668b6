package reactor

import (
	"context"
	"fmt"

	"github.com/ouziel-slama/kontor/internal/state"
	"github.com/ouziel-slama/kontor/pkg/types"
)

// nativeMarker mirrors internal/runtime's marker byte prefix so the
// genesis block can publish bootstrap contracts without importing the
// engine's native constant directly.
const nativeMarker = "KNATIVE:"

// bootstrapTxIndexBase offsets the synthetic transaction indices the
// bootstrap contracts are published under, kept well above any index a
// real Bitcoin block's transaction list could reach, so their
// addresses never collide with a real Publish op in the same block.
const bootstrapTxIndexBase = 1_000_000

// bootstrapContracts is the fixed publish order for the native
// bootstrap/system contracts, grounded on original_source's
// native_contracts.rs loader, which publishes its own bootstrap set in
// a fixed order at the first height the indexer ever processes.
var bootstrapContracts = []string{"fib", "sum", "arith", "token", "shared-account"}

// publishBootstrap runs once, inside the very first block the store
// ever processes, publishing the native bootstrap/system contracts
// before that block's own transactions. It reuses the real chain height
// rather than inventing a synthetic one, so no extra "genesis block" row
// needs reconciling against the follower's own height numbering.
func (r *Reactor) publishBootstrap(ctx context.Context, height uint64, btx *state.BlockTx, view *state.View) error {
	signer := types.XOnlyPubKeySigner("genesis")

	for i, name := range bootstrapContracts {
		txIndex := int64(bootstrapTxIndexBase + i)
		txid := bootstrapTxid(height, i)
		txID, err := btx.InsertTransaction(txid, txIndex)
		if err != nil {
			return err
		}

		bytes := []byte(nativeMarker + name + "\n")
		_, addr, _, err := r.dispatcher.Publish(ctx, height, signer, name, txIndex, bytes, btx, view, txID, 0)
		if err != nil {
			return errBlockLevel("reactor: publishing bootstrap contract %s: %w", name, err)
		}
		if name == "token" {
			r.tokenAddr = addr
		}
	}
	return nil
}

// bootstrapTxid synthesizes a stable, non-colliding txid for a
// bootstrap contract's synthetic transaction row.
func bootstrapTxid(height uint64, index int) types.Hash256 {
	var h types.Hash256
	h[0] = 'g'
	h[1] = byte(height)
	h[2] = byte(height >> 8)
	h[3] = byte(index)
	return h
}

// resolveTokenAddr returns the well-known token contract's address,
// caching it after the first lookup. A fresh process that resumes
// mid-chain never ran publishBootstrap itself, so this falls back to
// the contracts table rather than assuming r.tokenAddr was set.
func (r *Reactor) resolveTokenAddr(ctx context.Context) (types.ContractAddress, error) {
	if r.tokenAddr.Name != "" {
		return r.tokenAddr, nil
	}
	var height, txIndex uint64
	err := r.store.ReaderDB().QueryRowContext(ctx, `
		SELECT height, tx_index FROM contracts WHERE name = 'token' ORDER BY height ASC LIMIT 1
	`).Scan(&height, &txIndex)
	if err != nil {
		return types.ContractAddress{}, fmt.Errorf("reactor: resolving token contract address: %w", err)
	}
	r.tokenAddr = types.ContractAddress{Name: "token", Height: height, TxIndex: txIndex}
	return r.tokenAddr, nil
}

// needsBootstrap reports whether the store has never processed any
// block, meaning the next block processed must carry the bootstrap
// publishes.
func (r *Reactor) needsBootstrap(ctx context.Context) (bool, error) {
	_, _, ok, err := r.store.LatestHeight(ctx)
	if err != nil {
		return false, err
	}
	return !ok, nil
}
