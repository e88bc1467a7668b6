package follower

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	btcwire "github.com/btcsuite/btcd/wire"

	"github.com/ouziel-slama/kontor/internal/wire"
	"github.com/ouziel-slama/kontor/pkg/types"
)

// RPCSource is the pull side of the Follower's inputs: get_blockchain_
// info, get_block_hash, get_block, get_raw_mempool. It is an interface
// so the reconciliation algorithm can be exercised against a fake in
// tests without a live bitcoind.
type RPCSource interface {
	TipHeight(ctx context.Context) (uint64, error)
	BlockHashAt(ctx context.Context, height uint64) (types.Hash256, error)
	BlockAt(ctx context.Context, height uint64) (types.Block, error)
	// BlockByHash resolves a block announced by the ZMQ stream (which
	// carries only a hash) to its full decoded form including height,
	// used by the steady-state gap check.
	BlockByHash(ctx context.Context, hash types.Hash256) (types.Block, error)
	RawMempool(ctx context.Context) ([]types.Hash256, error)
}

// btcdRPC adapts github.com/btcsuite/btcd/rpcclient.Client, the
// teacher's own Bitcoin RPC dependency, to RPCSource.
type btcdRPC struct {
	client *rpcclient.Client
}

// DialRPC connects to a bitcoind JSON-RPC endpoint using HTTP POST mode
// (no websocket notifications needed; the Follower gets its push side
// from ZMQ instead).
func DialRPC(host, user, pass string) (RPCSource, error) {
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         host,
		User:         user,
		Pass:         pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("follower: dialing bitcoin rpc at %s: %w", host, err)
	}
	return &btcdRPC{client: client}, nil
}

func (r *btcdRPC) TipHeight(ctx context.Context) (uint64, error) {
	n, err := r.client.GetBlockCount()
	if err != nil {
		return 0, fmt.Errorf("follower: get_blockchain_info: %w", err)
	}
	return uint64(n), nil
}

func (r *btcdRPC) BlockHashAt(ctx context.Context, height uint64) (types.Hash256, error) {
	h, err := r.client.GetBlockHash(int64(height))
	if err != nil {
		return types.Hash256{}, fmt.Errorf("follower: get_block_hash(%d): %w", height, err)
	}
	return types.Hash256(*h), nil
}

func (r *btcdRPC) BlockAt(ctx context.Context, height uint64) (types.Block, error) {
	hash, err := r.client.GetBlockHash(int64(height))
	if err != nil {
		return types.Block{}, fmt.Errorf("follower: get_block_hash(%d): %w", height, err)
	}
	msg, err := r.client.GetBlock(hash)
	if err != nil {
		return types.Block{}, fmt.Errorf("follower: get_block(%d): %w", height, err)
	}
	return decodeBlock(height, msg), nil
}

func (r *btcdRPC) BlockByHash(ctx context.Context, hash types.Hash256) (types.Block, error) {
	ch := chainhash.Hash(hash)
	verbose, err := r.client.GetBlockVerbose(&ch)
	if err != nil {
		return types.Block{}, fmt.Errorf("follower: get_block_verbose(%s): %w", ch, err)
	}
	msg, err := r.client.GetBlock(&ch)
	if err != nil {
		return types.Block{}, fmt.Errorf("follower: get_block(%s): %w", ch, err)
	}
	return decodeBlock(uint64(verbose.Height), msg), nil
}

func (r *btcdRPC) RawMempool(ctx context.Context) ([]types.Hash256, error) {
	hashes, err := r.client.GetRawMempool()
	if err != nil {
		return nil, fmt.Errorf("follower: get_raw_mempool: %w", err)
	}
	out := make([]types.Hash256, len(hashes))
	for i, h := range hashes {
		out[i] = types.Hash256(*h)
	}
	return out, nil
}

// decodeBlock turns a wire.MsgBlock into the indexer's own Block,
// decoding every transaction's embedded instructions (internal/wire) and
// dropping transactions that carry none.
func decodeBlock(height uint64, msg *btcwire.MsgBlock) types.Block {
	header := msg.Header
	var txs []types.Transaction
	for i, tx := range msg.Transactions {
		if decoded, ok := wire.DecodeTransaction(tx, int64(i)); ok {
			txs = append(txs, decoded)
		}
	}
	return types.Block{
		Height:       height,
		Hash:         types.Hash256(header.BlockHash()),
		PrevHash:     types.Hash256(header.PrevBlock),
		Transactions: txs,
	}
}

// hashFromChainhash is a narrow helper kept for readability at call
// sites translating btcd's chainhash.Hash into types.Hash256.
func hashFromChainhash(h chainhash.Hash) types.Hash256 { return types.Hash256(h) }
