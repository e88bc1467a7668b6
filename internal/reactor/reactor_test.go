package reactor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ouziel-slama/kontor/internal/follower"
	"github.com/ouziel-slama/kontor/internal/log"
	"github.com/ouziel-slama/kontor/internal/pubsub"
	"github.com/ouziel-slama/kontor/internal/registry"
	"github.com/ouziel-slama/kontor/internal/runtime"
	_ "github.com/ouziel-slama/kontor/internal/runtime/native"
	"github.com/ouziel-slama/kontor/internal/state"
	"github.com/ouziel-slama/kontor/pkg/types"
)

func hashFor(n byte) types.Hash256 {
	var h types.Hash256
	h[0] = n
	return h
}

func setupReactor(t *testing.T) *Reactor {
	t.Helper()
	ctx := context.Background()

	store, err := state.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()), 2)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	engine := runtime.NewEngine(ctx, log.Default())
	t.Cleanup(func() { engine.Close(ctx) })

	reg, err := registry.New(store, 8, engine.Decode)
	require.NoError(t, err)

	disp := runtime.NewDispatcher(reg, 10_000_000)
	bus := pubsub.NewBus(10)

	return New(store, disp, bus, nil, Config{StartingBlockHeight: 1, IssuanceAmount: 1000}, log.Default())
}

func signerOp(signer string, inputIndex int64) types.OpMetadata {
	return types.OpMetadata{InputIndex: inputIndex, Signer: types.XOnlyPubKeySigner(signer)}
}

// TestProcessBlockRunsBootstrapOnce verifies the first block processed
// carries the bootstrap publishes, and a second block does not
// re-publish them.
func TestProcessBlockRunsBootstrapOnce(t *testing.T) {
	ctx := context.Background()
	r := setupReactor(t)

	block := &types.Block{Height: 1, Hash: hashFor(1), PrevHash: hashFor(0)}
	require.NoError(t, r.processBlock(ctx, block))

	addr, err := r.resolveTokenAddr(ctx)
	require.NoError(t, err)
	require.Equal(t, "token", addr.Name)
	require.Equal(t, uint64(1), addr.Height)

	var n int
	require.NoError(t, r.store.ReaderDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM contracts WHERE name = 'token'`).Scan(&n))
	require.Equal(t, 1, n)

	block2 := &types.Block{Height: 2, Hash: hashFor(2), PrevHash: hashFor(1)}
	require.NoError(t, r.processBlock(ctx, block2))
	require.NoError(t, r.store.ReaderDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM contracts WHERE name = 'token'`).Scan(&n))
	require.Equal(t, 1, n, "bootstrap must not run a second time")
}

// TestProcessBlockIssuanceMintsFixedAmount drives an Issuance op and
// checks the configured fixed amount lands in the signer's balance.
func TestProcessBlockIssuanceMintsFixedAmount(t *testing.T) {
	ctx := context.Background()
	r := setupReactor(t)

	sub := r.bus.Subscribe(ctx)
	defer sub.Close()

	block := &types.Block{
		Height:   1,
		Hash:     hashFor(1),
		PrevHash: hashFor(0),
		Transactions: []types.Transaction{
			{
				Txid:  hashFor(0xAA),
				Index: 0,
				Ops:   []types.Op{{Kind: types.OpIssuance, Metadata: signerOp("alice", 0)}},
			},
		},
	}
	require.NoError(t, r.processBlock(ctx, block))

	ev := recvResult(t, sub)
	require.True(t, ev.Ok)

	tokenAddr, err := r.resolveTokenAddr(ctx)
	require.NoError(t, err)
	view := r.store.ViewAt(ctx, 1)
	balance, _, err := r.dispatcher.Execute(ctx, runtime.KindView, 1, types.XOnlyPubKeySigner("alice"), tokenAddr, `balance("alice")`, 0, nil, view, 0)
	require.NoError(t, err)
	require.Equal(t, "1000", balance.String())
}

// TestProcessBlockPublishAndCall exercises a Publish op followed by a
// Call op against the freshly published contract in a later block.
func TestProcessBlockPublishAndCall(t *testing.T) {
	ctx := context.Background()
	r := setupReactor(t)

	block1 := &types.Block{
		Height:   1,
		Hash:     hashFor(1),
		PrevHash: hashFor(0),
		Transactions: []types.Transaction{
			{
				Txid:  hashFor(0xBB),
				Index: 0,
				Ops: []types.Op{{
					Kind:     types.OpPublish,
					Metadata: signerOp("alice", 0),
					Name:     "arith",
					Bytes:    []byte("KNATIVE:arith\n"),
				}},
			},
		},
	}
	require.NoError(t, r.processBlock(ctx, block1))

	arithAddr := types.ContractAddress{Name: "arith", Height: 1, TxIndex: 0}
	block2 := &types.Block{
		Height:   2,
		Hash:     hashFor(2),
		PrevHash: hashFor(1),
		Transactions: []types.Transaction{
			{
				Txid:  hashFor(0xCC),
				Index: 0,
				Ops: []types.Op{{
					Kind:     types.OpCall,
					Metadata: signerOp("alice", 0),
					Contract: arithAddr,
					Expr:     "add(1, 2)",
				}},
			},
		},
	}
	require.NoError(t, r.processBlock(ctx, block2))

	var ok bool
	var value string
	err := r.store.ReaderDB().QueryRowContext(ctx, `SELECT ok, value FROM contract_results WHERE height = 2`).Scan(&ok, &value)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "3", value)
}

// TestProcessBlockPublishFailureLeavesNoContractRow checks that a
// Publish op whose bytes fail to decode reports its failure as a
// ResultEvent::Err and leaves no trace of the attempted contract: the
// insert and any would-be init() writes run inside one op savepoint, so
// a decode failure rolls all of it back rather than committing a
// half-published contract.
func TestProcessBlockPublishFailureLeavesNoContractRow(t *testing.T) {
	ctx := context.Background()
	r := setupReactor(t)

	block := &types.Block{
		Height:   1,
		Hash:     hashFor(1),
		PrevHash: hashFor(0),
		Transactions: []types.Transaction{
			{
				Txid:  hashFor(0xEE),
				Index: 0,
				Ops: []types.Op{{
					Kind:     types.OpPublish,
					Metadata: signerOp("alice", 0),
					Name:     "garbage",
					Bytes:    []byte("not a wasm module and not a native marker either"),
				}},
			},
		},
	}
	require.NoError(t, r.processBlock(ctx, block))

	var ok bool
	var message string
	err := r.store.ReaderDB().QueryRowContext(ctx, `SELECT ok, message FROM contract_results WHERE height = 1`).Scan(&ok, &message)
	require.NoError(t, err)
	require.False(t, ok)
	require.NotEmpty(t, message)

	var n int
	require.NoError(t, r.store.ReaderDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM contracts WHERE name = 'garbage'`).Scan(&n))
	require.Equal(t, 0, n, "a failed publish must not leave a contracts row behind")
}

// TestProcessBlockOpLevelFailureContinuesBlock checks that one op's
// failure becomes a ResultEvent::Err without aborting the rest of the
// block.
func TestProcessBlockOpLevelFailureContinuesBlock(t *testing.T) {
	ctx := context.Background()
	r := setupReactor(t)

	block := &types.Block{
		Height:   1,
		Hash:     hashFor(1),
		PrevHash: hashFor(0),
		Transactions: []types.Transaction{
			{
				Txid:  hashFor(0xDD),
				Index: 0,
				Ops: []types.Op{
					{
						Kind:     types.OpCall,
						Metadata: signerOp("alice", 0),
						Contract: types.ContractAddress{Name: "nonexistent", Height: 9, TxIndex: 9},
						Expr:     "foo()",
					},
					{Kind: types.OpIssuance, Metadata: signerOp("alice", 1)},
				},
			},
		},
	}
	require.NoError(t, r.processBlock(ctx, block))

	var count int
	require.NoError(t, r.store.ReaderDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM contract_results WHERE height = 1`).Scan(&count))
	require.Equal(t, 2, count, "both ops must have recorded a result")

	var ok0, ok1 bool
	require.NoError(t, r.store.ReaderDB().QueryRowContext(ctx, `SELECT ok FROM contract_results WHERE height = 1 AND input_index = 0`).Scan(&ok0))
	require.NoError(t, r.store.ReaderDB().QueryRowContext(ctx, `SELECT ok FROM contract_results WHERE height = 1 AND input_index = 1`).Scan(&ok1))
	require.False(t, ok0)
	require.True(t, ok1)
}

// TestRollbackByHeightRemovesBlock covers the block-removal path and
// the registry cache invalidation that must go with it.
func TestRollbackByHeightRemovesBlock(t *testing.T) {
	ctx := context.Background()
	r := setupReactor(t)

	require.NoError(t, r.processBlock(ctx, &types.Block{Height: 1, Hash: hashFor(1), PrevHash: hashFor(0)}))
	require.NoError(t, r.processBlock(ctx, &types.Block{Height: 2, Hash: hashFor(2), PrevHash: hashFor(1)}))

	height, _, ok, err := r.store.LatestHeight(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2), height)

	err = r.rollback(ctx, follower.Event{Kind: follower.EventBlockRemove, RemoveHeight: 2})
	require.NoError(t, err)

	height, _, ok, err = r.store.LatestHeight(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), height)
}

func recvResult(t *testing.T, sub *pubsub.Subscriber) types.ResultEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscriber channel closed early")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result event")
		return types.ResultEvent{}
	}
}
