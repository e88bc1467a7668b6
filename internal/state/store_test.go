package state

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ouziel-slama/kontor/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	s, err := Open(dsn, 2)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func hashFor(n byte) types.Hash256 {
	var h types.Hash256
	h[0] = n
	return h
}

// writeBlock applies a trivial block at height with one contract write.
func writeBlock(t *testing.T, s *Store, height uint64, contractID int64, path string, value string) {
	t.Helper()
	ctx := context.Background()
	btx, err := s.BeginBlock(ctx, height)
	require.NoError(t, err)
	require.NoError(t, btx.InsertBlock(hashFor(byte(height)), hashFor(byte(height-1))))
	txID, err := btx.InsertTransaction(types.Hash256{}, 0)
	require.NoError(t, err)
	require.NoError(t, btx.Set(contractID, txID, types.ParsePath(path), []byte(value)))
	require.NoError(t, btx.Commit())
}

func TestGetSetLatestWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Need a contracts row to satisfy the FK.
	btx, err := s.BeginBlock(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, btx.InsertBlock(hashFor(1), hashFor(0)))
	cid, err := btx.InsertContract("token", 0, []byte("wasm"))
	require.NoError(t, err)
	txID, err := btx.InsertTransaction(types.Hash256{}, 0)
	require.NoError(t, err)
	require.NoError(t, btx.Set(cid, txID, types.ParsePath("ledger.alice"), []byte("100")))
	require.NoError(t, btx.Commit())

	writeBlock(t, s, 2, cid, "ledger.alice", "200")

	v := s.ViewAt(ctx, 2)
	val, ok, err := v.Get(cid, types.ParsePath("ledger.alice"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "200", string(val))

	// At height 1, the write from height 2 must not be visible (I2, P7).
	v1 := s.ViewAt(ctx, 1)
	val, ok, err = v1.Get(cid, types.ParsePath("ledger.alice"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "100", string(val))
}

func TestDeleteTombstone(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	btx, err := s.BeginBlock(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, btx.InsertBlock(hashFor(1), hashFor(0)))
	cid, err := btx.InsertContract("c", 0, []byte("x"))
	require.NoError(t, err)
	txID, _ := btx.InsertTransaction(types.Hash256{}, 0)
	require.NoError(t, btx.Set(cid, txID, types.ParsePath("k"), []byte("v")))
	require.NoError(t, btx.Commit())

	btx, err = s.BeginBlock(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, btx.InsertBlock(hashFor(2), hashFor(1)))
	txID, _ = btx.InsertTransaction(types.Hash256{}, 0)
	require.NoError(t, btx.Delete(cid, txID, types.ParsePath("k")))
	require.NoError(t, btx.Commit())

	v := s.ViewAt(ctx, 2)
	_, ok, err := v.Get(cid, types.ParsePath("k"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReadYourWritesWithinBlock(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	btx, err := s.BeginBlock(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, btx.InsertBlock(hashFor(1), hashFor(0)))
	cid, err := btx.InsertContract("c", 0, []byte("x"))
	require.NoError(t, err)
	txID, _ := btx.InsertTransaction(types.Hash256{}, 0)

	require.NoError(t, btx.Set(cid, txID, types.ParsePath("n"), []byte("1")))
	val, ok, err := btx.Get(cid, types.ParsePath("n"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", string(val))
	require.NoError(t, btx.Commit())
}

func TestRollbackIdempotence(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	btx, err := s.BeginBlock(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, btx.InsertBlock(hashFor(1), hashFor(0)))
	cid, err := btx.InsertContract("c", 0, []byte("x"))
	require.NoError(t, err)
	txID, _ := btx.InsertTransaction(types.Hash256{}, 0)
	require.NoError(t, btx.Set(cid, txID, types.ParsePath("n"), []byte("1")))
	require.NoError(t, btx.Commit())

	writeBlock(t, s, 2, cid, "n", "2")
	writeBlock(t, s, 3, cid, "n", "3")

	require.NoError(t, s.RollbackTo(ctx, 1))

	h, _, ok, err := s.LatestHeight(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), h)

	v := s.ViewAt(ctx, 1)
	val, ok, err := v.Get(cid, types.ParsePath("n"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", string(val))

	// Re-processing height 2 after rollback must behave exactly as if
	// height 2 had never been seen before (P4).
	writeBlock(t, s, 2, cid, "n", "2b")
	v2 := s.ViewAt(ctx, 2)
	val, ok, err = v2.Get(cid, types.ParsePath("n"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2b", string(val))
}

func TestNoPartialBlockOnFailure(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	btx, err := s.BeginBlock(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, btx.InsertBlock(hashFor(1), hashFor(0)))
	cid, err := btx.InsertContract("c", 0, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, btx.Commit())

	// Simulate a mid-block failure: begin height 2, write, then abort.
	btx, err = s.BeginBlock(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, btx.InsertBlock(hashFor(2), hashFor(1)))
	txID, _ := btx.InsertTransaction(types.Hash256{}, 0)
	require.NoError(t, btx.Set(cid, txID, types.ParsePath("n"), []byte("x")))
	require.NoError(t, btx.Rollback())

	h, _, ok, err := s.LatestHeight(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), h, "no blocks row should exist at height 2")

	var n int
	require.NoError(t, s.ReaderDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM contract_state WHERE height = 2`).Scan(&n))
	require.Zero(t, n)
}

func TestRunOpRollsBackOnlyFailedOp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	btx, err := s.BeginBlock(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, btx.InsertBlock(hashFor(1), hashFor(0)))
	cid, err := btx.InsertContract("c", 0, []byte("x"))
	require.NoError(t, err)
	txID, _ := btx.InsertTransaction(types.Hash256{}, 0)

	require.NoError(t, btx.RunOp(func() error {
		return btx.Set(cid, txID, types.ParsePath("ok"), []byte("1"))
	}))

	require.Error(t, btx.RunOp(func() error {
		if err := btx.Set(cid, txID, types.ParsePath("bad"), []byte("x")); err != nil {
			return err
		}
		return fmt.Errorf("op failed after writing")
	}))

	require.NoError(t, btx.Commit())

	v := s.ViewAt(ctx, 1)
	_, ok, err := v.Get(cid, types.ParsePath("ok"))
	require.NoError(t, err)
	require.True(t, ok, "successful op's write should survive")

	_, ok, err = v.Get(cid, types.ParsePath("bad"))
	require.NoError(t, err)
	require.False(t, ok, "failed op's write should be rolled back")
}

func TestKeysUnderPrefix(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	btx, err := s.BeginBlock(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, btx.InsertBlock(hashFor(1), hashFor(0)))
	cid, err := btx.InsertContract("c", 0, []byte("x"))
	require.NoError(t, err)
	txID, _ := btx.InsertTransaction(types.Hash256{}, 0)
	require.NoError(t, btx.Set(cid, txID, types.ParsePath("ledger.alice.balance"), []byte("1")))
	require.NoError(t, btx.Set(cid, txID, types.ParsePath("ledger.alice.nonce"), []byte("1")))
	require.NoError(t, btx.Set(cid, txID, types.ParsePath("ledger.bob.balance"), []byte("2")))
	require.NoError(t, btx.Commit())

	v := s.ViewAt(ctx, 1)
	it, err := v.Keys(cid, types.ParsePath("ledger"))
	require.NoError(t, err)
	defer it.Close()

	var got []string
	for {
		seg, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, seg)
	}
	require.NoError(t, it.Err())
	require.Equal(t, []string{"alice", "bob"}, got)
}
