package wire_test

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	btcwire "github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/ouziel-slama/kontor/internal/wire"
	"github.com/ouziel-slama/kontor/pkg/types"
)

func signerKey(t *testing.T) ([32]byte, *btcec.PublicKey) {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	var key [32]byte
	copy(key[:], priv.PubKey().SerializeCompressed()[1:])
	return key, priv.PubKey()
}

func revealTx(t *testing.T, instBytes []byte) *btcwire.MsgTx {
	t.Helper()
	key, pub := signerKey(t)
	script, err := wire.BuildTapscript(key, instBytes)
	require.NoError(t, err)
	controlBlock, err := wire.BuildControlBlock(pub)
	require.NoError(t, err)

	tx := btcwire.NewMsgTx(2)
	in := btcwire.NewTxIn(&btcwire.OutPoint{Hash: chainhash.Hash{}, Index: 0}, nil, nil)
	in.Witness = btcwire.TxWitness{script, controlBlock}
	tx.AddTxIn(in)
	tx.AddTxOut(btcwire.NewTxOut(0, []byte{0x51}))
	return tx
}

func TestDecodeTransactionPublish(t *testing.T) {
	instBytes, err := wire.EncodePublish(1000, "sum", []byte("component-bytes"))
	require.NoError(t, err)
	tx := revealTx(t, instBytes)

	decoded, ok := wire.DecodeTransaction(tx, 3)
	require.True(t, ok)
	require.Equal(t, int64(3), decoded.Index)
	require.Len(t, decoded.Ops, 1)

	op := decoded.Ops[0]
	require.Equal(t, types.OpPublish, op.Kind)
	require.Equal(t, uint64(1000), op.GasLimit)
	require.Equal(t, "sum", op.Name)
	require.Equal(t, []byte("component-bytes"), op.Bytes)
	require.Equal(t, int64(0), op.Metadata.InputIndex)
	_, isXOnly := op.Metadata.Signer.(types.XOnlyPubKeySigner)
	require.True(t, isXOnly)
}

func TestDecodeTransactionCall(t *testing.T) {
	instBytes, err := wire.EncodeCall(500, "sum_0_1", `record(3)`)
	require.NoError(t, err)
	tx := revealTx(t, instBytes)

	decoded, ok := wire.DecodeTransaction(tx, 0)
	require.True(t, ok)
	require.Len(t, decoded.Ops, 1)

	op := decoded.Ops[0]
	require.Equal(t, types.OpCall, op.Kind)
	require.Equal(t, types.ContractAddress{Name: "sum", Height: 0, TxIndex: 1}, op.Contract)
	require.Equal(t, `record(3)`, op.Expr)
}

func TestDecodeTransactionIssuance(t *testing.T) {
	instBytes, err := wire.EncodeIssuance()
	require.NoError(t, err)
	tx := revealTx(t, instBytes)

	decoded, ok := wire.DecodeTransaction(tx, 0)
	require.True(t, ok)
	require.Len(t, decoded.Ops, 1)
	require.Equal(t, types.OpIssuance, decoded.Ops[0].Kind)
}

func TestDecodeTransactionNoOpsDropsEntirely(t *testing.T) {
	tx := btcwire.NewMsgTx(2)
	tx.AddTxIn(btcwire.NewTxIn(&btcwire.OutPoint{Hash: chainhash.Hash{}, Index: 0}, nil, nil))
	tx.AddTxOut(btcwire.NewTxOut(0, []byte{0x51}))

	_, ok := wire.DecodeTransaction(tx, 0)
	require.False(t, ok)
}

func TestDecodeTransactionWrongMarkerYieldsNoOp(t *testing.T) {
	instBytes, err := wire.EncodePublish(1, "x", nil)
	require.NoError(t, err)
	key, pub := signerKey(t)

	// Swap "kon" for a different literal: the envelope fails to match.
	bad := append([]byte(nil), instBytes...)
	script, err := buildBadTapscript(key, bad)
	require.NoError(t, err)
	controlBlock, err := wire.BuildControlBlock(pub)
	require.NoError(t, err)

	tx := btcwire.NewMsgTx(2)
	in := btcwire.NewTxIn(&btcwire.OutPoint{Hash: chainhash.Hash{}, Index: 0}, nil, nil)
	in.Witness = btcwire.TxWitness{script, controlBlock}
	tx.AddTxIn(in)

	_, ok := wire.DecodeTransaction(tx, 0)
	require.False(t, ok)
}

func TestDecodeOpReturnAuxData(t *testing.T) {
	entries := map[uint64]types.OpReturnData{
		2: {PubKey: types.XOnlyPubKeySigner("deadbeef")},
	}
	payload, err := wire.EncodeOpReturn(entries)
	require.NoError(t, err)

	instBytes, err := wire.EncodeIssuance()
	require.NoError(t, err)
	tx := revealTx(t, instBytes)
	tx.TxOut[0].PkScript = opReturnScript(t, payload)

	decoded, ok := wire.DecodeTransaction(tx, 0)
	require.True(t, ok)
	require.Equal(t, types.XOnlyPubKeySigner("deadbeef"), decoded.OpReturnData[2].PubKey)
}
