package wire

import (
	"encoding/hex"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	btcwire "github.com/btcsuite/btcd/wire"
	"github.com/fxamacker/cbor/v2"

	"github.com/ouziel-slama/kontor/pkg/types"
)

// konMarker is the literal byte string that must follow OP_FALSE OP_IF
// for an instruction envelope to be recognized: "kon" OP_0.
const konMarker = "kon"

// DecodeTransaction walks every input's witness looking for the
// instruction pattern and, if at least one op was found, the first
// OP_RETURN output's auxiliary data. A transaction with no ops is
// dropped entirely, retained only if it contains at least one op,
// reported as ok=false.
func DecodeTransaction(tx *btcwire.MsgTx, txIndex int64) (types.Transaction, bool) {
	var ops []types.Op
	for inputIndex, in := range tx.TxIn {
		script, ok := tapscript(in.Witness)
		if !ok {
			continue
		}
		op, ok := decodeOp(script, inputIndex)
		if !ok {
			continue
		}
		ops = append(ops, op)
	}
	if len(ops) == 0 {
		return types.Transaction{}, false
	}

	return types.Transaction{
		Txid:         txHash(tx),
		Index:        txIndex,
		Ops:          ops,
		OpReturnData: decodeOpReturn(tx),
	}, true
}

// decodeOp matches the fixed opcode pattern against one revealed leaf
// script and decodes the concatenated chunk bytes into an Op. Any
// deviation yields ok=false: a wrong marker, a missing OP_FALSE/OP_IF,
// or bytes that fail to decode all mean the input yields no op.
func decodeOp(script []byte, inputIndex int) (types.Op, bool) {
	tok := txscript.MakeScriptTokenizer(0, script)

	if !tok.Next() || !isPushOpcode(tok.Opcode()) || len(tok.Data()) != 32 {
		return types.Op{}, false
	}
	signerKey := append([]byte(nil), tok.Data()...)
	if _, err := schnorr.ParsePubKey(signerKey); err != nil {
		return types.Op{}, false
	}

	if !tok.Next() || tok.Opcode() != txscript.OP_CHECKSIG {
		return types.Op{}, false
	}

	// OP_FALSE: a push of zero bytes.
	if !tok.Next() || !isPushOpcode(tok.Opcode()) || len(tok.Data()) != 0 {
		return types.Op{}, false
	}

	if !tok.Next() || tok.Opcode() != txscript.OP_IF {
		return types.Op{}, false
	}

	if !tok.Next() || !isPushOpcode(tok.Opcode()) || string(tok.Data()) != konMarker {
		return types.Op{}, false
	}

	// OP_0: a push of zero bytes.
	if !tok.Next() || !isPushOpcode(tok.Opcode()) || len(tok.Data()) != 0 {
		return types.Op{}, false
	}

	var data []byte
	for {
		if !tok.Next() {
			return types.Op{}, false
		}
		if !isPushOpcode(tok.Opcode()) {
			break
		}
		data = append(data, tok.Data()...)
	}
	if tok.Opcode() != txscript.OP_ENDIF {
		return types.Op{}, false
	}
	if tok.Next() || tok.Err() != nil {
		return types.Op{}, false
	}

	iw, ok := decodeInst(data)
	if !ok {
		return types.Op{}, false
	}

	metadata := types.OpMetadata{
		InputIndex: int64(inputIndex),
		Signer:     types.XOnlyPubKeySigner(hex.EncodeToString(signerKey)),
	}

	switch iw.Tag {
	case tagPublish:
		if strings.Contains(iw.Name, "_") {
			return types.Op{}, false
		}
		return types.Op{Kind: types.OpPublish, Metadata: metadata, GasLimit: iw.GasLimit, Name: iw.Name, Bytes: iw.Bytes}, true
	case tagCall:
		addr, err := types.ParseAddress(iw.Contract)
		if err != nil {
			return types.Op{}, false
		}
		return types.Op{Kind: types.OpCall, Metadata: metadata, GasLimit: iw.GasLimit, Contract: addr, Expr: iw.Expr}, true
	case tagIssuance:
		return types.Op{Kind: types.OpIssuance, Metadata: metadata}, true
	default:
		return types.Op{}, false
	}
}

// opReturnEntry is one (input_index, data) pair in the auxiliary map.
type opReturnEntry struct {
	Index uint64        `cbor:"i"`
	Data  opReturnValue `cbor:"d"`
}

type opReturnValue struct {
	Tag    string `cbor:"tag"`
	PubKey string `cbor:"pubkey,omitempty"`
}

const tagPubKey = "pubkey"

// EncodeOpReturn builds the auxiliary-data payload for an OP_RETURN
// output carrying entries keyed by input index.
func EncodeOpReturn(entries map[uint64]types.OpReturnData) ([]byte, error) {
	wire := make([]opReturnEntry, 0, len(entries))
	for idx, data := range entries {
		wire = append(wire, opReturnEntry{Index: idx, Data: opReturnValue{Tag: tagPubKey, PubKey: string(data.PubKey)}})
	}
	return cbor.Marshal(wire)
}

// decodeOpReturn looks at the first OP_RETURN output only; any decode
// failure or absence yields an empty map, never an error.
func decodeOpReturn(tx *btcwire.MsgTx) map[uint64]types.OpReturnData {
	result := map[uint64]types.OpReturnData{}
	for _, out := range tx.TxOut {
		if len(out.PkScript) == 0 || out.PkScript[0] != txscript.OP_RETURN {
			continue
		}
		payload, ok := extractOpReturnPayload(out.PkScript)
		if !ok {
			return result
		}
		var entries []opReturnEntry
		if err := cbor.Unmarshal(payload, &entries); err != nil {
			return result
		}
		for _, e := range entries {
			if e.Data.Tag != tagPubKey {
				continue
			}
			result[e.Index] = types.OpReturnData{PubKey: types.XOnlyPubKeySigner(e.Data.PubKey)}
		}
		return result
	}
	return result
}

// extractOpReturnPayload concatenates the pushed data following
// OP_RETURN in a data-carrier output script.
func extractOpReturnPayload(script []byte) ([]byte, bool) {
	tok := txscript.MakeScriptTokenizer(0, script)
	if !tok.Next() || tok.Opcode() != txscript.OP_RETURN {
		return nil, false
	}
	var payload []byte
	for tok.Next() {
		if !isPushOpcode(tok.Opcode()) {
			return nil, false
		}
		payload = append(payload, tok.Data()...)
	}
	if tok.Err() != nil {
		return nil, false
	}
	return payload, true
}

// txHash converts the transaction's wire.TxHash (a chainhash.Hash, also
// a [32]byte array) into the module's own Hash256.
func txHash(tx *btcwire.MsgTx) types.Hash256 {
	h := tx.TxHash()
	return types.Hash256(h)
}
