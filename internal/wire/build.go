package wire

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
)

// chunkSize is the standard script push-data limit; BuildTapscript
// splits an instruction's encoded bytes across as many chunks as
// needed, matching the `<chunk_1> <chunk_2> … <chunk_n>` wire pattern.
const chunkSize = 520

// BuildTapscript assembles the tap-leaf script for a given signer key
// and already-encoded instruction bytes, for use by tests and by
// anything standing in for the out-of-scope transaction composer.
func BuildTapscript(signerKey [32]byte, instBytes []byte) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	b.AddData(signerKey[:])
	b.AddOp(txscript.OP_CHECKSIG)
	b.AddOp(txscript.OP_FALSE)
	b.AddOp(txscript.OP_IF)
	b.AddData([]byte(konMarker))
	b.AddOp(txscript.OP_0)
	for _, chunk := range chunks(instBytes, chunkSize) {
		b.AddData(chunk)
	}
	b.AddOp(txscript.OP_ENDIF)
	return b.Script()
}

// BuildControlBlock assembles a minimal, structurally-valid taproot
// control block for internalKey, good enough for ParseControlBlock to
// accept it as the witness's final element.
func BuildControlBlock(internalKey *btcec.PublicKey) ([]byte, error) {
	cb := txscript.ControlBlock{
		InternalKey:     internalKey,
		OutputKeyYIsOdd: false,
		LeafVersion:     txscript.BaseLeafVersion,
	}
	return cb.ToBytes()
}

func chunks(data []byte, size int) [][]byte {
	if len(data) == 0 {
		return [][]byte{{}}
	}
	var out [][]byte
	for len(data) > 0 {
		n := size
		if n > len(data) {
			n = len(data)
		}
		out = append(out, data[:n])
		data = data[n:]
	}
	return out
}
