// Package wire decodes the custom instructions embedded in taproot
// script-path witnesses: extracting the revealed tapscript, matching
// the fixed opcode pattern that frames an instruction, and
// decoding the concatenated chunk bytes into a Publish/Call/Issuance op.
// Grounded on original_source/core/indexer/src/block.rs's filter_map,
// generalized from the Rust Instruction walk to btcsuite/btcd's
// ScriptTokenizer.
package wire

import (
	"github.com/fxamacker/cbor/v2"
)

// instWire is the on-chain encoding of one instruction: a tagged union
// flattened into a single CBOR map so every variant round-trips through
// one struct rather than a discriminated Go interface, mirroring the
// source's single postcard-encoded enum without depending on a
// postcard-compatible Go library (none exists in the ecosystem this
// module draws from; cbor is the nearest self-describing binary codec
// already in this module's dependency tree).
type instWire struct {
	Tag      string `cbor:"tag"`
	GasLimit uint64 `cbor:"gas_limit,omitempty"`
	Name     string `cbor:"name,omitempty"`
	Bytes    []byte `cbor:"bytes,omitempty"`
	Contract string `cbor:"contract,omitempty"`
	Expr     string `cbor:"expr,omitempty"`
}

const (
	tagPublish  = "publish"
	tagCall     = "call"
	tagIssuance = "issuance"
)

// EncodePublish, EncodeCall and EncodeIssuance build instruction bytes
// the decoder accepts, used by tests and by anything standing in for
// the out-of-scope taproot transaction composer.
func EncodePublish(gasLimit uint64, name string, bytes []byte) ([]byte, error) {
	return cbor.Marshal(instWire{Tag: tagPublish, GasLimit: gasLimit, Name: name, Bytes: bytes})
}

func EncodeCall(gasLimit uint64, contract string, expr string) ([]byte, error) {
	return cbor.Marshal(instWire{Tag: tagCall, GasLimit: gasLimit, Contract: contract, Expr: expr})
}

func EncodeIssuance() ([]byte, error) {
	return cbor.Marshal(instWire{Tag: tagIssuance})
}

// decodeInst parses the chunk-concatenated instruction bytes. Any
// malformed or unrecognized encoding reports ok=false rather than an
// error: bytes failing to decode simply mean the input yields no op,
// not a fatal condition.
func decodeInst(data []byte) (instWire, bool) {
	var iw instWire
	if err := cbor.Unmarshal(data, &iw); err != nil {
		return instWire{}, false
	}
	switch iw.Tag {
	case tagPublish, tagCall, tagIssuance:
		return iw, true
	default:
		return instWire{}, false
	}
}
