package wire

import (
	"github.com/btcsuite/btcd/txscript"
	btcwire "github.com/btcsuite/btcd/wire"
)

// taprootAnnexTag marks the optional BIP341 annex, the witness stack's
// last element when present; it sits above the script/control-block pair
// and must be peeled off before they can be read.
const taprootAnnexTag = 0x50

// tapscript returns the revealed leaf script for a taproot script-path
// spend, or ok=false if the witness doesn't carry one (key-path spend,
// legacy input, malformed control block).
func tapscript(witness btcwire.TxWitness) ([]byte, bool) {
	w := witness
	if len(w) >= 1 {
		if last := w[len(w)-1]; len(last) > 0 && last[0] == taprootAnnexTag {
			w = w[:len(w)-1]
		}
	}
	if len(w) < 2 {
		return nil, false
	}
	controlBlock := w[len(w)-1]
	script := w[len(w)-2]
	if _, err := txscript.ParseControlBlock(controlBlock); err != nil {
		return nil, false
	}
	return script, true
}

// isPushOpcode reports whether op is one of the data-push opcodes
// (OP_0 through OP_PUSHDATA4), the only instructions the instruction
// pattern ever uses besides OP_CHECKSIG/OP_IF/OP_ENDIF.
func isPushOpcode(op byte) bool {
	return op <= txscript.OP_PUSHDATA4
}
