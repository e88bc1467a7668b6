package wire_test

import (
	"testing"

	"github.com/btcsuite/btcd/txscript"
)

// buildBadTapscript mirrors wire.BuildTapscript but with a marker that
// does not match "kon", so the envelope fails to match on purpose.
func buildBadTapscript(signerKey [32]byte, instBytes []byte) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	b.AddData(signerKey[:])
	b.AddOp(txscript.OP_CHECKSIG)
	b.AddOp(txscript.OP_FALSE)
	b.AddOp(txscript.OP_IF)
	b.AddData([]byte("nope"))
	b.AddOp(txscript.OP_0)
	b.AddData(instBytes)
	b.AddOp(txscript.OP_ENDIF)
	return b.Script()
}

// opReturnScript wraps payload in an OP_RETURN output script.
func opReturnScript(t *testing.T, payload []byte) []byte {
	t.Helper()
	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_RETURN)
	b.AddData(payload)
	script, err := b.Script()
	if err != nil {
		t.Fatal(err)
	}
	return script
}
