package runtime

import (
	"context"

	"github.com/ouziel-slama/kontor/internal/state"
	"github.com/ouziel-slama/kontor/internal/wave"
	"github.com/ouziel-slama/kontor/pkg/types"
)

// Kind distinguishes the ways a contract can be entered: writing within
// a block, read-only viewing, a system-level self-invocation carrying a
// second signer (e.g. issuance), and a nested ("foreign") call from
// another contract.
type Kind int

const (
	KindProc Kind = iota // block processing: read/write, part of the block tx
	KindView             // view call: read-only, no gas-charged writes allowed
	KindCore             // system self-invocation carrying an outer and inner signer
	KindFall             // nested call reached via foreign(); shares the caller's BlockTx/View, so it is read-only under a view
)

func (k Kind) String() string {
	switch k {
	case KindProc:
		return "proc"
	case KindView:
		return "view"
	case KindCore:
		return "core"
	case KindFall:
		return "fall"
	default:
		return "unknown"
	}
}

// HostContext is threaded through every host import call and every
// CompiledContract.Call invocation. It carries exactly one of BlockTx
// (write-capable, KindProc/KindCore) or View (read-only, KindView), the
// currently executing contract's identity, and the shared per-op Stack
// and Meter.
//
// For KindCore, Signer and InnerSigner carry the two identities a
// system-level flow like issuance needs: Signer is the contract's own
// identity (the "outer" context a self-invoked system call runs under,
// the same ContractIDSigner a foreign call would present), and
// InnerSigner is the real party the call acts on behalf of (the one
// credited). Outside KindCore, InnerSigner is unset; code should read
// Signer.
type HostContext struct {
	Ctx    context.Context
	Kind   Kind
	Height uint64
	Signer types.Signer

	// InnerSigner is only meaningful when Kind == KindCore.
	InnerSigner types.Signer

	Self   types.ContractAddress
	SelfID int64
	TxID   int64

	BlockTx *state.BlockTx
	View    *state.View

	Stack *CallStack
	Gas   *Meter

	Dispatch ForeignDispatcher
}

// ForeignDispatcher resolves and invokes another contract by address,
// reusing the same Stack/Gas/BlockTx so the nested call is part of the
// same atomic unit.
type ForeignDispatcher interface {
	CallForeign(caller *HostContext, addr types.ContractAddress, fn string, args []wave.Value) (wave.Value, error)
	// Resolve finds a sibling contract published under name at height,
	// letting a native contract reach a contract it wasn't explicitly
	// wired to at deployment time (e.g. "fib" locating "sum").
	Resolve(caller *HostContext, height uint64, name string) (types.ContractAddress, error)
}

// ReadOnly reports whether writes are disallowed in this context; view
// calls, and foreign calls nested under one, never mutate state.
func (hc *HostContext) ReadOnly() bool { return hc.Kind == KindView || hc.BlockTx == nil }

// Get reads path for the currently executing contract, through whichever
// of BlockTx/View is active.
func (hc *HostContext) Get(path types.Path) ([]byte, bool, error) {
	if hc.BlockTx != nil {
		return hc.BlockTx.Get(hc.SelfID, path)
	}
	return hc.View.Get(hc.SelfID, path)
}

// Set writes path = value. Only valid outside view contexts.
func (hc *HostContext) Set(path types.Path, value []byte) error {
	if hc.ReadOnly() {
		return errReadOnlyWrite{path: path.String()}
	}
	return hc.BlockTx.Set(hc.SelfID, hc.TxID, path, value)
}

// Delete tombstones path. Only valid outside view contexts.
func (hc *HostContext) Delete(path types.Path) error {
	if hc.ReadOnly() {
		return errReadOnlyWrite{path: path.String()}
	}
	return hc.BlockTx.Delete(hc.SelfID, hc.TxID, path)
}

// GetValue reads path and parses it as a wave value, the convention
// native contracts use for structured storage (lists, ints, decimals)
// rather than raw bytes.
func (hc *HostContext) GetValue(path types.Path) (wave.Value, bool, error) {
	raw, ok, err := hc.Get(path)
	if err != nil || !ok {
		return wave.Value{}, ok, err
	}
	v, err := wave.ParseValue(string(raw))
	if err != nil {
		return wave.Value{}, false, err
	}
	return v, true, nil
}

// SetValue renders v in wave textual form and writes it to path.
func (hc *HostContext) SetValue(path types.Path, v wave.Value) error {
	return hc.Set(path, []byte(v.String()))
}

type errReadOnlyWrite struct{ path string }

func (e errReadOnlyWrite) Error() string {
	return "runtime: write to " + e.path + " attempted in a read-only (view) context"
}
