package native

import (
	"fmt"
	"math/big"

	"github.com/ouziel-slama/kontor/internal/runtime"
	"github.com/ouziel-slama/kontor/internal/wave"
	"github.com/ouziel-slama/kontor/pkg/types"
)

// fibContract computes Fibonacci numbers, dispatching each computed
// index to the sibling "sum" contract via foreign call so the
// fibonacci-via-sum-dispatch scenario can observe both results from one
// call to fib(n).
type fibContract struct{}

func newFib() runtime.CompiledContract { return &fibContract{} }

func (f *fibContract) Call(hc *runtime.HostContext, fn string, args []wave.Value) (wave.Value, error) {
	switch fn {
	case "init":
		return wave.Unit, nil
	case "fib":
		if len(args) != 1 {
			return wave.Value{}, errWrongArgCount("fib", 1, len(args))
		}
		n, err := args[0].AsInt64()
		if err != nil {
			return wave.Value{}, err
		}
		if n < 0 {
			return wave.Value{}, fmt.Errorf("fib: n must be non-negative, got %d", n)
		}
		return f.fib(hc, n)
	case "bounce":
		return bounce(hc, args)
	default:
		return wave.Value{}, errUnknownFunction("fib", fn)
	}
}

// bounce calls back into the caller named by args[0], used only by the
// reentrancy-prevented scenario: two contracts calling each other
// through foreign::call must trip CycleDetected on whichever one is
// already on the call stack.
func bounce(hc *runtime.HostContext, args []wave.Value) (wave.Value, error) {
	if len(args) != 1 {
		return wave.Value{}, errWrongArgCount("bounce", 1, len(args))
	}
	targetStr, err := args[0].AsString()
	if err != nil {
		return wave.Value{}, err
	}
	target, err := types.ParseAddress(targetStr)
	if err != nil {
		return wave.Value{}, err
	}
	return hc.Dispatch.CallForeign(hc, target, "bounce", []wave.Value{wave.String(hc.Self.String())})
}

func (f *fibContract) fib(hc *runtime.HostContext, n int64) (wave.Value, error) {
	sumAddr, err := hc.Dispatch.Resolve(hc, hc.Self.Height, "sum")
	if err != nil {
		return wave.Value{}, fmt.Errorf("fib: locating sum contract: %w", err)
	}

	a, b := big.NewInt(0), big.NewInt(1)
	for i := int64(0); i <= n; i++ {
		if _, err := hc.Dispatch.CallForeign(hc, sumAddr, "record", []wave.Value{wave.Int(i)}); err != nil {
			return wave.Value{}, fmt.Errorf("fib: recording index %d: %w", i, err)
		}
		if i == 0 {
			continue
		}
		a, b = b, new(big.Int).Add(a, b)
	}
	if n == 0 {
		return wave.BigInt(big.NewInt(0)), nil
	}
	return wave.BigInt(a), nil
}
