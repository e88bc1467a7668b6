package native

import (
	"github.com/ouziel-slama/kontor/internal/runtime"
	"github.com/ouziel-slama/kontor/internal/wave"
)

// arithContract offers plain arbitrary-precision arithmetic (add, sub,
// mul, div) over the "numbers" host capability, plus the "bounce"
// entrypoint shared with fib for the reentrancy-prevented scenario.
type arithContract struct{}

func newArith() runtime.CompiledContract { return &arithContract{} }

func (a *arithContract) Call(hc *runtime.HostContext, fn string, args []wave.Value) (wave.Value, error) {
	n := runtime.Numbers{}
	switch fn {
	case "init":
		return wave.Unit, nil
	case "add", "sub", "mul", "div":
		if len(args) != 2 {
			return wave.Value{}, errWrongArgCount(fn, 2, len(args))
		}
		switch fn {
		case "add":
			return n.Add(args[0], args[1])
		case "sub":
			return n.Sub(args[0], args[1])
		case "mul":
			return n.Mul(args[0], args[1])
		default:
			return n.Div(args[0], args[1])
		}
	case "decimal_add", "decimal_div":
		if len(args) != 2 {
			return wave.Value{}, errWrongArgCount(fn, 2, len(args))
		}
		if fn == "decimal_add" {
			return n.DecimalAdd(args[0], args[1])
		}
		return n.DecimalDiv(args[0], args[1])
	case "bounce":
		return bounce(hc, args)
	default:
		return wave.Value{}, errUnknownFunction("arith", fn)
	}
}
