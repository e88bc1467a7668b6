package native

import (
	"github.com/ouziel-slama/kontor/internal/runtime"
	"github.com/ouziel-slama/kontor/internal/wave"
	"github.com/ouziel-slama/kontor/pkg/types"
)

// sumContract records which indices a dispatching contract (fib) has
// asked it to account for, under the "cached_values" path, used by the
// fibonacci-via-sum-dispatch scenario.
type sumContract struct{}

func newSum() runtime.CompiledContract { return &sumContract{} }

var cachedValuesPath = types.ParsePath("cached_values")

func (s *sumContract) Call(hc *runtime.HostContext, fn string, args []wave.Value) (wave.Value, error) {
	switch fn {
	case "init":
		return wave.Unit, nil
	case "record":
		if len(args) != 1 {
			return wave.Value{}, errWrongArgCount("record", 1, len(args))
		}
		n, err := args[0].AsInt64()
		if err != nil {
			return wave.Value{}, err
		}
		return wave.Unit, s.record(hc, n)
	case "cached_values":
		v, ok, err := hc.GetValue(cachedValuesPath)
		if err != nil {
			return wave.Value{}, err
		}
		if !ok {
			return wave.List(), nil
		}
		return v, nil
	default:
		return wave.Value{}, errUnknownFunction("sum", fn)
	}
}

func (s *sumContract) record(hc *runtime.HostContext, n int64) error {
	existing, ok, err := hc.GetValue(cachedValuesPath)
	if err != nil {
		return err
	}
	var values []wave.Value
	if ok {
		values, err = existing.AsList()
		if err != nil {
			return err
		}
	}
	for _, v := range values {
		if i, err := v.AsInt64(); err == nil && i == n {
			return nil // already recorded
		}
	}
	values = append(values, wave.Int(n))
	return hc.SetValue(cachedValuesPath, wave.List(values...))
}
