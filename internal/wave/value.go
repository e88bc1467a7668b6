// Package wave implements the compact textual serialization ("wave
// format") used for call expressions and result strings: parsing
// "fib(8)" into a function name and argument values, and rendering a
// returned value back into the same textual form.
//
// This is a deliberately small subset of the component-model wave
// format: integers, fixed-point decimals, strings, booleans and lists,
// which is everything the bundled contracts (sum, fib, token,
// shared-account, arith) need.
package wave

import (
	"fmt"
	"math/big"

	"github.com/cockroachdb/apd/v3"
)

// Kind discriminates Value's payload.
type Kind int

const (
	KindInt Kind = iota
	KindDecimal
	KindString
	KindBool
	KindList
)

// Value is a single wave-formatted value.
type Value struct {
	Kind Kind

	Int     *big.Int
	Decimal *apd.Decimal
	Str     string
	Bool    bool
	List    []Value
}

func Int(i int64) Value          { return Value{Kind: KindInt, Int: big.NewInt(i)} }
func BigInt(i *big.Int) Value    { return Value{Kind: KindInt, Int: i} }
func String(s string) Value      { return Value{Kind: KindString, Str: s} }
func Bool(b bool) Value          { return Value{Kind: KindBool, Bool: b} }
func List(vs ...Value) Value     { return Value{Kind: KindList, List: vs} }
func Decimal(d *apd.Decimal) Value { return Value{Kind: KindDecimal, Decimal: d} }

// Unit is the wave rendering of a function with no return value.
var Unit = Value{Kind: KindString, Str: "()"}

// String renders v in wave textual form.
func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		if v.Int == nil {
			return "0"
		}
		return v.Int.String()
	case KindDecimal:
		if v.Decimal == nil {
			return "0"
		}
		return v.Decimal.String()
	case KindString:
		return fmt.Sprintf("%q", v.Str)
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindList:
		out := "["
		for i, e := range v.List {
			if i > 0 {
				out += ", "
			}
			out += e.String()
		}
		return out + "]"
	default:
		return ""
	}
}

// AsInt64 returns the value as an int64, failing for non-integral or
// out-of-range values.
func (v Value) AsInt64() (int64, error) {
	if v.Kind != KindInt || v.Int == nil {
		return 0, fmt.Errorf("wave: value is not an integer")
	}
	if !v.Int.IsInt64() {
		return 0, fmt.Errorf("wave: integer %s does not fit in int64", v.Int)
	}
	return v.Int.Int64(), nil
}

// AsBigInt returns the value's integer payload.
func (v Value) AsBigInt() (*big.Int, error) {
	if v.Kind != KindInt || v.Int == nil {
		return nil, fmt.Errorf("wave: value is not an integer")
	}
	return v.Int, nil
}

// AsBool returns the value's boolean payload.
func (v Value) AsBool() (bool, error) {
	if v.Kind != KindBool {
		return false, fmt.Errorf("wave: value is not a bool")
	}
	return v.Bool, nil
}

// AsList returns the value's list payload.
func (v Value) AsList() ([]Value, error) {
	if v.Kind != KindList {
		return nil, fmt.Errorf("wave: value is not a list")
	}
	return v.List, nil
}

// AsString returns the value's string payload.
func (v Value) AsString() (string, error) {
	if v.Kind != KindString {
		return "", fmt.Errorf("wave: value is not a string")
	}
	return v.Str, nil
}
