package runtime

import (
	"fmt"
	"math/big"

	"github.com/cockroachdb/apd/v3"
	"github.com/holiman/uint256"

	"github.com/ouziel-slama/kontor/internal/wave"
)

// Numbers is the host "numbers" capability: arbitrary-precision integer
// and decimal arithmetic exposed to contracts. General arithmetic uses
// math/big.Int, which never overflows; fixed-point arithmetic uses
// cockroachdb/apd for exact decimal semantics. Amount-typed arithmetic
// that must trap on overflow (the token contract's balances) uses
// holiman/uint256 directly rather than going through this capability,
// see internal/runtime/native/token.go.
type Numbers struct{}

// Add returns a+b as an arbitrary-precision integer sum.
func (Numbers) Add(a, b wave.Value) (wave.Value, error) {
	x, y, err := bothInts(a, b)
	if err != nil {
		return wave.Value{}, err
	}
	return wave.BigInt(new(big.Int).Add(x, y)), nil
}

// Sub returns a-b.
func (Numbers) Sub(a, b wave.Value) (wave.Value, error) {
	x, y, err := bothInts(a, b)
	if err != nil {
		return wave.Value{}, err
	}
	return wave.BigInt(new(big.Int).Sub(x, y)), nil
}

// Mul returns a*b.
func (Numbers) Mul(a, b wave.Value) (wave.Value, error) {
	x, y, err := bothInts(a, b)
	if err != nil {
		return wave.Value{}, err
	}
	return wave.BigInt(new(big.Int).Mul(x, y)), nil
}

// Div returns a/b (integer division), erroring on division by zero.
func (Numbers) Div(a, b wave.Value) (wave.Value, error) {
	x, y, err := bothInts(a, b)
	if err != nil {
		return wave.Value{}, err
	}
	if y.Sign() == 0 {
		return wave.Value{}, fmt.Errorf("runtime: division by zero")
	}
	return wave.BigInt(new(big.Int).Quo(x, y)), nil
}

// DecimalAdd performs exact fixed-point addition via apd, for contracts
// that need decimal (non-integer) amounts.
func (Numbers) DecimalAdd(a, b wave.Value) (wave.Value, error) {
	if a.Kind != wave.KindDecimal || b.Kind != wave.KindDecimal {
		return wave.Value{}, fmt.Errorf("runtime: decimal_add requires decimal operands")
	}
	var sum apd.Decimal
	ctx := apd.BaseContext.WithPrecision(50)
	if _, err := ctx.Add(&sum, a.Decimal, b.Decimal); err != nil {
		return wave.Value{}, fmt.Errorf("runtime: decimal add: %w", err)
	}
	return wave.Decimal(&sum), nil
}

// DecimalDiv performs exact fixed-point division via apd, erroring on
// division by zero rather than producing an infinite/NaN decimal (spec
// §9 scenario: "division by zero in decimals -> Err").
func (Numbers) DecimalDiv(a, b wave.Value) (wave.Value, error) {
	if a.Kind != wave.KindDecimal || b.Kind != wave.KindDecimal {
		return wave.Value{}, fmt.Errorf("runtime: decimal_div requires decimal operands")
	}
	if b.Decimal.IsZero() {
		return wave.Value{}, fmt.Errorf("runtime: division by zero")
	}
	var quot apd.Decimal
	ctx := apd.BaseContext.WithPrecision(50)
	if _, err := ctx.Quo(&quot, a.Decimal, b.Decimal); err != nil {
		return wave.Value{}, fmt.Errorf("runtime: decimal divide: %w", err)
	}
	return wave.Decimal(&quot), nil
}

func bothInts(a, b wave.Value) (*big.Int, *big.Int, error) {
	x, err := a.AsBigInt()
	if err != nil {
		return nil, nil, err
	}
	y, err := b.AsBigInt()
	if err != nil {
		return nil, nil, err
	}
	return x, y, nil
}

// Amount is a 256-bit overflow-trapping unsigned balance, used by the
// token native contract.
type Amount struct {
	v *uint256.Int
}

// AmountFromBigInt converts an arbitrary-precision value into a 256-bit
// amount, erroring if it does not fit.
func AmountFromBigInt(x *big.Int) (Amount, error) {
	if x.Sign() < 0 {
		return Amount{}, fmt.Errorf("runtime: amount cannot be negative")
	}
	v, overflow := uint256.FromBig(x)
	if overflow {
		return Amount{}, fmt.Errorf("runtime: amount exceeds 256 bits")
	}
	return Amount{v: v}, nil
}

// AmountFromUint64 builds an Amount from a plain uint64.
func AmountFromUint64(n uint64) Amount { return Amount{v: uint256.NewInt(n)} }

// Add returns a+b, erroring on 256-bit overflow rather than wrapping.
func (a Amount) Add(b Amount) (Amount, error) {
	var out uint256.Int
	if _, overflow := out.AddOverflow(a.v, b.v); overflow {
		return Amount{}, fmt.Errorf("runtime: amount overflow")
	}
	return Amount{v: &out}, nil
}

// Sub returns a-b, erroring if it would underflow below zero.
func (a Amount) Sub(b Amount) (Amount, error) {
	if a.v.Lt(b.v) {
		return Amount{}, fmt.Errorf("runtime: insufficient funds")
	}
	var out uint256.Int
	out.Sub(a.v, b.v)
	return Amount{v: &out}, nil
}

// Cmp compares two amounts.
func (a Amount) Cmp(b Amount) int { return a.v.Cmp(b.v) }

// String renders the amount in base 10.
func (a Amount) String() string { return a.v.Dec() }

// ToWave renders the amount as a wave integer value.
func (a Amount) ToWave() wave.Value { return wave.BigInt(a.v.ToBig()) }

// ParseAmount parses a base-10 string into an Amount.
func ParseAmount(s string) (Amount, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return Amount{}, fmt.Errorf("runtime: parsing amount %q: %w", s, err)
	}
	return Amount{v: v}, nil
}
