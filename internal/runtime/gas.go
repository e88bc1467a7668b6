package runtime

import "fmt"

// Gas costs, charged per host-import call plus a flat per-WASM-invocation
// charge that wasmComponent.Call deducts before running the export. Units are host-call-and-
// instruction gas points, not a direct mapping to wall-clock cost.
const (
	GasPerHostCall  uint64 = 10
	GasPerForeign   uint64 = 200 // a nested contract call is expensive
	GasPerWasmCall  uint64 = 50
	GasPerStorageOp uint64 = 20
)

// ErrOutOfGas is returned by Meter.Charge once the remaining budget would
// go negative, matching the Rust source's counter.rs flat-decrement
// behavior (errors rather than saturating at zero).
type ErrOutOfGas struct {
	Remaining uint64
	Requested uint64
}

func (e *ErrOutOfGas) Error() string {
	return fmt.Sprintf("runtime: out of gas (remaining %d, requested %d)", e.Remaining, e.Requested)
}

// Meter is a monotonic gas counter shared by every host call and nested
// invocation within one top-level op's execution.
type Meter struct {
	remaining uint64
	used      uint64
}

// NewMeter returns a Meter with limit gas points available.
func NewMeter(limit uint64) *Meter {
	return &Meter{remaining: limit}
}

// Charge deducts amount, returning *ErrOutOfGas if insufficient.
func (m *Meter) Charge(amount uint64) error {
	if amount > m.remaining {
		return &ErrOutOfGas{Remaining: m.remaining, Requested: amount}
	}
	m.remaining -= amount
	m.used += amount
	return nil
}

// Remaining reports the unspent gas budget.
func (m *Meter) Remaining() uint64 { return m.remaining }

// Used reports the total gas spent so far.
func (m *Meter) Used() uint64 { return m.used }
