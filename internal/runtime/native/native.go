// Package native implements the bootstrap/system contracts published at
// genesis, in Go rather than WASM: fib, sum, arith, token and
// shared-account. These exist because a real wazero component-model
// runtime cannot be grounded on hand-assembled WASM byte literals with
// no toolchain available to verify them; native contracts share the
// exact host capability surface (runtime.HostContext) a published WASM
// contract would, so the Reactor cannot tell the difference. Each
// registers itself with runtime.RegisterNative on import, matching
// original_source's runtime/native_contracts.rs bootstrap loader, which
// publishes "arith" and "fib" at height 0 the same way.
package native

import (
	"github.com/ouziel-slama/kontor/internal/runtime"
)

func init() {
	runtime.RegisterNative("fib", newFib)
	runtime.RegisterNative("sum", newSum)
	runtime.RegisterNative("arith", newArith)
	runtime.RegisterNative("token", newToken)
	runtime.RegisterNative("shared-account", newSharedAccount)
}
