package runtime

import (
	"github.com/ouziel-slama/kontor/internal/wave"
)

// CompiledContract is a decoded, callable component — either a real WASM
// module running on wazero or a native Go implementation of a
// bootstrap/system contract. Both share the same host capability surface
// through HostContext, so a native contract and a published WASM
// contract are indistinguishable to the Reactor.
type CompiledContract interface {
	// Call invokes fn with args and returns its wave-format result.
	// init() is called exactly once per contract, by the Publish flow,
	// when the contract has no prior state.
	Call(hc *HostContext, fn string, args []wave.Value) (wave.Value, error)
}

// NativeFactory constructs a fresh native contract instance. Native
// contracts are stateless Go values; all durable state lives in
// HostContext's storage, exactly like a WASM contract's linear memory
// does not survive between calls.
type NativeFactory func() CompiledContract

// nativeFactories is populated by the native subpackage's init()
// functions via RegisterNative, keyed by the name embedded in a
// published contract's marker bytes (see Engine.Decode).
var nativeFactories = make(map[string]NativeFactory)

// RegisterNative makes a native contract constructor available to the
// decoder under name. Called from internal/runtime/native's init().
func RegisterNative(name string, factory NativeFactory) {
	nativeFactories[name] = factory
}

// LookupNative returns the registered native factory for name, if any.
func LookupNative(name string) (NativeFactory, bool) {
	f, ok := nativeFactories[name]
	return f, ok
}
