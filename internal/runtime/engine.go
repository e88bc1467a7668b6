// Package runtime implements the contract runtime: the wazero-backed
// WASM execution engine, the native contract fallback used for
// bootstrap/system and test contracts, gas accounting, reentrancy
// protection, and the host capability surface (storage, numbers,
// crypto, foreign) every contract call sees.
//
// wazero implements the WASM core spec only, not wasmtime's full
// component-model/WIT tooling the original system targeted; component
// dispatch (export resolution, wave-format argument/result coercion) is
// reimplemented here atop core WASM modules using a small alloc/call/
// dealloc guest ABI, the same shape cosmwasm-style Go hosts use.
package runtime

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/golang/snappy"
	"github.com/tetratelabs/wazero"

	"github.com/ouziel-slama/kontor/internal/log"
)

// nativeMarker prefixes the published bytes of a bootstrap/system
// contract: "KNATIVE:<name>\n". Real WASM bytes always start with the
// 4-byte magic 0x00 'a' 's' 'm' and can never collide with this marker.
const nativeMarker = "KNATIVE:"

// Engine owns the shared wazero runtime and compiles/decodes published
// contract bytes into CompiledContract values for the registry's LRU.
type Engine struct {
	runtime  wazero.Runtime
	logger   *log.Logger
	compiled map[string]wazero.CompiledModule // keyed by sha256 of the raw (decompressed) module bytes
}

// NewEngine builds an Engine with a fresh wazero runtime. The "kontor"
// host module (storage, crypto and log imports; no numbers or foreign
// imports) is instantiated, and closed again, once per call by Decode's
// returned wasmComponent.
func NewEngine(ctx context.Context, logger *log.Logger) *Engine {
	return &Engine{
		runtime:  wazero.NewRuntime(ctx),
		logger:   logger,
		compiled: make(map[string]wazero.CompiledModule),
	}
}

// Close releases the wazero runtime's resources.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// Decode turns published, snappy-compressed bytes into a CompiledContract.
// It is the registry.Decoder passed to registry.New: invalid bytes fail
// the enclosing op, since any error here propagates as an op failure
// rather than a panic.
func (e *Engine) Decode(raw []byte) (any, error) {
	if bytes.HasPrefix(raw, []byte(nativeMarker)) {
		name := strings.TrimSpace(strings.TrimPrefix(string(raw), nativeMarker))
		if nl := strings.IndexByte(name, '\n'); nl >= 0 {
			name = name[:nl]
		}
		factory, ok := LookupNative(name)
		if !ok {
			return nil, fmt.Errorf("runtime: no native contract registered as %q", name)
		}
		return factory(), nil
	}

	decompressed, err := snappy.Decode(nil, raw)
	if err != nil {
		// Tolerate already-uncompressed bytes (e.g. tests that hand
		// the engine a module directly): only fail if it also isn't
		// valid WASM.
		decompressed = raw
	}
	if !bytes.HasPrefix(decompressed, []byte{0x00, 'a', 's', 'm'}) {
		return nil, fmt.Errorf("runtime: published bytes are neither a native marker nor a valid WASM module")
	}

	ctx := context.Background()
	module, err := e.runtime.CompileModule(ctx, decompressed)
	if err != nil {
		return nil, fmt.Errorf("runtime: compiling component: %w", err)
	}
	return &wasmComponent{engine: e, module: module}, nil
}
