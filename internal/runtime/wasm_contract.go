package runtime

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/ouziel-slama/kontor/internal/wave"
	"github.com/ouziel-slama/kontor/pkg/types"
)

// TrapError marks a genuine WASM execution trap (unreachable, out of
// bounds, stack overflow) as opposed to a contract's own explicit
// Error::Message return. Spec §7: trap messages are not part of
// consensus state and are not stored — only the fact of failure is
// durable ("Procedure failed. Error messages are ephemeral.").
type TrapError struct {
	Contract string
	Func     string
	Cause    error
}

func (e *TrapError) Error() string {
	return fmt.Sprintf("runtime: %s.%s trapped: %v", e.Contract, e.Func, e.Cause)
}

func (e *TrapError) Unwrap() error { return e.Cause }

// wasmComponent adapts a compiled core-WASM module to CompiledContract.
// The guest is expected to export "alloc" (size) -> ptr, "dealloc"
// (ptr, size), "memory", and one export per callable function taking
// (argsPtr, argsLen) and returning a packed (ptr<<32 | len) pointing at
// a wave-formatted result string written into its own memory.
type wasmComponent struct {
	engine *Engine
	module wazero.CompiledModule
}

func (w *wasmComponent) Call(hc *HostContext, fn string, args []wave.Value) (wave.Value, error) {
	ctx := hc.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	host := &hostBridge{hc: hc}
	cfg := wazero.NewModuleConfig().WithName(fmt.Sprintf("contract-%d", hc.SelfID))

	builder := w.engine.runtime.NewHostModuleBuilder("kontor")
	host.register(builder)
	hostModule, err := builder.Instantiate(ctx)
	if err != nil {
		return wave.Value{}, fmt.Errorf("runtime: instantiating host module: %w", err)
	}
	defer hostModule.Close(ctx)

	instance, err := w.engine.runtime.InstantiateModule(ctx, w.module, cfg)
	if err != nil {
		return wave.Value{}, fmt.Errorf("runtime: instantiating contract module: %w", err)
	}
	defer instance.Close(ctx)

	callExpr := renderCall(fn, args)
	mem := instance.Memory()
	if mem == nil {
		return wave.Value{}, fmt.Errorf("runtime: contract module exports no memory")
	}

	alloc := instance.ExportedFunction("alloc")
	dealloc := instance.ExportedFunction("dealloc")
	export := instance.ExportedFunction(fn)
	if alloc == nil || export == nil {
		return wave.Value{}, fmt.Errorf("runtime: contract does not export %q", fn)
	}

	argBytes := []byte(callExpr)
	res, err := alloc.Call(ctx, uint64(len(argBytes)))
	if err != nil {
		return wave.Value{}, fmt.Errorf("runtime: alloc failed: %w", err)
	}
	argsPtr := uint32(res[0])
	if !mem.Write(argsPtr, argBytes) {
		return wave.Value{}, fmt.Errorf("runtime: writing call args out of bounds")
	}

	if err := hc.Gas.Charge(GasPerWasmCall); err != nil {
		return wave.Value{}, err
	}

	out, err := export.Call(ctx, uint64(argsPtr), uint64(len(argBytes)))
	if dealloc != nil {
		_, _ = dealloc.Call(ctx, uint64(argsPtr), uint64(len(argBytes)))
	}
	if err != nil {
		return wave.Value{}, &TrapError{Contract: hc.Self.String(), Func: fn, Cause: err}
	}
	if len(out) == 0 {
		return wave.Unit, nil
	}

	packed := out[0]
	ptr, ln := uint32(packed>>32), uint32(packed)
	resultBytes, ok := mem.Read(ptr, ln)
	if !ok {
		return wave.Value{}, fmt.Errorf("runtime: reading result out of bounds")
	}
	if dealloc != nil {
		_, _ = dealloc.Call(ctx, uint64(ptr), uint64(ln))
	}
	return wave.ParseValue(string(resultBytes))
}

// renderCall re-serializes fn+args as a wave call expression for the
// guest to parse with the same grammar internal/wave implements.
func renderCall(fn string, args []wave.Value) string {
	out := fn + "("
	for i, a := range args {
		if i > 0 {
			out += ", "
		}
		out += a.String()
	}
	return out + ")"
}

// hostBridge registers the "kontor" host module: storage (get, set,
// delete), crypto (sha256, generate_id) and log, each reading/writing
// guest memory through byte-range (ptr, len) pairs, the conventional
// wazero host ABI. No numbers or foreign-call import is exported, so a
// WASM guest cannot reach those capabilities.
type hostBridge struct {
	hc *HostContext
}

func (h *hostBridge) register(b wazero.HostModuleBuilder) {
	b.NewFunctionBuilder().WithFunc(h.storageGet).Export("storage_get")
	b.NewFunctionBuilder().WithFunc(h.storageSet).Export("storage_set")
	b.NewFunctionBuilder().WithFunc(h.storageDelete).Export("storage_delete")
	b.NewFunctionBuilder().WithFunc(h.sha256).Export("crypto_sha256")
	b.NewFunctionBuilder().WithFunc(h.generateID).Export("crypto_generate_id")
	b.NewFunctionBuilder().WithFunc(h.logMessage).Export("log")
}

func memString(mod api.Module, ptr, ln uint32) string {
	b, ok := mod.Memory().Read(ptr, ln)
	if !ok {
		return ""
	}
	return string(b)
}

func (h *hostBridge) storageGet(ctx context.Context, mod api.Module, pathPtr, pathLen uint32) uint64 {
	if err := h.hc.Gas.Charge(GasPerStorageOp); err != nil {
		return 0
	}
	path := types.ParsePath(memString(mod, pathPtr, pathLen))
	value, ok, err := h.hc.Get(path)
	if err != nil || !ok {
		return 0
	}
	return writeToGuest(mod, value)
}

func (h *hostBridge) storageSet(ctx context.Context, mod api.Module, pathPtr, pathLen, valPtr, valLen uint32) uint32 {
	if err := h.hc.Gas.Charge(GasPerStorageOp); err != nil {
		return 1
	}
	path := types.ParsePath(memString(mod, pathPtr, pathLen))
	value, ok := mod.Memory().Read(valPtr, valLen)
	if !ok {
		return 1
	}
	if err := h.hc.Set(path, value); err != nil {
		return 1
	}
	return 0
}

func (h *hostBridge) storageDelete(ctx context.Context, mod api.Module, pathPtr, pathLen uint32) uint32 {
	if err := h.hc.Gas.Charge(GasPerStorageOp); err != nil {
		return 1
	}
	path := types.ParsePath(memString(mod, pathPtr, pathLen))
	if err := h.hc.Delete(path); err != nil {
		return 1
	}
	return 0
}

func (h *hostBridge) sha256(ctx context.Context, mod api.Module, dataPtr, dataLen uint32) uint64 {
	_ = h.hc.Gas.Charge(GasPerHostCall)
	data, ok := mod.Memory().Read(dataPtr, dataLen)
	if !ok {
		return 0
	}
	digest := Crypto{}.SHA256(data)
	return writeToGuest(mod, []byte(digest))
}

func (h *hostBridge) generateID(ctx context.Context, mod api.Module) uint64 {
	_ = h.hc.Gas.Charge(GasPerHostCall)
	return Crypto{}.GenerateID()
}

func (h *hostBridge) logMessage(ctx context.Context, mod api.Module, ptr, ln uint32) {
	_ = memString(mod, ptr, ln) // contract logging is not persisted, only charged
	_ = h.hc.Gas.Charge(GasPerHostCall)
}

// writeToGuest copies data into the guest's memory and returns a packed
// (ptr<<32|len). It does not call the guest's alloc export: it writes
// into a scratch region ending 64 bytes below the top of linear memory,
// and returns 0 if data does not fit there.
func writeToGuest(mod api.Module, data []byte) uint64 {
	mem := mod.Memory()
	scratch := mem.Size() - uint32(len(data)) - 64
	if !mem.Write(scratch, data) {
		return 0
	}
	return uint64(scratch)<<32 | uint64(len(data))
}
