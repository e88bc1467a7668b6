package runtime

import (
	"context"
	"fmt"

	"github.com/ouziel-slama/kontor/internal/registry"
	"github.com/ouziel-slama/kontor/internal/state"
	"github.com/ouziel-slama/kontor/internal/wave"
	"github.com/ouziel-slama/kontor/pkg/types"
)

// Dispatcher is the contract runtime's entry point: resolving an
// address to a compiled contract and invoking a wave-format call
// expression against it, with gas accounting and reentrancy protection
// shared across any nested foreign() calls the invocation makes.
type Dispatcher struct {
	Registry        *registry.Registry
	DefaultGasLimit uint64
}

// NewDispatcher builds a Dispatcher over reg, defaulting an op's gas
// budget to defaultGasLimit when its declared limit is zero.
func NewDispatcher(reg *registry.Registry, defaultGasLimit uint64) *Dispatcher {
	return &Dispatcher{Registry: reg, DefaultGasLimit: defaultGasLimit}
}

// Execute runs a Call op: parse the wave expression, resolve the target
// contract, and invoke it under a fresh call stack and gas meter.
func (d *Dispatcher) Execute(ctx context.Context, kind Kind, height uint64, signer types.Signer, addr types.ContractAddress, expr string, gasLimit uint64, btx *state.BlockTx, view *state.View, txID int64) (wave.Value, uint64, error) {
	call, err := wave.ParseCall(expr)
	if err != nil {
		return wave.Value{}, 0, fmt.Errorf("runtime: parsing call expression: %w", err)
	}

	contract, err := d.Registry.LookupByAddress(ctx, addr)
	if err != nil {
		return wave.Value{}, 0, err
	}
	compiledAny, err := d.Registry.Compiled(ctx, contract.ID)
	if err != nil {
		return wave.Value{}, 0, err
	}
	compiled, ok := compiledAny.(CompiledContract)
	if !ok {
		return wave.Value{}, 0, fmt.Errorf("runtime: contract %d decoded to unexpected type %T", contract.ID, compiledAny)
	}

	if gasLimit == 0 {
		gasLimit = d.DefaultGasLimit
	}
	meter := NewMeter(gasLimit)
	stack := NewCallStack()
	if err := stack.Push(contract.ID); err != nil {
		return wave.Value{}, 0, err
	}
	defer stack.Pop()

	hc := &HostContext{
		Ctx:     ctx,
		Kind:    kind,
		Height:  height,
		Signer:  signer,
		Self:    addr,
		SelfID:  contract.ID,
		TxID:    txID,
		BlockTx: btx,
		View:    view,
		Stack:   stack,
		Gas:     meter,
	}
	if kind == KindCore {
		hc.InnerSigner = signer
		hc.Signer = types.ContractIDSigner{ID: contract.ID}
	}
	hc.Dispatch = &foreignDispatcher{d: d, hc: hc}

	var result wave.Value
	runErr := func() error {
		var callErr error
		result, callErr = compiled.Call(hc, call.Name, call.Args)
		return callErr
	}
	var err error
	if btx != nil {
		err = btx.RunOp(runErr)
	} else {
		err = runErr()
	}
	return result, meter.Used(), err
}

// Publish runs the Publish op: register the contract and, unless it
// already has durable state (a republish at a different address can
// never observe another address's state, so this only ever happens on
// first use), call its init(). The insert, decode and init() call run
// inside a single op savepoint (via btx.RunOp), exactly like Execute: a
// decode failure or a trap in init() leaves no contracts row and no
// partial state behind, and the address only becomes resolvable once
// the whole sequence succeeds.
func (d *Dispatcher) Publish(ctx context.Context, height uint64, signer types.Signer, name string, txIndex int64, bytes []byte, btx *state.BlockTx, view *state.View, txID int64, gasLimit uint64) (int64, types.ContractAddress, uint64, error) {
	var contractID int64
	var addr types.ContractAddress
	var gasUsed uint64

	runPublish := func() error {
		var err error
		contractID, addr, err = d.Registry.Publish(btx, height, name, txIndex, bytes)
		if err != nil {
			return err
		}

		compiledAny, err := d.Registry.CacheDecoded(contractID, bytes)
		if err != nil {
			return err
		}
		compiled, ok := compiledAny.(CompiledContract)
		if !ok {
			return fmt.Errorf("runtime: contract %d decoded to unexpected type %T", contractID, compiledAny)
		}

		hasState, err := view.ContractHasState(contractID)
		if err != nil {
			return err
		}
		if hasState {
			return nil
		}

		if gasLimit == 0 {
			gasLimit = d.DefaultGasLimit
		}
		meter := NewMeter(gasLimit)
		stack := NewCallStack()
		if err := stack.Push(contractID); err != nil {
			return err
		}
		defer stack.Pop()

		hc := &HostContext{
			Ctx:     ctx,
			Kind:    KindProc,
			Height:  height,
			Signer:  signer,
			Self:    addr,
			SelfID:  contractID,
			TxID:    txID,
			BlockTx: btx,
			View:    view,
			Stack:   stack,
			Gas:     meter,
		}
		hc.Dispatch = &foreignDispatcher{d: d, hc: hc}

		_, callErr := compiled.Call(hc, "init", nil)
		gasUsed = meter.Used()
		if callErr != nil {
			return fmt.Errorf("runtime: running init() for %s: %w", addr.String(), callErr)
		}
		return nil
	}

	var err error
	if btx != nil {
		err = btx.RunOp(runPublish)
	} else {
		err = runPublish()
	}
	if err != nil {
		if contractID != 0 {
			d.Registry.Forget(contractID)
		}
		return 0, types.ContractAddress{}, gasUsed, err
	}
	d.Registry.ConfirmPublish(addr, contractID)
	return contractID, addr, gasUsed, nil
}

// foreignDispatcher implements ForeignDispatcher, letting a contract's
// call out to another contract while sharing the caller's Stack, Gas and
// BlockTx so the nested call is part of the same atomic unit.
type foreignDispatcher struct {
	d  *Dispatcher
	hc *HostContext
}

func (f *foreignDispatcher) CallForeign(caller *HostContext, addr types.ContractAddress, fn string, args []wave.Value) (wave.Value, error) {
	if err := caller.Gas.Charge(GasPerForeign); err != nil {
		return wave.Value{}, err
	}
	contract, err := f.d.Registry.LookupByAddress(caller.Ctx, addr)
	if err != nil {
		return wave.Value{}, err
	}
	if err := caller.Stack.Push(contract.ID); err != nil {
		return wave.Value{}, err
	}
	defer caller.Stack.Pop()

	compiledAny, err := f.d.Registry.Compiled(caller.Ctx, contract.ID)
	if err != nil {
		return wave.Value{}, err
	}
	compiled, ok := compiledAny.(CompiledContract)
	if !ok {
		return wave.Value{}, fmt.Errorf("runtime: contract %d decoded to unexpected type %T", contract.ID, compiledAny)
	}

	nested := &HostContext{
		Ctx:     caller.Ctx,
		Kind:    KindFall,
		Height:  caller.Height,
		Signer:  types.ContractIDSigner{ID: caller.SelfID},
		Self:    addr,
		SelfID:  contract.ID,
		TxID:    caller.TxID,
		BlockTx: caller.BlockTx,
		View:    caller.View,
		Stack:   caller.Stack,
		Gas:     caller.Gas,
	}
	nested.Dispatch = &foreignDispatcher{d: f.d, hc: nested}

	return compiled.Call(nested, fn, args)
}

func (f *foreignDispatcher) Resolve(caller *HostContext, height uint64, name string) (types.ContractAddress, error) {
	c, err := f.d.Registry.LookupByHeightName(caller.Ctx, height, name)
	if err != nil {
		return types.ContractAddress{}, err
	}
	return c.Address, nil
}
