package native

import (
	"fmt"

	"github.com/ouziel-slama/kontor/internal/runtime"
	"github.com/ouziel-slama/kontor/internal/wave"
	"github.com/ouziel-slama/kontor/pkg/types"
)

// tokenContract is a single-asset ledger keyed by signer identity, using
// 256-bit overflow-trapping amounts. Balances live under
// ledger.<signer>; the running total under total_supply.
type tokenContract struct{}

func newToken() runtime.CompiledContract { return &tokenContract{} }

var totalSupplyPath = types.ParsePath("total_supply")

func ledgerPath(who string) types.Path { return types.ParsePath("ledger." + who) }

func (t *tokenContract) Call(hc *runtime.HostContext, fn string, args []wave.Value) (wave.Value, error) {
	switch fn {
	case "init":
		return wave.Unit, nil
	case "mint":
		if len(args) != 1 {
			return wave.Value{}, errWrongArgCount("mint", 1, len(args))
		}
		return wave.Unit, t.mint(hc, hc.Signer.IDString(), args[0])
	case "issuance":
		if len(args) != 1 {
			return wave.Value{}, errWrongArgCount("issuance", 1, len(args))
		}
		// issuance runs under a core context: hc.Signer is the token
		// contract's own self-invocation identity, hc.InnerSigner is the
		// party being credited.
		return wave.Unit, t.mint(hc, hc.InnerSigner.IDString(), args[0])
	case "transfer":
		if len(args) != 2 {
			return wave.Value{}, errWrongArgCount("transfer", 2, len(args))
		}
		to, err := args[0].AsString()
		if err != nil {
			return wave.Value{}, err
		}
		return wave.Unit, t.transfer(hc, hc.Signer.IDString(), to, args[1])
	case "balance":
		if len(args) != 1 {
			return wave.Value{}, errWrongArgCount("balance", 1, len(args))
		}
		who, err := args[0].AsString()
		if err != nil {
			return wave.Value{}, err
		}
		return t.balanceOf(hc, who)
	case "total_supply":
		return t.balanceValue(hc, totalSupplyPath)
	default:
		return wave.Value{}, errUnknownFunction("token", fn)
	}
}

func (t *tokenContract) mint(hc *runtime.HostContext, to string, amountV wave.Value) error {
	amountBig, err := amountV.AsBigInt()
	if err != nil {
		return err
	}
	amount, err := runtime.AmountFromBigInt(amountBig)
	if err != nil {
		return fmt.Errorf("mint: %w", err)
	}

	balance, err := t.readAmount(hc, ledgerPath(to))
	if err != nil {
		return err
	}
	newBalance, err := balance.Add(amount)
	if err != nil {
		return fmt.Errorf("mint: %w", err)
	}

	supply, err := t.readAmount(hc, totalSupplyPath)
	if err != nil {
		return err
	}
	newSupply, err := supply.Add(amount)
	if err != nil {
		return fmt.Errorf("mint: %w", err)
	}

	if err := hc.SetValue(ledgerPath(to), newBalance.ToWave()); err != nil {
		return err
	}
	return hc.SetValue(totalSupplyPath, newSupply.ToWave())
}

func (t *tokenContract) transfer(hc *runtime.HostContext, from, to string, amountV wave.Value) error {
	amountBig, err := amountV.AsBigInt()
	if err != nil {
		return err
	}
	amount, err := runtime.AmountFromBigInt(amountBig)
	if err != nil {
		return fmt.Errorf("transfer: %w", err)
	}

	fromBalance, err := t.readAmount(hc, ledgerPath(from))
	if err != nil {
		return err
	}
	newFromBalance, err := fromBalance.Sub(amount)
	if err != nil {
		return fmt.Errorf("transfer: insufficient funds")
	}

	toBalance, err := t.readAmount(hc, ledgerPath(to))
	if err != nil {
		return err
	}
	newToBalance, err := toBalance.Add(amount)
	if err != nil {
		return fmt.Errorf("transfer: %w", err)
	}

	if err := hc.SetValue(ledgerPath(from), newFromBalance.ToWave()); err != nil {
		return err
	}
	return hc.SetValue(ledgerPath(to), newToBalance.ToWave())
}

func (t *tokenContract) balanceOf(hc *runtime.HostContext, who string) (wave.Value, error) {
	present, err := t.hasValue(hc, ledgerPath(who))
	if err != nil {
		return wave.Value{}, err
	}
	if !present {
		return wave.Unit, nil // "None": no balance ever recorded for this identity
	}
	return t.balanceValue(hc, ledgerPath(who))
}

func (t *tokenContract) hasValue(hc *runtime.HostContext, path types.Path) (bool, error) {
	_, ok, err := hc.Get(path)
	return ok, err
}

func (t *tokenContract) balanceValue(hc *runtime.HostContext, path types.Path) (wave.Value, error) {
	amount, err := t.readAmount(hc, path)
	if err != nil {
		return wave.Value{}, err
	}
	return amount.ToWave(), nil
}

func (t *tokenContract) readAmount(hc *runtime.HostContext, path types.Path) (runtime.Amount, error) {
	raw, ok, err := hc.Get(path)
	if err != nil {
		return runtime.Amount{}, err
	}
	if !ok {
		return runtime.AmountFromUint64(0), nil
	}
	v, err := wave.ParseValue(string(raw))
	if err != nil {
		return runtime.Amount{}, err
	}
	big, err := v.AsBigInt()
	if err != nil {
		return runtime.Amount{}, err
	}
	return runtime.AmountFromBigInt(big)
}
