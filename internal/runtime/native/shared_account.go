package native

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ouziel-slama/kontor/internal/runtime"
	"github.com/ouziel-slama/kontor/internal/wave"
	"github.com/ouziel-slama/kontor/pkg/types"
)

// sharedAccountContract is a multi-signer wallet: an account has one
// creator plus a list of co-tenants, any of whom may withdraw up to the
// live balance.
type sharedAccountContract struct{}

func newSharedAccount() runtime.CompiledContract { return &sharedAccountContract{} }

func accountPath(id uint64, leaf string) types.Path {
	return types.ParsePath("accounts." + strconv.FormatUint(id, 10) + "." + leaf)
}

func (s *sharedAccountContract) Call(hc *runtime.HostContext, fn string, args []wave.Value) (wave.Value, error) {
	switch fn {
	case "init":
		return wave.Unit, nil
	case "open":
		if len(args) != 1 {
			return wave.Value{}, errWrongArgCount("open", 1, len(args))
		}
		members, err := args[0].AsList()
		if err != nil {
			return wave.Value{}, err
		}
		return s.open(hc, members)
	case "deposit":
		if len(args) != 2 {
			return wave.Value{}, errWrongArgCount("deposit", 2, len(args))
		}
		id, err := args[0].AsInt64()
		if err != nil {
			return wave.Value{}, err
		}
		amount, err := args[1].AsBigInt()
		if err != nil {
			return wave.Value{}, err
		}
		return wave.Unit, s.deposit(hc, uint64(id), amount)
	case "withdraw":
		if len(args) != 2 {
			return wave.Value{}, errWrongArgCount("withdraw", 2, len(args))
		}
		id, err := args[0].AsInt64()
		if err != nil {
			return wave.Value{}, err
		}
		amount, err := args[1].AsBigInt()
		if err != nil {
			return wave.Value{}, err
		}
		return s.withdraw(hc, uint64(id), amount)
	case "balance":
		id, err := args[0].AsInt64()
		if err != nil {
			return wave.Value{}, err
		}
		return s.balance(hc, uint64(id))
	default:
		return wave.Value{}, errUnknownFunction("shared-account", fn)
	}
}

func (s *sharedAccountContract) open(hc *runtime.HostContext, members []wave.Value) (wave.Value, error) {
	id := runtime.Crypto{}.GenerateID()
	if err := hc.SetValue(accountPath(id, "creator"), wave.String(hc.Signer.IDString())); err != nil {
		return wave.Value{}, err
	}
	if err := hc.SetValue(accountPath(id, "members"), wave.List(members...)); err != nil {
		return wave.Value{}, err
	}
	if err := hc.SetValue(accountPath(id, "balance"), wave.Int(0)); err != nil {
		return wave.Value{}, err
	}
	return wave.Int(int64(id)), nil
}

func (s *sharedAccountContract) deposit(hc *runtime.HostContext, id uint64, amount *big.Int) error {
	balance, err := s.readBalance(hc, id)
	if err != nil {
		return err
	}
	return hc.SetValue(accountPath(id, "balance"), wave.BigInt(new(big.Int).Add(balance, amount)))
}

func (s *sharedAccountContract) withdraw(hc *runtime.HostContext, id uint64, amount *big.Int) (wave.Value, error) {
	authorized, err := s.authorized(hc, id, hc.Signer.IDString())
	if err != nil {
		return wave.Value{}, err
	}
	if !authorized {
		return wave.Value{}, fmt.Errorf("withdraw: unauthorized")
	}

	balance, err := s.readBalance(hc, id)
	if err != nil {
		return wave.Value{}, err
	}
	if balance.Cmp(amount) < 0 {
		return wave.Value{}, fmt.Errorf("withdraw: insufficient balance")
	}
	newBalance := new(big.Int).Sub(balance, amount)
	if err := hc.SetValue(accountPath(id, "balance"), wave.BigInt(newBalance)); err != nil {
		return wave.Value{}, err
	}
	return wave.BigInt(newBalance), nil
}

func (s *sharedAccountContract) balance(hc *runtime.HostContext, id uint64) (wave.Value, error) {
	balance, err := s.readBalance(hc, id)
	if err != nil {
		return wave.Value{}, err
	}
	return wave.BigInt(balance), nil
}

func (s *sharedAccountContract) readBalance(hc *runtime.HostContext, id uint64) (*big.Int, error) {
	v, ok, err := hc.GetValue(accountPath(id, "balance"))
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return v.AsBigInt()
}

func (s *sharedAccountContract) authorized(hc *runtime.HostContext, id uint64, signer string) (bool, error) {
	creatorV, ok, err := hc.GetValue(accountPath(id, "creator"))
	if err != nil {
		return false, err
	}
	if ok {
		creator, err := creatorV.AsString()
		if err != nil {
			return false, err
		}
		if creator == signer {
			return true, nil
		}
	}

	membersV, ok, err := hc.GetValue(accountPath(id, "members"))
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	members, err := membersV.AsList()
	if err != nil {
		return false, err
	}
	for _, m := range members {
		if ms, err := m.AsString(); err == nil && ms == signer {
			return true, nil
		}
	}
	return false, nil
}
