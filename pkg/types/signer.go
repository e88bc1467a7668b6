package types

import "strconv"

// Signer is the sum of XOnlyPubKey and ContractID. A contract
// calling another contract presents a ContractID so the callee observes a
// stable synthetic identity instead of the original transaction signer.
type Signer interface {
	// IDString returns the string used to key ledgers, balances and other
	// per-identity state. For a contract signer this is "__cid__"+id.
	IDString() string
	isSigner()
}

// XOnlyPubKeySigner wraps a 32-byte x-only public key rendered as hex.
type XOnlyPubKeySigner string

func (x XOnlyPubKeySigner) IDString() string { return string(x) }
func (XOnlyPubKeySigner) isSigner()           {}

// ContractIDSigner is the synthetic identity presented when one contract
// calls another via a foreign call.
type ContractIDSigner struct {
	ID int64
}

func (c ContractIDSigner) IDString() string { return "__cid__" + strconv.FormatInt(c.ID, 10) }
func (ContractIDSigner) isSigner()           {}
