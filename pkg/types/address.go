// Package types holds the shared value types of the indexer: contract
// addresses, signers, blocks, ops, state paths and result events. It has no
// dependencies on storage or runtime so it can be imported everywhere.
package types

import (
	"fmt"
	"strconv"
	"strings"
)

// ContractAddress identifies a contract by the block it was published in.
// Two addresses are equal iff all three fields match.
type ContractAddress struct {
	Name    string
	Height  uint64
	TxIndex uint64
}

// String renders the canonical "name_height_tx_index" form.
func (a ContractAddress) String() string {
	return fmt.Sprintf("%s_%d_%d", a.Name, a.Height, a.TxIndex)
}

// ParseAddress parses the canonical string form, splitting on "_" into
// exactly three parts. Contract names themselves must not contain "_" for
// this to round-trip; the wire decoder enforces that at publish time.
func ParseAddress(s string) (ContractAddress, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 3 {
		return ContractAddress{}, fmt.Errorf("address %q: expected exactly 3 underscore-separated parts, got %d", s, len(parts))
	}
	height, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return ContractAddress{}, fmt.Errorf("address %q: invalid height: %w", s, err)
	}
	txIndex, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return ContractAddress{}, fmt.Errorf("address %q: invalid tx_index: %w", s, err)
	}
	if parts[0] == "" {
		return ContractAddress{}, fmt.Errorf("address %q: empty name", s)
	}
	return ContractAddress{Name: parts[0], Height: height, TxIndex: txIndex}, nil
}
