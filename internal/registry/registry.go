// Package registry implements the contract registry: address-keyed
// contract rows plus a bounded LRU of decoded component handles,
// grounded on original_source's runtime/component_cache.rs (cache keyed
// by address string) folded into a single LRU.
package registry

import (
	"context"
	"database/sql"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ouziel-slama/kontor/internal/state"
	"github.com/ouziel-slama/kontor/pkg/types"
)

// Contract is a registry row: the published bytes plus their address.
type Contract struct {
	ID      int64
	Address types.ContractAddress
	Bytes   []byte
}

// Decoder turns compressed component bytes into a runtime-ready handle.
// The registry stores the result opaquely so it has no dependency on the
// runtime package (which depends on registry, not the reverse).
type Decoder func(bytes []byte) (any, error)

// Registry publishes contracts within a block transaction and resolves
// addresses to decoded components, caching decoded handles in a
// pure-LRU, capacity-bounded cache (default capacity 64).
type Registry struct {
	store   *state.Store
	decode  Decoder
	cache   *lru.Cache[int64, any]
	defPool *byAddressIndex
}

// byAddressIndex lets Lookup resolve (height, tx_index) to a contract_id
// without a DB round trip once a contract has been seen in this process.
type byAddressIndex struct {
	byAddr map[string]int64
}

// New builds a Registry backed by store, with decoded-component caching
// bounded to capacity entries (default 64).
func New(store *state.Store, capacity int, decode Decoder) (*Registry, error) {
	if capacity <= 0 {
		capacity = 64
	}
	cache, err := lru.New[int64, any](capacity)
	if err != nil {
		return nil, fmt.Errorf("registry: building LRU cache: %w", err)
	}
	return &Registry{
		store:  store,
		decode: decode,
		cache:  cache,
		defPool: &byAddressIndex{
			byAddr: make(map[string]int64),
		},
	}, nil
}

// Publish inserts a new contract row within btx and returns its id and
// canonical address. It does not touch the in-process address index:
// the row lives inside btx's still-open transaction and may yet be
// rolled back by the caller's savepoint if decoding or init() fails, so
// the address only becomes resolvable once ConfirmPublish is called.
func (r *Registry) Publish(btx *state.BlockTx, height uint64, name string, txIndex int64, bytes []byte) (int64, types.ContractAddress, error) {
	id, err := btx.InsertContract(name, txIndex, bytes)
	if err != nil {
		return 0, types.ContractAddress{}, err
	}
	addr := types.ContractAddress{Name: name, Height: height, TxIndex: uint64(txIndex)}
	return id, addr, nil
}

// ConfirmPublish records addr as resolvable to id, called once the
// publishing op (insert, decode, init()) has fully succeeded.
func (r *Registry) ConfirmPublish(addr types.ContractAddress, id int64) {
	r.defPool.byAddr[addr.String()] = id
}

// LookupByAddress resolves an address to its registry row, reading the DB
// reader pool if the id is not already known in-process.
func (r *Registry) LookupByAddress(ctx context.Context, addr types.ContractAddress) (*Contract, error) {
	if id, ok := r.defPool.byAddr[addr.String()]; ok {
		return r.LookupByID(ctx, id)
	}

	var id int64
	var name string
	var bytes []byte
	err := r.store.ReaderDB().QueryRowContext(ctx, `
		SELECT id, name, bytes FROM contracts WHERE height = ? AND tx_index = ?
	`, addr.Height, addr.TxIndex).Scan(&id, &name, &bytes)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("registry: no contract published at height %d tx_index %d", addr.Height, addr.TxIndex)
	}
	if err != nil {
		return nil, fmt.Errorf("registry: looking up %s: %w", addr.String(), err)
	}
	if name != addr.Name {
		return nil, fmt.Errorf("registry: address %s names %q but contract at that slot is %q", addr.String(), addr.Name, name)
	}
	r.defPool.byAddr[addr.String()] = id
	return &Contract{ID: id, Address: addr, Bytes: bytes}, nil
}

// LookupByHeightName resolves the most recently published contract named
// name at height, letting a native contract locate a sibling published
// earlier in the same block by name rather than by a hardcoded tx_index
// (e.g. "fib" locating "sum").
func (r *Registry) LookupByHeightName(ctx context.Context, height uint64, name string) (*Contract, error) {
	var id, txIndex int64
	var bytes []byte
	err := r.store.ReaderDB().QueryRowContext(ctx, `
		SELECT id, tx_index, bytes FROM contracts WHERE height = ? AND name = ? ORDER BY tx_index DESC LIMIT 1
	`, height, name).Scan(&id, &txIndex, &bytes)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("registry: no contract named %q published at height %d", name, height)
	}
	if err != nil {
		return nil, fmt.Errorf("registry: looking up %q at height %d: %w", name, height, err)
	}
	addr := types.ContractAddress{Name: name, Height: height, TxIndex: uint64(txIndex)}
	r.defPool.byAddr[addr.String()] = id
	return &Contract{ID: id, Address: addr, Bytes: bytes}, nil
}

// LookupByID resolves a numeric contract id directly.
func (r *Registry) LookupByID(ctx context.Context, id int64) (*Contract, error) {
	var name string
	var height, txIndex uint64
	var bytes []byte
	err := r.store.ReaderDB().QueryRowContext(ctx, `
		SELECT name, height, tx_index, bytes FROM contracts WHERE id = ?
	`, id).Scan(&name, &height, &txIndex, &bytes)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("registry: no contract with id %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("registry: looking up contract %d: %w", id, err)
	}
	return &Contract{
		ID:      id,
		Address: types.ContractAddress{Name: name, Height: height, TxIndex: txIndex},
		Bytes:   bytes,
	}, nil
}

// Compiled returns the decoded component handle for a contract id,
// decoding and caching on first use: it decompresses contract bytes on
// first use and validates the component, and invalid bytes fail the
// enclosing op.
func (r *Registry) Compiled(ctx context.Context, id int64) (any, error) {
	if v, ok := r.cache.Get(id); ok {
		return v, nil
	}
	c, err := r.LookupByID(ctx, id)
	if err != nil {
		return nil, err
	}
	decoded, err := r.decode(c.Bytes)
	if err != nil {
		return nil, fmt.Errorf("registry: decoding contract %d (%s): %w", id, c.Address.String(), err)
	}
	r.cache.Add(id, decoded)
	return decoded, nil
}

// CacheDecoded decodes bytes and stores it under id without a DB round
// trip, for the Publish flow: the contract row was just inserted in the
// still-open block transaction and is not yet visible to the reader
// pool that LookupByID/Compiled would otherwise use.
func (r *Registry) CacheDecoded(id int64, bytes []byte) (any, error) {
	decoded, err := r.decode(bytes)
	if err != nil {
		return nil, fmt.Errorf("registry: decoding contract %d: %w", id, err)
	}
	r.cache.Add(id, decoded)
	return decoded, nil
}

// Forget drops a cached component, e.g. after a rollback invalidates it.
func (r *Registry) Forget(id int64) { r.cache.Remove(id) }

// Reset drops every cached decoded component and the in-process
// address index, used after a chain rollback removes contract rows a
// running process may already have resolved or decoded: state below the
// reorg point must be indistinguishable from a process that never saw
// the removed heights.
func (r *Registry) Reset() {
	r.cache.Purge()
	r.defPool.byAddr = make(map[string]int64)
}
