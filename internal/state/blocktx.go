package state

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ouziel-slama/kontor/pkg/types"
)

// overlayEntry is a pending write not yet committed, consulted by Get so
// that a set followed by a get on the same path in the same block sees
// the just-written value (the "storage agreement" read-your-writes
// check from original_source/runtime/storage_agreement.rs).
type overlayEntry struct {
	value   []byte
	deleted bool
}

// BlockTx is the single SQL transaction backing one block's processing.
// All reads and writes for every op in the block go through the same
// BlockTx so that an unrecovered failure anywhere aborts the whole
// block.
type BlockTx struct {
	tx      *sql.Tx
	ctx     context.Context
	height  uint64
	overlay map[overlayKey]overlayEntry
	opCount int
}

// Height reports the block height this transaction is processing.
func (b *BlockTx) Height() uint64 { return b.height }

// RunOp executes fn inside a SQL savepoint scoped to one op, so an
// op-level failure (a contract trap, gas exhaustion, reentrancy, or a
// decode error) leaves no trace of that op's partial writes while
// letting the rest of the block's ops stand. The overlay entries fn
// wrote are rolled back along with the DB rows on failure.
func (b *BlockTx) RunOp(fn func() error) error {
	b.opCount++
	name := fmt.Sprintf("op_%d", b.opCount)

	if _, err := b.tx.ExecContext(b.ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("state: opening savepoint for op: %w", err)
	}

	before := make(map[overlayKey]overlayEntry, len(b.overlay))
	for k, v := range b.overlay {
		before[k] = v
	}

	opErr := fn()
	if opErr != nil {
		if _, err := b.tx.ExecContext(b.ctx, "ROLLBACK TO "+name); err != nil {
			return fmt.Errorf("state: rolling back op: %w", err)
		}
		b.overlay = before
	}
	if _, err := b.tx.ExecContext(b.ctx, "RELEASE "+name); err != nil {
		return fmt.Errorf("state: releasing savepoint: %w", err)
	}
	return opErr
}

type overlayKey struct {
	contractID int64
	path       string
}

// BeginBlock opens the single writer-owned transaction for height.
func (s *Store) BeginBlock(ctx context.Context, height uint64) (*BlockTx, error) {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("state: beginning block tx: %w", err)
	}
	return &BlockTx{tx: tx, ctx: ctx, height: height, overlay: make(map[overlayKey]overlayEntry)}, nil
}

// Commit finalizes the block's writes. The checkpoint row is inserted by
// the schema's AFTER INSERT trigger on blocks, in the same transaction.
func (b *BlockTx) Commit() error { return b.tx.Commit() }

// Rollback aborts the block's writes; no row at height is left behind.
func (b *BlockTx) Rollback() error { return b.tx.Rollback() }

// InsertBlock inserts the blocks row for this height. Must be called
// before any other write in the transaction (FK target).
func (b *BlockTx) InsertBlock(hash, prevHash types.Hash256) error {
	_, err := b.tx.ExecContext(b.ctx, `INSERT INTO blocks (height, hash, prev_hash) VALUES (?, ?, ?)`,
		b.height, hash[:], prevHash[:])
	if err != nil {
		return fmt.Errorf("state: inserting block %d: %w", b.height, err)
	}
	return nil
}

// InsertTransaction inserts a transactions row and returns its row id,
// used as tx_id for the state rows its ops produce.
func (b *BlockTx) InsertTransaction(txid types.Hash256, txIndex int64) (int64, error) {
	res, err := b.tx.ExecContext(b.ctx, `INSERT INTO transactions (height, txid, tx_index) VALUES (?, ?, ?)`,
		b.height, txid[:], txIndex)
	if err != nil {
		return 0, fmt.Errorf("state: inserting transaction %d: %w", txIndex, err)
	}
	return res.LastInsertId()
}

// InsertContract registers a newly published contract and returns its id.
func (b *BlockTx) InsertContract(name string, txIndex int64, bytes []byte) (int64, error) {
	res, err := b.tx.ExecContext(b.ctx, `INSERT INTO contracts (name, height, tx_index, bytes) VALUES (?, ?, ?, ?)`,
		name, b.height, txIndex, bytes)
	if err != nil {
		return 0, fmt.Errorf("state: publishing contract %s: %w", name, err)
	}
	return res.LastInsertId()
}

// InsertResult records the op outcome for query-time recovery, since
// historical results are served by querying the DB rather than only
// replaying the live bus.
func (b *BlockTx) InsertResult(ev types.ResultEvent, gasUsed uint64) error {
	_, err := b.tx.ExecContext(b.ctx,
		`INSERT INTO contract_results (height, txid, input_index, gas_used, ok, value, message, ephemeral)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.height, ev.ID.Txid[:], ev.ID.InputIndex, gasUsed, ev.Ok, nullableString(ev.Ok, ev.Value), nullableString(!ev.Ok, ev.Message), ev.Ephemeral)
	if err != nil {
		return fmt.Errorf("state: recording result for input %d: %w", ev.ID.InputIndex, err)
	}
	return nil
}

func nullableString(present bool, s string) any {
	if !present {
		return nil
	}
	return s
}

// Get returns the latest non-deleted value for (contractID, path) visible
// at this block's height, consulting the in-transaction overlay first.
func (b *BlockTx) Get(contractID int64, path types.Path) ([]byte, bool, error) {
	key := overlayKey{contractID, path.String()}
	if e, ok := b.overlay[key]; ok {
		if e.deleted {
			return nil, false, nil
		}
		return e.value, true, nil
	}
	return queryLatest(b.ctx, b.tx, contractID, path.String(), b.height)
}

// Set writes path = value, visible to subsequent Get calls in this same
// block even before commit.
func (b *BlockTx) Set(contractID, txID int64, path types.Path, value []byte) error {
	key := overlayKey{contractID, path.String()}
	b.overlay[key] = overlayEntry{value: value, deleted: false}
	return b.upsert(contractID, txID, path.String(), value, false)
}

// Delete writes a tombstone for path.
func (b *BlockTx) Delete(contractID, txID int64, path types.Path) error {
	key := overlayKey{contractID, path.String()}
	b.overlay[key] = overlayEntry{deleted: true}
	return b.upsert(contractID, txID, path.String(), nil, true)
}

func (b *BlockTx) upsert(contractID, txID int64, path string, value []byte, deleted bool) error {
	_, err := b.tx.ExecContext(b.ctx, `
		INSERT INTO contract_state (contract_id, tx_id, height, path, value, deleted)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(contract_id, height, path) DO UPDATE SET
			tx_id = excluded.tx_id, value = excluded.value, deleted = excluded.deleted
	`, contractID, txID, b.height, path, value, deleted)
	if err != nil {
		return fmt.Errorf("state: writing %s for contract %d: %w", path, contractID, err)
	}
	return nil
}

// queryLatest resolves the highest-height row <= height for
// (contractID, path); if that row is a tombstone (deleted), the path has
// no value.
func queryLatest(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, contractID int64, path string, height uint64) ([]byte, bool, error) {
	var value []byte
	var deleted bool
	err := q.QueryRowContext(ctx, `
		SELECT value, deleted FROM contract_state
		WHERE contract_id = ? AND path = ? AND height <= ?
		ORDER BY height DESC LIMIT 1
	`, contractID, path, height).Scan(&value, &deleted)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("state: reading %s for contract %d: %w", path, contractID, err)
	}
	if deleted {
		return nil, false, nil
	}
	return value, true, nil
}
