package state

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ouziel-slama/kontor/pkg/types"
)

// View is a read-only snapshot accessor used by view calls and queries
// outside the reactor's write transaction. Reads go through the reader
// pool and are bounded by height so concurrent ingestion above height
// is never observed.
type View struct {
	db     *sql.DB
	ctx    context.Context
	height uint64
}

// ViewAt returns a View bounded to height, reading from the reader pool.
func (s *Store) ViewAt(ctx context.Context, height uint64) *View {
	return &View{db: s.reader, ctx: ctx, height: height}
}

func (v *View) Get(contractID int64, path types.Path) ([]byte, bool, error) {
	return queryLatest(v.ctx, v.db, contractID, path.String(), v.height)
}

// ContractHasState reports whether any row exists for contractID at or
// below height, used by the Publish flow to decide whether to call
// init() (skipped once the contract already has durable state).
func (v *View) ContractHasState(contractID int64) (bool, error) {
	var n int
	err := v.db.QueryRowContext(v.ctx, `
		SELECT COUNT(*) FROM contract_state WHERE contract_id = ? AND height <= ?
	`, contractID, v.height).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("state: checking state for contract %d: %w", contractID, err)
	}
	return n > 0, nil
}

// Keys returns a lazy, finite, non-restartable iterator over every
// distinct terminal segment directly under prefix that resolves to a
// live value at height.
func (v *View) Keys(contractID int64, prefix types.Path) (*KeyIter, error) {
	prefixStr := prefix.String()
	stripLen := len(prefixStr)
	likePattern := prefixStr
	if likePattern != "" {
		likePattern += "."
		stripLen++
	}
	likePattern += "%"

	rows, err := v.db.QueryContext(v.ctx, `
		SELECT path, deleted FROM (
			SELECT path, deleted,
			       ROW_NUMBER() OVER (PARTITION BY path ORDER BY height DESC) AS rn
			FROM contract_state
			WHERE contract_id = ? AND height <= ? AND path LIKE ?
		) WHERE rn = 1
		ORDER BY path
	`, contractID, v.height, likePattern)
	if err != nil {
		return nil, fmt.Errorf("state: listing keys under %s for contract %d: %w", prefixStr, contractID, err)
	}
	return &KeyIter{rows: rows, stripLen: stripLen}, nil
}
