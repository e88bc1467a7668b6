package state

import (
	"context"
	"fmt"
)

// RollbackTo deletes every blocks row above height, cascading (via FK) to
// transactions, contracts, contract_state and checkpoints at those
// heights. After it returns, the store is indistinguishable from one
// that never saw heights above h.
func (s *Store) RollbackTo(ctx context.Context, height uint64) error {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("state: beginning rollback tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM blocks WHERE height > ?`, height); err != nil {
		return fmt.Errorf("state: rolling back to height %d: %w", height, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("state: committing rollback to height %d: %w", height, err)
	}
	return nil
}
