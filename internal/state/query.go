package state

import (
	"context"
	"fmt"

	"github.com/bobg/sqlutil"

	"github.com/ouziel-slama/kontor/pkg/types"
)

// ResultByID looks up one op's recorded outcome among the results
// stored for its transaction. Nothing in this tree passes it to
// pubsub.WaitForResult; the HTTP historical path uses ResultsForTx.
func (s *Store) ResultByID(ctx context.Context, id types.ContractResultID) (types.ResultEvent, bool, error) {
	results, err := s.ResultsForTx(ctx, id.Txid)
	if err != nil {
		return types.ResultEvent{}, false, err
	}
	for _, ev := range results {
		if ev.ID.InputIndex == id.InputIndex {
			return ev, true, nil
		}
	}
	return types.ResultEvent{}, false, nil
}

// ResultsForTx returns every recorded result for one transaction, in
// input_index order. Built on bobg/sqlutil.ForQueryRows, the pack's
// reflection-based row scanner, so the scan loop here stays a single
// callback instead of the usual rows.Next/rows.Scan/rows.Err
// boilerplate internal/state's other queries hand-roll for simpler
// one- or two-column scans.
func (s *Store) ResultsForTx(ctx context.Context, txid types.Hash256) ([]types.ResultEvent, error) {
	var out []types.ResultEvent
	err := sqlutil.ForQueryRows(ctx, s.reader, `
		SELECT input_index, ok, value, message, ephemeral
		FROM contract_results
		WHERE txid = ?
		ORDER BY input_index
	`, txid[:], func(inputIndex int64, ok bool, value, message *string, ephemeral bool) {
		ev := types.ResultEvent{
			ID:        types.ContractResultID{Txid: txid, InputIndex: inputIndex},
			Ok:        ok,
			Ephemeral: ephemeral,
		}
		if value != nil {
			ev.Value = *value
		}
		if message != nil {
			ev.Message = *message
		}
		out = append(out, ev)
	})
	if err != nil {
		return nil, fmt.Errorf("state: querying results for %x: %w", txid, err)
	}
	return out, nil
}
