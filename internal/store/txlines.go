package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Fantasim/btcwalletsync/internal/models"
)

// InsertInputs persists a transaction's spent prevouts. Coinbase inputs and
// inputs whose address could not be resolved are expected to already be
// filtered out by the caller (§4.6).
func (s *Store) InsertInputs(ctx context.Context, q Queryer, inputs []models.TransactionInput) error {
	for _, in := range inputs {
		_, err := q.ExecContext(ctx, `
			INSERT INTO transaction_inputs (transaction_id, input_index, prev_txid, prev_vout, address, amount, derivation_path)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			in.TransactionID, in.InputIndex, in.PrevTxid, in.PrevVout, in.Address, in.Amount, in.DerivationPath)
		if err != nil {
			return fmt.Errorf("insert transaction input %d/%d: %w", in.TransactionID, in.InputIndex, err)
		}
	}
	return nil
}

// InsertOutputs persists a transaction's outputs. OP_RETURN outputs with no
// decodable address are expected to already be filtered out by the caller.
func (s *Store) InsertOutputs(ctx context.Context, q Queryer, outputs []models.TransactionOutput) error {
	for _, out := range outputs {
		_, err := q.ExecContext(ctx, `
			INSERT INTO transaction_outputs (transaction_id, output_index, address, amount, script_pubkey, output_type, is_ours)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			out.TransactionID, out.OutputIndex, out.Address, out.Amount, out.ScriptPubKey, out.OutputType, boolToInt(out.IsOurs))
		if err != nil {
			return fmt.Errorf("insert transaction output %d/%d: %w", out.TransactionID, out.OutputIndex, err)
		}
	}
	return nil
}

// ListOutputsByTransaction returns every output of one transaction, ordered by index.
func (s *Store) ListOutputsByTransaction(ctx context.Context, txID int64) ([]*models.TransactionOutput, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT transaction_id, output_index, address, amount, script_pubkey, output_type, is_ours
		FROM transaction_outputs WHERE transaction_id = ? ORDER BY output_index`, txID)
	if err != nil {
		return nil, fmt.Errorf("list outputs for transaction %d: %w", txID, err)
	}
	defer rows.Close()

	var out []*models.TransactionOutput
	for rows.Next() {
		var o models.TransactionOutput
		var isOurs int
		if err := rows.Scan(&o.TransactionID, &o.OutputIndex, &o.Address, &o.Amount, &o.ScriptPubKey, &o.OutputType, &isOurs); err != nil {
			return nil, fmt.Errorf("scan output row: %w", err)
		}
		o.IsOurs = isOurs != 0
		out = append(out, &o)
	}
	return out, rows.Err()
}

// SetOutputsConsolidation flips every output of a transaction to
// isOurs=true, outputType=consolidation, for fixConsolidationsPhase.
func (s *Store) SetOutputsConsolidation(ctx context.Context, q Queryer, txID int64) error {
	_, err := q.ExecContext(ctx, `
		UPDATE transaction_outputs SET is_ours = 1, output_type = ? WHERE transaction_id = ?`,
		models.OutputConsolidation, txID)
	if err != nil {
		return fmt.Errorf("flip outputs of transaction %d to consolidation: %w", txID, err)
	}
	return nil
}

// ListInputsByTransaction returns every input of one transaction.
func (s *Store) ListInputsByTransaction(ctx context.Context, txID int64) ([]*models.TransactionInput, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT transaction_id, input_index, prev_txid, prev_vout, address, amount, derivation_path
		FROM transaction_inputs WHERE transaction_id = ? ORDER BY input_index`, txID)
	if err != nil {
		return nil, fmt.Errorf("list inputs for transaction %d: %w", txID, err)
	}
	defer rows.Close()

	var out []*models.TransactionInput
	for rows.Next() {
		var in models.TransactionInput
		var derivationPath sql.NullString
		if err := rows.Scan(&in.TransactionID, &in.InputIndex, &in.PrevTxid, &in.PrevVout, &in.Address, &in.Amount, &derivationPath); err != nil {
			return nil, fmt.Errorf("scan input row: %w", err)
		}
		in.DerivationPath = derivationPath.String
		out = append(out, &in)
	}
	return out, rows.Err()
}
