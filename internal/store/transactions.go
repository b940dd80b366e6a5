package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Fantasim/btcwalletsync/internal/models"
)

// ListByTxids returns the subset of txids already persisted for a wallet,
// keyed by txid, with their current type/confirmations/blockHeight. Used
// by checkExistingPhase to partition newly-seen history entries.
func (s *Store) ListByTxids(ctx context.Context, walletID string, txids []string) (map[string]*models.Transaction, error) {
	out := make(map[string]*models.Transaction, len(txids))
	if len(txids) == 0 {
		return out, nil
	}

	placeholders, args := inClause(txids)
	args = append([]any{walletID}, args...)

	rows, err := s.conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM transactions WHERE wallet_id = ? AND txid IN (%s)`,
		transactionColumns, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions by txid: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out[tx.Txid] = tx
	}
	return out, rows.Err()
}

// GetByTxid loads a single persisted transaction.
func (s *Store) GetByTxid(ctx context.Context, walletID, txid string) (*models.Transaction, error) {
	row := s.conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM transactions WHERE wallet_id = ? AND txid = ?`, transactionColumns),
		walletID, txid)
	tx, err := scanTransactionRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return tx, nil
}

// InsertTransaction inserts one classified transaction row and returns its id.
func (s *Store) InsertTransaction(ctx context.Context, q Queryer, t *models.Transaction) (int64, error) {
	var blockTime any
	if t.BlockTime != nil {
		blockTime = t.BlockTime.UTC().Format(time.RFC3339)
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO transactions
			(wallet_id, txid, type, amount, fee, block_height, block_time, confirmations,
			 rbf_status, replaced_by_txid, address_id, counterparty_address, balance_after)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.WalletID, t.Txid, t.Type, t.Amount, t.Fee, t.BlockHeight, blockTime, t.Confirmations,
		t.RBFStatus, t.ReplacedByTxid, t.AddressID, t.CounterpartyAddress, t.BalanceAfter)
	if err != nil {
		return 0, fmt.Errorf("insert transaction %s: %w", t.Txid, err)
	}
	return res.LastInsertId()
}

// ListActiveUnconfirmed returns unconfirmed transactions currently marked
// active in the RBF state machine.
func (s *Store) ListActiveUnconfirmed(ctx context.Context, walletID string) ([]*models.Transaction, error) {
	rows, err := s.conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM transactions WHERE wallet_id = ? AND confirmations = 0 AND rbf_status = ?`,
		transactionColumns), walletID, models.RBFActive)
	if err != nil {
		return nil, fmt.Errorf("list active unconfirmed transactions: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// ListReplacedUnlinked returns transactions marked replaced whose
// replacement txid has not yet been resolved.
func (s *Store) ListReplacedUnlinked(ctx context.Context, walletID string) ([]*models.Transaction, error) {
	rows, err := s.conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM transactions WHERE wallet_id = ? AND rbf_status = ? AND replaced_by_txid IS NULL`,
		transactionColumns), walletID, models.RBFReplaced)
	if err != nil {
		return nil, fmt.Errorf("list replaced unlinked transactions: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// FindConfirmedSpenderOfInput looks for a confirmed wallet transaction that
// spends prevTxid:prevVout, other than excludeTxid itself (guards against
// self-replacement).
func (s *Store) FindConfirmedSpenderOfInput(ctx context.Context, walletID, prevTxid string, prevVout uint32, excludeTxid string) (*models.Transaction, error) {
	row := s.conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM transactions t
		JOIN transaction_inputs i ON i.transaction_id = t.id
		WHERE t.wallet_id = ? AND t.confirmations > 0
		  AND i.prev_txid = ? AND i.prev_vout = ? AND t.txid != ?
		LIMIT 1`, prefixedColumns("t")), walletID, prevTxid, prevVout, excludeTxid)

	tx, err := scanTransactionRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find confirmed spender: %w", err)
	}
	return tx, nil
}

// MarkReplaced sets a transaction's RBF status to replaced with the given replacement txid.
func (s *Store) MarkReplaced(ctx context.Context, q Queryer, txID int64, replacedByTxid string) error {
	_, err := q.ExecContext(ctx, `UPDATE transactions SET rbf_status = ?, replaced_by_txid = ? WHERE id = ?`,
		models.RBFReplaced, replacedByTxid, txID)
	if err != nil {
		return fmt.Errorf("mark transaction %d replaced: %w", txID, err)
	}
	return nil
}

// ListOrderedForBalance returns every transaction of a wallet ordered by
// (blockTime asc, createdAt asc) for running-balance recomputation.
func (s *Store) ListOrderedForBalance(ctx context.Context, walletID string) ([]*models.Transaction, error) {
	rows, err := s.conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM transactions WHERE wallet_id = ?
		ORDER BY (block_time IS NULL), block_time, created_at`, transactionColumns), walletID)
	if err != nil {
		return nil, fmt.Errorf("list transactions ordered for balance: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// UpdateBalanceAfter sets a transaction's running-balance snapshot.
func (s *Store) UpdateBalanceAfter(ctx context.Context, q Queryer, txID, balance int64) error {
	_, err := q.ExecContext(ctx, `UPDATE transactions SET balance_after = ? WHERE id = ?`, balance, txID)
	if err != nil {
		return fmt.Errorf("update balance_after for transaction %d: %w", txID, err)
	}
	return nil
}

// ListConfirmationCandidates returns shallow transactions eligible for a
// confirmation refresh: confirmations below deepThreshold with a known block height.
func (s *Store) ListConfirmationCandidates(ctx context.Context, walletID string, deepThreshold int) ([]*models.Transaction, error) {
	rows, err := s.conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM transactions
		WHERE wallet_id = ? AND confirmations < ? AND block_height IS NOT NULL`,
		transactionColumns), walletID, deepThreshold)
	if err != nil {
		return nil, fmt.Errorf("list confirmation candidates: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// UpdateConfirmations writes a refreshed confirmation count together with
// the given rbfStatus; the caller chooses the status.
func (s *Store) UpdateConfirmations(ctx context.Context, q Queryer, txID, confirmations int64, rbfStatus models.RBFStatus) error {
	_, err := q.ExecContext(ctx, `UPDATE transactions SET confirmations = ?, rbf_status = ? WHERE id = ?`,
		confirmations, rbfStatus, txID)
	if err != nil {
		return fmt.Errorf("update confirmations for transaction %d: %w", txID, err)
	}
	return nil
}

// ListSentTransactions returns every transaction of a wallet currently
// classified sent, for fixConsolidationsPhase's retroactive re-check.
func (s *Store) ListSentTransactions(ctx context.Context, walletID string) ([]*models.Transaction, error) {
	rows, err := s.conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM transactions WHERE wallet_id = ? AND type = ?`,
		transactionColumns), walletID, models.TxSent)
	if err != nil {
		return nil, fmt.Errorf("list sent transactions: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// UpdateToConsolidation reclassifies a sent transaction as a consolidation
// with the given amount (§4.12).
func (s *Store) UpdateToConsolidation(ctx context.Context, q Queryer, txID, amount int64) error {
	_, err := q.ExecContext(ctx, `UPDATE transactions SET type = ?, amount = ? WHERE id = ?`,
		models.TxConsolidation, amount, txID)
	if err != nil {
		return fmt.Errorf("update transaction %d to consolidation: %w", txID, err)
	}
	return nil
}

// ListMissingFields returns transactions with at least one backfillable
// field still null, for populateMissingTransactionFields.
func (s *Store) ListMissingFields(ctx context.Context, walletID string) ([]*models.Transaction, error) {
	rows, err := s.conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM transactions
		WHERE wallet_id = ? AND (
			block_height IS NULL OR block_time IS NULL OR
			(fee IS NULL AND type != ?) OR
			(counterparty_address IS NULL AND type != ?) OR
			address_id IS NULL
		)`, transactionColumns), walletID, models.TxReceived, models.TxConsolidation)
	if err != nil {
		return nil, fmt.Errorf("list transactions missing fields: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// UpdateBackfilledFields writes non-nil backfilled columns onto a legacy row.
func (s *Store) UpdateBackfilledFields(ctx context.Context, q Queryer, txID int64, fee, blockHeight *int64, blockTime *time.Time, counterparty *string, addressID *int64) error {
	var blockTimeArg any
	if blockTime != nil {
		blockTimeArg = blockTime.UTC().Format(time.RFC3339)
	}
	_, err := q.ExecContext(ctx, `
		UPDATE transactions SET
			fee = COALESCE(?, fee),
			block_height = COALESCE(?, block_height),
			block_time = COALESCE(?, block_time),
			counterparty_address = COALESCE(?, counterparty_address),
			address_id = COALESCE(?, address_id)
		WHERE id = ?`,
		fee, blockHeight, blockTimeArg, counterparty, addressID, txID)
	if err != nil {
		return fmt.Errorf("backfill transaction %d: %w", txID, err)
	}
	return nil
}

const transactionColumns = "id, wallet_id, txid, type, amount, fee, block_height, block_time, confirmations, rbf_status, replaced_by_txid, address_id, counterparty_address, balance_after, created_at"

func prefixedColumns(alias string) string {
	cols := []string{"id", "wallet_id", "txid", "type", "amount", "fee", "block_height", "block_time",
		"confirmations", "rbf_status", "replaced_by_txid", "address_id", "counterparty_address", "balance_after", "created_at"}
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += alias + "." + c
	}
	return out
}

type rowScanner interface {
	Scan(...any) error
}

func scanTransaction(rs rowScanner) (*models.Transaction, error) {
	var t models.Transaction
	var fee, blockHeight, addressID sql.NullInt64
	var blockTime, createdAt sql.NullString
	var replacedByTxid, counterparty sql.NullString

	if err := rs.Scan(&t.ID, &t.WalletID, &t.Txid, &t.Type, &t.Amount, &fee, &blockHeight, &blockTime,
		&t.Confirmations, &t.RBFStatus, &replacedByTxid, &addressID, &counterparty, &t.BalanceAfter, &createdAt); err != nil {
		return nil, fmt.Errorf("scan transaction row: %w", err)
	}

	if fee.Valid {
		t.Fee = &fee.Int64
	}
	if blockHeight.Valid {
		t.BlockHeight = &blockHeight.Int64
	}
	if addressID.Valid {
		t.AddressID = &addressID.Int64
	}
	if replacedByTxid.Valid {
		t.ReplacedByTxid = &replacedByTxid.String
	}
	if counterparty.Valid {
		t.CounterpartyAddress = &counterparty.String
	}
	if blockTime.Valid {
		bt, err := time.Parse(time.RFC3339, normalizeSQLiteTimestamp(blockTime.String))
		if err != nil {
			return nil, fmt.Errorf("parse block_time: %w", err)
		}
		t.BlockTime = &bt
	}
	ct, err := time.Parse(time.RFC3339, normalizeSQLiteTimestamp(createdAt.String))
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	t.CreatedAt = ct

	return &t, nil
}

func scanTransactionRow(row *sql.Row) (*models.Transaction, error) {
	return scanTransaction(row)
}

func scanTransactions(rows *sql.Rows) ([]*models.Transaction, error) {
	var out []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func inClause(values []string) (string, []any) {
	placeholders := ""
	args := make([]any, len(values))
	for i, v := range values {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args[i] = v
	}
	return placeholders, args
}
