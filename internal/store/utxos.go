package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Fantasim/btcwalletsync/internal/models"
)

// ListUTXOs returns every UTXO row tracked for a wallet, spent or not.
func (s *Store) ListUTXOs(ctx context.Context, walletID string) ([]*models.UTXO, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT wallet_id, txid, vout, address, amount, block_height, confirmations, spent
		FROM utxos WHERE wallet_id = ?`, walletID)
	if err != nil {
		return nil, fmt.Errorf("list utxos: %w", err)
	}
	defer rows.Close()
	return scanUTXOs(rows)
}

// ListUnspentUTXOs returns every UTXO row not yet marked spent, used by the
// balance-engine cross-check (§8): sum(amount) over transactions must equal
// sum(amount) over unspent UTXOs.
func (s *Store) ListUnspentUTXOs(ctx context.Context, walletID string) ([]*models.UTXO, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT wallet_id, txid, vout, address, amount, block_height, confirmations, spent
		FROM utxos WHERE wallet_id = ? AND spent = 0`, walletID)
	if err != nil {
		return nil, fmt.Errorf("list unspent utxos: %w", err)
	}
	defer rows.Close()
	return scanUTXOs(rows)
}

func scanUTXOs(rows *sql.Rows) ([]*models.UTXO, error) {
	var out []*models.UTXO
	for rows.Next() {
		u, err := scanUTXO(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanUTXO(rs rowScanner) (*models.UTXO, error) {
	var u models.UTXO
	var blockHeight sql.NullInt64
	var spent int
	if err := rs.Scan(&u.WalletID, &u.Txid, &u.Vout, &u.Address, &u.Amount, &blockHeight, &u.Confirmations, &spent); err != nil {
		return nil, fmt.Errorf("scan utxo row: %w", err)
	}
	if blockHeight.Valid {
		u.BlockHeight = &blockHeight.Int64
	}
	u.Spent = spent != 0
	return &u, nil
}

// InsertUTXO inserts a UTXO row, ignoring the insert if the (wallet, txid,
// vout) key already exists. Returns whether a row was actually inserted.
func (s *Store) InsertUTXO(ctx context.Context, q Queryer, u *models.UTXO) (bool, error) {
	res, err := q.ExecContext(ctx, `
		INSERT OR IGNORE INTO utxos (wallet_id, txid, vout, address, amount, block_height, confirmations, spent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.WalletID, u.Txid, u.Vout, u.Address, u.Amount, u.BlockHeight, u.Confirmations, boolToInt(u.Spent))
	if err != nil {
		return false, fmt.Errorf("insert utxo %s:%d: %w", u.Txid, u.Vout, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected for utxo %s:%d: %w", u.Txid, u.Vout, err)
	}
	return n > 0, nil
}

// MarkUTXOsSpent bulk-marks spent=true for UTXOs belonging to one of
// addresses whose (txid, vout) is not present in keep (the set of keys the
// remote node still reports as unspent). Returns the number of rows changed.
func (s *Store) MarkUTXOsSpent(ctx context.Context, q Queryer, walletID string, addresses []string, keep map[string]struct{}) (int64, error) {
	if len(addresses) == 0 {
		return 0, nil
	}

	placeholders, args := inClause(addresses)
	fullArgs := append([]any{walletID}, args...)

	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
		SELECT txid, vout FROM utxos WHERE wallet_id = ? AND spent = 0 AND address IN (%s)`, placeholders), fullArgs...)
	if err != nil {
		return 0, fmt.Errorf("select candidate utxos for spent check: %w", err)
	}

	type key struct {
		txid string
		vout uint32
	}
	var toMark []key
	for rows.Next() {
		var k key
		if err := rows.Scan(&k.txid, &k.vout); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan utxo key: %w", err)
		}
		if _, present := keep[fmt.Sprintf("%s:%d", k.txid, k.vout)]; !present {
			toMark = append(toMark, k)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	var changed int64
	for _, k := range toMark {
		res, err := q.ExecContext(ctx, `UPDATE utxos SET spent = 1 WHERE wallet_id = ? AND txid = ? AND vout = ?`,
			walletID, k.txid, k.vout)
		if err != nil {
			return changed, fmt.Errorf("mark utxo %s:%d spent: %w", k.txid, k.vout, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return changed, err
		}
		changed += n
	}
	return changed, nil
}

// UpdateUTXOConfirmations writes a refreshed blockHeight/confirmations pair,
// including the reorg-reappearance case (blockHeight=nil, confirmations=0).
func (s *Store) UpdateUTXOConfirmations(ctx context.Context, q Queryer, walletID, txid string, vout uint32, blockHeight *int64, confirmations int64) error {
	_, err := q.ExecContext(ctx, `
		UPDATE utxos SET block_height = ?, confirmations = ?
		WHERE wallet_id = ? AND txid = ? AND vout = ?`,
		blockHeight, confirmations, walletID, txid, vout)
	if err != nil {
		return fmt.Errorf("update utxo confirmations %s:%d: %w", txid, vout, err)
	}
	return nil
}
