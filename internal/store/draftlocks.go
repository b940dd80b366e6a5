package store

import (
	"context"
	"fmt"

	"github.com/Fantasim/btcwalletsync/internal/models"
)

// ListDraftLocksByOutpoint returns draft locks referencing a specific UTXO.
func (s *Store) ListDraftLocksByOutpoint(ctx context.Context, walletID, txid string, vout uint32) ([]*models.DraftLock, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, wallet_id, txid, vout, label, created_at
		FROM draft_locks WHERE wallet_id = ? AND txid = ? AND vout = ?`, walletID, txid, vout)
	if err != nil {
		return nil, fmt.Errorf("list draft locks for %s:%d: %w", txid, vout, err)
	}
	defer rows.Close()

	var out []*models.DraftLock
	for rows.Next() {
		var d models.DraftLock
		var createdAt string
		if err := rows.Scan(&d.ID, &d.WalletID, &d.Txid, &d.Vout, &d.Label, &createdAt); err != nil {
			return nil, fmt.Errorf("scan draft lock row: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// DeleteDraftLock removes an invalidated draft lock.
func (s *Store) DeleteDraftLock(ctx context.Context, q Queryer, id int64) error {
	_, err := q.ExecContext(ctx, `DELETE FROM draft_locks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete draft lock %d: %w", id, err)
	}
	return nil
}

// CreateDraftLock reserves a UTXO for a prospective outgoing transaction.
func (s *Store) CreateDraftLock(ctx context.Context, d *models.DraftLock) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO draft_locks (wallet_id, txid, vout, label) VALUES (?, ?, ?, ?)`,
		d.WalletID, d.Txid, d.Vout, d.Label)
	if err != nil {
		return 0, fmt.Errorf("create draft lock %s:%d: %w", d.Txid, d.Vout, err)
	}
	return res.LastInsertId()
}
