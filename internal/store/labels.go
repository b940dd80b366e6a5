package store

import (
	"context"
	"fmt"

	"github.com/Fantasim/btcwalletsync/internal/models"
)

// ListLabelsForAddress returns every label attached to an address, used to
// propagate auto-labels onto newly created transactions (§4.6).
func (s *Store) ListLabelsForAddress(ctx context.Context, addressID int64) ([]*models.Label, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT l.id, l.wallet_id, l.name, l.created_at
		FROM labels l JOIN address_labels al ON al.label_id = l.id
		WHERE al.address_id = ?`, addressID)
	if err != nil {
		return nil, fmt.Errorf("list labels for address %d: %w", addressID, err)
	}
	defer rows.Close()

	var out []*models.Label
	for rows.Next() {
		var l models.Label
		var createdAt string
		if err := rows.Scan(&l.ID, &l.WalletID, &l.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("scan label row: %w", err)
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

// AddTransactionLabel links a label to a transaction, ignoring the insert
// if the pair already exists.
func (s *Store) AddTransactionLabel(ctx context.Context, q Queryer, transactionID, labelID int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT OR IGNORE INTO transaction_labels (transaction_id, label_id) VALUES (?, ?)`,
		transactionID, labelID)
	if err != nil {
		return fmt.Errorf("link label %d to transaction %d: %w", labelID, transactionID, err)
	}
	return nil
}

// CreateLabel inserts a new label for a wallet.
func (s *Store) CreateLabel(ctx context.Context, walletID, name string) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `INSERT INTO labels (wallet_id, name) VALUES (?, ?)`, walletID, name)
	if err != nil {
		return 0, fmt.Errorf("create label %q: %w", name, err)
	}
	return res.LastInsertId()
}

// AttachLabel links a label to an address.
func (s *Store) AttachLabel(ctx context.Context, addressID, labelID int64) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT OR IGNORE INTO address_labels (address_id, label_id) VALUES (?, ?)`, addressID, labelID)
	if err != nil {
		return fmt.Errorf("attach label %d to address %d: %w", labelID, addressID, err)
	}
	return nil
}
