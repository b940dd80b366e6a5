package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Fantasim/btcwalletsync/internal/models"
)

// GetWallet loads a wallet by id.
func (s *Store) GetWallet(ctx context.Context, id string) (*models.Wallet, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, network, descriptor, type, script_type, quorum_m, quorum_n, created_at, last_sync_at
		FROM wallets WHERE id = ?`, id)
	return scanWallet(row)
}

func scanWallet(row *sql.Row) (*models.Wallet, error) {
	var w models.Wallet
	var createdAt string
	var lastSyncAt sql.NullString
	if err := row.Scan(&w.ID, &w.Network, &w.Descriptor, &w.Type, &w.ScriptType,
		&w.QuorumM, &w.QuorumN, &createdAt, &lastSyncAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan wallet: %w", err)
	}

	t, err := time.Parse(time.RFC3339, normalizeSQLiteTimestamp(createdAt))
	if err != nil {
		return nil, fmt.Errorf("parse wallet created_at: %w", err)
	}
	w.CreatedAt = t

	if lastSyncAt.Valid {
		ls, err := time.Parse(time.RFC3339, normalizeSQLiteTimestamp(lastSyncAt.String))
		if err != nil {
			return nil, fmt.Errorf("parse wallet last_sync_at: %w", err)
		}
		w.LastSyncAt = &ls
	}

	return &w, nil
}

// CreateWallet inserts a new wallet row, assigning it a random id when the
// caller hasn't already set one.
func (s *Store) CreateWallet(ctx context.Context, w *models.Wallet) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO wallets (id, network, descriptor, type, script_type, quorum_m, quorum_n)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.Network, w.Descriptor, w.Type, w.ScriptType, w.QuorumM, w.QuorumN)
	if err != nil {
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

// UpdateLastSync sets the wallet's last-sync timestamp.
func (s *Store) UpdateLastSync(ctx context.Context, walletID string, at time.Time) error {
	_, err := s.conn.ExecContext(ctx, `UPDATE wallets SET last_sync_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339), walletID)
	if err != nil {
		return fmt.Errorf("update wallet last_sync_at: %w", err)
	}
	return nil
}

// ListWallets returns every registered wallet, used by the daemon's sync ticker.
func (s *Store) ListWallets(ctx context.Context) ([]*models.Wallet, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, network, descriptor, type, script_type, quorum_m, quorum_n, created_at, last_sync_at
		FROM wallets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	var out []*models.Wallet
	for rows.Next() {
		var w models.Wallet
		var createdAt string
		var lastSyncAt sql.NullString
		if err := rows.Scan(&w.ID, &w.Network, &w.Descriptor, &w.Type, &w.ScriptType,
			&w.QuorumM, &w.QuorumN, &createdAt, &lastSyncAt); err != nil {
			return nil, fmt.Errorf("scan wallet row: %w", err)
		}
		t, err := time.Parse(time.RFC3339, normalizeSQLiteTimestamp(createdAt))
		if err != nil {
			return nil, fmt.Errorf("parse wallet created_at: %w", err)
		}
		w.CreatedAt = t
		if lastSyncAt.Valid {
			ls, err := time.Parse(time.RFC3339, normalizeSQLiteTimestamp(lastSyncAt.String))
			if err != nil {
				return nil, fmt.Errorf("parse wallet last_sync_at: %w", err)
			}
			w.LastSyncAt = &ls
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

// normalizeSQLiteTimestamp converts SQLite's "YYYY-MM-DD HH:MM:SS" default
// format into an RFC3339 string so it can be parsed uniformly; values
// already in RFC3339 pass through unchanged.
func normalizeSQLiteTimestamp(v string) string {
	if len(v) == len("2006-01-02 15:04:05") && v[10] == ' ' {
		return v[:10] + "T" + v[11:] + "Z"
	}
	return v
}
