package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Fantasim/btcwalletsync/internal/models"
)

// AddressIndex is the set of derived lookup structures the pipeline
// Context carries for one sync run (§4.2 step 4): the full address list
// sorted by (chain, index), and an address-string-keyed map giving O(1)
// membership testing plus id and derivation-path lookup.
type AddressIndex struct {
	Addresses []*models.Address
	ByAddress map[string]*models.Address
}

// Contains reports whether addr belongs to the wallet.
func (a *AddressIndex) Contains(addr string) bool {
	_, ok := a.ByAddress[addr]
	return ok
}

// LoadAddressIndex loads every address of a wallet sorted by (chain, index).
func (s *Store) LoadAddressIndex(ctx context.Context, walletID string) (*AddressIndex, error) {
	addrs, err := s.ListAddresses(ctx, walletID)
	if err != nil {
		return nil, err
	}
	byAddr := make(map[string]*models.Address, len(addrs))
	for _, a := range addrs {
		byAddr[a.Address] = a
	}
	return &AddressIndex{Addresses: addrs, ByAddress: byAddr}, nil
}

// ListAddresses returns every address of a wallet ordered by chain, then index.
func (s *Store) ListAddresses(ctx context.Context, walletID string) ([]*models.Address, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, wallet_id, address, derivation_path, address_index, chain, used, created_at
		FROM addresses WHERE wallet_id = ? ORDER BY chain, address_index`, walletID)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	defer rows.Close()
	return scanAddressRows(rows)
}

// ListAddressesByChain returns addresses of a wallet restricted to one
// derivation chain (external/internal), ordered by index ascending.
func (s *Store) ListAddressesByChain(ctx context.Context, walletID string, chain models.AddressChain) ([]*models.Address, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, wallet_id, address, derivation_path, address_index, chain, used, created_at
		FROM addresses WHERE wallet_id = ? AND chain = ? ORDER BY address_index`, walletID, chain)
	if err != nil {
		return nil, fmt.Errorf("list addresses by chain: %w", err)
	}
	defer rows.Close()
	return scanAddressRows(rows)
}

func scanAddressRows(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]*models.Address, error) {
	var out []*models.Address
	for rows.Next() {
		var a models.Address
		var createdAt string
		var used int
		if err := rows.Scan(&a.ID, &a.WalletID, &a.Address, &a.DerivationPath, &a.Index, &a.Chain, &used, &createdAt); err != nil {
			return nil, fmt.Errorf("scan address row: %w", err)
		}
		a.Used = used != 0
		t, err := time.Parse(time.RFC3339, normalizeSQLiteTimestamp(createdAt))
		if err != nil {
			return nil, fmt.Errorf("parse address created_at: %w", err)
		}
		a.CreatedAt = t
		out = append(out, &a)
	}
	return out, rows.Err()
}

// InsertAddresses bulk-inserts addresses, skipping any whose (wallet,
// chain, index) or address string already exists. Returns the number of
// rows actually inserted.
func (s *Store) InsertAddresses(ctx context.Context, q Queryer, addrs []models.Address) (int, error) {
	inserted := 0
	for _, a := range addrs {
		res, err := q.ExecContext(ctx, `
			INSERT OR IGNORE INTO addresses (wallet_id, address, derivation_path, address_index, chain, used)
			VALUES (?, ?, ?, ?, ?, ?)`,
			a.WalletID, a.Address, a.DerivationPath, a.Index, a.Chain, boolToInt(a.Used))
		if err != nil {
			return inserted, fmt.Errorf("insert address %s: %w", a.Address, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("rows affected for address %s: %w", a.Address, err)
		}
		inserted += int(n)
	}
	return inserted, nil
}

// MarkAddressesUsed bulk-sets used=true for every address string in addrs
// that is not already used. Returns the number of rows actually changed.
func (s *Store) MarkAddressesUsed(ctx context.Context, q Queryer, walletID string, addrs []string) (int64, error) {
	if len(addrs) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(addrs))
	args := make([]any, 0, len(addrs)+1)
	args = append(args, walletID)
	for i, a := range addrs {
		placeholders[i] = "?"
		args = append(args, a)
	}

	query := fmt.Sprintf(`
		UPDATE addresses SET used = 1
		WHERE wallet_id = ? AND used = 0 AND address IN (%s)`, strings.Join(placeholders, ","))

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("mark addresses used: %w", err)
	}
	return res.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
