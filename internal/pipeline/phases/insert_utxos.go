package phases

import (
	"context"
	"fmt"

	"github.com/Fantasim/btcwalletsync/internal/models"
)

// InsertUtxos persists every freshly fetched UTXO not already tracked
// (§4.9).
func InsertUtxos(ctx context.Context, pc *Context) error {
	existing, err := pc.Store.ListUTXOs(ctx, pc.Wallet.ID)
	if err != nil {
		return fmt.Errorf("insert utxos: list existing: %w", err)
	}
	have := make(map[string]struct{}, len(existing))
	for _, u := range existing {
		have[fmt.Sprintf("%s:%d", u.Txid, u.Vout)] = struct{}{}
	}

	for key := range pc.AllUTXOKeys {
		if _, ok := have[key]; ok {
			continue
		}
		entry := pc.UTXODataMap[key]

		var blockHeight *int64
		var confirmations int64
		if entry.UTXO.Height > 0 {
			h := entry.UTXO.Height
			blockHeight = &h
			confirmations = pc.TipHeight - h + 1
			if confirmations < 0 {
				confirmations = 0
			}
		}

		u := &models.UTXO{
			WalletID:      pc.Wallet.ID,
			Txid:          entry.UTXO.Txid,
			Vout:          entry.UTXO.Vout,
			Address:       entry.Address,
			Amount:        entry.UTXO.Value,
			BlockHeight:   blockHeight,
			Confirmations: confirmations,
			Spent:         false,
		}

		inserted, err := pc.Store.InsertUTXO(ctx, pc.Store.DB(), u)
		if err != nil {
			return fmt.Errorf("insert utxo %s: %w", key, err)
		}
		if inserted {
			pc.Stats.UTXOsInserted++
		}
	}

	return nil
}
