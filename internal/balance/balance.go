// Package balance recomputes a wallet's running transaction balances, the
// §4.14 repair operation invoked after classification changes (consolidation
// fix-ups, manual corrections) and reused by the sync pipeline itself.
package balance

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Fantasim/btcwalletsync/internal/config"
	"github.com/Fantasim/btcwalletsync/internal/store"
)

// Recalculate replays every transaction of a wallet in chronological order,
// writing a running balance_after snapshot onto each row. Writes are chunked
// so a large history doesn't hold one transaction open for the whole pass.
func Recalculate(ctx context.Context, st *store.Store, walletID string) error {
	txs, err := st.ListOrderedForBalance(ctx, walletID)
	if err != nil {
		return fmt.Errorf("recalculate balances: list: %w", err)
	}

	var running int64
	for start := 0; start < len(txs); start += config.BalanceChunkSize {
		end := start + config.BalanceChunkSize
		if end > len(txs) {
			end = len(txs)
		}
		chunk := txs[start:end]

		err := st.WithTx(ctx, func(tx *sql.Tx) error {
			for _, t := range chunk {
				running += t.Amount
				if err := st.UpdateBalanceAfter(ctx, tx, t.ID, running); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("recalculate balances: write chunk [%d:%d]: %w", start, end, err)
		}
	}

	return nil
}

// CorrectMisclassifiedConsolidations reclassifies sent transactions whose
// outputs now resolve entirely to wallet-owned addresses, then recalculates
// balances if anything changed. Exposed standalone for repair flows outside
// the sync pipeline (§4.14); the pipeline runs the equivalent check inline
// as its fixConsolidations phase.
func CorrectMisclassifiedConsolidations(ctx context.Context, st *store.Store, walletID string, isWalletAddress func(string) bool) error {
	sent, err := st.ListSentTransactions(ctx, walletID)
	if err != nil {
		return fmt.Errorf("correct consolidations: list sent: %w", err)
	}

	anyFixed := false
	for _, t := range sent {
		outputs, err := st.ListOutputsByTransaction(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("correct consolidations: list outputs for %s: %w", t.Txid, err)
		}
		if len(outputs) == 0 {
			continue
		}

		allOurs := true
		for _, o := range outputs {
			if !isWalletAddress(o.Address) {
				allOurs = false
				break
			}
		}
		if !allOurs {
			continue
		}

		newAmount := int64(0)
		if t.Fee != nil {
			newAmount = -*t.Fee
		}

		if err := st.UpdateToConsolidation(ctx, st.DB(), t.ID, newAmount); err != nil {
			return fmt.Errorf("correct consolidations: reclassify %s: %w", t.Txid, err)
		}
		if err := st.SetOutputsConsolidation(ctx, st.DB(), t.ID); err != nil {
			return fmt.Errorf("correct consolidations: set outputs for %s: %w", t.Txid, err)
		}
		anyFixed = true
	}

	if anyFixed {
		if err := Recalculate(ctx, st, walletID); err != nil {
			return fmt.Errorf("correct consolidations: recalculate balances: %w", err)
		}
	}

	return nil
}
