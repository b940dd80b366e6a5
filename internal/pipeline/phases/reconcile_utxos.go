package phases

import (
	"context"
	"fmt"
)

// ReconcileUtxos marks UTXOs spent that disappeared from a successfully
// fetched address's current set, refreshes confirmations for the rest, and
// releases draft locks on newly spent outputs (§4.8).
func ReconcileUtxos(ctx context.Context, pc *Context) error {
	existing, err := pc.Store.ListUTXOs(ctx, pc.Wallet.ID)
	if err != nil {
		return fmt.Errorf("reconcile utxos: list existing: %w", err)
	}

	fetchedAddrs := make([]string, 0, len(pc.SuccessfullyFetchedAddresses))
	for addr := range pc.SuccessfullyFetchedAddresses {
		fetchedAddrs = append(fetchedAddrs, addr)
	}

	spentCount, err := pc.Store.MarkUTXOsSpent(ctx, pc.Store.DB(), pc.Wallet.ID, fetchedAddrs, pc.AllUTXOKeys)
	if err != nil {
		return fmt.Errorf("reconcile utxos: mark spent: %w", err)
	}
	pc.Stats.UTXOsMarkedSpent = int(spentCount)

	for _, u := range existing {
		if u.Spent {
			continue
		}
		if _, fetched := pc.SuccessfullyFetchedAddresses[u.Address]; !fetched {
			continue
		}

		key := fmt.Sprintf("%s:%d", u.Txid, u.Vout)
		entry, present := pc.UTXODataMap[key]

		if !present {
			// Marked spent above (absent from the freshly fetched key set).
			if err := releaseDraftLocks(ctx, pc, u.Txid, u.Vout); err != nil {
				return err
			}
			continue
		}

		var newBlockHeight *int64
		var newConfirmations int64
		if entry.UTXO.Height > 0 {
			h := entry.UTXO.Height
			newBlockHeight = &h
			newConfirmations = pc.TipHeight - h + 1
			if newConfirmations < 0 {
				newConfirmations = 0
			}
		}
		// height<=0 (mempool, or reorg-rolled-back reappearance) falls through
		// with newBlockHeight=nil, newConfirmations=0.

		changed := !equalNullableInt64(u.BlockHeight, newBlockHeight) || u.Confirmations != newConfirmations
		if !changed {
			continue
		}
		if err := pc.Store.UpdateUTXOConfirmations(ctx, pc.Store.DB(), pc.Wallet.ID, u.Txid, u.Vout, newBlockHeight, newConfirmations); err != nil {
			return fmt.Errorf("reconcile utxos: update confirmations for %s: %w", key, err)
		}
	}

	return nil
}

func releaseDraftLocks(ctx context.Context, pc *Context, txid string, vout uint32) error {
	locks, err := pc.Store.ListDraftLocksByOutpoint(ctx, pc.Wallet.ID, txid, vout)
	if err != nil {
		return fmt.Errorf("list draft locks for %s:%d: %w", txid, vout, err)
	}
	for _, l := range locks {
		if err := pc.Store.DeleteDraftLock(ctx, pc.Store.DB(), l.ID); err != nil {
			return fmt.Errorf("delete draft lock %s: %w", l.Label, err)
		}
	}
	return nil
}

func equalNullableInt64(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
