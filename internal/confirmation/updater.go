// Package confirmation implements the two repair operations that keep a
// wallet's transaction rows current after they are no longer touched by a
// fresh sync run: shallow-confirmation refresh, and backfill of fields a
// transaction was created without (§4.15).
package confirmation

import (
	"context"
	"fmt"
	"time"

	"github.com/Fantasim/btcwalletsync/internal/blockheight"
	"github.com/Fantasim/btcwalletsync/internal/config"
	"github.com/Fantasim/btcwalletsync/internal/models"
	"github.com/Fantasim/btcwalletsync/internal/nodeclient"
	"github.com/Fantasim/btcwalletsync/internal/pipeline/phases"
	"github.com/Fantasim/btcwalletsync/internal/store"
)

// UpdateTransactionConfirmations recomputes confirmations for every shallow
// transaction (below deepThreshold) and flips rbfStatus to confirmed on the
// zero→positive transition. Rows whose confirmation count doesn't change are
// left untouched.
func UpdateTransactionConfirmations(ctx context.Context, st *store.Store, heights *blockheight.Service, walletID string, deepThreshold int) error {
	if deepThreshold <= 0 {
		deepThreshold = config.DefaultDeepConfirmationThreshold
	}

	candidates, err := st.ListConfirmationCandidates(ctx, walletID, deepThreshold)
	if err != nil {
		return fmt.Errorf("update confirmations: list candidates: %w", err)
	}

	tip := heights.Height()

	for _, t := range candidates {
		if t.BlockHeight == nil {
			continue
		}
		newConf := tip - *t.BlockHeight + 1
		if newConf < 0 {
			newConf = 0
		}
		if newConf == t.Confirmations {
			continue
		}

		rbfStatus := t.RBFStatus
		if t.Confirmations == 0 && newConf > 0 {
			rbfStatus = models.RBFConfirmed
		}

		if err := st.UpdateConfirmations(ctx, st.DB(), t.ID, newConf, rbfStatus); err != nil {
			return fmt.Errorf("update confirmations for %s: %w", t.Txid, err)
		}
	}

	return nil
}

// PopulateMissingTransactionFields backfills fee, blockHeight, blockTime,
// counterpartyAddress, and addressId on legacy rows that were created before
// that data was available, reusing the same classification logic a fresh
// sync run applies to new transactions.
//
// Transaction detail and prev-tx lookups go through the same chunked
// GetTransactionsBatch pre-fetch processTransactionsPhase uses, sized by
// config.TxBatchSizeBackfill rather than the larger main-pipeline batch.
func PopulateMissingTransactionFields(ctx context.Context, st *store.Store, client nodeclient.Client, heights *blockheight.Service, walletID string) error {
	wallet, err := st.GetWallet(ctx, walletID)
	if err != nil {
		return fmt.Errorf("populate missing fields: load wallet: %w", err)
	}
	index, err := st.LoadAddressIndex(ctx, walletID)
	if err != nil {
		return fmt.Errorf("populate missing fields: load addresses: %w", err)
	}

	tip := heights.Height()
	pc := phases.NewContext(st, client, heights, nil, nil, nil, wallet, index.Addresses, tip)

	missing, err := st.ListMissingFields(ctx, walletID)
	if err != nil {
		return fmt.Errorf("populate missing fields: list: %w", err)
	}
	if len(missing) == 0 {
		return nil
	}

	txids := make([]string, len(missing))
	for i, t := range missing {
		txids[i] = t.Txid
	}
	txDetails := fetchTransactionsChunked(ctx, client, txids)

	needed := make(map[string]struct{})
	for _, rec := range txDetails {
		for _, vin := range rec.Vin {
			if vin.Coinbase || vin.Prevout != nil || vin.Txid == "" {
				continue
			}
			needed[vin.Txid] = struct{}{}
		}
	}
	neededTxids := make([]string, 0, len(needed))
	for txid := range needed {
		neededTxids = append(neededTxids, txid)
	}
	prevTxCache := fetchTransactionsChunked(ctx, client, neededTxids)

	addresses := make([]string, len(index.Addresses))
	for i, a := range index.Addresses {
		addresses[i] = a.Address
	}
	historyHeights := fetchHistoryHeightsByTxid(ctx, client, addresses)

	for _, t := range missing {
		rec, ok := txDetails[t.Txid]
		if !ok || rec == nil {
			continue
		}

		resolvedInputs := phases.ResolveInputs(rec.Vin, prevTxCache)

		var height int64
		switch {
		case rec.BlockHeight != nil:
			height = *rec.BlockHeight
		case historyHeights[t.Txid] > 0:
			height = historyHeights[t.Txid]
		case t.BlockHeight != nil:
			height = *t.BlockHeight
		}
		classification := phases.Classify(rec, resolvedInputs, height, pc)

		blockTime := phases.ResolveBlockTime(rec, height, func(h int64) (time.Time, error) {
			return heights.TimestampForHeight(ctx, h)
		})

		var blockHeight *int64
		if height > 0 {
			h := height
			blockHeight = &h
		}

		if err := st.UpdateBackfilledFields(ctx, st.DB(), t.ID, classification.Fee, blockHeight, blockTime, classification.CounterpartyAddress, classification.AddressID); err != nil {
			return fmt.Errorf("populate missing fields for %s: %w", t.Txid, err)
		}
	}

	return nil
}

// fetchTransactionsChunked fetches txids in config.TxBatchSizeBackfill-sized
// batches, falling back to a sequential per-txid GetTransaction call within a
// chunk when its batch call fails.
func fetchTransactionsChunked(ctx context.Context, client nodeclient.Client, txids []string) map[string]*nodeclient.TxRecord {
	out := make(map[string]*nodeclient.TxRecord, len(txids))
	for _, batch := range chunkStrings(txids, config.TxBatchSizeBackfill) {
		result, err := client.GetTransactionsBatch(ctx, batch)
		if err != nil {
			for _, txid := range batch {
				if rec, err := client.GetTransaction(ctx, txid, true); err == nil {
					out[txid] = rec
				}
			}
			continue
		}
		for txid, rec := range result {
			out[txid] = rec
		}
	}
	return out
}

// fetchHistoryHeightsByTxid fetches every address's history and indexes the
// height it reports for each txid, used when a node's verbose transaction
// record omits blockHeight.
func fetchHistoryHeightsByTxid(ctx context.Context, client nodeclient.Client, addresses []string) map[string]int64 {
	out := make(map[string]int64)
	if len(addresses) == 0 {
		return out
	}
	histories, err := client.GetAddressHistoryBatch(ctx, addresses)
	if err != nil {
		return out
	}
	for _, hist := range histories {
		for _, entry := range hist {
			out[entry.Txid] = entry.Height
		}
	}
	return out
}

func chunkStrings(values []string, size int) [][]string {
	if size <= 0 {
		size = len(values)
	}
	var out [][]string
	for i := 0; i < len(values); i += size {
		end := i + size
		if end > len(values) {
			end = len(values)
		}
		out = append(out, values[i:end])
	}
	return out
}
