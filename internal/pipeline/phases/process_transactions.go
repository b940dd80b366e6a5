package phases

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Fantasim/btcwalletsync/internal/config"
	"github.com/Fantasim/btcwalletsync/internal/models"
	"github.com/Fantasim/btcwalletsync/internal/nodeclient"
	"github.com/Fantasim/btcwalletsync/internal/notify"
)

// ProcessTransactions is the algorithmic heart of a sync run: it fetches,
// classifies, and persists every newly seen transaction (§4.6).
func ProcessTransactions(ctx context.Context, pc *Context) error {
	if len(pc.NewTxids) == 0 {
		return nil
	}

	fetchTransactionDetails(ctx, pc)

	needed := neededPrevTxids(pc)
	fetchPrevTransactions(ctx, pc, needed)

	historyHeights := historyHeightByTxid(pc)

	type prepared struct {
		rec            *nodeclient.TxRecord
		classification Classification
		resolvedInputs []ResolvedInput
	}

	var toInsert []prepared
	seen := make(map[string]struct{})

	for _, txid := range pc.NewTxids {
		rec, ok := pc.TxDetailsCache[txid]
		if !ok || rec == nil {
			continue
		}
		if _, dup := seen[txid]; dup {
			continue
		}
		seen[txid] = struct{}{}

		resolvedInputs := ResolveInputs(rec.Vin, pc.PrevTxCache)
		classification := Classify(rec, resolvedInputs, historyHeights[txid], pc)

		blockTime := ResolveBlockTime(rec, heightOf(rec, historyHeights[txid]), func(h int64) (t time.Time, err error) {
			return pc.Heights.TimestampForHeight(ctx, h)
		})

		tx := &models.Transaction{
			WalletID:            pc.Wallet.ID,
			Txid:                txid,
			Type:                classification.Type,
			Amount:              classification.Amount,
			Fee:                 classification.Fee,
			BlockHeight:         blockHeightOrNil(rec, historyHeights[txid]),
			BlockTime:           blockTime,
			Confirmations:       classification.Confirmations,
			RBFStatus:           classification.RBFStatus,
			AddressID:           classification.AddressID,
			CounterpartyAddress: classification.CounterpartyAddress,
		}

		toInsert = append(toInsert, prepared{rec: rec, classification: classification, resolvedInputs: resolvedInputs})
		pc.NewTransactions = append(pc.NewTransactions, tx)
	}

	for i, t := range pc.NewTransactions {
		id, err := pc.Store.InsertTransaction(ctx, pc.Store.DB(), t)
		if err != nil {
			return fmt.Errorf("process transactions: insert %s: %w", t.Txid, err)
		}
		t.ID = id

		rec := toInsert[i].rec
		resolvedInputs := toInsert[i].resolvedInputs

		if err := persistInputsAndOutputs(ctx, pc, t, rec, resolvedInputs); err != nil {
			return err
		}
	}

	if err := relinkRBFAfterInsert(ctx, pc); err != nil {
		return err
	}

	if err := applyAutoLabels(ctx, pc); err != nil {
		return err
	}

	notifyNewTransactions(pc)

	pc.Stats.TransactionsProcessed = len(pc.NewTxids)
	pc.Stats.NewTransactionsCreated = len(pc.NewTransactions)
	return nil
}

func fetchTransactionDetails(ctx context.Context, pc *Context) {
	var mu sync.Mutex
	for _, batch := range chunk(pc.NewTxids, config.TxBatchSizeMain) {
		result, err := pc.Client.GetTransactionsBatch(ctx, batch)
		if err != nil {
			fanOut(batch, config.TransactionFanoutWidth, func(txid string) {
				rec, err := pc.Client.GetTransaction(ctx, txid, true)
				if err != nil {
					return
				}
				mu.Lock()
				pc.TxDetailsCache[txid] = rec
				mu.Unlock()
			})
			continue
		}
		mu.Lock()
		for txid, rec := range result {
			pc.TxDetailsCache[txid] = rec
		}
		mu.Unlock()
	}
}

// neededPrevTxids scans every fetched record's unresolved non-coinbase
// inputs, not only those already known to belong to sent/consolidation
// transactions — classification itself depends on resolving inputs first.
func neededPrevTxids(pc *Context) []string {
	needed := make(map[string]struct{})
	for _, rec := range pc.TxDetailsCache {
		for _, vin := range rec.Vin {
			if vin.Coinbase || vin.Prevout != nil || vin.Txid == "" {
				continue
			}
			needed[vin.Txid] = struct{}{}
		}
	}
	out := make([]string, 0, len(needed))
	for txid := range needed {
		out = append(out, txid)
	}
	return out
}

func fetchPrevTransactions(ctx context.Context, pc *Context, txids []string) {
	if len(txids) == 0 {
		return
	}
	var mu sync.Mutex
	result, err := pc.Client.GetTransactionsBatch(ctx, txids)
	if err != nil {
		fanOut(txids, config.TransactionFanoutWidth, func(txid string) {
			rec, err := pc.Client.GetTransaction(ctx, txid, true)
			if err != nil {
				return
			}
			mu.Lock()
			pc.PrevTxCache[txid] = rec
			mu.Unlock()
		})
		return
	}
	for txid, rec := range result {
		pc.PrevTxCache[txid] = rec
	}
}

// historyHeightByTxid indexes the height reported by address history for
// each txid, used as a fallback when the verbose record lacks one.
func historyHeightByTxid(pc *Context) map[string]int64 {
	out := make(map[string]int64)
	for _, hist := range pc.HistoryResults {
		for _, entry := range hist {
			out[entry.Txid] = entry.Height
		}
	}
	return out
}

func heightOf(rec *nodeclient.TxRecord, historyHeight int64) int64 {
	if rec.BlockHeight != nil {
		return *rec.BlockHeight
	}
	return historyHeight
}

func blockHeightOrNil(rec *nodeclient.TxRecord, historyHeight int64) *int64 {
	h := heightOf(rec, historyHeight)
	if h <= 0 {
		return nil
	}
	return &h
}

func persistInputsAndOutputs(ctx context.Context, pc *Context, t *models.Transaction, rec *nodeclient.TxRecord, resolvedInputs []ResolvedInput) error {
	var inputs []models.TransactionInput
	for i, in := range resolvedInputs {
		if in.Vin.Coinbase || !in.Resolved || in.Address == "" {
			continue
		}
		derivationPath := ""
		if a, ok := pc.AddressByString(in.Address); ok {
			derivationPath = a.DerivationPath
		}
		inputs = append(inputs, models.TransactionInput{
			TransactionID:  t.ID,
			InputIndex:     i,
			PrevTxid:       in.Vin.Txid,
			PrevVout:       in.Vin.Vout,
			Address:        in.Address,
			Amount:         in.Amount,
			DerivationPath: derivationPath,
		})
	}
	if len(inputs) > 0 {
		if err := pc.Store.InsertInputs(ctx, pc.Store.DB(), inputs); err != nil {
			return fmt.Errorf("persist inputs for %s: %w", t.Txid, err)
		}
	}

	var outputs []models.TransactionOutput
	for i, out := range rec.Vout {
		if out.Address == "" {
			continue // OP_RETURN or otherwise undecodable
		}
		isOurs := pc.IsWalletAddress(out.Address)
		outputType := classifyOutput(t.Type, isOurs)
		outputs = append(outputs, models.TransactionOutput{
			TransactionID: t.ID,
			OutputIndex:   i,
			Address:       out.Address,
			Amount:        out.Value,
			ScriptPubKey:  out.ScriptPubKey,
			OutputType:    outputType,
			IsOurs:        isOurs,
		})
	}
	if len(outputs) > 0 {
		if err := pc.Store.InsertOutputs(ctx, pc.Store.DB(), outputs); err != nil {
			return fmt.Errorf("persist outputs for %s: %w", t.Txid, err)
		}
	}

	return nil
}

func classifyOutput(txType models.TransactionType, isOurs bool) models.OutputType {
	switch txType {
	case models.TxConsolidation:
		return models.OutputConsolidation
	case models.TxSent:
		if isOurs {
			return models.OutputChange
		}
		return models.OutputRecipient
	default: // received
		if isOurs {
			return models.OutputRecipient
		}
		return models.OutputUnknown
	}
}

// relinkRBFAfterInsert re-examines active unconfirmed transactions against
// any newly confirmed ones introduced by this batch (§4.6 "Intra-batch RBF
// linking").
func relinkRBFAfterInsert(ctx context.Context, pc *Context) error {
	hasConfirmed := false
	for _, t := range pc.NewTransactions {
		if t.Confirmations > 0 {
			hasConfirmed = true
			break
		}
	}
	if !hasConfirmed {
		return nil
	}

	active, err := pc.Store.ListActiveUnconfirmed(ctx, pc.Wallet.ID)
	if err != nil {
		return fmt.Errorf("relink rbf: list active unconfirmed: %w", err)
	}

	for _, candidate := range active {
		inputs, err := pc.Store.ListInputsByTransaction(ctx, candidate.ID)
		if err != nil {
			return fmt.Errorf("relink rbf: list inputs for %s: %w", candidate.Txid, err)
		}
		for _, in := range inputs {
			spender, err := pc.Store.FindConfirmedSpenderOfInput(ctx, pc.Wallet.ID, in.PrevTxid, in.PrevVout, candidate.Txid)
			if err != nil {
				return fmt.Errorf("relink rbf: find confirmed spender for %s: %w", candidate.Txid, err)
			}
			if spender == nil || spender.Txid == candidate.Txid {
				continue
			}
			if err := pc.Store.MarkReplaced(ctx, pc.Store.DB(), candidate.ID, spender.Txid); err != nil {
				return fmt.Errorf("relink rbf: mark %s replaced: %w", candidate.Txid, err)
			}
			break
		}
	}
	return nil
}

func applyAutoLabels(ctx context.Context, pc *Context) error {
	for _, t := range pc.NewTransactions {
		if t.AddressID == nil {
			continue
		}
		labels, err := pc.Store.ListLabelsForAddress(ctx, *t.AddressID)
		if err != nil {
			return fmt.Errorf("auto-labels for %s: %w", t.Txid, err)
		}
		for _, l := range labels {
			if err := pc.Store.AddTransactionLabel(ctx, pc.Store.DB(), t.ID, l.ID); err != nil {
				return fmt.Errorf("attach auto-label to %s: %w", t.Txid, err)
			}
		}
	}
	return nil
}

func notifyNewTransactions(pc *Context) {
	if pc.Notifier == nil {
		return
	}
	for _, t := range pc.NewTransactions {
		pc.Notifier.Enqueue(notify.Event{
			Type:     notify.EventTransactionDetected,
			WalletID: pc.Wallet.ID,
			Data: notify.TransactionEventData{
				Txid:          t.Txid,
				Amount:        t.Amount,
				Confirmations: t.Confirmations,
			},
		})
	}
}
