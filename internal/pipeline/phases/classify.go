package phases

import (
	"time"

	"github.com/Fantasim/btcwalletsync/internal/config"
	"github.com/Fantasim/btcwalletsync/internal/models"
	"github.com/Fantasim/btcwalletsync/internal/nodeclient"
)

// ResolvedInput is one transaction input with its prevout address/amount
// resolved, either from an inlined prevout or from a prev-tx cache lookup.
type ResolvedInput struct {
	Vin      nodeclient.Vin
	Address  string
	Amount   int64
	Resolved bool
}

// ResolveInputs resolves every non-coinbase input's prevout against either
// its inlined data or prevTxCache.
func ResolveInputs(vins []nodeclient.Vin, prevTxCache map[string]*nodeclient.TxRecord) []ResolvedInput {
	out := make([]ResolvedInput, len(vins))
	for i, v := range vins {
		r := ResolvedInput{Vin: v}
		if v.Coinbase {
			out[i] = r
			continue
		}
		if v.Prevout != nil {
			r.Address = v.Prevout.Address
			r.Amount = v.Prevout.Value
			r.Resolved = true
			out[i] = r
			continue
		}
		if prevTx, ok := prevTxCache[v.Txid]; ok && int(v.Vout) < len(prevTx.Vout) {
			out[i] = ResolvedInput{
				Vin:      v,
				Address:  prevTx.Vout[v.Vout].Address,
				Amount:   prevTx.Vout[v.Vout].Value,
				Resolved: true,
			}
			continue
		}
		out[i] = r
	}
	return out
}

// Classification is the computed result of classifying one transaction
// record against a wallet's address set (§4.6).
type Classification struct {
	Type                models.TransactionType
	Amount              int64
	Fee                 *int64
	Confirmations       int64
	RBFStatus           models.RBFStatus
	CounterpartyAddress *string
	AddressID           *int64
	WalletInputCount    int
	ExternalOutputCount int
}

// Classify computes the full §4.6 classification for one transaction,
// given its resolved inputs, the wallet's address membership/id lookup,
// and the current tip height for confirmation math. historyHeight is the
// height reported by address history (0 for mempool) and is used when the
// record itself carries no block height.
func Classify(rec *nodeclient.TxRecord, resolvedInputs []ResolvedInput, historyHeight int64, pc *Context) Classification {
	walletInputs := 0
	for _, in := range resolvedInputs {
		if in.Resolved && pc.IsWalletAddress(in.Address) {
			walletInputs++
		}
	}

	externalOutputs := 0
	for _, out := range rec.Vout {
		if out.Address == "" {
			continue
		}
		if !pc.IsWalletAddress(out.Address) {
			externalOutputs++
		}
	}

	var txType models.TransactionType
	switch {
	case walletInputs == 0:
		txType = models.TxReceived
	case externalOutputs == 0:
		txType = models.TxConsolidation
	default:
		txType = models.TxSent
	}

	fee := computeFee(rec, resolvedInputs, txType)
	amount := computeAmount(rec, txType, fee, pc)

	blockHeight := rec.BlockHeight
	height := historyHeight
	if blockHeight != nil {
		height = *blockHeight
	}
	confirmations := int64(0)
	if height > 0 {
		confirmations = pc.TipHeight - height + 1
		if confirmations < 0 {
			confirmations = 0
		}
	}
	rbfStatus := models.RBFActive
	if confirmations > 0 {
		rbfStatus = models.RBFConfirmed
	}

	counterparty := computeCounterparty(rec, resolvedInputs, txType, pc)
	addressID := computeAddressID(rec, resolvedInputs, txType, pc)

	return Classification{
		Type:                txType,
		Amount:              amount,
		Fee:                 fee,
		Confirmations:       confirmations,
		RBFStatus:           rbfStatus,
		CounterpartyAddress: counterparty,
		AddressID:           addressID,
		WalletInputCount:    walletInputs,
		ExternalOutputCount: externalOutputs,
	}
}

func computeFee(rec *nodeclient.TxRecord, resolvedInputs []ResolvedInput, txType models.TransactionType) *int64 {
	if txType == models.TxReceived {
		return nil
	}

	if rec.Fee != nil && *rec.Fee < config.MaxPlausibleFeeSats {
		fee := *rec.Fee
		return &fee
	}

	var inputSum, outputSum int64
	allResolved := true
	for _, in := range resolvedInputs {
		if in.Vin.Coinbase {
			continue
		}
		if !in.Resolved {
			allResolved = false
			continue
		}
		inputSum += in.Amount
	}
	for _, out := range rec.Vout {
		outputSum += out.Value
	}

	if !allResolved || inputSum <= 0 || inputSum < outputSum {
		return nil
	}
	fee := inputSum - outputSum
	if fee <= 0 || fee >= config.MaxPlausibleFeeSats {
		return nil
	}
	return &fee
}

func computeAmount(rec *nodeclient.TxRecord, txType models.TransactionType, fee *int64, pc *Context) int64 {
	switch txType {
	case models.TxReceived:
		var sum int64
		for _, out := range rec.Vout {
			if out.Address != "" && pc.IsWalletAddress(out.Address) {
				sum += out.Value
			}
		}
		return sum

	case models.TxSent:
		var externalSum int64
		for _, out := range rec.Vout {
			if out.Address != "" && !pc.IsWalletAddress(out.Address) {
				externalSum += out.Value
			}
		}
		if fee != nil {
			externalSum += *fee
		}
		return -externalSum

	default: // consolidation
		if fee != nil {
			return -*fee
		}
		return 0
	}
}

func computeCounterparty(rec *nodeclient.TxRecord, resolvedInputs []ResolvedInput, txType models.TransactionType, pc *Context) *string {
	switch txType {
	case models.TxReceived:
		for _, in := range resolvedInputs {
			if in.Vin.Coinbase || !in.Resolved {
				continue
			}
			addr := in.Address
			return &addr
		}
		return nil

	case models.TxSent:
		for _, out := range rec.Vout {
			if out.Address != "" && !pc.IsWalletAddress(out.Address) {
				addr := out.Address
				return &addr
			}
		}
		return nil

	default:
		return nil
	}
}

func computeAddressID(rec *nodeclient.TxRecord, resolvedInputs []ResolvedInput, txType models.TransactionType, pc *Context) *int64 {
	switch txType {
	case models.TxReceived, models.TxConsolidation:
		for _, out := range rec.Vout {
			if out.Address == "" {
				continue
			}
			if a, ok := pc.AddressByString(out.Address); ok {
				id := a.ID
				return &id
			}
		}
		return nil

	case models.TxSent:
		for _, in := range resolvedInputs {
			if in.Vin.Coinbase || !in.Resolved {
				continue
			}
			if a, ok := pc.AddressByString(in.Address); ok {
				id := a.ID
				return &id
			}
		}
		return nil
	}
	return nil
}

// ResolveBlockTime returns a confirmed transaction's block time, from the
// record's own time field if present, else from the height/timestamp
// service via fetch.
func ResolveBlockTime(rec *nodeclient.TxRecord, height int64, fetch func(height int64) (time.Time, error)) *time.Time {
	if rec.BlockTime != nil {
		t := time.Unix(*rec.BlockTime, 0).UTC()
		return &t
	}
	if height <= 0 {
		return nil
	}
	t, err := fetch(height)
	if err != nil {
		return nil
	}
	return &t
}
