// Package nodeclient provides a unified capability surface over Electrum
// and Bitcoin Core JSON-RPC remote nodes (§4.1), normalizing both wire
// dialects into the same intermediate record shape so the pipeline never
// branches on transport.
package nodeclient

import (
	"context"
	"math"

	"github.com/Fantasim/btcwalletsync/internal/config"
)

// HistoryEntry is one entry of an address's confirmed-or-mempool history.
// Height=0 means the transaction is unconfirmed (mempool).
type HistoryEntry struct {
	Txid   string
	Height int64
}

// UTXOEntry is one unspent output reported by the remote node for an address.
type UTXOEntry struct {
	Txid   string
	Vout   uint32
	Height int64 // 0 means mempool
	Value  int64 // satoshis, already normalized
}

// Prevout is the resolved previous output of a transaction input, present
// only when the remote node's verbose mode inlines it.
type Prevout struct {
	Address string
	Value   int64 // satoshis, already normalized
}

// Vin is one normalized transaction input.
type Vin struct {
	Txid     string
	Vout     uint32
	Coinbase bool
	Prevout  *Prevout
}

// Vout is one normalized transaction output.
type Vout struct {
	Value        int64 // satoshis, already normalized
	Address      string // empty if no decodable address (e.g. OP_RETURN)
	ScriptPubKey string
}

// TxRecord is the intermediate normalized transaction record every
// implementation returns, regardless of wire dialect (§9 "Dynamically-typed
// wire records").
type TxRecord struct {
	Txid          string
	Hex           string
	Confirmations int64
	BlockHeight   *int64
	BlockTime     *int64 // unix seconds, from the server's own "time" field when present
	Vin           []Vin
	Vout          []Vout
	Fee           *int64 // satoshis, when the server reports it directly
}

// Client is the capability surface the pipeline consumes (§4.1). Two
// implementations are mandated: Electrum stratum and Bitcoin Core JSON-RPC.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool

	GetBlockHeight(ctx context.Context) (int64, error)
	GetBlockHeader(ctx context.Context, height int64) (string, error)

	GetAddressHistory(ctx context.Context, address string) ([]HistoryEntry, error)
	GetAddressHistoryBatch(ctx context.Context, addresses []string) (map[string][]HistoryEntry, error)

	GetAddressUTXOs(ctx context.Context, address string) ([]UTXOEntry, error)
	GetAddressUTXOsBatch(ctx context.Context, addresses []string) (map[string][]UTXOEntry, error)

	GetTransaction(ctx context.Context, txid string, verbose bool) (*TxRecord, error)
	GetTransactionsBatch(ctx context.Context, txids []string) (map[string]*TxRecord, error)

	BroadcastTransaction(ctx context.Context, rawHex string) (string, error)
	EstimateFee(ctx context.Context, blocks int) (float64, error)
}

// NormalizeAmount applies the heuristic mandated by §4.1/§6: values at or
// above SatoshiThreshold are already satoshis; smaller values are BTC
// decimals that must be multiplied up.
func NormalizeAmount(v float64) int64 {
	if v >= float64(config.SatoshiThreshold) {
		return int64(math.Round(v))
	}
	return int64(math.Round(v * float64(config.SatoshisPerBTC)))
}
