package nodeclient

import (
	"bufio"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/Fantasim/btcwalletsync/internal/config"
)

// electrumRequest is one newline-delimited JSON-RPC 2.0 request frame.
type electrumRequest struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// electrumResponse is one newline-delimited JSON-RPC 2.0 response frame.
type electrumResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *electrumError  `json:"error"`
}

type electrumError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *electrumError) Error() string {
	return fmt.Sprintf("electrum error %d: %s", e.Code, e.Message)
}

// ElectrumClient talks stratum (newline-delimited JSON-RPC 2.0) to an
// Electrum(X) server over TCP or TLS.
//
// Requests are serialized through a single connection mutex: the server
// still sees request-id correlated frames, but this client does not
// pipeline concurrent requests onto one socket. Safe for concurrent callers.
type ElectrumClient struct {
	addr   string
	useTLS bool
	params *chaincfg.Params

	connMu sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	nextID uint64

	limiter *RateLimiter
	breaker *CircuitBreaker
}

// NewElectrumClient creates a client for the given host:port, using TLS
// when useTLS is true. network selects the chain params used to decode
// addresses when computing script hashes (§6).
func NewElectrumClient(host string, port int, useTLS bool, network string) *ElectrumClient {
	return &ElectrumClient{
		addr:    fmt.Sprintf("%s:%d", host, port),
		useTLS:  useTLS,
		params:  chainParamsForNetwork(network),
		limiter: NewRateLimiter("electrum:"+host, config.NodeClientRequestsPerSecond),
		breaker: NewCircuitBreaker(config.CircuitBreakerThreshold, config.CircuitBreakerCooldown),
	}
}

// chainParamsForNetwork maps a wallet's network string onto the matching
// btcd chain parameters, defaulting to mainnet for an unrecognized value.
func chainParamsForNetwork(network string) *chaincfg.Params {
	switch network {
	case "testnet":
		return &chaincfg.TestNet3Params
	case "signet":
		return &chaincfg.SigNetParams
	case "regtest":
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

func (c *ElectrumClient) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		return nil
	}

	d := net.Dialer{Timeout: config.NodeRequestTimeout}
	var conn net.Conn
	var err error
	if c.useTLS {
		conn, err = tls.DialWithDialer(&d, "tcp", c.addr, &tls.Config{})
	} else {
		conn, err = d.DialContext(ctx, "tcp", c.addr)
	}
	if err != nil {
		return fmt.Errorf("connect to electrum server %s: %w", c.addr, err)
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

func (c *ElectrumClient) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	return err
}

func (c *ElectrumClient) IsConnected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn != nil
}

func (c *ElectrumClient) call(ctx context.Context, method string, params []any, result any) error {
	if !c.breaker.Allow() {
		return config.ErrCircuitOpen
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	if err := c.Connect(ctx); err != nil {
		c.breaker.RecordFailure()
		return err
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()

	id := atomic.AddUint64(&c.nextID, 1)
	req := electrumRequest{ID: id, Method: method, Params: params}

	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(dl)
	} else {
		c.conn.SetDeadline(time.Now().Add(config.NodeRequestTimeout))
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal electrum request %s: %w", method, err)
	}
	if _, err := c.conn.Write(append(payload, '\n')); err != nil {
		c.breaker.RecordFailure()
		c.conn = nil
		return fmt.Errorf("write electrum request %s: %w", method, err)
	}

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		c.breaker.RecordFailure()
		c.conn = nil
		return fmt.Errorf("read electrum response for %s: %w", method, err)
	}

	var resp electrumResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		c.breaker.RecordFailure()
		return fmt.Errorf("decode electrum response for %s: %w", method, err)
	}
	if resp.Error != nil {
		c.breaker.RecordFailure()
		return resp.Error
	}

	c.breaker.RecordSuccess()

	if result != nil {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("unmarshal electrum result for %s: %w", method, err)
		}
	}
	return nil
}

func (c *ElectrumClient) GetBlockHeight(ctx context.Context) (int64, error) {
	var headers struct {
		Height int64 `json:"height"`
	}
	if err := c.call(ctx, "blockchain.headers.subscribe", []any{}, &headers); err != nil {
		return 0, err
	}
	return headers.Height, nil
}

func (c *ElectrumClient) GetBlockHeader(ctx context.Context, height int64) (string, error) {
	var hex string
	if err := c.call(ctx, "blockchain.block.header", []any{height}, &hex); err != nil {
		return "", err
	}
	return hex, nil
}

func (c *ElectrumClient) GetAddressHistory(ctx context.Context, address string) ([]HistoryEntry, error) {
	scriptHash, err := c.ScriptHashForAddress(address)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		TxHash string `json:"tx_hash"`
		Height int64  `json:"height"`
	}
	if err := c.call(ctx, "blockchain.scripthash.get_history", []any{scriptHash}, &raw); err != nil {
		return nil, fmt.Errorf("get history for %s: %w", address, err)
	}

	out := make([]HistoryEntry, len(raw))
	for i, r := range raw {
		out[i] = HistoryEntry{Txid: r.TxHash, Height: r.Height}
	}
	return out, nil
}

// GetAddressHistoryBatch has no native batch primitive in the Electrum
// protocol; it fans out per-address and tolerates individual failures by
// recording an empty history, matching §4.4's caller-side fallback.
func (c *ElectrumClient) GetAddressHistoryBatch(ctx context.Context, addresses []string) (map[string][]HistoryEntry, error) {
	out := make(map[string][]HistoryEntry, len(addresses))
	for _, addr := range addresses {
		hist, err := c.GetAddressHistory(ctx, addr)
		if err != nil {
			out[addr] = nil
			continue
		}
		out[addr] = hist
	}
	return out, nil
}

func (c *ElectrumClient) GetAddressUTXOs(ctx context.Context, address string) ([]UTXOEntry, error) {
	scriptHash, err := c.ScriptHashForAddress(address)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		TxHash string `json:"tx_hash"`
		TxPos  uint32 `json:"tx_pos"`
		Height int64  `json:"height"`
		Value  int64  `json:"value"`
	}
	if err := c.call(ctx, "blockchain.scripthash.listunspent", []any{scriptHash}, &raw); err != nil {
		return nil, fmt.Errorf("list unspent for %s: %w", address, err)
	}

	out := make([]UTXOEntry, len(raw))
	for i, r := range raw {
		out[i] = UTXOEntry{Txid: r.TxHash, Vout: r.TxPos, Height: r.Height, Value: r.Value}
	}
	return out, nil
}

func (c *ElectrumClient) GetAddressUTXOsBatch(ctx context.Context, addresses []string) (map[string][]UTXOEntry, error) {
	out := make(map[string][]UTXOEntry, len(addresses))
	for _, addr := range addresses {
		utxos, err := c.GetAddressUTXOs(ctx, addr)
		if err != nil {
			out[addr] = nil
			continue
		}
		out[addr] = utxos
	}
	return out, nil
}

// electrumVerboseTx mirrors the decoded shape electrumx returns for
// blockchain.transaction.get with verbose=true.
type electrumVerboseTx struct {
	Txid          string `json:"txid"`
	Hex           string `json:"hex"`
	Confirmations int64  `json:"confirmations"`
	Time          int64  `json:"time"`
	BlockHash     string `json:"blockhash"`
	Vin           []struct {
		Txid      string `json:"txid"`
		Vout      uint32 `json:"vout"`
		Coinbase  string `json:"coinbase"`
	} `json:"vin"`
	Vout []struct {
		Value        float64 `json:"value"`
		ScriptPubKey struct {
			Hex       string   `json:"hex"`
			Addresses []string `json:"addresses"`
			Address   string   `json:"address"`
		} `json:"scriptPubKey"`
	} `json:"vout"`
}

func (c *ElectrumClient) GetTransaction(ctx context.Context, txid string, verbose bool) (*TxRecord, error) {
	if !verbose {
		var hex string
		if err := c.call(ctx, "blockchain.transaction.get", []any{txid, false}, &hex); err != nil {
			return nil, err
		}
		return &TxRecord{Txid: txid, Hex: hex}, nil
	}

	var raw electrumVerboseTx
	if err := c.call(ctx, "blockchain.transaction.get", []any{txid, true}, &raw); err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", txid, err)
	}

	rec := &TxRecord{
		Txid:          raw.Txid,
		Hex:           raw.Hex,
		Confirmations: raw.Confirmations,
	}
	if raw.Time > 0 {
		t := raw.Time
		rec.BlockTime = &t
	}

	for _, v := range raw.Vin {
		rec.Vin = append(rec.Vin, Vin{
			Txid:     v.Txid,
			Vout:     v.Vout,
			Coinbase: v.Coinbase != "",
		})
	}
	for _, v := range raw.Vout {
		addr := v.ScriptPubKey.Address
		if addr == "" && len(v.ScriptPubKey.Addresses) > 0 {
			addr = v.ScriptPubKey.Addresses[0]
		}
		rec.Vout = append(rec.Vout, Vout{
			Value:        NormalizeAmount(v.Value),
			Address:      addr,
			ScriptPubKey: v.ScriptPubKey.Hex,
		})
	}

	return rec, nil
}

// GetTransactionsBatch has no native batch primitive in the Electrum
// protocol; it fans out per-txid and tolerates individual failures by
// omitting that txid from the result map (§4.1 "partial maps are permitted").
func (c *ElectrumClient) GetTransactionsBatch(ctx context.Context, txids []string) (map[string]*TxRecord, error) {
	out := make(map[string]*TxRecord, len(txids))
	for _, txid := range txids {
		rec, err := c.GetTransaction(ctx, txid, true)
		if err != nil {
			continue
		}
		out[txid] = rec
	}
	return out, nil
}

func (c *ElectrumClient) BroadcastTransaction(ctx context.Context, rawHex string) (string, error) {
	var txid string
	if err := c.call(ctx, "blockchain.transaction.broadcast", []any{rawHex}, &txid); err != nil {
		return "", fmt.Errorf("broadcast transaction: %w", err)
	}
	return txid, nil
}

func (c *ElectrumClient) EstimateFee(ctx context.Context, blocks int) (float64, error) {
	var feeRate float64
	if err := c.call(ctx, "blockchain.estimatefee", []any{blocks}, &feeRate); err != nil {
		return 0, fmt.Errorf("estimate fee: %w", err)
	}
	return feeRate, nil
}

// ScriptHashForAddress computes Electrum's script-hash address identifier:
// SHA-256 of the scriptPubKey, byte-reversed (§6, GLOSSARY).
func (c *ElectrumClient) ScriptHashForAddress(address string) (string, error) {
	decoded, err := btcutil.DecodeAddress(address, c.params)
	if err != nil {
		return "", fmt.Errorf("decode address %s: %w", address, err)
	}
	script, err := txscript.PayToAddrScript(decoded)
	if err != nil {
		return "", fmt.Errorf("build script for %s: %w", address, err)
	}
	h := sha256.Sum256(script)
	return hex.EncodeToString(reverseBytes(h[:])), nil
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}
