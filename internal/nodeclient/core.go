package nodeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/Fantasim/btcwalletsync/internal/config"
)

type coreRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type coreResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *coreError      `json:"error"`
}

type coreError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *coreError) Error() string {
	return fmt.Sprintf("bitcoin core rpc error %d: %s", e.Code, e.Message)
}

// CoreClient talks Bitcoin Core's JSON-RPC-over-HTTP interface with Basic
// Auth (§6).
type CoreClient struct {
	url      string
	user     string
	password string

	httpClient *http.Client
	nextID     uint64

	connMu    sync.Mutex
	connected bool

	limiter *RateLimiter
	breaker *CircuitBreaker
}

// NewCoreClient creates a client targeting a Bitcoin Core RPC endpoint.
func NewCoreClient(url, user, password string) *CoreClient {
	return &CoreClient{
		url:      url,
		user:     user,
		password: password,
		httpClient: &http.Client{
			Timeout: config.NodeRequestTimeout,
		},
		limiter: NewRateLimiter("core:"+url, config.NodeClientRequestsPerSecond),
		breaker: NewCircuitBreaker(config.CircuitBreakerThreshold, config.CircuitBreakerCooldown),
	}
}

func (c *CoreClient) Connect(ctx context.Context) error {
	if _, err := c.GetBlockHeight(ctx); err != nil {
		return fmt.Errorf("connect to bitcoin core at %s: %w", c.url, err)
	}
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()
	return nil
}

func (c *CoreClient) Disconnect() error {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()
	return nil
}

func (c *CoreClient) IsConnected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.connected
}

// CallRPC issues one JSON-RPC request (version field "1.0") over HTTP with Basic Auth,
// honoring the circuit breaker and rate limiter before the round trip.
func (c *CoreClient) CallRPC(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if !c.breaker.Allow() {
		return nil, config.ErrCircuitOpen
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	id := atomic.AddUint64(&c.nextID, 1)
	req := coreRequest{JSONRPC: "1.0", ID: id, Method: method, Params: params}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal core rpc request %s: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build core rpc request %s: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.user, c.password)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, fmt.Errorf("call core rpc %s: %w", method, err)
	}
	defer resp.Body.Close()

	var decoded coreResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		c.breaker.RecordFailure()
		return nil, fmt.Errorf("decode core rpc response for %s: %w", method, err)
	}
	if decoded.Error != nil {
		c.breaker.RecordFailure()
		return nil, decoded.Error
	}

	c.breaker.RecordSuccess()
	return decoded.Result, nil
}

func (c *CoreClient) GetBlockHeight(ctx context.Context) (int64, error) {
	raw, err := c.CallRPC(ctx, "getblockcount", []any{})
	if err != nil {
		return 0, err
	}
	var height int64
	if err := json.Unmarshal(raw, &height); err != nil {
		return 0, fmt.Errorf("decode getblockcount: %w", err)
	}
	return height, nil
}

func (c *CoreClient) GetBlockHeader(ctx context.Context, height int64) (string, error) {
	hashRaw, err := c.CallRPC(ctx, "getblockhash", []any{height})
	if err != nil {
		return "", err
	}
	var hash string
	if err := json.Unmarshal(hashRaw, &hash); err != nil {
		return "", fmt.Errorf("decode getblockhash: %w", err)
	}

	headerRaw, err := c.CallRPC(ctx, "getblockheader", []any{hash, false})
	if err != nil {
		return "", err
	}
	var header string
	if err := json.Unmarshal(headerRaw, &header); err != nil {
		return "", fmt.Errorf("decode getblockheader: %w", err)
	}
	return header, nil
}

type coreReceivedAddress struct {
	Address string   `json:"address"`
	Txids   []string `json:"txids"`
}

func (c *CoreClient) GetAddressHistory(ctx context.Context, address string) ([]HistoryEntry, error) {
	raw, err := c.CallRPC(ctx, "listreceivedbyaddress", []any{0, true, true, address})
	if err != nil {
		return nil, fmt.Errorf("get history for %s: %w", address, err)
	}
	var received []coreReceivedAddress
	if err := json.Unmarshal(raw, &received); err != nil {
		return nil, fmt.Errorf("decode listreceivedbyaddress: %w", err)
	}

	seen := make(map[string]struct{})
	var out []HistoryEntry
	for _, r := range received {
		if r.Address != address {
			continue
		}
		for _, txid := range r.Txids {
			if _, ok := seen[txid]; ok {
				continue
			}
			seen[txid] = struct{}{}
			confirmations, height := c.confirmationsAndHeightOf(ctx, txid)
			if confirmations <= 0 {
				height = 0
			}
			out = append(out, HistoryEntry{Txid: txid, Height: height})
		}
	}
	return out, nil
}

// confirmationsAndHeightOf is a best-effort lookup used only to classify a
// history entry as confirmed-vs-mempool; failures degrade to "unconfirmed"
// rather than aborting the whole history fetch.
func (c *CoreClient) confirmationsAndHeightOf(ctx context.Context, txid string) (confirmations, height int64) {
	rec, err := c.GetTransaction(ctx, txid, true)
	if err != nil || rec == nil {
		return 0, 0
	}
	if rec.BlockHeight != nil {
		height = *rec.BlockHeight
	}
	return rec.Confirmations, height
}

func (c *CoreClient) GetAddressHistoryBatch(ctx context.Context, addresses []string) (map[string][]HistoryEntry, error) {
	out := make(map[string][]HistoryEntry, len(addresses))
	var mu sync.Mutex
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, config.HistoryFanoutWidth)

	for _, addr := range addresses {
		wg.Add(1)
		go func(address string) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			hist, err := c.GetAddressHistory(ctx, address)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out[address] = nil
				return
			}
			out[address] = hist
		}(addr)
	}
	wg.Wait()
	return out, nil
}

func (c *CoreClient) GetAddressUTXOs(ctx context.Context, address string) ([]UTXOEntry, error) {
	raw, err := c.CallRPC(ctx, "scantxoutset", []any{"start", []string{fmt.Sprintf("addr(%s)", address)}})
	if err != nil {
		return nil, fmt.Errorf("scan utxo set for %s: %w", address, err)
	}

	var scan struct {
		Success bool `json:"success"`
		Unspents []struct {
			Txid          string  `json:"txid"`
			Vout          uint32  `json:"vout"`
			Amount        float64 `json:"amount"`
			Height        int64   `json:"height"`
		} `json:"unspents"`
	}
	if err := json.Unmarshal(raw, &scan); err != nil {
		return nil, fmt.Errorf("decode scantxoutset: %w", err)
	}

	out := make([]UTXOEntry, len(scan.Unspents))
	for i, u := range scan.Unspents {
		out[i] = UTXOEntry{
			Txid:   u.Txid,
			Vout:   u.Vout,
			Height: u.Height,
			Value:  NormalizeAmount(u.Amount),
		}
	}
	return out, nil
}

func (c *CoreClient) GetAddressUTXOsBatch(ctx context.Context, addresses []string) (map[string][]UTXOEntry, error) {
	out := make(map[string][]UTXOEntry, len(addresses))
	var mu sync.Mutex
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, config.UTXOFanoutWidth)

	for _, addr := range addresses {
		wg.Add(1)
		go func(address string) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			utxos, err := c.GetAddressUTXOs(ctx, address)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out[address] = nil
				return
			}
			out[address] = utxos
		}(addr)
	}
	wg.Wait()
	return out, nil
}

type coreVerboseTx struct {
	Txid          string  `json:"txid"`
	Hex           string  `json:"hex"`
	Confirmations int64   `json:"confirmations"`
	Blockheight   int64   `json:"blockheight"`
	Blocktime     int64   `json:"blocktime"`
	Time          int64   `json:"time"`
	Vin           []struct {
		Txid     string `json:"txid"`
		Vout     uint32 `json:"vout"`
		Coinbase string `json:"coinbase"`
		PrevOut  *struct {
			Value        float64 `json:"value"`
			ScriptPubKey struct {
				Address string `json:"address"`
				Hex     string `json:"hex"`
			} `json:"scriptPubKey"`
		} `json:"prevout"`
	} `json:"vin"`
	Vout []struct {
		Value        float64 `json:"value"`
		ScriptPubKey struct {
			Address string `json:"address"`
			Hex     string `json:"hex"`
		} `json:"scriptPubKey"`
	} `json:"vout"`
}

// GetTransaction fetches a transaction via getrawtransaction. verbose=true
// requests verbosity 2 (decoded, with prevout enrichment fanned out
// concurrently for inputs missing inline prevout data).
func (c *CoreClient) GetTransaction(ctx context.Context, txid string, verbose bool) (*TxRecord, error) {
	verbosity := 1
	if verbose {
		verbosity = 2
	}
	raw, err := c.CallRPC(ctx, "getrawtransaction", []any{txid, verbosity})
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", txid, err)
	}

	if !verbose {
		var hex string
		if err := json.Unmarshal(raw, &hex); err != nil {
			return nil, fmt.Errorf("decode getrawtransaction hex: %w", err)
		}
		return &TxRecord{Txid: txid, Hex: hex}, nil
	}

	var decoded coreVerboseTx
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode getrawtransaction verbose: %w", err)
	}

	rec := &TxRecord{
		Txid:          decoded.Txid,
		Hex:           decoded.Hex,
		Confirmations: decoded.Confirmations,
	}
	if decoded.Blockheight > 0 {
		bh := decoded.Blockheight
		rec.BlockHeight = &bh
	}
	if decoded.Blocktime > 0 {
		bt := decoded.Blocktime
		rec.BlockTime = &bt
	} else if decoded.Time > 0 {
		bt := decoded.Time
		rec.BlockTime = &bt
	}

	for _, v := range decoded.Vin {
		vin := Vin{Txid: v.Txid, Vout: v.Vout, Coinbase: v.Coinbase != ""}
		if v.PrevOut != nil {
			vin.Prevout = &Prevout{
				Address: v.PrevOut.ScriptPubKey.Address,
				Value:   NormalizeAmount(v.PrevOut.Value),
			}
		}
		rec.Vin = append(rec.Vin, vin)
	}
	for _, v := range decoded.Vout {
		rec.Vout = append(rec.Vout, Vout{
			Value:        NormalizeAmount(v.Value),
			Address:      v.ScriptPubKey.Address,
			ScriptPubKey: v.ScriptPubKey.Hex,
		})
	}

	c.enrichMissingPrevouts(ctx, rec)
	return rec, nil
}

// enrichMissingPrevouts resolves inputs whose prevout wasn't inlined by the
// node (verbosity<3 or pruned node) by fetching the referenced transaction,
// fanning concurrent lookups out behind a bounded semaphore.
func (c *CoreClient) enrichMissingPrevouts(ctx context.Context, rec *TxRecord) {
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, config.TransactionFanoutWidth)

	for i := range rec.Vin {
		vin := &rec.Vin[i]
		if vin.Coinbase || vin.Prevout != nil || vin.Txid == "" {
			continue
		}
		wg.Add(1)
		go func(v *Vin) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			prevTx, err := c.GetTransaction(ctx, v.Txid, true)
			if err != nil || prevTx == nil || int(v.Vout) >= len(prevTx.Vout) {
				return
			}
			out := prevTx.Vout[v.Vout]
			v.Prevout = &Prevout{Address: out.Address, Value: out.Value}
		}(vin)
	}
	wg.Wait()
}

func (c *CoreClient) GetTransactionsBatch(ctx context.Context, txids []string) (map[string]*TxRecord, error) {
	out := make(map[string]*TxRecord, len(txids))
	var mu sync.Mutex
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, config.TransactionFanoutWidth)

	for _, txid := range txids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			rec, err := c.GetTransaction(ctx, id, true)
			if err != nil {
				return
			}
			mu.Lock()
			out[id] = rec
			mu.Unlock()
		}(txid)
	}
	wg.Wait()
	return out, nil
}

func (c *CoreClient) BroadcastTransaction(ctx context.Context, rawHex string) (string, error) {
	raw, err := c.CallRPC(ctx, "sendrawtransaction", []any{rawHex})
	if err != nil {
		return "", fmt.Errorf("broadcast transaction: %w", err)
	}
	var txid string
	if err := json.Unmarshal(raw, &txid); err != nil {
		return "", fmt.Errorf("decode sendrawtransaction: %w", err)
	}
	return txid, nil
}

func (c *CoreClient) EstimateFee(ctx context.Context, blocks int) (float64, error) {
	raw, err := c.CallRPC(ctx, "estimatesmartfee", []any{blocks})
	if err != nil {
		return 0, fmt.Errorf("estimate fee: %w", err)
	}
	var result struct {
		FeeRate float64 `json:"feerate"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, fmt.Errorf("decode estimatesmartfee: %w", err)
	}
	return result.FeeRate, nil
}
