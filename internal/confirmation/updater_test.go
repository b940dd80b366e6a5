package confirmation

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/Fantasim/btcwalletsync/internal/blockheight"
	"github.com/Fantasim/btcwalletsync/internal/models"
	"github.com/Fantasim/btcwalletsync/internal/nodeclient"
	"github.com/Fantasim/btcwalletsync/internal/store"
)

type fakeConfirmationClient struct {
	height     int64
	byTxid     map[string]*nodeclient.TxRecord
	history    map[string][]nodeclient.HistoryEntry
	batchErr   error
	historyErr error
}

func (f *fakeConfirmationClient) Connect(ctx context.Context) error { return nil }
func (f *fakeConfirmationClient) Disconnect() error                 { return nil }
func (f *fakeConfirmationClient) IsConnected() bool                 { return true }

func (f *fakeConfirmationClient) GetBlockHeight(ctx context.Context) (int64, error) {
	return f.height, nil
}
func (f *fakeConfirmationClient) GetBlockHeader(ctx context.Context, height int64) (string, error) {
	return "", nil
}
func (f *fakeConfirmationClient) GetAddressHistory(ctx context.Context, address string) ([]nodeclient.HistoryEntry, error) {
	return nil, nil
}
func (f *fakeConfirmationClient) GetAddressHistoryBatch(ctx context.Context, addresses []string) (map[string][]nodeclient.HistoryEntry, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	out := make(map[string][]nodeclient.HistoryEntry, len(addresses))
	for _, a := range addresses {
		out[a] = f.history[a]
	}
	return out, nil
}
func (f *fakeConfirmationClient) GetAddressUTXOs(ctx context.Context, address string) ([]nodeclient.UTXOEntry, error) {
	return nil, nil
}
func (f *fakeConfirmationClient) GetAddressUTXOsBatch(ctx context.Context, addresses []string) (map[string][]nodeclient.UTXOEntry, error) {
	return nil, nil
}
func (f *fakeConfirmationClient) GetTransaction(ctx context.Context, txid string, verbose bool) (*nodeclient.TxRecord, error) {
	rec, ok := f.byTxid[txid]
	if !ok {
		return nil, errors.New("not found")
	}
	return rec, nil
}
func (f *fakeConfirmationClient) GetTransactionsBatch(ctx context.Context, txids []string) (map[string]*nodeclient.TxRecord, error) {
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	out := make(map[string]*nodeclient.TxRecord, len(txids))
	for _, txid := range txids {
		if rec, ok := f.byTxid[txid]; ok {
			out[txid] = rec
		}
	}
	return out, nil
}
func (f *fakeConfirmationClient) BroadcastTransaction(ctx context.Context, rawHex string) (string, error) {
	return "", nil
}
func (f *fakeConfirmationClient) EstimateFee(ctx context.Context, blocks int) (float64, error) {
	return 0, nil
}

func newConfirmationTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "confirmation.sqlite")
	st, err := store.Open(path)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.RunMigrations(); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	return st
}

func TestUpdateTransactionConfirmations_RefreshesShallowAndFlipsRBF(t *testing.T) {
	st := newConfirmationTestStore(t)
	wallet := &models.Wallet{ID: "w1", Network: models.NetworkTestnet, Descriptor: "d", Type: models.WalletSingleSig, ScriptType: models.ScriptNativeSegwit}
	if err := st.CreateWallet(context.Background(), wallet); err != nil {
		t.Fatalf("CreateWallet() error = %v", err)
	}

	height := int64(95)
	txID, err := st.InsertTransaction(context.Background(), st.DB(), &models.Transaction{
		WalletID: "w1", Txid: "tx1", Type: models.TxReceived, Amount: 1000,
		BlockHeight: &height, Confirmations: 0, RBFStatus: models.RBFActive,
	})
	if err != nil {
		t.Fatalf("InsertTransaction() error = %v", err)
	}

	client := &fakeConfirmationClient{height: 100}
	heightsSvc, err := blockheight.New(client)
	if err != nil {
		t.Fatalf("blockheight.New() error = %v", err)
	}
	if _, err := heightsSvc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if err := UpdateTransactionConfirmations(context.Background(), st, heightsSvc, "w1", 100); err != nil {
		t.Fatalf("UpdateTransactionConfirmations() error = %v", err)
	}

	got, err := st.GetByTxid(context.Background(), "w1", "tx1")
	if err != nil {
		t.Fatalf("GetByTxid() error = %v", err)
	}
	if got.Confirmations != 6 {
		t.Fatalf("Confirmations = %d, want 6", got.Confirmations)
	}
	if got.RBFStatus != models.RBFConfirmed {
		t.Fatalf("RBFStatus = %v, want confirmed", got.RBFStatus)
	}
	_ = txID
}

func TestUpdateTransactionConfirmations_SkipsUnchanged(t *testing.T) {
	st := newConfirmationTestStore(t)
	wallet := &models.Wallet{ID: "w1", Network: models.NetworkTestnet, Descriptor: "d", Type: models.WalletSingleSig, ScriptType: models.ScriptNativeSegwit}
	if err := st.CreateWallet(context.Background(), wallet); err != nil {
		t.Fatalf("CreateWallet() error = %v", err)
	}

	height := int64(95)
	if _, err := st.InsertTransaction(context.Background(), st.DB(), &models.Transaction{
		WalletID: "w1", Txid: "tx1", Type: models.TxReceived, Amount: 1000,
		BlockHeight: &height, Confirmations: 6, RBFStatus: models.RBFConfirmed,
	}); err != nil {
		t.Fatalf("InsertTransaction() error = %v", err)
	}

	client := &fakeConfirmationClient{height: 100}
	heightsSvc, err := blockheight.New(client)
	if err != nil {
		t.Fatalf("blockheight.New() error = %v", err)
	}
	if _, err := heightsSvc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if err := UpdateTransactionConfirmations(context.Background(), st, heightsSvc, "w1", 100); err != nil {
		t.Fatalf("UpdateTransactionConfirmations() error = %v", err)
	}

	got, err := st.GetByTxid(context.Background(), "w1", "tx1")
	if err != nil {
		t.Fatalf("GetByTxid() error = %v", err)
	}
	if got.Confirmations != 6 {
		t.Fatalf("Confirmations = %d, want unchanged 6", got.Confirmations)
	}
}

func TestPopulateMissingTransactionFields_BackfillsFromNode(t *testing.T) {
	st := newConfirmationTestStore(t)
	wallet := &models.Wallet{ID: "w1", Network: models.NetworkTestnet, Descriptor: "d", Type: models.WalletSingleSig, ScriptType: models.ScriptNativeSegwit}
	if err := st.CreateWallet(context.Background(), wallet); err != nil {
		t.Fatalf("CreateWallet() error = %v", err)
	}
	if _, err := st.InsertAddresses(context.Background(), st.DB(), []models.Address{
		{WalletID: "w1", Address: "mine", DerivationPath: "m/0/0", Index: 0, Chain: models.ChainExternal},
	}); err != nil {
		t.Fatalf("InsertAddresses() error = %v", err)
	}

	if _, err := st.InsertTransaction(context.Background(), st.DB(), &models.Transaction{
		WalletID: "w1", Txid: "tx1", Type: models.TxReceived, Amount: 9800,
	}); err != nil {
		t.Fatalf("InsertTransaction() error = %v", err)
	}

	blockHeight := int64(90)
	client := &fakeConfirmationClient{
		height: 100,
		byTxid: map[string]*nodeclient.TxRecord{
			"tx1": {
				Txid:        "tx1",
				BlockHeight: &blockHeight,
				Vin:         []nodeclient.Vin{{Txid: "prevtx", Vout: 0, Prevout: &nodeclient.Prevout{Address: "external", Value: 10000}}},
				Vout:        []nodeclient.Vout{{Address: "mine", Value: 9800, ScriptPubKey: "x"}},
			},
		},
	}
	heightsSvc, err := blockheight.New(client)
	if err != nil {
		t.Fatalf("blockheight.New() error = %v", err)
	}
	if _, err := heightsSvc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if err := PopulateMissingTransactionFields(context.Background(), st, client, heightsSvc, "w1"); err != nil {
		t.Fatalf("PopulateMissingTransactionFields() error = %v", err)
	}

	got, err := st.GetByTxid(context.Background(), "w1", "tx1")
	if err != nil {
		t.Fatalf("GetByTxid() error = %v", err)
	}
	if got.BlockHeight == nil || *got.BlockHeight != 90 {
		t.Fatalf("BlockHeight = %v, want 90", got.BlockHeight)
	}
	if got.AddressID == nil {
		t.Fatalf("AddressID should be backfilled")
	}
}

func TestPopulateMissingTransactionFields_FallsBackToHistoryHeightWhenNonVerbose(t *testing.T) {
	st := newConfirmationTestStore(t)
	wallet := &models.Wallet{ID: "w1", Network: models.NetworkTestnet, Descriptor: "d", Type: models.WalletSingleSig, ScriptType: models.ScriptNativeSegwit}
	if err := st.CreateWallet(context.Background(), wallet); err != nil {
		t.Fatalf("CreateWallet() error = %v", err)
	}
	if _, err := st.InsertAddresses(context.Background(), st.DB(), []models.Address{
		{WalletID: "w1", Address: "mine", DerivationPath: "m/0/0", Index: 0, Chain: models.ChainExternal},
	}); err != nil {
		t.Fatalf("InsertAddresses() error = %v", err)
	}
	if _, err := st.InsertTransaction(context.Background(), st.DB(), &models.Transaction{
		WalletID: "w1", Txid: "tx1", Type: models.TxReceived, Amount: 9800,
	}); err != nil {
		t.Fatalf("InsertTransaction() error = %v", err)
	}

	client := &fakeConfirmationClient{
		height: 100,
		byTxid: map[string]*nodeclient.TxRecord{
			"tx1": {
				Txid: "tx1", // no BlockHeight: simulates a non-verbose (Blockstream-class) node
				Vin:  []nodeclient.Vin{{Txid: "prevtx", Vout: 0, Prevout: &nodeclient.Prevout{Address: "external", Value: 10000}}},
				Vout: []nodeclient.Vout{{Address: "mine", Value: 9800, ScriptPubKey: "x"}},
			},
		},
		history: map[string][]nodeclient.HistoryEntry{
			"mine": {{Txid: "tx1", Height: 88}},
		},
	}
	heightsSvc, err := blockheight.New(client)
	if err != nil {
		t.Fatalf("blockheight.New() error = %v", err)
	}
	if _, err := heightsSvc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if err := PopulateMissingTransactionFields(context.Background(), st, client, heightsSvc, "w1"); err != nil {
		t.Fatalf("PopulateMissingTransactionFields() error = %v", err)
	}

	got, err := st.GetByTxid(context.Background(), "w1", "tx1")
	if err != nil {
		t.Fatalf("GetByTxid() error = %v", err)
	}
	if got.BlockHeight == nil || *got.BlockHeight != 88 {
		t.Fatalf("BlockHeight = %v, want 88 (from address history fallback)", got.BlockHeight)
	}
}

func TestPopulateMissingTransactionFields_FallsBackToPerItemOnBatchError(t *testing.T) {
	st := newConfirmationTestStore(t)
	wallet := &models.Wallet{ID: "w1", Network: models.NetworkTestnet, Descriptor: "d", Type: models.WalletSingleSig, ScriptType: models.ScriptNativeSegwit}
	if err := st.CreateWallet(context.Background(), wallet); err != nil {
		t.Fatalf("CreateWallet() error = %v", err)
	}
	if _, err := st.InsertAddresses(context.Background(), st.DB(), []models.Address{
		{WalletID: "w1", Address: "mine", DerivationPath: "m/0/0", Index: 0, Chain: models.ChainExternal},
	}); err != nil {
		t.Fatalf("InsertAddresses() error = %v", err)
	}
	if _, err := st.InsertTransaction(context.Background(), st.DB(), &models.Transaction{
		WalletID: "w1", Txid: "tx1", Type: models.TxReceived, Amount: 9800,
	}); err != nil {
		t.Fatalf("InsertTransaction() error = %v", err)
	}

	blockHeight := int64(90)
	client := &fakeConfirmationClient{
		height:   100,
		batchErr: errors.New("batch endpoint unavailable"),
		byTxid: map[string]*nodeclient.TxRecord{
			"tx1": {
				Txid:        "tx1",
				BlockHeight: &blockHeight,
				Vin:         []nodeclient.Vin{{Txid: "prevtx", Vout: 0, Prevout: &nodeclient.Prevout{Address: "external", Value: 10000}}},
				Vout:        []nodeclient.Vout{{Address: "mine", Value: 9800, ScriptPubKey: "x"}},
			},
		},
	}
	heightsSvc, err := blockheight.New(client)
	if err != nil {
		t.Fatalf("blockheight.New() error = %v", err)
	}
	if _, err := heightsSvc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if err := PopulateMissingTransactionFields(context.Background(), st, client, heightsSvc, "w1"); err != nil {
		t.Fatalf("PopulateMissingTransactionFields() error = %v", err)
	}

	got, err := st.GetByTxid(context.Background(), "w1", "tx1")
	if err != nil {
		t.Fatalf("GetByTxid() error = %v", err)
	}
	if got.BlockHeight == nil || *got.BlockHeight != 90 {
		t.Fatalf("BlockHeight = %v, want 90 (per-item fallback after batch error)", got.BlockHeight)
	}
}

func TestPopulateMissingTransactionFields_NoCandidatesIsNoOp(t *testing.T) {
	st := newConfirmationTestStore(t)
	wallet := &models.Wallet{ID: "w1", Network: models.NetworkTestnet, Descriptor: "d", Type: models.WalletSingleSig, ScriptType: models.ScriptNativeSegwit}
	if err := st.CreateWallet(context.Background(), wallet); err != nil {
		t.Fatalf("CreateWallet() error = %v", err)
	}

	client := &fakeConfirmationClient{height: 100}
	heightsSvc, err := blockheight.New(client)
	if err != nil {
		t.Fatalf("blockheight.New() error = %v", err)
	}

	if err := PopulateMissingTransactionFields(context.Background(), st, client, heightsSvc, "w1"); err != nil {
		t.Fatalf("PopulateMissingTransactionFields() error = %v", err)
	}
}
