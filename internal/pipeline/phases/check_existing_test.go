package phases

import (
	"context"
	"testing"

	"github.com/Fantasim/btcwalletsync/internal/models"
)

func TestCheckExisting_PartitionsNewFromExisting(t *testing.T) {
	st := gapLimitTestStore(t)
	wallet := &models.Wallet{ID: "w1", Network: models.NetworkTestnet, Descriptor: "d", Type: models.WalletSingleSig, ScriptType: models.ScriptNativeSegwit}
	if err := st.CreateWallet(context.Background(), wallet); err != nil {
		t.Fatalf("CreateWallet() error = %v", err)
	}
	if _, err := st.InsertTransaction(context.Background(), st.DB(), &models.Transaction{
		WalletID: "w1", Txid: "tx1", Type: models.TxReceived, Amount: 100,
	}); err != nil {
		t.Fatalf("InsertTransaction() error = %v", err)
	}

	pc := &Context{
		Store:  st,
		Wallet: wallet,
		AllTxids: map[string]struct{}{
			"tx1": {}, "tx2": {}, "tx3": {},
		},
	}

	if err := CheckExisting(context.Background(), pc); err != nil {
		t.Fatalf("CheckExisting() error = %v", err)
	}

	if _, ok := pc.ExistingTxMap["tx1"]; !ok {
		t.Fatalf("ExistingTxMap missing tx1")
	}
	if len(pc.ExistingTxMap) != 1 {
		t.Fatalf("ExistingTxMap = %v, want exactly one entry", pc.ExistingTxMap)
	}

	if len(pc.NewTxids) != 2 {
		t.Fatalf("NewTxids = %v, want 2 entries", pc.NewTxids)
	}
	seen := map[string]bool{}
	for _, txid := range pc.NewTxids {
		seen[txid] = true
	}
	if !seen["tx2"] || !seen["tx3"] {
		t.Fatalf("NewTxids = %v, want tx2 and tx3", pc.NewTxids)
	}
}

func TestCheckExisting_AllNew(t *testing.T) {
	st := gapLimitTestStore(t)
	wallet := &models.Wallet{ID: "w1", Network: models.NetworkTestnet, Descriptor: "d", Type: models.WalletSingleSig, ScriptType: models.ScriptNativeSegwit}
	if err := st.CreateWallet(context.Background(), wallet); err != nil {
		t.Fatalf("CreateWallet() error = %v", err)
	}

	pc := &Context{
		Store:    st,
		Wallet:   wallet,
		AllTxids: map[string]struct{}{"tx1": {}},
	}
	if err := CheckExisting(context.Background(), pc); err != nil {
		t.Fatalf("CheckExisting() error = %v", err)
	}
	if len(pc.ExistingTxMap) != 0 {
		t.Fatalf("ExistingTxMap = %v, want empty", pc.ExistingTxMap)
	}
	if len(pc.NewTxids) != 1 || pc.NewTxids[0] != "tx1" {
		t.Fatalf("NewTxids = %v, want [tx1]", pc.NewTxids)
	}
}
