package phases

import (
	"context"
	"testing"

	"github.com/Fantasim/btcwalletsync/internal/models"
)

func TestRBFCleanup_MarksActiveReplacedByConfirmedSpender(t *testing.T) {
	st := gapLimitTestStore(t)
	wallet := &models.Wallet{ID: "w1", Network: models.NetworkTestnet, Descriptor: "d", Type: models.WalletSingleSig, ScriptType: models.ScriptNativeSegwit}
	if err := st.CreateWallet(context.Background(), wallet); err != nil {
		t.Fatalf("CreateWallet() error = %v", err)
	}

	activeID, err := st.InsertTransaction(context.Background(), st.DB(), &models.Transaction{
		WalletID: "w1", Txid: "original", Type: models.TxSent, Amount: -100, RBFStatus: models.RBFActive,
	})
	if err != nil {
		t.Fatalf("InsertTransaction(original) error = %v", err)
	}
	if err := st.InsertInputs(context.Background(), st.DB(), []models.TransactionInput{
		{TransactionID: activeID, InputIndex: 0, PrevTxid: "prevtx", PrevVout: 0, Address: "addr0", Amount: 100},
	}); err != nil {
		t.Fatalf("InsertInputs() error = %v", err)
	}

	spenderID, err := st.InsertTransaction(context.Background(), st.DB(), &models.Transaction{
		WalletID: "w1", Txid: "replacement", Type: models.TxSent, Amount: -95, Confirmations: 2, RBFStatus: models.RBFConfirmed,
	})
	if err != nil {
		t.Fatalf("InsertTransaction(replacement) error = %v", err)
	}
	if err := st.InsertInputs(context.Background(), st.DB(), []models.TransactionInput{
		{TransactionID: spenderID, InputIndex: 0, PrevTxid: "prevtx", PrevVout: 0, Address: "addr0", Amount: 100},
	}); err != nil {
		t.Fatalf("InsertInputs() error = %v", err)
	}

	pc := &Context{Store: st, Wallet: wallet}
	if err := RBFCleanup(context.Background(), pc); err != nil {
		t.Fatalf("RBFCleanup() error = %v", err)
	}

	got, err := st.GetByTxid(context.Background(), "w1", "original")
	if err != nil {
		t.Fatalf("GetByTxid() error = %v", err)
	}
	if got.RBFStatus != models.RBFReplaced {
		t.Fatalf("RBFStatus = %v, want replaced", got.RBFStatus)
	}
	if got.ReplacedByTxid == nil || *got.ReplacedByTxid != "replacement" {
		t.Fatalf("ReplacedByTxid = %v, want replacement", got.ReplacedByTxid)
	}
}

func TestRBFCleanup_LeavesActiveAloneWithoutConfirmedSpender(t *testing.T) {
	st := gapLimitTestStore(t)
	wallet := &models.Wallet{ID: "w1", Network: models.NetworkTestnet, Descriptor: "d", Type: models.WalletSingleSig, ScriptType: models.ScriptNativeSegwit}
	if err := st.CreateWallet(context.Background(), wallet); err != nil {
		t.Fatalf("CreateWallet() error = %v", err)
	}

	activeID, err := st.InsertTransaction(context.Background(), st.DB(), &models.Transaction{
		WalletID: "w1", Txid: "original", Type: models.TxSent, Amount: -100, RBFStatus: models.RBFActive,
	})
	if err != nil {
		t.Fatalf("InsertTransaction() error = %v", err)
	}
	if err := st.InsertInputs(context.Background(), st.DB(), []models.TransactionInput{
		{TransactionID: activeID, InputIndex: 0, PrevTxid: "prevtx", PrevVout: 0, Address: "addr0", Amount: 100},
	}); err != nil {
		t.Fatalf("InsertInputs() error = %v", err)
	}

	pc := &Context{Store: st, Wallet: wallet}
	if err := RBFCleanup(context.Background(), pc); err != nil {
		t.Fatalf("RBFCleanup() error = %v", err)
	}

	got, err := st.GetByTxid(context.Background(), "w1", "original")
	if err != nil {
		t.Fatalf("GetByTxid() error = %v", err)
	}
	if got.RBFStatus != models.RBFActive {
		t.Fatalf("RBFStatus = %v, want unchanged active", got.RBFStatus)
	}
}
