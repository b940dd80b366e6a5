package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Fantasim/btcwalletsync/internal/models"
)

func TestCreateWallet_AssignsRandomID(t *testing.T) {
	st := newTestStore(t)
	w := &models.Wallet{
		Network:    models.NetworkMainnet,
		Descriptor: "xpub...",
		Type:       models.WalletSingleSig,
		ScriptType: models.ScriptNativeSegwit,
	}
	if err := st.CreateWallet(context.Background(), w); err != nil {
		t.Fatalf("CreateWallet() error = %v", err)
	}
	if w.ID == "" {
		t.Fatalf("expected CreateWallet to assign a non-empty id")
	}
}

func TestCreateWallet_PreservesCallerID(t *testing.T) {
	st := newTestStore(t)
	w := seedWallet(t, st, "my-wallet-id")
	if w.ID != "my-wallet-id" {
		t.Fatalf("expected caller-supplied id to be preserved, got %q", w.ID)
	}
}

func TestGetWallet_RoundTrips(t *testing.T) {
	st := newTestStore(t)
	seedWallet(t, st, "w1")

	got, err := st.GetWallet(context.Background(), "w1")
	if err != nil {
		t.Fatalf("GetWallet() error = %v", err)
	}
	if got.ID != "w1" || got.Network != models.NetworkTestnet || got.Type != models.WalletSingleSig {
		t.Errorf("GetWallet() = %+v, unexpected fields", got)
	}
	if got.LastSyncAt != nil {
		t.Errorf("expected nil LastSyncAt for freshly created wallet")
	}
}

func TestGetWallet_NotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.GetWallet(context.Background(), "does-not-exist")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetWallet() error = %v, want ErrNotFound", err)
	}
}

func TestUpdateLastSync(t *testing.T) {
	st := newTestStore(t)
	seedWallet(t, st, "w1")

	now := time.Now().UTC().Truncate(time.Second)
	if err := st.UpdateLastSync(context.Background(), "w1", now); err != nil {
		t.Fatalf("UpdateLastSync() error = %v", err)
	}

	got, err := st.GetWallet(context.Background(), "w1")
	if err != nil {
		t.Fatalf("GetWallet() error = %v", err)
	}
	if got.LastSyncAt == nil {
		t.Fatalf("expected LastSyncAt to be set")
	}
	if !got.LastSyncAt.Equal(now) {
		t.Errorf("LastSyncAt = %v, want %v", got.LastSyncAt, now)
	}
}

func TestListWallets(t *testing.T) {
	st := newTestStore(t)
	seedWallet(t, st, "w1")
	seedWallet(t, st, "w2")

	wallets, err := st.ListWallets(context.Background())
	if err != nil {
		t.Fatalf("ListWallets() error = %v", err)
	}
	if len(wallets) != 2 {
		t.Fatalf("ListWallets() returned %d wallets, want 2", len(wallets))
	}
	if wallets[0].ID != "w1" || wallets[1].ID != "w2" {
		t.Errorf("ListWallets() not ordered by id: got %q, %q", wallets[0].ID, wallets[1].ID)
	}
}

func TestCreateWallet_MultiSigQuorum(t *testing.T) {
	st := newTestStore(t)
	m, n := 2, 3
	w := &models.Wallet{
		ID:         "ms1",
		Network:    models.NetworkMainnet,
		Descriptor: "xpubA|xpubB|xpubC",
		Type:       models.WalletMultiSig,
		ScriptType: models.ScriptNativeSegwit,
		QuorumM:    &m,
		QuorumN:    &n,
	}
	if err := st.CreateWallet(context.Background(), w); err != nil {
		t.Fatalf("CreateWallet() error = %v", err)
	}

	got, err := st.GetWallet(context.Background(), "ms1")
	if err != nil {
		t.Fatalf("GetWallet() error = %v", err)
	}
	if got.QuorumM == nil || got.QuorumN == nil || *got.QuorumM != 2 || *got.QuorumN != 3 {
		t.Errorf("GetWallet() quorum = %v/%v, want 2/3", got.QuorumM, got.QuorumN)
	}
	if !got.IsMultiSig() {
		t.Errorf("expected IsMultiSig() = true")
	}
}
