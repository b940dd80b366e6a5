package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Fantasim/btcwalletsync/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.sqlite")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.RunMigrations(); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	return st
}

func seedWallet(t *testing.T, st *Store, id string) *models.Wallet {
	t.Helper()
	w := &models.Wallet{
		ID:         id,
		Network:    models.NetworkTestnet,
		Descriptor: "tpubDescriptor",
		Type:       models.WalletSingleSig,
		ScriptType: models.ScriptNativeSegwit,
	}
	if err := st.CreateWallet(context.Background(), w); err != nil {
		t.Fatalf("CreateWallet() error = %v", err)
	}
	return w
}
