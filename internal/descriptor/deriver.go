// Package descriptor exposes address derivation as an interface. Per the
// synchronization design, parsing wallet descriptors and deriving keys is
// the caller's responsibility — the pipeline only ever asks "what is the
// address at this chain/index" through this seam. A BIP-32 reference
// implementation lives alongside the interface so that the seam is
// exercised by something concrete rather than left purely declarative.
package descriptor

import (
	"github.com/Fantasim/btcwalletsync/internal/models"
)

// Deriver derives the address and derivation-path string for one
// chain/index pair of a wallet, given the wallet's stored descriptor.
type Deriver interface {
	DeriveAddress(wallet *models.Wallet, chain models.AddressChain, index uint32) (address string, derivationPath string, err error)
}
