// Package phases implements the pipeline runtime's individual processing
// stages against a shared, mutable Context (§4.2-§4.12). Each phase is a
// plain function so the runtime can sequence, skip, or isolate them without
// a base-phase type hierarchy.
package phases

import (
	"time"

	"github.com/Fantasim/btcwalletsync/internal/blockheight"
	"github.com/Fantasim/btcwalletsync/internal/config"
	"github.com/Fantasim/btcwalletsync/internal/descriptor"
	"github.com/Fantasim/btcwalletsync/internal/models"
	"github.com/Fantasim/btcwalletsync/internal/nodeclient"
	"github.com/Fantasim/btcwalletsync/internal/notify"
	"github.com/Fantasim/btcwalletsync/internal/store"
)

// UTXOKeyEntry pairs a freshly fetched UTXO with the address it belongs to,
// keyed by "txid:vout" in Context.AllUTXOKeys / Context.UTXODataMap.
type UTXOKeyEntry struct {
	Address string
	UTXO    nodeclient.UTXOEntry
}

// Stats accumulates the counters a sync run reports (§4.2 step 7).
type Stats struct {
	HistoriesFetched       int
	TransactionsProcessed  int
	NewTransactionsCreated int
	AddressesUpdated       int
	UTXOsInserted          int
	UTXOsMarkedSpent       int
	AddressesDerived       int
}

// Context is the mutable state threaded through one sync run's phases.
type Context struct {
	Store    *store.Store
	Client   nodeclient.Client
	Heights  *blockheight.Service
	Deriver  descriptor.Deriver
	Notifier *notify.Hub
	Config   *config.Config

	Wallet      *models.Wallet
	Addresses   []*models.Address
	AddressSet  map[string]struct{}
	AddressByID map[string]*models.Address // keyed by address string

	TipHeight int64
	StartTime time.Time

	// fetchHistoriesPhase output
	HistoryResults map[string][]nodeclient.HistoryEntry
	AllTxids       map[string]struct{}

	// checkExistingPhase output
	ExistingTxMap   map[string]*models.Transaction
	ExistingTxidSet map[string]struct{}
	NewTxids        []string

	// processTransactionsPhase working state
	TxDetailsCache map[string]*nodeclient.TxRecord
	PrevTxCache    map[string]*nodeclient.TxRecord

	// fetchUtxosPhase output
	UTXODataMap                  map[string]UTXOKeyEntry
	AllUTXOKeys                  map[string]struct{}
	SuccessfullyFetchedAddresses map[string]struct{}

	NewTransactions []*models.Transaction
	NewAddresses    []*models.Address

	Stats           Stats
	CompletedPhases []string
}

// AddressByString looks up an address row by its address string.
func (c *Context) AddressByString(addr string) (*models.Address, bool) {
	a, ok := c.AddressByID[addr]
	return a, ok
}

// IsWalletAddress reports whether addr belongs to this wallet.
func (c *Context) IsWalletAddress(addr string) bool {
	_, ok := c.AddressSet[addr]
	return ok
}

// NewContext builds an empty Context for one sync run over wallet, with its
// addresses already loaded and indexed.
func NewContext(
	st *store.Store,
	client nodeclient.Client,
	heights *blockheight.Service,
	deriver descriptor.Deriver,
	notifier *notify.Hub,
	cfg *config.Config,
	wallet *models.Wallet,
	addresses []*models.Address,
	tipHeight int64,
) *Context {
	addressSet := make(map[string]struct{}, len(addresses))
	addressByID := make(map[string]*models.Address, len(addresses))
	for _, a := range addresses {
		addressSet[a.Address] = struct{}{}
		addressByID[a.Address] = a
	}

	return &Context{
		Store:       st,
		Client:      client,
		Heights:     heights,
		Deriver:     deriver,
		Notifier:    notifier,
		Config:      cfg,
		Wallet:      wallet,
		Addresses:   addresses,
		AddressSet:  addressSet,
		AddressByID: addressByID,
		TipHeight:   tipHeight,
		StartTime:   time.Now(),

		HistoryResults:  make(map[string][]nodeclient.HistoryEntry),
		AllTxids:        make(map[string]struct{}),
		ExistingTxMap:   make(map[string]*models.Transaction),
		ExistingTxidSet: make(map[string]struct{}),

		TxDetailsCache: make(map[string]*nodeclient.TxRecord),
		PrevTxCache:    make(map[string]*nodeclient.TxRecord),

		UTXODataMap:                  make(map[string]UTXOKeyEntry),
		AllUTXOKeys:                  make(map[string]struct{}),
		SuccessfullyFetchedAddresses: make(map[string]struct{}),
	}
}
