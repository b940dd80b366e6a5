package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Fantasim/btcwalletsync/internal/balance"
	"github.com/Fantasim/btcwalletsync/internal/blockheight"
	"github.com/Fantasim/btcwalletsync/internal/config"
	"github.com/Fantasim/btcwalletsync/internal/descriptor"
	"github.com/Fantasim/btcwalletsync/internal/nodeclient"
	"github.com/Fantasim/btcwalletsync/internal/notify"
	"github.com/Fantasim/btcwalletsync/internal/pipeline/phases"
	"github.com/Fantasim/btcwalletsync/internal/store"
)

// PhaseFunc is the signature every sync phase implements.
type PhaseFunc func(ctx context.Context, pc *phases.Context) error

// DefaultOrder runs the full discovery-through-correction pipeline (§4.2).
var DefaultOrder = []string{
	"rbfCleanup", "fetchHistories", "checkExisting", "processTransactions",
	"fetchUtxos", "reconcileUtxos", "insertUtxos", "updateAddresses",
	"gapLimit", "fixConsolidations",
}

// QuickOrder skips RBF re-examination and gap-limit/consolidation
// maintenance, for a tight polling loop.
var QuickOrder = []string{
	"fetchHistories", "checkExisting", "processTransactions",
	"fetchUtxos", "reconcileUtxos", "insertUtxos", "updateAddresses",
}

var phaseRegistry = map[string]PhaseFunc{
	"rbfCleanup":          phases.RBFCleanup,
	"fetchHistories":      phases.FetchHistories,
	"checkExisting":       phases.CheckExisting,
	"processTransactions": phases.ProcessTransactions,
	"fetchUtxos":          phases.FetchUtxos,
	"reconcileUtxos":      phases.ReconcileUtxos,
	"insertUtxos":         phases.InsertUtxos,
	"updateAddresses":     phases.UpdateAddresses,
	"gapLimit":            phases.GapLimit,
	"fixConsolidations":   phases.FixConsolidations,
}

// RunOptions customizes one invocation of Run.
type RunOptions struct {
	// Order overrides DefaultOrder/QuickOrder entirely when non-empty.
	Order []string
	// SkipPhases excludes the named phases from Order.
	SkipPhases []string
	// OnlyPhases, when non-empty, restricts execution to these phases.
	OnlyPhases []string
	// OnPhaseComplete, if set, is invoked after each phase succeeds.
	OnPhaseComplete func(phaseName string, pc *phases.Context)
}

// Result is the aggregate outcome of one sync run (§4.2 step 7).
type Result struct {
	WalletID         string
	AddressCount     int
	TransactionCount int
	UTXOCount        int
	Elapsed          time.Duration
	Stats            phases.Stats
	CompletedPhases  []string
}

// Runtime executes sync phases against a wallet, serializing concurrent
// runs per wallet while allowing different wallets to sync in parallel
// (§4.2).
type Runtime struct {
	Store    *store.Store
	Registry *nodeclient.Registry
	Heights  map[string]*blockheight.Service // keyed by network
	Deriver  descriptor.Deriver
	Notifier *notify.Hub
	Config   *config.Config

	mu        sync.Mutex
	walletMus map[string]*sync.Mutex
}

// NewRuntime builds a Runtime over the given collaborators.
func NewRuntime(st *store.Store, registry *nodeclient.Registry, heights map[string]*blockheight.Service, deriver descriptor.Deriver, notifier *notify.Hub, cfg *config.Config) *Runtime {
	return &Runtime{
		Store:     st,
		Registry:  registry,
		Heights:   heights,
		Deriver:   deriver,
		Notifier:  notifier,
		Config:    cfg,
		walletMus: make(map[string]*sync.Mutex),
	}
}

func (r *Runtime) lockFor(walletID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.walletMus[walletID]
	if !ok {
		m = &sync.Mutex{}
		r.walletMus[walletID] = m
	}
	return m
}

// Run executes one sync pass for walletID.
func (r *Runtime) Run(ctx context.Context, walletID string, opts RunOptions) (*Result, error) {
	lock := r.lockFor(walletID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()

	wallet, err := r.Store.GetWallet(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("sync pipeline: load wallet %s: %w", walletID, err)
	}

	index, err := r.Store.LoadAddressIndex(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("sync pipeline: load addresses for %s: %w", walletID, err)
	}

	network := string(wallet.Network)

	client, err := r.Registry.For(network)
	if err != nil {
		return nil, fmt.Errorf("sync pipeline: node client for network %s: %w", network, err)
	}
	if !client.IsConnected() {
		if err := client.Connect(ctx); err != nil {
			return nil, fmt.Errorf("sync pipeline: connect node client: %w", err)
		}
	}

	heights, ok := r.Heights[network]
	if !ok {
		return nil, fmt.Errorf("sync pipeline: no block-height service configured for network %s", network)
	}
	tip, err := heights.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync pipeline: refresh tip height: %w", err)
	}

	pc := phases.NewContext(r.Store, client, heights, r.Deriver, r.Notifier, r.Config, wallet, index.Addresses, tip)

	order := opts.Order
	if len(order) == 0 {
		order = DefaultOrder
	}
	order = filterOrder(order, opts.SkipPhases, opts.OnlyPhases)

	for _, name := range order {
		fn, ok := phaseRegistry[name]
		if !ok {
			return nil, fmt.Errorf("sync pipeline: unknown phase %q", name)
		}
		if err := fn(ctx, pc); err != nil {
			return nil, &PipelineError{
				WalletID:        walletID,
				FailedPhase:     name,
				CompletedPhases: append([]string(nil), pc.CompletedPhases...),
				ContextSnapshot: pc,
				Err:             err,
			}
		}
		pc.CompletedPhases = append(pc.CompletedPhases, name)
		if opts.OnPhaseComplete != nil {
			opts.OnPhaseComplete(name, pc)
		}
	}

	if err := balance.Recalculate(ctx, r.Store, walletID); err != nil {
		return nil, fmt.Errorf("sync pipeline: recalculate balances: %w", err)
	}

	if err := r.Store.UpdateLastSync(ctx, walletID, time.Now()); err != nil {
		return nil, fmt.Errorf("sync pipeline: update last sync: %w", err)
	}

	unspent, err := r.Store.ListUnspentUTXOs(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("sync pipeline: list unspent utxos: %w", err)
	}

	return &Result{
		WalletID:         walletID,
		AddressCount:     len(pc.Addresses),
		TransactionCount: len(pc.NewTransactions),
		UTXOCount:        len(unspent),
		Elapsed:          time.Since(start),
		Stats:            pc.Stats,
		CompletedPhases:  pc.CompletedPhases,
	}, nil
}

func filterOrder(order, skip, only []string) []string {
	skipSet := toSet(skip)
	onlySet := toSet(only)

	out := make([]string, 0, len(order))
	for _, name := range order {
		if _, excluded := skipSet[name]; excluded {
			continue
		}
		if len(onlySet) > 0 {
			if _, included := onlySet[name]; !included {
				continue
			}
		}
		out = append(out, name)
	}
	return out
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}
