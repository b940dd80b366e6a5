package phases

import (
	"context"
	"fmt"
	"sync"

	"github.com/Fantasim/btcwalletsync/internal/config"
	"github.com/Fantasim/btcwalletsync/internal/nodeclient"
)

// FetchUtxos fetches UTXOs per address in batches, building the lookup
// structures reconcileUtxosPhase and insertUtxosPhase consume (§4.7).
func FetchUtxos(ctx context.Context, pc *Context) error {
	addrs := make([]string, len(pc.Addresses))
	for i, a := range pc.Addresses {
		addrs[i] = a.Address
	}

	var mu sync.Mutex
	for _, batch := range chunk(addrs, config.UTXOFanoutWidth) {
		result, err := pc.Client.GetAddressUTXOsBatch(ctx, batch)
		if err != nil {
			fanOut(batch, config.UTXOFanoutWidth, func(addr string) {
				utxos, err := pc.Client.GetAddressUTXOs(ctx, addr)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					return
				}
				recordUTXOs(pc, addr, utxos)
			})
			continue
		}

		mu.Lock()
		for addr, utxos := range result {
			if utxos == nil {
				continue
			}
			recordUTXOs(pc, addr, utxos)
		}
		mu.Unlock()
	}

	if len(pc.SuccessfullyFetchedAddresses) == 0 && len(addrs) > 0 {
		return fmt.Errorf("fetch utxos: no address fetch succeeded out of %d", len(addrs))
	}
	return nil
}

func recordUTXOs(pc *Context, addr string, utxos []nodeclient.UTXOEntry) {
	pc.SuccessfullyFetchedAddresses[addr] = struct{}{}
	for _, u := range utxos {
		key := fmt.Sprintf("%s:%d", u.Txid, u.Vout)
		pc.UTXODataMap[key] = UTXOKeyEntry{Address: addr, UTXO: u}
		pc.AllUTXOKeys[key] = struct{}{}
	}
}
