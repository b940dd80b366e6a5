package phases

import (
	"context"
	"sync"

	"github.com/Fantasim/btcwalletsync/internal/config"
)

// FetchHistories obtains each wallet address's transaction history in
// batches, falling back to per-address requests on batch failure and
// tolerating per-address failures by recording an empty history (§4.4).
func FetchHistories(ctx context.Context, pc *Context) error {
	addrs := make([]string, len(pc.Addresses))
	for i, a := range pc.Addresses {
		addrs[i] = a.Address
	}

	var mu sync.Mutex
	for _, batch := range chunk(addrs, config.HistoryFanoutWidth) {
		result, err := pc.Client.GetAddressHistoryBatch(ctx, batch)
		if err != nil {
			fanOut(batch, config.HistoryFanoutWidth, func(addr string) {
				hist, err := pc.Client.GetAddressHistory(ctx, addr)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					pc.HistoryResults[addr] = nil
					return
				}
				pc.HistoryResults[addr] = hist
			})
			continue
		}

		mu.Lock()
		for addr, hist := range result {
			pc.HistoryResults[addr] = hist
		}
		mu.Unlock()
	}

	for _, hist := range pc.HistoryResults {
		for _, entry := range hist {
			pc.AllTxids[entry.Txid] = struct{}{}
		}
	}

	pc.Stats.HistoriesFetched = len(pc.HistoryResults)
	return nil
}
