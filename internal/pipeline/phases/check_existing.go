package phases

import (
	"context"
	"fmt"
)

// CheckExisting partitions AllTxids against what's already persisted (§4.5).
func CheckExisting(ctx context.Context, pc *Context) error {
	all := make([]string, 0, len(pc.AllTxids))
	for txid := range pc.AllTxids {
		all = append(all, txid)
	}

	existing, err := pc.Store.ListByTxids(ctx, pc.Wallet.ID, all)
	if err != nil {
		return fmt.Errorf("check existing: %w", err)
	}

	pc.ExistingTxMap = existing
	pc.ExistingTxidSet = make(map[string]struct{}, len(existing))
	for txid := range existing {
		pc.ExistingTxidSet[txid] = struct{}{}
	}

	pc.NewTxids = pc.NewTxids[:0]
	for _, txid := range all {
		if _, ok := pc.ExistingTxidSet[txid]; !ok {
			pc.NewTxids = append(pc.NewTxids, txid)
		}
	}

	return nil
}
