package phases

import (
	"context"
	"fmt"
)

// UpdateAddresses flags every address with at least one history entry this
// run as used (§4.10).
func UpdateAddresses(ctx context.Context, pc *Context) error {
	var touched []string
	for addr, hist := range pc.HistoryResults {
		if len(hist) == 0 {
			continue
		}
		touched = append(touched, addr)
	}
	if len(touched) == 0 {
		return nil
	}

	changed, err := pc.Store.MarkAddressesUsed(ctx, pc.Store.DB(), pc.Wallet.ID, touched)
	if err != nil {
		return fmt.Errorf("update addresses: %w", err)
	}
	pc.Stats.AddressesUpdated = int(changed)

	for _, a := range pc.Addresses {
		if _, hist := pc.HistoryResults[a.Address]; hist && len(pc.HistoryResults[a.Address]) > 0 {
			a.Used = true
		}
	}

	return nil
}
