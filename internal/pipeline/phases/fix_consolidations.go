package phases

import (
	"context"
	"fmt"

	"github.com/Fantasim/btcwalletsync/internal/balance"
)

// FixConsolidations re-examines transactions classified sent and reclassifies
// any whose outputs now all resolve to wallet-owned addresses, e.g. because a
// gap-limit derivation above only just brought a change address into scope
// (§4.12).
func FixConsolidations(ctx context.Context, pc *Context) error {
	if err := balance.CorrectMisclassifiedConsolidations(ctx, pc.Store, pc.Wallet.ID, pc.IsWalletAddress); err != nil {
		return fmt.Errorf("fix consolidations: %w", err)
	}
	return nil
}
