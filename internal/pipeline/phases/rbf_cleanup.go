package phases

import (
	"context"
	"fmt"

	"github.com/Fantasim/btcwalletsync/internal/models"
)

// RBFCleanup resolves RBF ambiguity left over from previous runs (§4.3). No
// data is fetched from the node here — only store reads and writes.
func RBFCleanup(ctx context.Context, pc *Context) error {
	active, err := pc.Store.ListActiveUnconfirmed(ctx, pc.Wallet.ID)
	if err != nil {
		return fmt.Errorf("rbf cleanup: list active unconfirmed: %w", err)
	}
	replaced, err := pc.Store.ListReplacedUnlinked(ctx, pc.Wallet.ID)
	if err != nil {
		return fmt.Errorf("rbf cleanup: list replaced unlinked: %w", err)
	}

	candidates := append(active, replaced...)
	for _, candidate := range candidates {
		inputs, err := pc.Store.ListInputsByTransaction(ctx, candidate.ID)
		if err != nil {
			return fmt.Errorf("rbf cleanup: list inputs for %s: %w", candidate.Txid, err)
		}

		for _, in := range inputs {
			spender, err := pc.Store.FindConfirmedSpenderOfInput(ctx, pc.Wallet.ID, in.PrevTxid, in.PrevVout, candidate.Txid)
			if err != nil {
				return fmt.Errorf("rbf cleanup: find confirmed spender for %s: %w", candidate.Txid, err)
			}
			if spender == nil {
				continue
			}
			if err := pc.Store.MarkReplaced(ctx, pc.Store.DB(), candidate.ID, spender.Txid); err != nil {
				return fmt.Errorf("rbf cleanup: mark %s replaced: %w", candidate.Txid, err)
			}
			candidate.RBFStatus = models.RBFReplaced
			candidate.ReplacedByTxid = &spender.Txid
			break
		}
	}

	return nil
}
