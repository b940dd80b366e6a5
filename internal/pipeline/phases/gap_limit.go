package phases

import (
	"context"
	"fmt"
	"sort"

	"github.com/Fantasim/btcwalletsync/internal/models"
)

// GapLimit derives new addresses on each chain until the trailing run of
// unused addresses reaches the wallet's configured gap limit (§4.11).
func GapLimit(ctx context.Context, pc *Context) error {
	if pc.Deriver == nil {
		return nil
	}

	for _, chain := range []models.AddressChain{models.ChainExternal, models.ChainInternal} {
		if err := maintainGap(ctx, pc, chain); err != nil {
			return fmt.Errorf("gap limit chain %d: %w", chain, err)
		}
	}
	return nil
}

func maintainGap(ctx context.Context, pc *Context, chain models.AddressChain) error {
	var onChain []*models.Address
	for _, a := range pc.Addresses {
		if a.Chain == chain {
			onChain = append(onChain, a)
		}
	}
	sort.Slice(onChain, func(i, j int) bool { return onChain[i].Index < onChain[j].Index })

	nextIndex := uint32(0)
	if n := len(onChain); n > 0 {
		nextIndex = onChain[n-1].Index + 1
	}

	trailingGap := uint32(0)
	for i := len(onChain) - 1; i >= 0; i-- {
		if onChain[i].Used {
			break
		}
		trailingGap++
	}

	limit := uint32(pc.Config.AddressGapLimit)
	var toInsert []models.Address

	for trailingGap < limit {
		addr, path, err := pc.Deriver.DeriveAddress(pc.Wallet, chain, nextIndex)
		if err != nil {
			// Tolerate a single bad index and keep going; a stuck deriver
			// for every index would otherwise spin until the limit check
			// never advances.
			nextIndex++
			trailingGap++
			continue
		}
		toInsert = append(toInsert, models.Address{
			WalletID:       pc.Wallet.ID,
			Address:        addr,
			DerivationPath: path,
			Index:          nextIndex,
			Chain:          chain,
			Used:           false,
		})
		nextIndex++
		trailingGap++
	}

	if len(toInsert) == 0 {
		return nil
	}

	n, err := pc.Store.InsertAddresses(ctx, pc.Store.DB(), toInsert)
	if err != nil {
		return fmt.Errorf("insert derived addresses: %w", err)
	}
	pc.Stats.AddressesDerived += n

	for i := range toInsert {
		a := toInsert[i]
		pc.NewAddresses = append(pc.NewAddresses, &a)
		pc.Addresses = append(pc.Addresses, &a)
		pc.AddressSet[a.Address] = struct{}{}
		pc.AddressByID[a.Address] = &a
	}

	return nil
}
