package models

import "time"

// UTXO is an unspent (or recently-spent) output tracked for a wallet.
//
// (WalletID, Txid, Vout) is unique. Spent flips false→true monotonically,
// except when the remote node reports the output re-appearing after a
// shallow reorg, in which case BlockHeight and Confirmations reset.
type UTXO struct {
	WalletID      string `json:"walletId"`
	Txid          string `json:"txid"`
	Vout          uint32 `json:"vout"`
	Address       string `json:"address"`
	Amount        int64  `json:"amount"`
	BlockHeight   *int64 `json:"blockHeight,omitempty"`
	Confirmations int64  `json:"confirmations"`
	Spent         bool   `json:"spent"`
}

// DraftLock is a soft reservation of a UTXO for a prospective outgoing
// transaction. When the underlying UTXO becomes spent externally, the
// draft is invalidated and removed.
type DraftLock struct {
	ID        int64     `json:"id"`
	WalletID  string    `json:"walletId"`
	Txid      string    `json:"txid"`
	Vout      uint32    `json:"vout"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"createdAt"`
}
