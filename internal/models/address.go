package models

import "time"

// Address is one derived address belonging to a wallet.
//
// Within a wallet, (Chain, Index) is unique and Address is globally unique.
// Used flips false→true monotonically and rows are never deleted.
type Address struct {
	ID              int64        `json:"id"`
	WalletID        string       `json:"walletId"`
	Address         string       `json:"address"`
	DerivationPath  string       `json:"derivationPath"`
	Index           uint32       `json:"index"`
	Chain           AddressChain `json:"chain"`
	Used            bool         `json:"used"`
	CreatedAt       time.Time    `json:"createdAt"`
}

// Label is a user-defined tag that can be attached to one or more addresses.
type Label struct {
	ID        int64     `json:"id"`
	WalletID  string    `json:"walletId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// AddressLabel is the join row attaching a Label to an Address.
type AddressLabel struct {
	AddressID int64 `json:"addressId"`
	LabelID   int64 `json:"labelId"`
}

// TransactionLabel is the join row propagating an address's labels onto a
// transaction at ingestion time (§4.6 "Auto-labels").
type TransactionLabel struct {
	TransactionID int64 `json:"transactionId"`
	LabelID       int64 `json:"labelId"`
}
