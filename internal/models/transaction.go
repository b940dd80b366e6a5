package models

import "time"

// Transaction is a persisted, classified wallet transaction.
//
// Invariants: (WalletID, Txid) is unique; sign(Amount) matches Type
// (received>0, sent<0, consolidation<=0); if Confirmations>0 then
// RBFStatus != RBFActive; if RBFStatus == RBFReplaced then ReplacedByTxid
// is non-nil once a confirmed replacement has been found.
type Transaction struct {
	ID                 int64           `json:"id"`
	WalletID           string          `json:"walletId"`
	Txid               string          `json:"txid"`
	Type               TransactionType `json:"type"`
	Amount             int64           `json:"amount"`
	Fee                *int64          `json:"fee,omitempty"`
	BlockHeight        *int64          `json:"blockHeight,omitempty"`
	BlockTime          *time.Time      `json:"blockTime,omitempty"`
	Confirmations      int64           `json:"confirmations"`
	RBFStatus          RBFStatus       `json:"rbfStatus"`
	ReplacedByTxid     *string         `json:"replacedByTxid,omitempty"`
	AddressID          *int64          `json:"addressId,omitempty"`
	CounterpartyAddress *string        `json:"counterpartyAddress,omitempty"`
	BalanceAfter       int64           `json:"balanceAfter"`
	CreatedAt          time.Time       `json:"createdAt"`
}

// TransactionInput is one spent prevout of a persisted transaction.
// Coinbase inputs are never persisted.
type TransactionInput struct {
	TransactionID  int64  `json:"transactionId"`
	InputIndex     int    `json:"inputIndex"`
	PrevTxid       string `json:"prevTxid"`
	PrevVout       uint32 `json:"prevVout"`
	Address        string `json:"address"`
	Amount         int64  `json:"amount"`
	DerivationPath string `json:"derivationPath,omitempty"`
}

// TransactionOutput is one output of a persisted transaction. OP_RETURN
// outputs with no decodable address are never persisted.
type TransactionOutput struct {
	TransactionID int64      `json:"transactionId"`
	OutputIndex   int        `json:"outputIndex"`
	Address       string     `json:"address"`
	Amount        int64      `json:"amount"`
	ScriptPubKey  string     `json:"scriptPubKey"`
	OutputType    OutputType `json:"outputType"`
	IsOurs        bool       `json:"isOurs"`
}
