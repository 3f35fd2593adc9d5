package domain

import "time"

type TransactionType string

const (
	TxCreation       TransactionType = "creation"
	TxTransfer       TransactionType = "transfer"
	TxAdminAdjust    TransactionType = "admin_adjustment"
	TxTax            TransactionType = "tax"
	TxSalary         TransactionType = "salary"
	TxConfiscation   TransactionType = "confiscation"
	TxPublicCreation TransactionType = "public_account_creation"
)

// MaxTransactionLog caps the transaction table; the oldest records are
// silently discarded once it is exceeded.
const MaxTransactionLog = 3000

// Transaction is one immutable record of the append-only log. From and To
// hold account numbers or one of the pseudo-accounts.
type Transaction struct {
	Timestamp time.Time       `json:"timestamp"`
	Type      TransactionType `json:"type"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Amount    int64           `json:"amount"`
	Fee       int64           `json:"fee"`
	Memo      string          `json:"memo,omitempty"`
}
