package domain

import "time"

// Pseudo-accounts used as transaction counterparts for money creation,
// administrative correction and the tax sink. They have no balance and are
// exempt from balance conservation.
const (
	PseudoSystem   = "SYSTEM"
	PseudoAdmin    = "ADMIN"
	PseudoTreasury = "TREASURY"
)

// StartingBalance is the grant every new personal account opens with.
const StartingBalance int64 = 1_000_000

// Account is one row of the accounts table. Personal accounts are keyed by
// the owner identity, public accounts by their own account number.
type Account struct {
	DisplayName   string `json:"display_name"`
	AccountNumber string `json:"account_number"`
	Balance       int64  `json:"balance"`
	IsPublic      bool   `json:"is_public,omitempty"`
	Password      string `json:"password,omitempty"`
	CreatedBy     string `json:"created_by,omitempty"`
}

// IndexEntry reverse-maps an account number to the accounts-table key that
// owns it. Maintained strictly in sync with the accounts table on every
// creation.
type IndexEntry struct {
	OwnerID     string    `json:"owner_id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

func IsPseudoAccount(id string) bool {
	return id == PseudoSystem || id == PseudoAdmin || id == PseudoTreasury
}
