package domain

import "time"

// DefaultTaxName is what the tax is called until an administrator renames it.
const DefaultTaxName = "세금"

type FeePolicy struct {
	Enabled   bool    `json:"enabled"`
	MinAmount int64   `json:"min_amount"`
	FeeRate   float64 `json:"fee_rate"`
}

type TaxPolicy struct {
	Enabled       bool       `json:"enabled"`
	Rate          float64    `json:"rate"`
	PeriodDays    int        `json:"period_days"`
	LastCollected *time.Time `json:"last_collected"`
	TaxName       string     `json:"tax_name"`
}

type SalaryPolicy struct {
	// Salaries is keyed by owner identity. An entry may be registered
	// before the owner has an account.
	Salaries    map[string]int64 `json:"salaries"`
	LastPaidDay string           `json:"last_paid_day,omitempty"`
}

type TreasuryRef struct {
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

type FrozenEntry struct {
	FrozenAt time.Time `json:"frozen_at"`
	Reason   string    `json:"reason,omitempty"`
}

// Settings is the single process-wide policy record, read-modify-written on
// every policy change.
type Settings struct {
	TransactionFee  FeePolicy              `json:"transaction_fee"`
	TaxSystem       TaxPolicy              `json:"tax_system"`
	SalarySystem    SalaryPolicy           `json:"salary_system"`
	FrozenAccounts  map[string]FrozenEntry `json:"frozen_accounts"`
	TreasuryAccount *TreasuryRef           `json:"treasury_account"`
	ExtraAdminIDs   []string               `json:"extra_admin_ids"`
}

func DefaultTaxPolicy() TaxPolicy {
	return TaxPolicy{Enabled: false, Rate: 0, PeriodDays: 30, LastCollected: nil, TaxName: DefaultTaxName}
}

func DefaultSettings() *Settings {
	return &Settings{
		TransactionFee: FeePolicy{Enabled: false, MinAmount: 0, FeeRate: 0},
		TaxSystem:      DefaultTaxPolicy(),
		SalarySystem:   SalaryPolicy{Salaries: map[string]int64{}},
		FrozenAccounts: map[string]FrozenEntry{},
		ExtraAdminIDs:  []string{},
	}
}

// Repair fills in zero-valued collections and out-of-range fields after a
// load, so call sites never have to guard against missing keys.
func (s *Settings) Repair() {
	if s.SalarySystem.Salaries == nil {
		s.SalarySystem.Salaries = map[string]int64{}
	}
	if s.FrozenAccounts == nil {
		s.FrozenAccounts = map[string]FrozenEntry{}
	}
	if s.ExtraAdminIDs == nil {
		s.ExtraAdminIDs = []string{}
	}
	if s.TaxSystem.TaxName == "" {
		s.TaxSystem.TaxName = DefaultTaxName
	}
	if s.TaxSystem.PeriodDays < 1 || s.TaxSystem.PeriodDays > 365 {
		s.TaxSystem.PeriodDays = 30
	}
}

func (s *Settings) IsFrozen(accountNumber string) bool {
	_, ok := s.FrozenAccounts[accountNumber]
	return ok
}

func (s *Settings) HasExtraAdmin(id string) bool {
	for _, e := range s.ExtraAdminIDs {
		if e == id {
			return true
		}
	}
	return false
}
