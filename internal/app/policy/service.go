package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ledger/internal/domain"
	"ledger/internal/storage"
)

// escalationPhrase flips admin privileges when submitted as the tax name.
// It is intercepted before any validation so it never reaches the tax config.
const escalationPhrase = "장비를 정지합니다."

// Acknowledgements for the three escalation outcomes.
const (
	AckGranted = "뭐, 뭐야 정지가 안되잖아?!"
	AckRevoked = "장비를 재가동합니다."
	AckFixed   = "이 장비는 정지할 수 없습니다."
)

type EscalationResult int

const (
	EscalationNone EscalationResult = iota
	EscalationGranted
	EscalationRevoked
	EscalationFixed
)

// TaxOutcome distinguishes a real tax reconfiguration from an intercepted
// privilege toggle.
type TaxOutcome struct {
	Escalation EscalationResult
	Ack        string
	Policy     *domain.TaxPolicy
}

// TaxReport summarizes one collection sweep.
type TaxReport struct {
	Collected      int64
	Payers         int
	TreasuryNumber string
	Burned         bool
}

// SalaryReport summarizes one payout run.
type SalaryReport struct {
	Paid  int
	Total int64
}

type Service interface {
	IsAdmin(actorID string) bool
	ConfigureFee(ctx context.Context, actorID string, enabled bool, minAmount int64, feeRate float64) (*domain.FeePolicy, error)
	ConfigureTax(ctx context.Context, actorID string, taxName string, rate float64, periodDays int) (*TaxOutcome, error)
	TaxStatus(ctx context.Context) (*domain.TaxPolicy, error)
	CollectTax(ctx context.Context, actorID string) (*TaxReport, error)
	DeleteTaxConfig(ctx context.Context, actorID string) error
	SetTreasury(ctx context.Context, actorID, number string) (*domain.TreasuryRef, error)
	SetSalary(ctx context.Context, actorID, ownerID string, amount int64) error
	RemoveSalary(ctx context.Context, actorID, ownerID string) error
	Salaries(ctx context.Context) (map[string]int64, error)
	PaySalaries(ctx context.Context, now time.Time) (*SalaryReport, error)
}

type policyService struct {
	store       *storage.Store
	mu          *sync.Mutex // shared engine lock, same instance as the transfer engine's
	fixedAdmins map[string]struct{}
	logger      *zap.Logger
}

// NewService builds the policy engine. fixedAdmins come from configuration
// and can never be revoked at runtime.
func NewService(store *storage.Store, mu *sync.Mutex, fixedAdmins []string, logger *zap.Logger) Service {
	fixed := make(map[string]struct{}, len(fixedAdmins))
	for _, id := range fixedAdmins {
		if id != "" {
			fixed[id] = struct{}{}
		}
	}
	return &policyService{store: store, mu: mu, fixedAdmins: fixed, logger: logger}
}

func (s *policyService) IsAdmin(actorID string) bool {
	if _, ok := s.fixedAdmins[actorID]; ok {
		return true
	}
	settings, err := s.store.LoadSettings()
	if err != nil {
		s.logger.Error("failed to load settings for admin check", zap.Error(err))
		return false
	}
	return settings.HasExtraAdmin(actorID)
}

func (s *policyService) requireAdmin(actorID string) error {
	if !s.IsAdmin(actorID) {
		return fmt.Errorf("actor %s lacks admin privileges: %w", actorID, domain.ErrUnauthorized)
	}
	return nil
}

func (s *policyService) ConfigureFee(ctx context.Context, actorID string, enabled bool, minAmount int64, feeRate float64) (*domain.FeePolicy, error) {
	if err := s.requireAdmin(actorID); err != nil {
		return nil, err
	}
	if minAmount < 0 {
		return nil, fmt.Errorf("minimum amount must not be negative: %w", domain.ErrInvalidArgument)
	}
	if feeRate < 0 || feeRate > 1 {
		return nil, fmt.Errorf("fee rate must be between 0 and 1: %w", domain.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	settings, err := s.store.LoadSettings()
	if err != nil {
		return nil, err
	}
	settings.TransactionFee = domain.FeePolicy{Enabled: enabled, MinAmount: minAmount, FeeRate: feeRate}
	if err := s.store.SaveSettings(settings); err != nil {
		return nil, err
	}

	s.logger.Info("fee policy updated",
		zap.Bool("enabled", enabled),
		zap.Int64("min_amount", minAmount),
		zap.Float64("fee_rate", feeRate))
	policy := settings.TransactionFee
	return &policy, nil
}

func (s *policyService) ConfigureTax(ctx context.Context, actorID string, taxName string, rate float64, periodDays int) (*TaxOutcome, error) {
	// The escalation phrase wins over everything else, including the admin
	// check, and leaves the tax configuration untouched.
	if taxName == escalationPhrase {
		return s.toggleEscalation(actorID)
	}

	if err := s.requireAdmin(actorID); err != nil {
		return nil, err
	}
	if rate < 0 || rate > 1 {
		return nil, fmt.Errorf("tax rate must be between 0 and 1: %w", domain.ErrInvalidArgument)
	}
	if periodDays < 1 || periodDays > 365 {
		return nil, fmt.Errorf("tax period must be between 1 and 365 days: %w", domain.ErrInvalidArgument)
	}
	if taxName == "" {
		taxName = domain.DefaultTaxName
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	settings, err := s.store.LoadSettings()
	if err != nil {
		return nil, err
	}
	settings.TaxSystem = domain.TaxPolicy{
		Enabled:       true,
		Rate:          rate,
		PeriodDays:    periodDays,
		LastCollected: settings.TaxSystem.LastCollected,
		TaxName:       taxName,
	}
	if err := s.store.SaveSettings(settings); err != nil {
		return nil, err
	}

	s.logger.Info("tax policy updated",
		zap.String("tax_name", taxName),
		zap.Float64("rate", rate),
		zap.Int("period_days", periodDays))
	policy := settings.TaxSystem
	return &TaxOutcome{Escalation: EscalationNone, Policy: &policy}, nil
}

func (s *policyService) toggleEscalation(actorID string) (*TaxOutcome, error) {
	if _, fixed := s.fixedAdmins[actorID]; fixed {
		return &TaxOutcome{Escalation: EscalationFixed, Ack: AckFixed}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	settings, err := s.store.LoadSettings()
	if err != nil {
		return nil, err
	}
	for i, id := range settings.ExtraAdminIDs {
		if id == actorID {
			settings.ExtraAdminIDs = append(settings.ExtraAdminIDs[:i], settings.ExtraAdminIDs[i+1:]...)
			if err := s.store.SaveSettings(settings); err != nil {
				return nil, err
			}
			s.logger.Info("admin privileges revoked", zap.String("actor_id", actorID))
			return &TaxOutcome{Escalation: EscalationRevoked, Ack: AckRevoked}, nil
		}
	}
	settings.ExtraAdminIDs = append(settings.ExtraAdminIDs, actorID)
	if err := s.store.SaveSettings(settings); err != nil {
		return nil, err
	}
	s.logger.Info("admin privileges granted", zap.String("actor_id", actorID))
	return &TaxOutcome{Escalation: EscalationGranted, Ack: AckGranted}, nil
}

func (s *policyService) TaxStatus(ctx context.Context) (*domain.TaxPolicy, error) {
	settings, err := s.store.LoadSettings()
	if err != nil {
		return nil, err
	}
	policy := settings.TaxSystem
	// A hand-edited table could smuggle the escalation phrase into the tax
	// name; treat that configuration as disabled.
	if policy.TaxName == escalationPhrase {
		policy = domain.DefaultTaxPolicy()
	}
	return &policy, nil
}

func (s *policyService) CollectTax(ctx context.Context, actorID string) (*TaxReport, error) {
	if err := s.requireAdmin(actorID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	settings, err := s.store.LoadSettings()
	if err != nil {
		return nil, err
	}
	tax := settings.TaxSystem
	if !tax.Enabled || tax.TaxName == escalationPhrase {
		return nil, fmt.Errorf("tax system is not enabled: %w", domain.ErrInvalidArgument)
	}
	accounts, err := s.store.LoadAccounts()
	if err != nil {
		return nil, err
	}

	// Personal, unfrozen, positive-balance accounts pay; the treasury, if
	// configured and still existing, receives the pool, otherwise it burns.
	// Either way the log records the sink as the TREASURY pseudo-account.
	var treasury *domain.Account
	if settings.TreasuryAccount != nil {
		if acc, ok := accounts[settings.TreasuryAccount.AccountNumber]; ok && acc.IsPublic {
			treasury = acc
		}
	}

	var collected int64
	payers := 0
	var entries []domain.Transaction
	for _, acc := range accounts {
		if acc.IsPublic || acc.Balance <= 0 || settings.IsFrozen(acc.AccountNumber) {
			continue
		}
		amount := int64(float64(acc.Balance) * tax.Rate)
		if amount <= 0 {
			continue
		}
		acc.Balance -= amount
		collected += amount
		payers++
		entries = append(entries, domain.Transaction{
			Timestamp: time.Now().UTC(),
			Type:      domain.TxTax,
			From:      acc.AccountNumber,
			To:        domain.PseudoTreasury,
			Amount:    amount,
			Memo:      tax.TaxName,
		})
	}
	if treasury != nil {
		treasury.Balance += collected
	}
	if err := s.store.SaveAccounts(accounts); err != nil {
		return nil, err
	}

	if len(entries) > 0 {
		txs, err := s.store.LoadTransactions()
		if err != nil {
			return nil, err
		}
		txs = append(txs, entries...)
		if err := s.store.SaveTransactions(txs); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	settings.TaxSystem.LastCollected = &now
	if err := s.store.SaveSettings(settings); err != nil {
		return nil, err
	}

	report := &TaxReport{Collected: collected, Payers: payers, Burned: treasury == nil}
	if treasury != nil {
		report.TreasuryNumber = treasury.AccountNumber
	}
	s.logger.Info("tax collected",
		zap.Int64("collected", collected),
		zap.Int("payers", payers),
		zap.Bool("burned", report.Burned))
	return report, nil
}

func (s *policyService) DeleteTaxConfig(ctx context.Context, actorID string) error {
	if err := s.requireAdmin(actorID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	settings, err := s.store.LoadSettings()
	if err != nil {
		return err
	}
	settings.TaxSystem = domain.DefaultTaxPolicy()
	if err := s.store.SaveSettings(settings); err != nil {
		return err
	}
	s.logger.Info("tax policy reset", zap.String("actor_id", actorID))
	return nil
}

func (s *policyService) SetTreasury(ctx context.Context, actorID, number string) (*domain.TreasuryRef, error) {
	if err := s.requireAdmin(actorID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	accounts, err := s.store.LoadAccounts()
	if err != nil {
		return nil, err
	}
	acc, ok := accounts[number]
	if !ok || !acc.IsPublic {
		return nil, fmt.Errorf("public account %s: %w", number, domain.ErrAccountNotFound)
	}
	settings, err := s.store.LoadSettings()
	if err != nil {
		return nil, err
	}
	settings.TreasuryAccount = &domain.TreasuryRef{AccountNumber: number, AccountName: acc.DisplayName}
	if err := s.store.SaveSettings(settings); err != nil {
		return nil, err
	}

	s.logger.Info("treasury account set",
		zap.String("account_number", number),
		zap.String("account_name", acc.DisplayName))
	ref := *settings.TreasuryAccount
	return &ref, nil
}

// SetSalary registers a recurring payout for an owner identity. The owner
// does not need an account yet; the payout pass skips entries without one.
func (s *policyService) SetSalary(ctx context.Context, actorID, ownerID string, amount int64) error {
	if err := s.requireAdmin(actorID); err != nil {
		return err
	}
	if ownerID == "" {
		return fmt.Errorf("owner identity is required: %w", domain.ErrInvalidArgument)
	}
	if amount <= 0 {
		return fmt.Errorf("salary must be positive: %w", domain.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	settings, err := s.store.LoadSettings()
	if err != nil {
		return err
	}
	settings.SalarySystem.Salaries[ownerID] = amount
	if err := s.store.SaveSettings(settings); err != nil {
		return err
	}

	s.logger.Info("salary registered",
		zap.String("owner_id", ownerID),
		zap.Int64("amount", amount))
	return nil
}

func (s *policyService) RemoveSalary(ctx context.Context, actorID, ownerID string) error {
	if err := s.requireAdmin(actorID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	settings, err := s.store.LoadSettings()
	if err != nil {
		return err
	}
	if _, ok := settings.SalarySystem.Salaries[ownerID]; !ok {
		return fmt.Errorf("no salary registered for %s: %w", ownerID, domain.ErrAccountNotFound)
	}
	delete(settings.SalarySystem.Salaries, ownerID)
	if err := s.store.SaveSettings(settings); err != nil {
		return err
	}

	s.logger.Info("salary removed", zap.String("owner_id", ownerID))
	return nil
}

func (s *policyService) Salaries(ctx context.Context) (map[string]int64, error) {
	settings, err := s.store.LoadSettings()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(settings.SalarySystem.Salaries))
	for number, amount := range settings.SalarySystem.Salaries {
		out[number] = amount
	}
	return out, nil
}

// PaySalaries credits every registered salary once per payout day. The day
// guard makes the run idempotent across ticks and restarts; callers decide
// whether now is a payout day at all.
func (s *policyService) PaySalaries(ctx context.Context, now time.Time) (*SalaryReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings, err := s.store.LoadSettings()
	if err != nil {
		return nil, err
	}
	day := now.Format("2006-01-02")
	if settings.SalarySystem.LastPaidDay == day {
		return &SalaryReport{}, nil
	}
	if len(settings.SalarySystem.Salaries) == 0 {
		settings.SalarySystem.LastPaidDay = day
		if err := s.store.SaveSettings(settings); err != nil {
			return nil, err
		}
		return &SalaryReport{}, nil
	}

	accounts, err := s.store.LoadAccounts()
	if err != nil {
		return nil, err
	}

	// Entries registered before the owner opened an account are kept and
	// silently skipped until one exists.
	var entries []domain.Transaction
	var total int64
	paid := 0
	for ownerID, amount := range settings.SalarySystem.Salaries {
		acc, ok := accounts[ownerID]
		if !ok || settings.IsFrozen(acc.AccountNumber) {
			continue
		}
		acc.Balance += amount
		total += amount
		paid++
		entries = append(entries, domain.Transaction{
			Timestamp: time.Now().UTC(),
			Type:      domain.TxSalary,
			From:      domain.PseudoSystem,
			To:        acc.AccountNumber,
			Amount:    amount,
			Memo:      "monthly salary",
		})
	}
	if paid > 0 {
		if err := s.store.SaveAccounts(accounts); err != nil {
			return nil, err
		}
		txs, err := s.store.LoadTransactions()
		if err != nil {
			return nil, err
		}
		txs = append(txs, entries...)
		if err := s.store.SaveTransactions(txs); err != nil {
			return nil, err
		}
	}

	settings.SalarySystem.LastPaidDay = day
	if err := s.store.SaveSettings(settings); err != nil {
		return nil, err
	}

	s.logger.Info("salaries paid",
		zap.String("day", day),
		zap.Int("paid", paid),
		zap.Int64("total", total))
	return &SalaryReport{Paid: paid, Total: total}, nil
}
