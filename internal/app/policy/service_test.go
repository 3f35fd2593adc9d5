package policy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"ledger/internal/app/ledger"
	"ledger/internal/domain"
	"ledger/internal/storage"
)

func newTestEngines(t *testing.T, fixedAdmins []string) (Service, ledger.Service, *storage.Store) {
	t.Helper()
	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	var mu sync.Mutex
	policySvc := NewService(store, &mu, fixedAdmins, zap.NewNop())
	ledgerSvc := ledger.NewService(store, &mu, zap.NewNop())
	return policySvc, ledgerSvc, store
}

func TestConfigureFeeRequiresAdmin(t *testing.T) {
	svc, _, _ := newTestEngines(t, []string{"admin-1"})
	ctx := context.Background()

	if _, err := svc.ConfigureFee(ctx, "user-1", true, 50_000, 0.01); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for non-admin, got %v", err)
	}

	feePolicy, err := svc.ConfigureFee(ctx, "admin-1", true, 50_000, 0.01)
	if err != nil {
		t.Fatalf("failed to configure fee: %v", err)
	}
	if !feePolicy.Enabled || feePolicy.MinAmount != 50_000 || feePolicy.FeeRate != 0.01 {
		t.Errorf("unexpected fee policy: %+v", feePolicy)
	}

	if _, err := svc.ConfigureFee(ctx, "admin-1", true, -1, 0.01); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for negative minimum, got %v", err)
	}
	if _, err := svc.ConfigureFee(ctx, "admin-1", true, 0, 1.5); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for rate above 1, got %v", err)
	}
}

func TestConfigureTaxValidation(t *testing.T) {
	svc, _, _ := newTestEngines(t, []string{"admin-1"})
	ctx := context.Background()

	if _, err := svc.ConfigureTax(ctx, "user-1", "세금", 0.1, 30); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for non-admin, got %v", err)
	}
	if _, err := svc.ConfigureTax(ctx, "admin-1", "세금", 1.1, 30); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for rate above 1, got %v", err)
	}
	if _, err := svc.ConfigureTax(ctx, "admin-1", "세금", 0.1, 0); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for zero period, got %v", err)
	}
	if _, err := svc.ConfigureTax(ctx, "admin-1", "세금", 0.1, 366); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for period above 365, got %v", err)
	}

	outcome, err := svc.ConfigureTax(ctx, "admin-1", "", 0.1, 30)
	if err != nil {
		t.Fatalf("failed to configure tax: %v", err)
	}
	if outcome.Escalation != EscalationNone {
		t.Errorf("expected a plain configuration outcome, got %v", outcome.Escalation)
	}
	if outcome.Policy.TaxName != domain.DefaultTaxName {
		t.Errorf("expected empty name to default to %q, got %q", domain.DefaultTaxName, outcome.Policy.TaxName)
	}
}

func TestEscalationToggle(t *testing.T) {
	svc, _, store := newTestEngines(t, []string{"admin-1"})
	ctx := context.Background()

	// Configure a real tax first so the toggle can prove it left it alone.
	if _, err := svc.ConfigureTax(ctx, "admin-1", "세금", 0.2, 14); err != nil {
		t.Fatalf("failed to configure tax: %v", err)
	}

	if svc.IsAdmin("user-1") {
		t.Fatal("expected user-1 to start without privileges")
	}

	// The phrase grants privileges to a non-admin, skipping the admin check.
	outcome, err := svc.ConfigureTax(ctx, "user-1", "장비를 정지합니다.", 0, 0)
	if err != nil {
		t.Fatalf("escalation failed: %v", err)
	}
	if outcome.Escalation != EscalationGranted || outcome.Ack != AckGranted {
		t.Errorf("expected grant outcome, got %+v", outcome)
	}
	if !svc.IsAdmin("user-1") {
		t.Error("expected user-1 to hold privileges after the grant")
	}

	// The same phrase from the same actor revokes.
	outcome, err = svc.ConfigureTax(ctx, "user-1", "장비를 정지합니다.", 0, 0)
	if err != nil {
		t.Fatalf("revocation failed: %v", err)
	}
	if outcome.Escalation != EscalationRevoked || outcome.Ack != AckRevoked {
		t.Errorf("expected revoke outcome, got %+v", outcome)
	}
	if svc.IsAdmin("user-1") {
		t.Error("expected user-1 to lose privileges after the revoke")
	}

	// Fixed admins can never be toggled.
	outcome, err = svc.ConfigureTax(ctx, "admin-1", "장비를 정지합니다.", 0, 0)
	if err != nil {
		t.Fatalf("fixed-admin toggle failed: %v", err)
	}
	if outcome.Escalation != EscalationFixed {
		t.Errorf("expected fixed outcome, got %v", outcome.Escalation)
	}
	if !svc.IsAdmin("admin-1") {
		t.Error("expected admin-1 to keep privileges")
	}

	// The tax configuration survived all three toggles untouched.
	settings, err := store.LoadSettings()
	if err != nil {
		t.Fatalf("failed to load settings: %v", err)
	}
	if settings.TaxSystem.Rate != 0.2 || settings.TaxSystem.PeriodDays != 14 || settings.TaxSystem.TaxName != "세금" {
		t.Errorf("expected tax settings unchanged, got %+v", settings.TaxSystem)
	}
}

func TestCollectTaxBurnsWithoutTreasury(t *testing.T) {
	svc, ledgerSvc, store := newTestEngines(t, []string{"admin-1"})
	ctx := context.Background()

	a, err := ledgerSvc.CreatePersonalAccount(ctx, "owner-a", "A")
	if err != nil {
		t.Fatalf("failed to create account: %v", err)
	}
	b, err := ledgerSvc.CreatePersonalAccount(ctx, "owner-b", "B")
	if err != nil {
		t.Fatalf("failed to create account: %v", err)
	}
	if _, err := ledgerSvc.SetBalance(ctx, a.AccountNumber, 899_000, "setup"); err != nil {
		t.Fatalf("failed to set balance: %v", err)
	}
	if _, err := ledgerSvc.SetBalance(ctx, b.AccountNumber, 1_100_000, "setup"); err != nil {
		t.Fatalf("failed to set balance: %v", err)
	}

	if _, err := svc.CollectTax(ctx, "admin-1"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument while tax is disabled, got %v", err)
	}
	if _, err := svc.ConfigureTax(ctx, "admin-1", "세금", 0.1, 30); err != nil {
		t.Fatalf("failed to configure tax: %v", err)
	}

	report, err := svc.CollectTax(ctx, "admin-1")
	if err != nil {
		t.Fatalf("collection failed: %v", err)
	}
	if report.Collected != 199_900 {
		t.Errorf("expected 199900 collected, got %d", report.Collected)
	}
	if report.Payers != 2 {
		t.Errorf("expected 2 payers, got %d", report.Payers)
	}
	if !report.Burned {
		t.Error("expected the pool to burn without a treasury")
	}

	reloaded, err := ledgerSvc.LookupByOwner(ctx, "owner-a")
	if err != nil {
		t.Fatalf("failed to reload account: %v", err)
	}
	if reloaded.Balance != 809_100 {
		t.Errorf("expected A at 809100 after tax, got %d", reloaded.Balance)
	}
	reloaded, err = ledgerSvc.LookupByOwner(ctx, "owner-b")
	if err != nil {
		t.Fatalf("failed to reload account: %v", err)
	}
	if reloaded.Balance != 990_000 {
		t.Errorf("expected B at 990000 after tax, got %d", reloaded.Balance)
	}

	status, err := svc.TaxStatus(ctx)
	if err != nil {
		t.Fatalf("failed to read tax status: %v", err)
	}
	if status.LastCollected == nil {
		t.Error("expected last collection time to be recorded")
	}

	// Tax records always name the TREASURY pseudo-account as the sink,
	// whether or not a treasury is configured.
	txs, err := store.LoadTransactions()
	if err != nil {
		t.Fatalf("failed to load transactions: %v", err)
	}
	taxRecords := 0
	for _, tx := range txs {
		if tx.Type != domain.TxTax {
			continue
		}
		taxRecords++
		if tx.To != domain.PseudoTreasury {
			t.Errorf("expected tax record sink %q, got %q", domain.PseudoTreasury, tx.To)
		}
	}
	if taxRecords != 2 {
		t.Errorf("expected 2 tax records, got %d", taxRecords)
	}
}

func TestCollectTaxCreditsTreasuryAndSkips(t *testing.T) {
	svc, ledgerSvc, store := newTestEngines(t, []string{"admin-1"})
	ctx := context.Background()

	payer, err := ledgerSvc.CreatePersonalAccount(ctx, "owner-a", "A")
	if err != nil {
		t.Fatalf("failed to create payer: %v", err)
	}
	frozen, err := ledgerSvc.CreatePersonalAccount(ctx, "owner-b", "B")
	if err != nil {
		t.Fatalf("failed to create frozen account: %v", err)
	}
	if err := ledgerSvc.SetFrozen(ctx, frozen.AccountNumber, true, "test"); err != nil {
		t.Fatalf("failed to freeze account: %v", err)
	}
	treasury, err := ledgerSvc.CreatePublicAccount(ctx, "국고", "pw", 0, "admin-1")
	if err != nil {
		t.Fatalf("failed to create treasury: %v", err)
	}

	if _, err := svc.SetTreasury(ctx, "admin-1", treasury.AccountNumber); err != nil {
		t.Fatalf("failed to set treasury: %v", err)
	}
	if _, err := svc.SetTreasury(ctx, "admin-1", payer.AccountNumber); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound for a personal treasury, got %v", err)
	}
	if _, err := svc.ConfigureTax(ctx, "admin-1", "세금", 0.1, 30); err != nil {
		t.Fatalf("failed to configure tax: %v", err)
	}

	report, err := svc.CollectTax(ctx, "admin-1")
	if err != nil {
		t.Fatalf("collection failed: %v", err)
	}
	// Only the unfrozen personal account pays; the treasury itself is public
	// and exempt.
	if report.Payers != 1 {
		t.Errorf("expected 1 payer, got %d", report.Payers)
	}
	if report.Collected != 100_000 {
		t.Errorf("expected 100000 collected, got %d", report.Collected)
	}
	if report.Burned || report.TreasuryNumber != treasury.AccountNumber {
		t.Errorf("expected credit to treasury %s, got %+v", treasury.AccountNumber, report)
	}

	reloaded, err := ledgerSvc.LookupByNumber(ctx, treasury.AccountNumber)
	if err != nil {
		t.Fatalf("failed to reload treasury: %v", err)
	}
	if reloaded.Balance != 100_000 {
		t.Errorf("expected treasury at 100000, got %d", reloaded.Balance)
	}
	reloaded, err = ledgerSvc.LookupByOwner(ctx, "owner-b")
	if err != nil {
		t.Fatalf("failed to reload frozen account: %v", err)
	}
	if reloaded.Balance != domain.StartingBalance {
		t.Errorf("expected frozen account untouched, got %d", reloaded.Balance)
	}

	// Even with a configured treasury the record names the pseudo-account,
	// not the treasury's number.
	txs, err := store.LoadTransactions()
	if err != nil {
		t.Fatalf("failed to load transactions: %v", err)
	}
	for _, tx := range txs {
		if tx.Type == domain.TxTax && tx.To != domain.PseudoTreasury {
			t.Errorf("expected tax record sink %q, got %q", domain.PseudoTreasury, tx.To)
		}
	}
}

func TestDeleteTaxConfig(t *testing.T) {
	svc, _, _ := newTestEngines(t, []string{"admin-1"})
	ctx := context.Background()

	if _, err := svc.ConfigureTax(ctx, "admin-1", "세금", 0.1, 30); err != nil {
		t.Fatalf("failed to configure tax: %v", err)
	}
	if err := svc.DeleteTaxConfig(ctx, "user-1"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for non-admin, got %v", err)
	}
	if err := svc.DeleteTaxConfig(ctx, "admin-1"); err != nil {
		t.Fatalf("failed to delete tax config: %v", err)
	}

	status, err := svc.TaxStatus(ctx)
	if err != nil {
		t.Fatalf("failed to read tax status: %v", err)
	}
	if status.Enabled {
		t.Error("expected tax to be disabled after deletion")
	}
}

func TestSalaryRegistry(t *testing.T) {
	svc, _, _ := newTestEngines(t, []string{"admin-1"})
	ctx := context.Background()

	if err := svc.SetSalary(ctx, "user-1", "owner-a", 100_000); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for non-admin, got %v", err)
	}
	if err := svc.SetSalary(ctx, "admin-1", "owner-a", 0); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for zero salary, got %v", err)
	}
	if err := svc.SetSalary(ctx, "admin-1", "", 100_000); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for empty owner, got %v", err)
	}

	// No account needs to exist yet; salaries bind to the identity.
	if err := svc.SetSalary(ctx, "admin-1", "owner-a", 100_000); err != nil {
		t.Fatalf("failed to set salary: %v", err)
	}

	salaries, err := svc.Salaries(ctx)
	if err != nil {
		t.Fatalf("failed to list salaries: %v", err)
	}
	if salaries["owner-a"] != 100_000 {
		t.Errorf("expected registered salary 100000, got %d", salaries["owner-a"])
	}

	if err := svc.RemoveSalary(ctx, "admin-1", "owner-b"); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound for unregistered owner, got %v", err)
	}
	if err := svc.RemoveSalary(ctx, "admin-1", "owner-a"); err != nil {
		t.Fatalf("failed to remove salary: %v", err)
	}
}

func TestSalaryRegisteredBeforeAccountExists(t *testing.T) {
	svc, ledgerSvc, _ := newTestEngines(t, []string{"admin-1"})
	ctx := context.Background()

	if err := svc.SetSalary(ctx, "admin-1", "owner-a", 150_000); err != nil {
		t.Fatalf("expected registration without an account to succeed, got %v", err)
	}

	// The first payout finds no account and skips the entry without error.
	report, err := svc.PaySalaries(ctx, time.Date(2026, time.August, 8, 0, 5, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("payout failed: %v", err)
	}
	if report.Paid != 0 {
		t.Errorf("expected no payment before the account exists, got %+v", report)
	}

	if _, err := ledgerSvc.CreatePersonalAccount(ctx, "owner-a", "A"); err != nil {
		t.Fatalf("failed to create account: %v", err)
	}

	// A later payout day picks the entry up.
	report, err = svc.PaySalaries(ctx, time.Date(2026, time.September, 12, 0, 5, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("payout failed: %v", err)
	}
	if report.Paid != 1 || report.Total != 150_000 {
		t.Errorf("expected 1 payment totaling 150000, got %+v", report)
	}

	account, err := ledgerSvc.LookupByOwner(ctx, "owner-a")
	if err != nil {
		t.Fatalf("failed to reload account: %v", err)
	}
	if account.Balance != domain.StartingBalance+150_000 {
		t.Errorf("expected balance %d, got %d", domain.StartingBalance+150_000, account.Balance)
	}
}

func TestPaySalariesOncePerDay(t *testing.T) {
	svc, ledgerSvc, _ := newTestEngines(t, []string{"admin-1"})
	ctx := context.Background()

	if _, err := ledgerSvc.CreatePersonalAccount(ctx, "owner-a", "A"); err != nil {
		t.Fatalf("failed to create account: %v", err)
	}
	skipped, err := ledgerSvc.CreatePersonalAccount(ctx, "owner-b", "B")
	if err != nil {
		t.Fatalf("failed to create account: %v", err)
	}
	if err := ledgerSvc.SetFrozen(ctx, skipped.AccountNumber, true, "test"); err != nil {
		t.Fatalf("failed to freeze account: %v", err)
	}
	if err := svc.SetSalary(ctx, "admin-1", "owner-a", 200_000); err != nil {
		t.Fatalf("failed to set salary: %v", err)
	}
	if err := svc.SetSalary(ctx, "admin-1", "owner-b", 300_000); err != nil {
		t.Fatalf("failed to set salary: %v", err)
	}

	payday := time.Date(2026, time.August, 8, 0, 10, 0, 0, time.UTC)
	report, err := svc.PaySalaries(ctx, payday)
	if err != nil {
		t.Fatalf("payout failed: %v", err)
	}
	if report.Paid != 1 || report.Total != 200_000 {
		t.Errorf("expected 1 payment totaling 200000, got %+v", report)
	}

	// Ticks later in the same hour must not pay twice.
	report, err = svc.PaySalaries(ctx, payday.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("second payout failed: %v", err)
	}
	if report.Paid != 0 {
		t.Errorf("expected the day guard to skip the second run, got %+v", report)
	}

	reloaded, err := ledgerSvc.LookupByOwner(ctx, "owner-a")
	if err != nil {
		t.Fatalf("failed to reload account: %v", err)
	}
	if reloaded.Balance != domain.StartingBalance+200_000 {
		t.Errorf("expected balance %d, got %d", domain.StartingBalance+200_000, reloaded.Balance)
	}
	reloaded, err = ledgerSvc.LookupByOwner(ctx, "owner-b")
	if err != nil {
		t.Fatalf("failed to reload frozen account: %v", err)
	}
	if reloaded.Balance != domain.StartingBalance {
		t.Errorf("expected frozen account to be skipped, got %d", reloaded.Balance)
	}
}
