package ledger

import (
	"context"
	"crypto/subtle"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"ledger/internal/domain"
	"ledger/internal/storage"
)

// ErrNumbersExhausted is returned when no unused 4-digit account number is
// left to allocate. It wraps ErrInvalidArgument so callers report the
// specific message over the standard code.
var ErrNumbersExhausted = fmt.Errorf("account number space exhausted: %w", domain.ErrInvalidArgument)

const numberSpaceSize = 9000 // {1000..9999}

// TransferReceipt reports a completed balance movement.
type TransferReceipt struct {
	From             string
	To               string
	Amount           int64
	Fee              int64
	SenderBalance    int64
	RecipientBalance int64
}

// AccountStatus is one row of the admin account listing.
type AccountStatus struct {
	AccountNumber string
	DisplayName   string
	Balance       int64
	IsPublic      bool
	Frozen        bool
}

type Service interface {
	CreatePersonalAccount(ctx context.Context, ownerID, displayName string) (*domain.Account, error)
	CreatePublicAccount(ctx context.Context, name, password string, initialBalance int64, createdBy string) (*domain.Account, error)
	LookupByOwner(ctx context.Context, ownerID string) (*domain.Account, error)
	LookupByNumber(ctx context.Context, number string) (*domain.Account, error)
	VerifyPublicAccount(ctx context.Context, number, password string) (*domain.Account, error)
	Transfer(ctx context.Context, senderOwnerID, recipientOwnerID string, amount int64, memo string) (*TransferReceipt, error)
	TransferByNumber(ctx context.Context, senderOwnerID, recipientNumber string, amount int64, memo string) (*TransferReceipt, error)
	PublicTransfer(ctx context.Context, publicNumber, password, recipientNumber string, amount int64, memo string) (*TransferReceipt, error)
	Confiscate(ctx context.Context, targetOwnerID string, amount int64, publicNumber, memo string) (*TransferReceipt, error)
	SetBalance(ctx context.Context, number string, newBalance int64, reason string) (int64, error)
	SetFrozen(ctx context.Context, number string, frozen bool, reason string) error
	IsFrozen(ctx context.Context, number string) (bool, error)
	ListAccounts(ctx context.Context) ([]AccountStatus, error)
	History(ctx context.Context, ownerID string, count int) ([]domain.Transaction, error)
}

type ledgerService struct {
	store  *storage.Store
	mu     *sync.Mutex // shared engine lock serializing all balance mutations
	logger *zap.Logger
}

// NewService builds the account directory and transfer engine. The mutex is
// shared with the policy service so that every balance-mutating operation in
// the process runs in one exclusive section.
func NewService(store *storage.Store, mu *sync.Mutex, logger *zap.Logger) Service {
	return &ledgerService{store: store, mu: mu, logger: logger}
}

// ComputeFee is a pure function of the amount and the fee-policy snapshot.
// Truncation matches the original platform's integer cast.
func ComputeFee(amount int64, p domain.FeePolicy) int64 {
	if !p.Enabled || amount < p.MinAmount {
		return 0
	}
	return int64(float64(amount) * p.FeeRate)
}

func (s *ledgerService) CreatePersonalAccount(ctx context.Context, ownerID, displayName string) (*domain.Account, error) {
	// Pseudo-accounts are log counterparts, never rows; an owner id that
	// shadows one would corrupt every record naming it.
	if domain.IsPseudoAccount(ownerID) {
		return nil, fmt.Errorf("owner id %s is reserved: %w", ownerID, domain.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.store.LoadAccounts()
	if err != nil {
		return nil, err
	}
	index, err := s.store.LoadIndex()
	if err != nil {
		return nil, err
	}

	if _, ok := accounts[ownerID]; ok {
		return nil, fmt.Errorf("owner %s: %w", ownerID, domain.ErrAccountAlreadyExists)
	}
	for _, entry := range index {
		if entry.OwnerID == ownerID {
			return nil, fmt.Errorf("owner %s: %w", ownerID, domain.ErrAccountAlreadyExists)
		}
	}

	number, err := allocateNumber(accounts, index)
	if err != nil {
		return nil, err
	}

	account := &domain.Account{
		DisplayName:   displayName,
		AccountNumber: number,
		Balance:       domain.StartingBalance,
	}
	accounts[ownerID] = account
	if err := s.store.SaveAccounts(accounts); err != nil {
		return nil, err
	}
	index[number] = domain.IndexEntry{OwnerID: ownerID, DisplayName: displayName, CreatedAt: time.Now().UTC()}
	if err := s.store.SaveIndex(index); err != nil {
		return nil, err
	}
	if err := s.appendTransaction(domain.TxCreation, domain.PseudoSystem, number, domain.StartingBalance, 0, "initial grant"); err != nil {
		return nil, err
	}

	s.logger.Info("personal account created",
		zap.String("owner_id", ownerID),
		zap.String("account_number", number))
	return account, nil
}

func (s *ledgerService) CreatePublicAccount(ctx context.Context, name, password string, initialBalance int64, createdBy string) (*domain.Account, error) {
	if name == "" || password == "" {
		return nil, fmt.Errorf("public account needs a name and a password: %w", domain.ErrInvalidArgument)
	}
	if initialBalance < 0 {
		return nil, fmt.Errorf("initial balance must not be negative: %w", domain.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.store.LoadAccounts()
	if err != nil {
		return nil, err
	}
	index, err := s.store.LoadIndex()
	if err != nil {
		return nil, err
	}
	for _, acc := range accounts {
		if acc.IsPublic && acc.DisplayName == name {
			return nil, fmt.Errorf("public account %s: %w", name, domain.ErrAccountAlreadyExists)
		}
	}

	number, err := allocateNumber(accounts, index)
	if err != nil {
		return nil, err
	}

	account := &domain.Account{
		DisplayName:   name,
		AccountNumber: number,
		Balance:       initialBalance,
		IsPublic:      true,
		Password:      password,
		CreatedBy:     createdBy,
	}
	accounts[number] = account
	if err := s.store.SaveAccounts(accounts); err != nil {
		return nil, err
	}
	index[number] = domain.IndexEntry{OwnerID: number, DisplayName: name, CreatedAt: time.Now().UTC()}
	if err := s.store.SaveIndex(index); err != nil {
		return nil, err
	}
	if initialBalance > 0 {
		if err := s.appendTransaction(domain.TxPublicCreation, domain.PseudoAdmin, number, initialBalance, 0, name+" initial funding"); err != nil {
			return nil, err
		}
	}

	s.logger.Info("public account created",
		zap.String("name", name),
		zap.String("account_number", number),
		zap.Int64("initial_balance", initialBalance))
	return account, nil
}

func (s *ledgerService) LookupByOwner(ctx context.Context, ownerID string) (*domain.Account, error) {
	accounts, err := s.store.LoadAccounts()
	if err != nil {
		return nil, err
	}
	account, ok := accounts[ownerID]
	if !ok {
		return nil, fmt.Errorf("owner %s: %w", ownerID, domain.ErrAccountNotFound)
	}
	return account, nil
}

func (s *ledgerService) LookupByNumber(ctx context.Context, number string) (*domain.Account, error) {
	accounts, err := s.store.LoadAccounts()
	if err != nil {
		return nil, err
	}
	index, err := s.store.LoadIndex()
	if err != nil {
		return nil, err
	}
	_, account := findByNumber(accounts, index, number)
	if account == nil {
		return nil, fmt.Errorf("account %s: %w", number, domain.ErrAccountNotFound)
	}
	return account, nil
}

func (s *ledgerService) VerifyPublicAccount(ctx context.Context, number, password string) (*domain.Account, error) {
	accounts, err := s.store.LoadAccounts()
	if err != nil {
		return nil, err
	}
	for _, acc := range accounts {
		if acc.IsPublic && acc.AccountNumber == number {
			if subtle.ConstantTimeCompare([]byte(acc.Password), []byte(password)) == 1 {
				return acc, nil
			}
			break
		}
	}
	return nil, fmt.Errorf("public account number or password incorrect: %w", domain.ErrUnauthorized)
}

func (s *ledgerService) Transfer(ctx context.Context, senderOwnerID, recipientOwnerID string, amount int64, memo string) (*TransferReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	accounts, settings, err := s.loadForTransfer()
	if err != nil {
		return nil, err
	}
	sender, ok := accounts[senderOwnerID]
	if !ok {
		return nil, fmt.Errorf("sender has no account: %w", domain.ErrAccountNotFound)
	}
	recipient, ok := accounts[recipientOwnerID]
	if !ok {
		return nil, fmt.Errorf("recipient has no account: %w", domain.ErrAccountNotFound)
	}
	return s.applyTransfer(accounts, settings, sender, recipient, amount, memo)
}

func (s *ledgerService) TransferByNumber(ctx context.Context, senderOwnerID, recipientNumber string, amount int64, memo string) (*TransferReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	accounts, settings, err := s.loadForTransfer()
	if err != nil {
		return nil, err
	}
	sender, ok := accounts[senderOwnerID]
	if !ok {
		return nil, fmt.Errorf("sender has no account: %w", domain.ErrAccountNotFound)
	}
	index, err := s.store.LoadIndex()
	if err != nil {
		return nil, err
	}
	_, recipient := findByNumber(accounts, index, recipientNumber)
	if recipient == nil {
		return nil, fmt.Errorf("account %s: %w", recipientNumber, domain.ErrAccountNotFound)
	}
	return s.applyTransfer(accounts, settings, sender, recipient, amount, memo)
}

func (s *ledgerService) PublicTransfer(ctx context.Context, publicNumber, password, recipientNumber string, amount int64, memo string) (*TransferReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	accounts, settings, err := s.loadForTransfer()
	if err != nil {
		return nil, err
	}
	var sender *domain.Account
	for _, acc := range accounts {
		if acc.IsPublic && acc.AccountNumber == publicNumber {
			if subtle.ConstantTimeCompare([]byte(acc.Password), []byte(password)) == 1 {
				sender = acc
			}
			break
		}
	}
	if sender == nil {
		return nil, fmt.Errorf("public account number or password incorrect: %w", domain.ErrUnauthorized)
	}
	index, err := s.store.LoadIndex()
	if err != nil {
		return nil, err
	}
	_, recipient := findByNumber(accounts, index, recipientNumber)
	if recipient == nil {
		return nil, fmt.Errorf("account %s: %w", recipientNumber, domain.ErrAccountNotFound)
	}
	return s.applyTransfer(accounts, settings, sender, recipient, amount, memo)
}

// applyTransfer runs the shared Validate → ComputeFee → Debit → Credit → Log
// state machine. Callers hold the engine lock and have resolved both parties.
func (s *ledgerService) applyTransfer(accounts map[string]*domain.Account, settings *domain.Settings, sender, recipient *domain.Account, amount int64, memo string) (*TransferReceipt, error) {
	if sender.AccountNumber == recipient.AccountNumber {
		return nil, fmt.Errorf("cannot transfer to the same account: %w", domain.ErrInvalidArgument)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive: %w", domain.ErrInvalidArgument)
	}
	if settings.IsFrozen(sender.AccountNumber) || settings.IsFrozen(recipient.AccountNumber) {
		return nil, fmt.Errorf("a frozen account is involved: %w", domain.ErrAccountFrozen)
	}
	fee := ComputeFee(amount, settings.TransactionFee)
	if sender.Balance < amount+fee {
		return nil, fmt.Errorf("need %d including fee: %w", amount+fee, domain.ErrInsufficientBalance)
	}

	sender.Balance -= amount + fee
	recipient.Balance += amount
	if err := s.store.SaveAccounts(accounts); err != nil {
		return nil, err
	}
	if err := s.appendTransaction(domain.TxTransfer, sender.AccountNumber, recipient.AccountNumber, amount, fee, memo); err != nil {
		return nil, err
	}

	s.logger.Info("transfer completed",
		zap.String("from", sender.AccountNumber),
		zap.String("to", recipient.AccountNumber),
		zap.Int64("amount", amount),
		zap.Int64("fee", fee))
	return &TransferReceipt{
		From:             sender.AccountNumber,
		To:               recipient.AccountNumber,
		Amount:           amount,
		Fee:              fee,
		SenderBalance:    sender.Balance,
		RecipientBalance: recipient.Balance,
	}, nil
}

func (s *ledgerService) Confiscate(ctx context.Context, targetOwnerID string, amount int64, publicNumber, memo string) (*TransferReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	accounts, err := s.store.LoadAccounts()
	if err != nil {
		return nil, err
	}
	target, ok := accounts[targetOwnerID]
	if !ok {
		return nil, fmt.Errorf("target has no account: %w", domain.ErrAccountNotFound)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive: %w", domain.ErrInvalidArgument)
	}
	public, ok := accounts[publicNumber]
	if !ok || !public.IsPublic {
		return nil, fmt.Errorf("public account %s: %w", publicNumber, domain.ErrAccountNotFound)
	}

	// A frozen target can still be seized from; the requested amount clamps
	// down to what the target actually holds.
	if amount > target.Balance {
		amount = target.Balance
	}
	if amount <= 0 {
		return nil, fmt.Errorf("nothing to seize: %w", domain.ErrInvalidArgument)
	}

	target.Balance -= amount
	public.Balance += amount
	if err := s.store.SaveAccounts(accounts); err != nil {
		return nil, err
	}
	if err := s.appendTransaction(domain.TxConfiscation, target.AccountNumber, publicNumber, amount, 0, memo); err != nil {
		return nil, err
	}

	s.logger.Info("confiscation completed",
		zap.String("from", target.AccountNumber),
		zap.String("to", publicNumber),
		zap.Int64("amount", amount))
	return &TransferReceipt{
		From:             target.AccountNumber,
		To:               publicNumber,
		Amount:           amount,
		SenderBalance:    target.Balance,
		RecipientBalance: public.Balance,
	}, nil
}

// SetBalance is the administrative override: it sets an absolute balance,
// bypassing every transfer check, and may legally drive the balance negative.
func (s *ledgerService) SetBalance(ctx context.Context, number string, newBalance int64, reason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	accounts, err := s.store.LoadAccounts()
	if err != nil {
		return 0, err
	}
	index, err := s.store.LoadIndex()
	if err != nil {
		return 0, err
	}
	_, account := findByNumber(accounts, index, number)
	if account == nil {
		return 0, fmt.Errorf("account %s: %w", number, domain.ErrAccountNotFound)
	}

	old := account.Balance
	account.Balance = newBalance
	if err := s.store.SaveAccounts(accounts); err != nil {
		return 0, err
	}
	if err := s.appendTransaction(domain.TxAdminAdjust, domain.PseudoAdmin, number, newBalance-old, 0, reason); err != nil {
		return 0, err
	}

	s.logger.Info("balance overridden",
		zap.String("account_number", number),
		zap.Int64("old_balance", old),
		zap.Int64("new_balance", newBalance))
	return old, nil
}

func (s *ledgerService) SetFrozen(ctx context.Context, number string, frozen bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	accounts, err := s.store.LoadAccounts()
	if err != nil {
		return err
	}
	index, err := s.store.LoadIndex()
	if err != nil {
		return err
	}
	_, account := findByNumber(accounts, index, number)
	if account == nil {
		return fmt.Errorf("account %s: %w", number, domain.ErrAccountNotFound)
	}

	settings, err := s.store.LoadSettings()
	if err != nil {
		return err
	}
	if frozen == settings.IsFrozen(number) {
		if frozen {
			return fmt.Errorf("account %s is already frozen: %w", number, domain.ErrInvalidArgument)
		}
		return fmt.Errorf("account %s is not frozen: %w", number, domain.ErrInvalidArgument)
	}
	if frozen {
		settings.FrozenAccounts[number] = domain.FrozenEntry{FrozenAt: time.Now().UTC(), Reason: reason}
	} else {
		delete(settings.FrozenAccounts, number)
	}
	if err := s.store.SaveSettings(settings); err != nil {
		return err
	}

	s.logger.Info("freeze state changed",
		zap.String("account_number", number),
		zap.Bool("frozen", frozen),
		zap.String("reason", reason))
	return nil
}

func (s *ledgerService) IsFrozen(ctx context.Context, number string) (bool, error) {
	settings, err := s.store.LoadSettings()
	if err != nil {
		return false, err
	}
	return settings.IsFrozen(number), nil
}

func (s *ledgerService) ListAccounts(ctx context.Context) ([]AccountStatus, error) {
	accounts, err := s.store.LoadAccounts()
	if err != nil {
		return nil, err
	}
	settings, err := s.store.LoadSettings()
	if err != nil {
		return nil, err
	}
	out := make([]AccountStatus, 0, len(accounts))
	for _, acc := range accounts {
		out = append(out, AccountStatus{
			AccountNumber: acc.AccountNumber,
			DisplayName:   acc.DisplayName,
			Balance:       acc.Balance,
			IsPublic:      acc.IsPublic,
			Frozen:        settings.IsFrozen(acc.AccountNumber),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountNumber < out[j].AccountNumber })
	return out, nil
}

func (s *ledgerService) History(ctx context.Context, ownerID string, count int) ([]domain.Transaction, error) {
	if count < 1 || count > 50 {
		return nil, fmt.Errorf("count must be between 1 and 50: %w", domain.ErrInvalidArgument)
	}
	accounts, err := s.store.LoadAccounts()
	if err != nil {
		return nil, err
	}
	account, ok := accounts[ownerID]
	if !ok {
		return nil, fmt.Errorf("owner %s: %w", ownerID, domain.ErrAccountNotFound)
	}
	txs, err := s.store.LoadTransactions()
	if err != nil {
		return nil, err
	}
	var out []domain.Transaction
	for i := len(txs) - 1; i >= 0 && len(out) < count; i-- {
		if txs[i].From == account.AccountNumber || txs[i].To == account.AccountNumber {
			out = append(out, txs[i])
		}
	}
	return out, nil
}

func (s *ledgerService) loadForTransfer() (map[string]*domain.Account, *domain.Settings, error) {
	accounts, err := s.store.LoadAccounts()
	if err != nil {
		return nil, nil, err
	}
	settings, err := s.store.LoadSettings()
	if err != nil {
		return nil, nil, err
	}
	return accounts, settings, nil
}

func (s *ledgerService) appendTransaction(txType domain.TransactionType, from, to string, amount, fee int64, memo string) error {
	txs, err := s.store.LoadTransactions()
	if err != nil {
		return err
	}
	txs = append(txs, domain.Transaction{
		Timestamp: time.Now().UTC(),
		Type:      txType,
		From:      from,
		To:        to,
		Amount:    amount,
		Fee:       fee,
		Memo:      memo,
	})
	return s.store.SaveTransactions(txs)
}

// findByNumber resolves an account number through the index, falling back to
// a table scan for rows the index might be missing after a manual repair.
func findByNumber(accounts map[string]*domain.Account, index map[string]domain.IndexEntry, number string) (string, *domain.Account) {
	if entry, ok := index[number]; ok {
		if acc, ok := accounts[entry.OwnerID]; ok && acc.AccountNumber == number {
			return entry.OwnerID, acc
		}
	}
	for key, acc := range accounts {
		if acc.AccountNumber == number {
			return key, acc
		}
	}
	return "", nil
}

// allocateNumber draws an unused 4-digit number uniformly, resampling on
// collision. It fails cleanly once the namespace is exhausted instead of
// looping forever.
func allocateNumber(accounts map[string]*domain.Account, index map[string]domain.IndexEntry) (string, error) {
	used := make(map[string]struct{}, len(index)+len(accounts))
	for number := range index {
		used[number] = struct{}{}
	}
	for _, acc := range accounts {
		used[acc.AccountNumber] = struct{}{}
	}
	if len(used) >= numberSpaceSize {
		return "", ErrNumbersExhausted
	}
	for {
		number := fmt.Sprintf("%d", 1000+rand.IntN(numberSpaceSize))
		if _, taken := used[number]; !taken {
			return number, nil
		}
	}
}
