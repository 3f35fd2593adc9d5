// Package link pairs ledger identities with external platform identities
// through short-lived numeric codes.
package link

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"ledger/internal/domain"
	"ledger/internal/storage"
)

type Service interface {
	IssueCode(ctx context.Context, ownerID string) (string, time.Time, error)
	CompleteLink(ctx context.Context, code, externalID, externalName string) (string, error)
	Status(ctx context.Context, ownerID string) (*domain.LinkInfo, error)
	Unlink(ctx context.Context, ownerID string) error
}

type linkService struct {
	store  *storage.Store
	mu     sync.Mutex
	logger *zap.Logger
}

func NewService(store *storage.Store, logger *zap.Logger) Service {
	return &linkService{store: store, logger: logger}
}

// IssueCode hands out a fresh 6-digit code valid for ten minutes. Re-issuing
// replaces any code the identity already had pending.
func (s *linkService) IssueCode(ctx context.Context, ownerID string) (string, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.store.LoadAccounts()
	if err != nil {
		return "", time.Time{}, err
	}
	if _, ok := accounts[ownerID]; !ok {
		return "", time.Time{}, fmt.Errorf("owner %s: %w", ownerID, domain.ErrAccountNotFound)
	}

	table, err := s.store.LoadLinks()
	if err != nil {
		return "", time.Time{}, err
	}
	if _, linked := table.Links[ownerID]; linked {
		return "", time.Time{}, fmt.Errorf("identity is already linked: %w", domain.ErrInvalidArgument)
	}
	pruneExpired(table, time.Now().UTC())

	code, err := freshCode(table)
	if err != nil {
		return "", time.Time{}, err
	}
	expires := time.Now().UTC().Add(domain.LinkCodeTTL)
	table.Pending[ownerID] = domain.PendingCode{Code: code, Expires: expires}
	if err := s.store.SaveLinks(table); err != nil {
		return "", time.Time{}, err
	}

	s.logger.Info("link code issued",
		zap.String("owner_id", ownerID),
		zap.Time("expires", expires))
	return code, expires, nil
}

// CompleteLink consumes a pending code and binds the external identity to
// the ledger identity that issued it.
func (s *linkService) CompleteLink(ctx context.Context, code, externalID, externalName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.store.LoadLinks()
	if err != nil {
		return "", err
	}
	pruneExpired(table, time.Now().UTC())

	ownerID := ""
	for owner, pending := range table.Pending {
		if pending.Code == code {
			ownerID = owner
			break
		}
	}
	if ownerID == "" {
		// Persist the pruning even on failure so stale codes disappear.
		if err := s.store.SaveLinks(table); err != nil {
			return "", err
		}
		return "", fmt.Errorf("code is invalid or expired: %w", domain.ErrInvalidArgument)
	}
	for owner, info := range table.Links {
		if info.ExternalID == externalID {
			return "", fmt.Errorf("external identity already linked to %s: %w", owner, domain.ErrAccountAlreadyExists)
		}
	}

	delete(table.Pending, ownerID)
	table.Links[ownerID] = domain.LinkInfo{
		ExternalID:   externalID,
		ExternalName: externalName,
		LinkedAt:     time.Now().UTC(),
	}
	if err := s.store.SaveLinks(table); err != nil {
		return "", err
	}

	s.logger.Info("link completed",
		zap.String("owner_id", ownerID),
		zap.String("external_id", externalID))
	return ownerID, nil
}

func (s *linkService) Status(ctx context.Context, ownerID string) (*domain.LinkInfo, error) {
	table, err := s.store.LoadLinks()
	if err != nil {
		return nil, err
	}
	info, ok := table.Links[ownerID]
	if !ok {
		return nil, fmt.Errorf("identity is not linked: %w", domain.ErrAccountNotFound)
	}
	return &info, nil
}

func (s *linkService) Unlink(ctx context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.store.LoadLinks()
	if err != nil {
		return err
	}
	if _, ok := table.Links[ownerID]; !ok {
		return fmt.Errorf("identity is not linked: %w", domain.ErrAccountNotFound)
	}
	delete(table.Links, ownerID)
	if err := s.store.SaveLinks(table); err != nil {
		return err
	}

	s.logger.Info("link removed", zap.String("owner_id", ownerID))
	return nil
}

func pruneExpired(table *domain.LinkTable, now time.Time) {
	for owner, pending := range table.Pending {
		if now.After(pending.Expires) {
			delete(table.Pending, owner)
		}
	}
}

// freshCode draws a 6-digit code not currently pending.
func freshCode(table *domain.LinkTable) (string, error) {
	inUse := make(map[string]struct{}, len(table.Pending))
	for _, pending := range table.Pending {
		inUse[pending.Code] = struct{}{}
	}
	for attempt := 0; attempt < 100; attempt++ {
		code := fmt.Sprintf("%06d", rand.IntN(1_000_000))
		if _, taken := inUse[code]; !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not allocate a link code: %w", domain.ErrInvalidArgument)
}
