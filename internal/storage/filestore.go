package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"ledger/internal/domain"
)

const (
	accountsFile     = "accounts.json"
	indexFile        = "account_index.json"
	settingsFile     = "settings.json"
	transactionsFile = "transactions.json"
	linksFile        = "links.json"
)

// Store persists the engine's logical tables as JSON files under one data
// directory. Every write goes to a temp file first and is then renamed over
// the old one, so a concurrent reader sees either the fully-old or the
// fully-new content.
type Store struct {
	dir string
	mu  sync.Mutex
}

func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %v", domain.ErrStoreUnavailable, err)
	}
	s := &Store{dir: dir}

	seeds := []struct {
		name string
		def  any
	}{
		{accountsFile, map[string]*domain.Account{}},
		{indexFile, map[string]domain.IndexEntry{}},
		{settingsFile, domain.DefaultSettings()},
		{transactionsFile, []domain.Transaction{}},
		{linksFile, &domain.LinkTable{Links: map[string]domain.LinkInfo{}, Pending: map[string]domain.PendingCode{}}},
	}
	for _, seed := range seeds {
		path := filepath.Join(dir, seed.name)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			if err := s.writeJSON(path, seed.def); err != nil {
				return nil, err
			}
		} else if err != nil {
			return nil, fmt.Errorf("%w: stat %s: %v", domain.ErrStoreUnavailable, seed.name, err)
		}
	}
	return s, nil
}

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

func (s *Store) readJSON(path string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", domain.ErrStoreUnavailable, filepath.Base(path), err)
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("%w: decode %s: %v", domain.ErrStoreUnavailable, filepath.Base(path), err)
	}
	return nil
}

func (s *Store) writeJSON(path string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", domain.ErrStoreUnavailable, filepath.Base(tmp), err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: encode %s: %v", domain.ErrStoreUnavailable, filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: sync %s: %v", domain.ErrStoreUnavailable, filepath.Base(tmp), err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: close %s: %v", domain.ErrStoreUnavailable, filepath.Base(tmp), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: rename %s: %v", domain.ErrStoreUnavailable, filepath.Base(path), err)
	}
	return nil
}

func (s *Store) LoadAccounts() (map[string]*domain.Account, error) {
	accounts := map[string]*domain.Account{}
	if err := s.readJSON(s.path(accountsFile), &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (s *Store) SaveAccounts(accounts map[string]*domain.Account) error {
	return s.writeJSON(s.path(accountsFile), accounts)
}

func (s *Store) LoadIndex() (map[string]domain.IndexEntry, error) {
	index := map[string]domain.IndexEntry{}
	if err := s.readJSON(s.path(indexFile), &index); err != nil {
		return nil, err
	}
	return index, nil
}

func (s *Store) SaveIndex(index map[string]domain.IndexEntry) error {
	return s.writeJSON(s.path(indexFile), index)
}

func (s *Store) LoadSettings() (*domain.Settings, error) {
	settings := &domain.Settings{}
	if err := s.readJSON(s.path(settingsFile), settings); err != nil {
		return nil, err
	}
	settings.Repair()
	return settings, nil
}

func (s *Store) SaveSettings(settings *domain.Settings) error {
	return s.writeJSON(s.path(settingsFile), settings)
}

func (s *Store) LoadTransactions() ([]domain.Transaction, error) {
	var txs []domain.Transaction
	if err := s.readJSON(s.path(transactionsFile), &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

// SaveTransactions persists the log, trimming the oldest records beyond the
// cap.
func (s *Store) SaveTransactions(txs []domain.Transaction) error {
	if len(txs) > domain.MaxTransactionLog {
		txs = txs[len(txs)-domain.MaxTransactionLog:]
	}
	return s.writeJSON(s.path(transactionsFile), txs)
}

func (s *Store) LoadLinks() (*domain.LinkTable, error) {
	links := &domain.LinkTable{}
	if err := s.readJSON(s.path(linksFile), links); err != nil {
		return nil, err
	}
	links.Repair()
	return links, nil
}

func (s *Store) SaveLinks(links *domain.LinkTable) error {
	return s.writeJSON(s.path(linksFile), links)
}
