package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
)

// accountRecord is the persisted per-user shape.
type accountRecord struct {
	Balance    int    `json:"balance"`
	Username   string `json:"username,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	VideoCount int    `json:"video_count"`
}

var _ Store = (*FileStore)(nil)

// FileStore is the default ledger backend: a single JSON file keyed by user
// id, rewritten wholesale after every mutation. Mutations are serialized by
// a mutex; concurrent processes writing the same file are last-write-wins.
type FileStore struct {
	path   string
	grant  int
	logger zerolog.Logger

	mu       sync.Mutex
	accounts map[int64]accountRecord
}

// OpenFile loads the ledger at path, starting empty when the file does not
// exist. A file that exists but cannot be parsed is an error; silently
// starting over would erase balances.
func OpenFile(path string, grant int, logger zerolog.Logger) (*FileStore, error) {
	s := &FileStore{
		path:     path,
		grant:    grant,
		logger:   logger,
		accounts: make(map[int64]accountRecord),
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Info().Str("path", path).Msg("ledger: starting with empty file store")
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: read %s: %w", path, err)
	}

	var persisted map[string]accountRecord
	if err := json.Unmarshal(raw, &persisted); err != nil {
		return nil, fmt.Errorf("ledger: parse %s: %w", path, err)
	}
	for key, record := range persisted {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ledger: parse %s: bad user id %q", path, key)
		}
		s.accounts[id] = record
	}
	logger.Info().Str("path", path).Int("accounts", len(s.accounts)).Msg("ledger: file store loaded")
	return s, nil
}

func (s *FileStore) Account(ctx context.Context, userID int64, profile Profile) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, created := s.ensureLocked(userID)
	touched := s.applyProfileLocked(&record, profile)
	if created || touched {
		s.accounts[userID] = record
		if err := s.persistLocked(); err != nil {
			return Account{}, err
		}
	}
	return s.toAccount(userID, record), nil
}

func (s *FileStore) Balance(ctx context.Context, userID int64) (int, error) {
	account, err := s.Account(ctx, userID, Profile{})
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

func (s *FileStore) AddTokens(ctx context.Context, userID int64, amount int, profile Profile) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, _ := s.ensureLocked(userID)
	s.applyProfileLocked(&record, profile)
	record.Balance += amount
	s.accounts[userID] = record
	if err := s.persistLocked(); err != nil {
		return 0, err
	}
	s.logger.Info().
		Int64("user_id", userID).
		Int("amount", amount).
		Int("balance", record.Balance).
		Msg("ledger: tokens added")
	return record.Balance, nil
}

func (s *FileStore) SpendTokens(ctx context.Context, userID int64, amount int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, created := s.ensureLocked(userID)
	if record.Balance < amount {
		if created {
			s.accounts[userID] = record
			if err := s.persistLocked(); err != nil {
				return false, err
			}
		}
		return false, nil
	}
	record.Balance -= amount
	s.accounts[userID] = record
	if err := s.persistLocked(); err != nil {
		return false, err
	}
	s.logger.Info().
		Int64("user_id", userID).
		Int("amount", amount).
		Int("balance", record.Balance).
		Msg("ledger: tokens spent")
	return true, nil
}

func (s *FileStore) IncrementVideoCount(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, _ := s.ensureLocked(userID)
	record.VideoCount++
	s.accounts[userID] = record
	return s.persistLocked()
}

func (s *FileStore) Totals(ctx context.Context) (Totals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	totals := Totals{Users: len(s.accounts)}
	for _, record := range s.accounts {
		totals.Tokens += record.Balance
		totals.Videos += record.VideoCount
	}
	return totals, nil
}

// ensureLocked returns the user's record, creating it with the initial grant
// when the user is new. The caller writes the record back.
func (s *FileStore) ensureLocked(userID int64) (accountRecord, bool) {
	record, ok := s.accounts[userID]
	if ok {
		return record, false
	}
	record = accountRecord{Balance: s.grant}
	s.logger.Info().
		Int64("user_id", userID).
		Int("grant", s.grant).
		Msg("ledger: account created")
	return record, true
}

func (s *FileStore) applyProfileLocked(record *accountRecord, profile Profile) bool {
	touched := false
	if profile.Username != "" && profile.Username != record.Username {
		record.Username = profile.Username
		touched = true
	}
	if profile.FirstName != "" && profile.FirstName != record.FirstName {
		record.FirstName = profile.FirstName
		touched = true
	}
	return touched
}

func (s *FileStore) persistLocked() error {
	persisted := make(map[string]accountRecord, len(s.accounts))
	for id, record := range s.accounts {
		persisted[strconv.FormatInt(id, 10)] = record
	}
	data, err := json.MarshalIndent(persisted, "", "  ")
	if err != nil {
		return fmt.Errorf("ledger: encode: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ledger: create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("ledger: write %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) toAccount(userID int64, record accountRecord) Account {
	return Account{
		UserID:     userID,
		Balance:    record.Balance,
		Username:   record.Username,
		FirstName:  record.FirstName,
		VideoCount: record.VideoCount,
	}
}
