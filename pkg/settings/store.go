// Package settings persists user preferences and the submitted order history
// to a local JSON file.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"token-dump/pkg/types"
)

const DefaultFileName = ".token-dump-settings.json"

type fileFormat struct {
	Settings Settings      `json:"settings"`
	Orders   []OrderRecord `json:"orders"`
}

// Store handles persistence of settings and order history
type Store struct {
	filePath string
	mu       sync.RWMutex
	data     fileFormat
}

// NewStore loads the store at filePath, defaulting to the home directory
func NewStore(filePath string) (*Store, error) {
	if filePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		filePath = filepath.Join(home, DefaultFileName)
	}

	s := &Store{
		filePath: filePath,
		data:     fileFormat{Settings: Defaults()},
	}

	if err := s.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load settings: %w", err)
		}
	}

	return s, nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}

	data := fileFormat{Settings: Defaults()}
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	if ValidateSlippage(data.Settings.SlippageBps) != nil {
		data.Settings.SlippageBps = DefaultSlippageBps
	}

	s.data = data
	return nil
}

// saveLocked writes the store to disk. Callers hold the write lock.
func (s *Store) saveLocked() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile := s.filePath + ".tmp"
	if err := os.WriteFile(tempFile, raw, 0600); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tempFile, s.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Settings returns a copy of the current settings
func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.data.Settings
	out.TokenLists = append([]string(nil), out.TokenLists...)
	out.CustomTokens = append([]types.Token(nil), out.CustomTokens...)
	return out
}

// SetSlippage stores the slippage tolerance in basis points
func (s *Store) SetSlippage(bps int) error {
	if err := ValidateSlippage(bps); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.Settings.SlippageBps = bps
	return s.saveLocked()
}

// AddTokenList remembers a custom token list location
func (s *Store) AddTokenList(uri string) error {
	if err := ValidateListURI(uri); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.data.Settings.TokenLists {
		if existing == uri {
			return fmt.Errorf("token list '%s' already added", uri)
		}
	}
	s.data.Settings.TokenLists = append(s.data.Settings.TokenLists, uri)
	return s.saveLocked()
}

// RemoveTokenList forgets a custom token list
func (s *Store) RemoveTokenList(uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lists := s.data.Settings.TokenLists
	for i, existing := range lists {
		if existing == uri {
			s.data.Settings.TokenLists = append(lists[:i:i], lists[i+1:]...)
			return s.saveLocked()
		}
	}
	return fmt.Errorf("token list '%s' not found", uri)
}

// AddCustomToken stores a token that is not part of any list. A token with
// the same identity is replaced.
func (s *Store) AddCustomToken(token types.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens := s.data.Settings.CustomTokens
	for i, existing := range tokens {
		if existing.SameAs(token) {
			tokens[i] = token
			return s.saveLocked()
		}
	}
	s.data.Settings.CustomTokens = append(tokens, token)
	return s.saveLocked()
}

// RemoveCustomToken drops the custom token with the given key
func (s *Store) RemoveCustomToken(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens := s.data.Settings.CustomTokens
	for i, existing := range tokens {
		if existing.Key() == key {
			s.data.Settings.CustomTokens = append(tokens[:i:i], tokens[i+1:]...)
			return s.saveLocked()
		}
	}
	return fmt.Errorf("custom token '%s' not found", key)
}

// RecordOrder adds or updates an order in the history. The oldest orders
// are dropped past MaxOrderHistory.
func (s *Store) RecordOrder(rec OrderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	rec.Updated = now
	for i, existing := range s.data.Orders {
		if existing.UID == rec.UID {
			rec.Created = existing.Created
			s.data.Orders[i] = rec
			return s.saveLocked()
		}
	}

	if rec.Created.IsZero() {
		rec.Created = now
	}
	s.data.Orders = append(s.data.Orders, rec)
	if len(s.data.Orders) > MaxOrderHistory {
		s.data.Orders = s.data.Orders[len(s.data.Orders)-MaxOrderHistory:]
	}
	return s.saveLocked()
}

// UpdateOrderStatus changes the stored status of an order
func (s *Store) UpdateOrderStatus(uid string, status types.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.data.Orders {
		if existing.UID == uid {
			s.data.Orders[i].Status = status
			s.data.Orders[i].Updated = time.Now()
			return s.saveLocked()
		}
	}
	return fmt.Errorf("order '%s' not found", uid)
}

// Order returns the record for uid
func (s *Store) Order(uid string) (OrderRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, existing := range s.data.Orders {
		if existing.UID == uid {
			return existing, true
		}
	}
	return OrderRecord{}, false
}

// Orders returns the history, newest first
func (s *Store) Orders() []OrderRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]OrderRecord(nil), s.data.Orders...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Created.After(out[j].Created)
	})
	return out
}

// PendingOrders returns the orders that have not reached a final status
func (s *Store) PendingOrders() []OrderRecord {
	var out []OrderRecord
	for _, rec := range s.Orders() {
		if !rec.Status.IsTerminal() {
			out = append(out, rec)
		}
	}
	return out
}

// FilePath returns the storage file path
func (s *Store) FilePath() string {
	return s.filePath
}
