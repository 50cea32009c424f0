// Package accounts provides account management with file watching and persistence.
package accounts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mlewan01/codex-cockpit/internal/logger"
	"github.com/mlewan01/codex-cockpit/internal/models"
)

// ErrAccountNotFound is returned when an account lookup fails.
var ErrAccountNotFound = errors.New("account not found")

// AccountsFile represents the JSON file structure for accounts storage.
type AccountsFile struct {
	Accounts []models.Account `json:"accounts"`
	Version  int              `json:"version,omitempty"`
}

// Event represents an account service event.
type Event struct {
	Type    EventType
	Error   error
	Account *models.Account
}

// EventType defines the type of account event.
type EventType int

const (
	EventAccountsLoaded EventType = iota
	EventAccountsChanged
	EventAccountAdded
	EventAccountUpdated
	EventAccountDeleted
	EventError
)

// Service manages accounts with file watching and change notifications.
type Service struct {
	mu            sync.RWMutex
	accounts      []models.Account
	filePath      string
	watcher       *fsnotify.Watcher
	eventChan     chan Event
	stopChan      chan struct{}
	debounceTimer *time.Timer
}

// New creates a new accounts service and starts file watching.
func New(filePath string) (*Service, error) {
	if filePath == "" {
		return nil, fmt.Errorf("accounts file path required")
	}

	s := &Service{
		accounts:  make([]models.Account, 0),
		filePath:  filePath,
		eventChan: make(chan Event, 100),
		stopChan:  make(chan struct{}),
	}

	// Ensure directory exists
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create accounts directory: %w", err)
	}

	// Load accounts from file
	if err := s.loadAccounts(); err != nil {
		// If file doesn't exist, create empty accounts file
		if os.IsNotExist(err) {
			if err := s.saveAccounts(); err != nil {
				return nil, fmt.Errorf("failed to create accounts file: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to load accounts: %w", err)
		}
	}

	// Start file watcher
	if err := s.startWatcher(); err != nil {
		return nil, fmt.Errorf("failed to start file watcher: %w", err)
	}

	s.sendEvent(Event{Type: EventAccountsLoaded})

	return s, nil
}

// Events returns the event channel for subscribing to account changes.
func (s *Service) Events() <-chan Event {
	return s.eventChan
}

// List returns a copy of all accounts.
func (s *Service) List() []models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]models.Account, len(s.accounts))
	for i := range s.accounts {
		accounts[i] = s.accounts[i].Clone()
	}
	return accounts
}

// Load returns a copy of the account with the given id, or nil if absent.
func (s *Service) Load(id string) *models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.accounts {
		if s.accounts[i].ID == id {
			acc := s.accounts[i].Clone()
			return &acc
		}
	}
	return nil
}

// GetByEmail returns a copy of the account with the given email, or nil.
func (s *Service) GetByEmail(email string) *models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.accounts {
		if s.accounts[i].Email == email {
			acc := s.accounts[i].Clone()
			return &acc
		}
	}
	return nil
}

// Add adds a new account.
func (s *Service) Add(account models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, acc := range s.accounts {
		if acc.Email == account.Email {
			return fmt.Errorf("account with email %s already exists", account.Email)
		}
	}

	// Set defaults
	if account.ID == "" {
		account.ID = fmt.Sprintf("acc_%d", time.Now().UnixNano())
	}
	if account.AddedAt.IsZero() {
		account.AddedAt = time.Now()
	}

	s.accounts = append(s.accounts, account)

	if err := s.saveAccountsLocked(); err != nil {
		// Rollback
		s.accounts = s.accounts[:len(s.accounts)-1]
		return fmt.Errorf("failed to save accounts: %w", err)
	}

	s.sendEvent(Event{Type: EventAccountAdded, Account: &account})
	return nil
}

// Save persists an updated account back to the store.
func (s *Service) Save(account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for i := range s.accounts {
		if s.accounts[i].ID == account.ID {
			s.accounts[i] = account.Clone()
			found = true
			break
		}
	}

	if !found {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, account.ID)
	}

	if err := s.saveAccountsLocked(); err != nil {
		return fmt.Errorf("failed to save accounts: %w", err)
	}

	s.sendEvent(Event{Type: EventAccountUpdated, Account: account})
	return nil
}

// Delete removes an account by ID or email.
func (s *Service) Delete(idOrEmail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	var deleted models.Account
	for i, acc := range s.accounts {
		if acc.ID == idOrEmail || acc.Email == idOrEmail {
			idx = i
			deleted = acc
			break
		}
	}

	if idx == -1 {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, idOrEmail)
	}

	s.accounts = append(s.accounts[:idx], s.accounts[idx+1:]...)

	if err := s.saveAccountsLocked(); err != nil {
		return fmt.Errorf("failed to save accounts: %w", err)
	}

	s.sendEvent(Event{Type: EventAccountDeleted, Account: &deleted})
	return nil
}

// Count returns the number of accounts.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}

// authFile is the credential layout the Codex CLI expects inside CODEX_HOME.
type authFile struct {
	OpenAIAPIKey *string        `json:"OPENAI_API_KEY"`
	Tokens       authFileTokens `json:"tokens"`
	LastRefresh  string         `json:"last_refresh"`
}

type authFileTokens struct {
	IDToken      string `json:"id_token,omitempty"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	AccountID    string `json:"account_id,omitempty"`
}

// WriteAuthFile materializes the account's credential material into dir in
// the layout the Codex CLI expects (auth.json).
func WriteAuthFile(dir string, account *models.Account) error {
	auth := authFile{
		Tokens: authFileTokens{
			IDToken:      account.Tokens.IDToken,
			AccessToken:  account.Tokens.AccessToken,
			RefreshToken: account.Tokens.RefreshToken,
			AccountID:    account.AccountID,
		},
		LastRefresh: time.Now().UTC().Format(time.RFC3339),
	}

	data, err := json.MarshalIndent(auth, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal auth file: %w", err)
	}

	path := filepath.Join(dir, "auth.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write auth file: %w", err)
	}
	return nil
}

// loadAccounts loads accounts from the JSON file.
func (s *Service) loadAccounts() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	accounts, err := parseAccounts(data)
	if err != nil {
		return err
	}

	s.accounts = accounts
	return nil
}

// parseAccounts parses account data handling both file formats.
func parseAccounts(data []byte) ([]models.Account, error) {
	// 1. Standard AccountsFile format
	var accountsFile AccountsFile
	if err := json.Unmarshal(data, &accountsFile); err == nil && accountsFile.Accounts != nil {
		return accountsFile.Accounts, nil
	}

	// 2. Legacy bare-array format
	var accounts []models.Account
	if err := json.Unmarshal(data, &accounts); err == nil {
		return accounts, nil
	}

	return nil, fmt.Errorf("failed to parse accounts file: invalid format")
}

// saveAccounts saves accounts to the JSON file (public version).
func (s *Service) saveAccounts() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveAccountsLocked()
}

// saveAccountsLocked saves accounts to the JSON file (must hold lock).
func (s *Service) saveAccountsLocked() error {
	accountsFile := AccountsFile{
		Accounts: s.accounts,
		Version:  1,
	}

	data, err := json.MarshalIndent(accountsFile, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal accounts: %w", err)
	}

	// Write to temp file first, then rename
	tmpFile := s.filePath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpFile, s.filePath); err != nil {
		if removeErr := os.Remove(tmpFile); removeErr != nil {
			logger.Error("failed to remove temp file", "error", removeErr)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// startWatcher starts the file system watcher.
func (s *Service) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	s.watcher = watcher

	// Watch the directory (to catch file creation/deletion)
	dir := filepath.Dir(s.filePath)
	if err := watcher.Add(dir); err != nil {
		if closeErr := watcher.Close(); closeErr != nil {
			logger.Error("failed to close watcher", "error", closeErr)
		}
		return err
	}

	go s.watchLoop()
	return nil
}

// watchLoop handles file system events with debouncing.
func (s *Service) watchLoop() {
	const debounceInterval = 100 * time.Millisecond

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}

			// Only care about our accounts file
			if filepath.Base(event.Name) != filepath.Base(s.filePath) {
				continue
			}

			// Handle write/create events
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				// Debounce rapid changes
				s.mu.Lock()
				if s.debounceTimer != nil {
					s.debounceTimer.Stop()
				}
				s.debounceTimer = time.AfterFunc(debounceInterval, func() {
					s.handleFileChange()
				})
				s.mu.Unlock()
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.sendEvent(Event{Type: EventError, Error: err})

		case <-s.stopChan:
			return
		}
	}
}

// handleFileChange reloads accounts from file after external change.
func (s *Service) handleFileChange() {
	s.mu.Lock()
	err := s.loadAccounts()
	s.mu.Unlock()

	if err != nil {
		s.sendEvent(Event{Type: EventError, Error: err})
		return
	}

	s.sendEvent(Event{Type: EventAccountsChanged})
}

// sendEvent sends an event to the event channel non-blocking.
func (s *Service) sendEvent(event Event) {
	select {
	case s.eventChan <- event:
	default:
		logger.Warn("accounts event channel full, dropping event")
	}
}

// Close stops the service and releases the watcher.
func (s *Service) Close() error {
	close(s.stopChan)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
