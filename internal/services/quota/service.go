package quota

import (
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mlewan01/codex-cockpit/internal/logger"
	"github.com/mlewan01/codex-cockpit/internal/models"
)

// AccountStore is the collaborator interface for loading and persisting
// accounts.
type AccountStore interface {
	Load(id string) *models.Account
	Save(account *models.Account) error
	List() []models.Account
}

// Event represents a quota service event.
type Event struct {
	Error     error
	Quota     *models.Quota
	AccountID string
	Email     string
	Type      EventType
}

// EventType defines the type of quota event.
type EventType int

const (
	// EventQuotaUpdated indicates that quota information has been updated.
	EventQuotaUpdated EventType = iota
	// EventQuotaError indicates that an error occurred during quota refresh.
	EventQuotaError
	// EventTokenRefreshed indicates that an access token has been refreshed.
	EventTokenRefreshed
	// EventTokenError indicates that an error occurred during token refresh.
	EventTokenError
)

// Config holds configuration for the quota service.
type Config struct {
	UsageURL      string
	TokenURL      string
	ClientID      string
	MaxConcurrent int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		UsageURL:      "https://chatgpt.com/backend-api/wham/usage",
		TokenURL:      "https://auth.openai.com/oauth/token",
		MaxConcurrent: 5,
	}
}

// Service wraps the quota client and credential refresher with account
// persistence: it keeps tokens fresh, fetches quotas, and records the last
// known quota or quota error on the account through the store.
type Service struct {
	store      AccountStore
	httpClient *http.Client
	eventChan  chan Event
	config     Config
}

// New creates a new quota service.
func New(store AccountStore, config Config) *Service {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	return &Service{
		store:      store,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		eventChan:  make(chan Event, 100),
		config:     config,
	}
}

// Events returns the event channel.
func (s *Service) Events() <-chan Event {
	return s.eventChan
}

// EnsureFresh inspects the account's access token and exchanges the refresh
// token for a new pair when expired. The account is mutated in place; the
// caller owns persistence ordering. Returns true when a refresh happened.
func (s *Service) EnsureFresh(account *models.Account) (bool, error) {
	if !IsTokenExpired(account.Tokens.AccessToken) {
		return false, nil
	}

	if account.Tokens.RefreshToken == "" {
		return false, ErrNoRefreshToken
	}

	logger.Info("token expired, attempting refresh", "email", account.Email)

	var tokenResp *TokenResponse
	var err error

	// Retry with exponential backoff
	backoff := 500 * time.Millisecond
	for i := 0; i < 3; i++ {
		tokenResp, err = RefreshAccessToken(s.httpClient, s.config.TokenURL, s.config.ClientID, account.Tokens.RefreshToken)
		if err == nil {
			break
		}
		if i < 2 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}

	if err != nil {
		s.sendEvent(Event{Type: EventTokenError, AccountID: account.ID, Email: account.Email, Error: err})
		return false, fmt.Errorf("token refresh failed: %w", err)
	}

	applyTokenResponse(account, tokenResp)
	logger.Info("token refresh succeeded", "email", account.Email)
	s.sendEvent(Event{Type: EventTokenRefreshed, AccountID: account.ID, Email: account.Email})

	return true, nil
}

// Fetch fetches the quota for an already-fresh account without touching the
// store.
func (s *Service) Fetch(account *models.Account) (*models.Quota, error) {
	return FetchQuota(s.httpClient, s.config.UsageURL, account)
}

// RefreshAccountQuota refreshes one account's quota and persists it,
// refreshing the access token first when needed. Any failure is recorded on
// the account as a QuotaError before it propagates.
func (s *Service) RefreshAccountQuota(accountID string) (*models.Quota, error) {
	account := s.store.Load(accountID)
	if account == nil {
		return nil, fmt.Errorf("account not found: %s", accountID)
	}

	refreshed, err := s.EnsureFresh(account)
	if err != nil {
		message := fmt.Sprintf("token expired and refresh failed: %v", err)
		logger.Error("token refresh failed", "email", account.Email, "error", err)
		s.recordQuotaError(account, message)
		return nil, err
	}
	if refreshed {
		if err := s.store.Save(account); err != nil {
			return nil, fmt.Errorf("failed to persist refreshed tokens: %w", err)
		}
	}

	quota, err := s.Fetch(account)
	if err != nil {
		s.recordQuotaError(account, err.Error())
		s.sendEvent(Event{Type: EventQuotaError, AccountID: account.ID, Email: account.Email, Error: err})
		return nil, err
	}

	account.Quota = quota
	account.QuotaError = nil
	if err := s.store.Save(account); err != nil {
		return nil, fmt.Errorf("failed to persist quota: %w", err)
	}

	s.sendEvent(Event{Type: EventQuotaUpdated, AccountID: account.ID, Email: account.Email, Quota: quota})

	return quota, nil
}

// RefreshResult holds the outcome of one account's refresh in a batch.
type RefreshResult struct {
	Err       error
	Quota     *models.Quota
	AccountID string
}

// RefreshAllQuotas refreshes quota for every account with bounded
// concurrency and returns the per-account outcomes.
func (s *Service) RefreshAllQuotas() []RefreshResult {
	accounts := s.store.List()
	results := make([]RefreshResult, len(accounts))

	g := new(errgroup.Group)
	g.SetLimit(s.config.MaxConcurrent)

	for i := range accounts {
		i := i
		g.Go(func() error {
			id := accounts[i].ID
			quota, err := s.RefreshAccountQuota(id)
			if err != nil {
				logger.Error("failed to refresh quota", "email", accounts[i].Email, "error", err)
			}
			results[i] = RefreshResult{AccountID: id, Quota: quota, Err: err}
			return nil
		})
	}

	_ = g.Wait()
	return results
}

// recordQuotaError writes a QuotaError snapshot onto the account and persists
// it best-effort; a save failure here is logged, never escalated.
func (s *Service) recordQuotaError(account *models.Account, message string) {
	account.QuotaError = &models.QuotaError{
		Code:      extractErrorCodeFromMessage(message),
		Message:   message,
		Timestamp: time.Now().Unix(),
	}
	if err := s.store.Save(account); err != nil {
		logger.Warn("failed to persist quota error", "email", account.Email, "error", err)
	}
}

// sendEvent sends an event to the event channel non-blocking.
func (s *Service) sendEvent(event Event) {
	select {
	case s.eventChan <- event:
	default:
		// Channel full, drop oldest
		select {
		case <-s.eventChan:
		default:
		}
		select {
		case s.eventChan <- event:
		default:
		}
	}
}
