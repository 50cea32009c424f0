// Package services provides service composition for the application.
package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/google/uuid"

	"github.com/mlewan01/codex-cockpit/internal/config"
	"github.com/mlewan01/codex-cockpit/internal/db"
	"github.com/mlewan01/codex-cockpit/internal/logger"
	"github.com/mlewan01/codex-cockpit/internal/models"
	"github.com/mlewan01/codex-cockpit/internal/services/accounts"
	"github.com/mlewan01/codex-cockpit/internal/services/history"
	"github.com/mlewan01/codex-cockpit/internal/services/quota"
	"github.com/mlewan01/codex-cockpit/internal/services/wakeup"
)

type (
	// AccountsChangedEvent is emitted when the accounts list changes.
	AccountsChangedEvent struct {
		Accounts []models.Account
	}

	// QuotaUpdatedEvent is emitted when quota information is updated for an account.
	QuotaUpdatedEvent struct {
		Email string
		Quota *models.Quota
	}

	// ErrorEvent is emitted when an error occurs in any service.
	ErrorEvent struct {
		Error   error
		Service string
	}
)

// ServiceEvent is the interface implemented by all service events.
type ServiceEvent interface {
	isServiceEvent()
}

func (AccountsChangedEvent) isServiceEvent() {}
func (QuotaUpdatedEvent) isServiceEvent()    {}
func (ErrorEvent) isServiceEvent()           {}

// Manager owns and composes the services: account store, quota service,
// wakeup orchestration, history log and usage recorder.
type Manager struct {
	mu             sync.RWMutex
	accounts       *accounts.Service
	quota          *quota.Service
	orchestrator   *wakeup.Orchestrator
	historyLog     *history.Log
	database       *db.DB
	eventChan      chan ServiceEvent
	stopChan       chan struct{}
	subscribers    []chan<- ServiceEvent
	previousQuotas map[string]*models.Quota
	notify         func(title, body string)
}

// NewManager creates a new service manager.
func NewManager(cfg *config.Config) (*Manager, error) {
	m := &Manager{
		eventChan:      make(chan ServiceEvent, 100),
		stopChan:       make(chan struct{}),
		previousQuotas: make(map[string]*models.Quota),
		notify: func(title, body string) {
			_ = beeep.Notify(title, body, "")
		},
	}

	var err error
	m.accounts, err = accounts.New(cfg.AccountsPath)
	if err != nil {
		return nil, err
	}

	m.database, err = db.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	quotaConfig := quota.DefaultConfig()
	quotaConfig.UsageURL = cfg.UsageURL
	quotaConfig.TokenURL = cfg.OAuthTokenURL
	quotaConfig.ClientID = cfg.OAuthClientID
	m.quota = quota.New(m.accounts, quotaConfig)

	debouncer := wakeup.NewDebouncer(cfg.WakeupCooldown)
	executor := wakeup.NewExecutor(cfg.CodexCLIPath)
	m.orchestrator = wakeup.NewOrchestrator(m.accounts, m.quota, executor, debouncer)

	m.historyLog = history.NewLog(cfg.DataDir)

	go m.routeEvents()

	return m, nil
}

// Accounts returns the account store.
func (m *Manager) Accounts() *accounts.Service {
	return m.accounts
}

// Quota returns the quota service.
func (m *Manager) Quota() *quota.Service {
	return m.quota
}

// History returns the wakeup history log.
func (m *Manager) History() *history.Log {
	return m.historyLog
}

// Database returns the usage recorder.
func (m *Manager) Database() *db.DB {
	return m.database
}

// Subscribe registers a channel to receive service events.
func (m *Manager) Subscribe(ch chan<- ServiceEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, ch)
}

// TriggerWakeup runs one orchestrated wakeup, records it in the history log
// and the usage recorder, and returns the result. triggerType and
// triggerSource classify how the wakeup was initiated.
func (m *Manager) TriggerWakeup(accountID, windowID, prompt, triggerType, triggerSource string) (*models.WakeupResult, error) {
	account := m.accounts.Load(accountID)
	email := accountID
	if account != nil {
		email = account.Email
	}

	result, err := m.orchestrator.Trigger(accountID, windowID, prompt)

	now := time.Now()
	item := models.WakeupHistoryItem{
		ID:            uuid.NewString(),
		Timestamp:     now.UnixMilli(),
		TriggerType:   triggerType,
		TriggerSource: triggerSource,
		AccountEmail:  email,
		WindowID:      windowID,
		Success:       err == nil,
	}
	if prompt != "" {
		item.Prompt = &prompt
	}

	run := db.WakeupRun{
		Timestamp: now,
		Email:     email,
		WindowID:  windowID,
	}

	if err != nil {
		message := err.Error()
		item.Message = &message
		run.Message = message
	} else {
		item.Message = &result.Reply
		durationMs := result.DurationMs
		item.DurationMs = &durationMs
		run.Success = true
		run.Skipped = result.Skipped
		run.Message = result.Reply
		run.DurationMs = result.DurationMs
	}

	if histErr := m.historyLog.Append([]models.WakeupHistoryItem{item}); histErr != nil {
		// History failures indicate a corrupt or unwritable data dir;
		// surface them instead of dropping silently.
		if err == nil {
			return result, fmt.Errorf("wakeup succeeded but history append failed: %w", histErr)
		}
		logger.Error("failed to append wakeup history", "error", histErr)
	}

	if dbErr := m.database.InsertWakeupRun(&run); dbErr != nil {
		logger.Warn("failed to record wakeup run", "error", dbErr)
	}

	return result, err
}

// routeEvents routes events from individual services to subscribers.
func (m *Manager) routeEvents() {
	for {
		select {
		case event := <-m.accounts.Events():
			m.handleAccountEvent(event)

		case event := <-m.quota.Events():
			m.handleQuotaEvent(event)

		case <-m.stopChan:
			return
		}
	}
}

// handleAccountEvent converts and broadcasts account events.
func (m *Manager) handleAccountEvent(event accounts.Event) {
	switch event.Type {
	case accounts.EventAccountsLoaded, accounts.EventAccountsChanged,
		accounts.EventAccountAdded, accounts.EventAccountUpdated,
		accounts.EventAccountDeleted:

		m.broadcast(AccountsChangedEvent{Accounts: m.accounts.List()})

	case accounts.EventError:
		m.broadcast(ErrorEvent{Service: "accounts", Error: event.Error})
	}
}

func (m *Manager) handleQuotaEvent(event quota.Event) {
	switch event.Type {
	case quota.EventQuotaUpdated:
		m.broadcast(QuotaUpdatedEvent{Email: event.Email, Quota: event.Quota})

		if event.Quota != nil {
			m.checkNotifications(event.Email, event.Quota)

			if err := m.database.InsertQuotaSnapshot(event.Email, event.Quota); err != nil {
				logger.Warn("failed to record quota snapshot", "email", event.Email, "error", err)
			}
		}

	case quota.EventQuotaError, quota.EventTokenError:
		m.broadcast(ErrorEvent{Service: "quota", Error: event.Error})

	case quota.EventTokenRefreshed:
		logger.Info("access token refreshed", "email", event.Email)
	}
}

// checkNotifications raises a desktop notification when the hourly window
// crosses below 5% remaining or jumps back up by 20 points or more (reset).
func (m *Manager) checkNotifications(email string, newQuota *models.Quota) {
	m.mu.Lock()
	oldQuota, exists := m.previousQuotas[email]
	m.previousQuotas[email] = newQuota
	m.mu.Unlock()

	if !exists {
		return
	}

	if newQuota.HourlyPercentage < 5 && oldQuota.HourlyPercentage >= 5 {
		title := fmt.Sprintf("Critical Quota: %s", email)
		body := fmt.Sprintf("Remaining 5h quota is below 5%% (%d%%)", newQuota.HourlyPercentage)
		m.notify(title, body)
	}

	if newQuota.HourlyPercentage-oldQuota.HourlyPercentage >= 20 {
		title := fmt.Sprintf("Quota Reset: %s", email)
		m.notify(title, "Your 5h quota has been refreshed.")
	}
}

// broadcast sends an event to all subscribers non-blocking.
func (m *Manager) broadcast(event ServiceEvent) {
	m.mu.RLock()
	subscribers := make([]chan<- ServiceEvent, len(m.subscribers))
	copy(subscribers, m.subscribers)
	m.mu.RUnlock()

	for _, ch := range subscribers {
		select {
		case ch <- event:
		default:
			logger.Warn("subscriber channel full, dropping event")
		}
	}
}

// Close stops event routing and releases the underlying services.
func (m *Manager) Close() error {
	close(m.stopChan)

	var firstErr error
	if err := m.accounts.Close(); err != nil {
		firstErr = err
	}
	if err := m.database.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
