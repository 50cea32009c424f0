package quota

import (
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/mlewan01/codex-cockpit/internal/models"
)

// MockRoundTripper implements http.RoundTripper for testing
type MockRoundTripper struct {
	RoundTripFunc func(req *http.Request) (*http.Response, error)
}

func (m *MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.RoundTripFunc(req)
}

// MockStore implements AccountStore for testing
type MockStore struct {
	mu       sync.Mutex
	Accounts map[string]*models.Account
	SaveErr  error
	Saves    int
}

func NewMockStore() *MockStore {
	return &MockStore{Accounts: make(map[string]*models.Account)}
}

func (m *MockStore) Load(id string) *models.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.Accounts[id]
	if !ok {
		return nil
	}
	clone := acc.Clone()
	return &clone
}

func (m *MockStore) Save(account *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	clone := account.Clone()
	m.Accounts[account.ID] = &clone
	m.Saves++
	return nil
}

func (m *MockStore) List() []models.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	var accs []models.Account
	for _, a := range m.Accounts {
		accs = append(accs, a.Clone())
	}
	return accs
}

func newTestService(store AccountStore, transport http.RoundTripper) *Service {
	svc := New(store, Config{
		UsageURL:      "https://usage.example.com",
		TokenURL:      "https://auth.example.com/oauth/token",
		ClientID:      "cid",
		MaxConcurrent: 2,
	})
	svc.httpClient = &http.Client{Transport: transport}
	return svc
}

func validToken(t *testing.T) string {
	t.Helper()
	return makeToken(t, map[string]any{"exp": time.Now().Add(time.Hour).Unix()})
}

func expiredToken(t *testing.T) string {
	t.Helper()
	return makeToken(t, map[string]any{"exp": time.Now().Add(-time.Hour).Unix()})
}

func TestEnsureFreshValidToken(t *testing.T) {
	svc := newTestService(NewMockStore(), &MockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			t.Fatal("no request expected for a valid token")
			return nil, nil
		},
	})

	account := &models.Account{
		ID:     "acc_1",
		Tokens: models.TokenPair{AccessToken: validToken(t), RefreshToken: "refresh"},
	}

	refreshed, err := svc.EnsureFresh(account)
	if err != nil {
		t.Fatalf("EnsureFresh() error = %v", err)
	}
	if refreshed {
		t.Error("valid token should not be refreshed")
	}
}

func TestEnsureFreshNoRefreshToken(t *testing.T) {
	svc := newTestService(NewMockStore(), &MockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			t.Fatal("no request expected without a refresh token")
			return nil, nil
		},
	})

	account := &models.Account{
		ID:     "acc_1",
		Tokens: models.TokenPair{AccessToken: expiredToken(t)},
	}

	_, err := svc.EnsureFresh(account)
	if !errors.Is(err, ErrNoRefreshToken) {
		t.Errorf("EnsureFresh() error = %v, want ErrNoRefreshToken", err)
	}
}

func TestEnsureFreshExchangesToken(t *testing.T) {
	newAccess := validToken(t)
	svc := newTestService(NewMockStore(), &MockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			return jsonResponse(200, `{"access_token":"`+newAccess+`"}`), nil
		},
	})

	account := &models.Account{
		ID:     "acc_1",
		Tokens: models.TokenPair{AccessToken: expiredToken(t), RefreshToken: "old-refresh"},
	}

	refreshed, err := svc.EnsureFresh(account)
	if err != nil {
		t.Fatalf("EnsureFresh() error = %v", err)
	}
	if !refreshed {
		t.Error("expected a refresh to happen")
	}
	if account.Tokens.AccessToken != newAccess {
		t.Error("access token was not replaced")
	}
	// Endpoint omitted a refresh token; the old one must survive
	if account.Tokens.RefreshToken != "old-refresh" {
		t.Errorf("refresh token lost: %q", account.Tokens.RefreshToken)
	}
}

func TestRefreshAccountQuotaSuccess(t *testing.T) {
	store := NewMockStore()
	store.Accounts["acc_1"] = &models.Account{
		ID:    "acc_1",
		Email: "test@example.com",
		Tokens: models.TokenPair{
			AccessToken: validToken(t),
		},
		QuotaError: &models.QuotaError{Message: "stale error"},
	}

	svc := newTestService(store, &MockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			body := `{"rate_limit":{"primary_window":{"used_percent":40,"reset_at":1700000000}}}`
			return jsonResponse(200, body), nil
		},
	})

	quota, err := svc.RefreshAccountQuota("acc_1")
	if err != nil {
		t.Fatalf("RefreshAccountQuota() error = %v", err)
	}
	if quota.HourlyPercentage != 60 {
		t.Errorf("hourly = %d, want 60", quota.HourlyPercentage)
	}

	saved := store.Load("acc_1")
	if saved.Quota == nil || saved.Quota.HourlyPercentage != 60 {
		t.Errorf("quota not persisted: %+v", saved.Quota)
	}
	if saved.QuotaError != nil {
		t.Error("stale quota error should be cleared on success")
	}
}

func TestRefreshAccountQuotaFetchFailure(t *testing.T) {
	store := NewMockStore()
	store.Accounts["acc_1"] = &models.Account{
		ID:     "acc_1",
		Email:  "test@example.com",
		Tokens: models.TokenPair{AccessToken: validToken(t)},
	}

	svc := newTestService(store, &MockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			return jsonResponse(429, `{"detail":{"code":"usage_limit_reached"}}`), nil
		},
	})

	_, err := svc.RefreshAccountQuota("acc_1")
	if err == nil {
		t.Fatal("expected fetch error")
	}

	saved := store.Load("acc_1")
	if saved.QuotaError == nil {
		t.Fatal("quota error not persisted")
	}
	if saved.QuotaError.Code != "usage_limit_reached" {
		t.Errorf("quota error code = %q, want usage_limit_reached", saved.QuotaError.Code)
	}
	if saved.QuotaError.Timestamp == 0 {
		t.Error("quota error timestamp not set")
	}
}

func TestRefreshAccountQuotaMissingRefreshToken(t *testing.T) {
	store := NewMockStore()
	store.Accounts["acc_1"] = &models.Account{
		ID:     "acc_1",
		Email:  "test@example.com",
		Tokens: models.TokenPair{AccessToken: expiredToken(t)},
	}

	svc := newTestService(store, &MockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			t.Fatal("no request expected without a refresh token")
			return nil, nil
		},
	})

	_, err := svc.RefreshAccountQuota("acc_1")
	if !errors.Is(err, ErrNoRefreshToken) {
		t.Fatalf("error = %v, want ErrNoRefreshToken", err)
	}

	saved := store.Load("acc_1")
	if saved.QuotaError == nil {
		t.Error("quota error should be persisted when refresh is impossible")
	}
}

func TestRefreshAccountQuotaNotFound(t *testing.T) {
	svc := newTestService(NewMockStore(), &MockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			t.Fatal("no request expected for a missing account")
			return nil, nil
		},
	})

	if _, err := svc.RefreshAccountQuota("missing"); err == nil {
		t.Error("expected error for missing account")
	}
}

func TestRefreshAccountQuotaPersistsRefreshedTokens(t *testing.T) {
	store := NewMockStore()
	store.Accounts["acc_1"] = &models.Account{
		ID:     "acc_1",
		Email:  "test@example.com",
		Tokens: models.TokenPair{AccessToken: expiredToken(t), RefreshToken: "refresh"},
	}

	newAccess := validToken(t)
	svc := newTestService(store, &MockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			if req.URL.Host == "auth.example.com" {
				return jsonResponse(200, `{"access_token":"`+newAccess+`","refresh_token":"new-refresh"}`), nil
			}
			return jsonResponse(200, `{}`), nil
		},
	})

	if _, err := svc.RefreshAccountQuota("acc_1"); err != nil {
		t.Fatalf("RefreshAccountQuota() error = %v", err)
	}

	saved := store.Load("acc_1")
	if saved.Tokens.AccessToken != newAccess || saved.Tokens.RefreshToken != "new-refresh" {
		t.Errorf("refreshed tokens not persisted: %+v", saved.Tokens)
	}
}

func TestRefreshAllQuotas(t *testing.T) {
	store := NewMockStore()
	for _, id := range []string{"acc_1", "acc_2", "acc_3"} {
		store.Accounts[id] = &models.Account{
			ID:     id,
			Email:  id + "@example.com",
			Tokens: models.TokenPair{AccessToken: validToken(t)},
		}
	}

	svc := newTestService(store, &MockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			return jsonResponse(200, `{"rate_limit":{"primary_window":{"used_percent":25}}}`), nil
		},
	})

	results := svc.RefreshAllQuotas()
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for _, res := range results {
		if res.Err != nil {
			t.Errorf("account %s: unexpected error %v", res.AccountID, res.Err)
		}
		if res.Quota == nil || res.Quota.HourlyPercentage != 75 {
			t.Errorf("account %s: unexpected quota %+v", res.AccountID, res.Quota)
		}
	}
}

func TestQuotaEvents(t *testing.T) {
	store := NewMockStore()
	store.Accounts["acc_1"] = &models.Account{
		ID:     "acc_1",
		Email:  "test@example.com",
		Tokens: models.TokenPair{AccessToken: validToken(t)},
	}

	svc := newTestService(store, &MockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			return jsonResponse(200, `{}`), nil
		},
	})

	if _, err := svc.RefreshAccountQuota("acc_1"); err != nil {
		t.Fatalf("RefreshAccountQuota() error = %v", err)
	}

	select {
	case event := <-svc.Events():
		if event.Type != EventQuotaUpdated {
			t.Errorf("event type = %v, want EventQuotaUpdated", event.Type)
		}
		if event.Email != "test@example.com" {
			t.Errorf("event email = %q", event.Email)
		}
	default:
		t.Error("expected a quota updated event")
	}
}
