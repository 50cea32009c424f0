// Package quota provides credential refresh and usage quota fetching.
package quota

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mlewan01/codex-cockpit/internal/logger"
	"github.com/mlewan01/codex-cockpit/internal/models"
)

// ErrNoRefreshToken is returned when an expired access token cannot be
// recovered because the account carries no refresh token.
var ErrNoRefreshToken = errors.New("access token expired and no refresh token available")

// TokenResponse represents the OAuth token response from the token endpoint.
type TokenResponse struct {
	IDToken      string `json:"id_token,omitempty"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
}

// tokenRequest is the JSON body sent to the token endpoint.
type tokenRequest struct {
	ClientID     string `json:"client_id"`
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// IsTokenExpired reports whether the access token's embedded expiry claim has
// passed. Tokens that cannot be parsed or carry no expiry are treated as
// expired so the caller attempts a refresh.
func IsTokenExpired(accessToken string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return true
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return time.Now().After(exp.Time)
}

// AccountIDFromToken extracts the ChatGPT account identifier embedded in the
// access token's auth claim. Returns "" if the claim is absent or the token
// cannot be decoded.
func AccountIDFromToken(accessToken string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return ""
	}

	auth, ok := claims["https://api.openai.com/auth"].(map[string]any)
	if !ok {
		return ""
	}
	id, _ := auth["chatgpt_account_id"].(string)
	return id
}

// RefreshAccessToken exchanges a refresh token for a new token pair.
func RefreshAccessToken(client *http.Client, tokenURL, clientID, refreshToken string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh token is empty")
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	payload, err := json.Marshal(tokenRequest{
		ClientID:     clientID,
		GrantType:    "refresh_token",
		RefreshToken: refreshToken,
		Scope:        "openid profile email",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, tokenURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Error("failed to close response body", "error", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token refresh failed (status %d): %s", resp.StatusCode, string(body))
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	return &tokenResp, nil
}

// applyTokenResponse replaces the account's token pair with a fresh one,
// keeping the old refresh token when the endpoint omits a new one.
func applyTokenResponse(account *models.Account, tokenResp *TokenResponse) {
	pair := models.TokenPair{
		IDToken:      tokenResp.IDToken,
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
	}
	if pair.RefreshToken == "" {
		pair.RefreshToken = account.Tokens.RefreshToken
	}
	if pair.IDToken == "" {
		pair.IDToken = account.Tokens.IDToken
	}
	account.Tokens = pair
}
