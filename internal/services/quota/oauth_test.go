package quota

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

// makeToken builds an unsigned JWT carrying the given claims.
func makeToken(t *testing.T, claims map[string]any) string {
	t.Helper()

	header, err := json.Marshal(map[string]any{"alg": "HS256", "typ": "JWT"})
	if err != nil {
		t.Fatal(err)
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatal(err)
	}

	return base64.RawURLEncoding.EncodeToString(header) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "."
}

func TestIsTokenExpired(t *testing.T) {
	tests := []struct {
		name  string
		token func(t *testing.T) string
		want  bool
	}{
		{
			name: "Valid",
			token: func(t *testing.T) string {
				return makeToken(t, map[string]any{"exp": time.Now().Add(time.Hour).Unix()})
			},
			want: false,
		},
		{
			name: "Expired",
			token: func(t *testing.T) string {
				return makeToken(t, map[string]any{"exp": time.Now().Add(-time.Hour).Unix()})
			},
			want: true,
		},
		{
			name: "NoExpiryClaim",
			token: func(t *testing.T) string {
				return makeToken(t, map[string]any{"sub": "user"})
			},
			want: true,
		},
		{
			name:  "Malformed",
			token: func(t *testing.T) string { return "not-a-jwt" },
			want:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTokenExpired(tt.token(t)); got != tt.want {
				t.Errorf("IsTokenExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAccountIDFromToken(t *testing.T) {
	token := makeToken(t, map[string]any{
		"exp": time.Now().Add(time.Hour).Unix(),
		"https://api.openai.com/auth": map[string]any{
			"chatgpt_account_id": "acc-123",
		},
	})

	if got := AccountIDFromToken(token); got != "acc-123" {
		t.Errorf("AccountIDFromToken() = %q, want %q", got, "acc-123")
	}

	noClaim := makeToken(t, map[string]any{"exp": time.Now().Add(time.Hour).Unix()})
	if got := AccountIDFromToken(noClaim); got != "" {
		t.Errorf("AccountIDFromToken() without claim = %q, want empty", got)
	}

	if got := AccountIDFromToken("garbage"); got != "" {
		t.Errorf("AccountIDFromToken() on garbage = %q, want empty", got)
	}
}

func TestRefreshAccessToken(t *testing.T) {
	tests := []struct {
		name         string
		refreshToken string
		transport    http.RoundTripper
		wantErr      bool
	}{
		{
			name:         "Success",
			refreshToken: "valid",
			transport: &MockRoundTripper{
				RoundTripFunc: func(req *http.Request) (*http.Response, error) {
					body, _ := json.Marshal(TokenResponse{AccessToken: "new"})
					return &http.Response{StatusCode: 200, Body: io.NopCloser(bytes.NewReader(body))}, nil
				},
			},
			wantErr: false,
		},
		{
			name:         "EmptyToken",
			refreshToken: "",
			wantErr:      true,
		},
		{
			name:         "HTTPError",
			refreshToken: "valid",
			transport: &MockRoundTripper{
				RoundTripFunc: func(req *http.Request) (*http.Response, error) {
					return nil, errors.New("net error")
				},
			},
			wantErr: true,
		},
		{
			name:         "StatusError",
			refreshToken: "valid",
			transport: &MockRoundTripper{
				RoundTripFunc: func(req *http.Request) (*http.Response, error) {
					return &http.Response{StatusCode: 400, Body: io.NopCloser(strings.NewReader("bad request"))}, nil
				},
			},
			wantErr: true,
		},
		{
			name:         "JSONError",
			refreshToken: "valid",
			transport: &MockRoundTripper{
				RoundTripFunc: func(req *http.Request) (*http.Response, error) {
					return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader("invalid json"))}, nil
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var client *http.Client
			if tt.transport != nil {
				client = &http.Client{Transport: tt.transport}
			}
			_, err := RefreshAccessToken(client, "https://auth.example.com/oauth/token", "cid", tt.refreshToken)
			if (err != nil) != tt.wantErr {
				t.Errorf("RefreshAccessToken() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRefreshAccessTokenRequestBody(t *testing.T) {
	var captured tokenRequest

	client := &http.Client{Transport: &MockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			data, _ := io.ReadAll(req.Body)
			if err := json.Unmarshal(data, &captured); err != nil {
				t.Fatalf("request body is not JSON: %v", err)
			}
			body, _ := json.Marshal(TokenResponse{AccessToken: "new"})
			return &http.Response{StatusCode: 200, Body: io.NopCloser(bytes.NewReader(body))}, nil
		},
	}}

	if _, err := RefreshAccessToken(client, "https://auth.example.com/oauth/token", "my-client", "my-refresh"); err != nil {
		t.Fatalf("RefreshAccessToken() error = %v", err)
	}

	if captured.ClientID != "my-client" || captured.RefreshToken != "my-refresh" || captured.GrantType != "refresh_token" {
		t.Errorf("unexpected token request: %+v", captured)
	}
}
