package quota

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mlewan01/codex-cockpit/internal/logger"
	"github.com/mlewan01/codex-cockpit/internal/models"
)

// StatusError is returned when the usage endpoint answers with a non-success
// HTTP status. Code carries the machine error code extracted from the
// response body, when one was present.
type StatusError struct {
	Message string
	Code    string
	Status  int
}

func (e *StatusError) Error() string {
	return e.Message
}

// usageWindow mirrors one rate-limit window of the usage payload.
type usageWindow struct {
	UsedPercent        *int   `json:"used_percent"`
	LimitWindowSeconds *int64 `json:"limit_window_seconds"`
	ResetAfterSeconds  *int64 `json:"reset_after_seconds"`
	ResetAt            *int64 `json:"reset_at"`
}

// usageRateLimit mirrors the rate_limit object of the usage payload.
type usageRateLimit struct {
	Allowed         *bool        `json:"allowed"`
	LimitReached    *bool        `json:"limit_reached"`
	PrimaryWindow   *usageWindow `json:"primary_window"`
	SecondaryWindow *usageWindow `json:"secondary_window"`
}

// usageResponse mirrors the usage endpoint payload.
type usageResponse struct {
	PlanType  *string         `json:"plan_type"`
	RateLimit *usageRateLimit `json:"rate_limit"`
}

// headerValue returns the named response header or a placeholder when absent.
func headerValue(headers http.Header, name string) string {
	if v := headers.Get(name); v != "" {
		return v
	}
	return "-"
}

// extractDetailCode pulls a machine error code out of a best-effort parsed
// error body, checking detail.code then a top-level code field.
func extractDetailCode(body string) string {
	var value map[string]any
	if err := json.Unmarshal([]byte(body), &value); err != nil {
		return ""
	}

	if detail, ok := value["detail"].(map[string]any); ok {
		if code, ok := detail["code"].(string); ok {
			return code
		}
	}
	if code, ok := value["code"].(string); ok {
		return code
	}
	return ""
}

// extractErrorCodeFromMessage recovers the [error_code:...] marker from a
// previously composed error message.
func extractErrorCodeFromMessage(message string) string {
	const marker = "[error_code:"
	start := strings.Index(message, marker)
	if start < 0 {
		return ""
	}
	rest := message[start+len(marker):]
	end := strings.Index(rest, "]")
	if end < 0 {
		return ""
	}
	return rest[:end]
}

// truncate limits a string to max characters, appending an ellipsis.
func truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max]) + "..."
}

// FetchQuota issues an authenticated request to the usage endpoint and
// normalizes the response into a Quota. The ChatGPT-Account-Id header is
// attached when the account carries an identifier or one can be derived from
// the access token.
func FetchQuota(client *http.Client, usageURL string, account *models.Account) (*models.Quota, error) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequest(http.MethodGet, usageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+account.Tokens.AccessToken)
	req.Header.Set("Accept", "application/json")

	accountID := account.AccountID
	if accountID == "" {
		accountID = AccountIDFromToken(account.Tokens.AccessToken)
	}
	if accountID != "" {
		req.Header.Set("ChatGPT-Account-Id", accountID)
	}

	logger.Info("usage request", "url", usageURL, "account_id", accountID)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("usage request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Error("failed to close response body", "error", err)
		}
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read usage response: %w", err)
	}
	body := string(bodyBytes)

	logger.Info("usage response meta",
		"url", usageURL,
		"status", resp.StatusCode,
		"request-id", headerValue(resp.Header, "request-id"),
		"x-request-id", headerValue(resp.Header, "x-request-id"),
		"cf-ray", headerValue(resp.Header, "cf-ray"),
		"body_len", len(body),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		code := extractDetailCode(body)

		logger.Error("usage endpoint returned non-success status",
			"url", usageURL,
			"status", resp.StatusCode,
			"request-id", headerValue(resp.Header, "request-id"),
			"cf-ray", headerValue(resp.Header, "cf-ray"),
			"detail_code", code,
		)

		message := fmt.Sprintf("usage endpoint returned error %d", resp.StatusCode)
		if code != "" {
			message += fmt.Sprintf(" [error_code:%s]", code)
		}
		message += " - " + truncate(body, 200)
		return nil, &StatusError{Status: resp.StatusCode, Code: code, Message: message}
	}

	var usage usageResponse
	if err := json.Unmarshal(bodyBytes, &usage); err != nil {
		return nil, fmt.Errorf("failed to parse usage payload: %w", err)
	}

	return parseQuota(&usage, bodyBytes), nil
}

// parseQuota normalizes a usage payload into a Quota. An absent window yields
// remaining 100 with no reset time; remaining is deliberately not clamped.
func parseQuota(usage *usageResponse, rawBody []byte) *models.Quota {
	quota := &models.Quota{
		HourlyPercentage: 100,
		WeeklyPercentage: 100,
	}

	var rateLimit *usageRateLimit
	if usage != nil {
		rateLimit = usage.RateLimit
	}

	if rateLimit != nil && rateLimit.PrimaryWindow != nil {
		used := 0
		if rateLimit.PrimaryWindow.UsedPercent != nil {
			used = *rateLimit.PrimaryWindow.UsedPercent
		}
		quota.HourlyPercentage = 100 - used
		quota.HourlyResetTime = rateLimit.PrimaryWindow.ResetAt
	}

	if rateLimit != nil && rateLimit.SecondaryWindow != nil {
		used := 0
		if rateLimit.SecondaryWindow.UsedPercent != nil {
			used = *rateLimit.SecondaryWindow.UsedPercent
		}
		quota.WeeklyPercentage = 100 - used
		quota.WeeklyResetTime = rateLimit.SecondaryWindow.ResetAt
	}

	// Retain the raw payload for diagnostics. This second parse is
	// independent of the typed one and its failure only drops the raw data.
	var raw map[string]any
	if err := json.Unmarshal(rawBody, &raw); err == nil {
		quota.RawData = raw
	}

	return quota
}
