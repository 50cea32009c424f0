// Package models defines data structures and domain types.
package models

import "time"

// Window identifiers for the two rate-limit accounting periods.
const (
	WindowHourly = "codex-hourly"
	WindowWeekly = "codex-weekly"
)

// WakeupWindow describes a selectable wakeup window.
type WakeupWindow struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Constant    string `json:"modelConstant,omitempty"`
	Recommended bool   `json:"recommended,omitempty"`
}

// AvailableWindows returns the static list of wakeup window selectors.
func AvailableWindows() []WakeupWindow {
	return []WakeupWindow{
		{ID: WindowHourly, DisplayName: "5h Window", Constant: "hourly", Recommended: true},
		{ID: WindowWeekly, DisplayName: "Weekly Window", Constant: "weekly", Recommended: true},
	}
}

// WakeupResult is the ephemeral report of one orchestrated wakeup trigger.
// Callers turn it into a WakeupHistoryItem; it is not persisted itself.
type WakeupResult struct {
	Reply            string        `json:"reply"`
	PromptTokens     *int          `json:"promptTokens,omitempty"`
	CompletionTokens *int          `json:"completionTokens,omitempty"`
	TotalTokens      *int          `json:"totalTokens,omitempty"`
	Duration         time.Duration `json:"-"`
	DurationMs       int64         `json:"durationMs"`
	Skipped          bool          `json:"skipped,omitempty"`
}

// WakeupHistoryItem is one persisted record of an orchestrated wakeup.
// The ID is caller-supplied and acts as the dedup key in the history log.
type WakeupHistoryItem struct {
	ID            string  `json:"id"`
	Timestamp     int64   `json:"timestamp"`
	TriggerType   string  `json:"triggerType"`
	TriggerSource string  `json:"triggerSource"`
	TaskName      *string `json:"taskName,omitempty"`
	AccountEmail  string  `json:"accountEmail"`
	WindowID      string  `json:"modelId"`
	Prompt        *string `json:"prompt,omitempty"`
	Success       bool    `json:"success"`
	Message       *string `json:"message,omitempty"`
	DurationMs    *int64  `json:"duration,omitempty"`
}
