// Package models defines data structures and domain types.
package models

// Quota represents the rate-limit state of an account across both usage
// windows. A Quota is created whole on every successful fetch and replaces
// the account's previous one; it is never partially updated.
//
// Remaining percentages are not clamped: a window reporting used_percent
// above 100 yields a negative remaining value.
type Quota struct {
	HourlyPercentage int            `json:"hourlyPercentage"`
	HourlyResetTime  *int64         `json:"hourlyResetTime,omitempty"`
	WeeklyPercentage int            `json:"weeklyPercentage"`
	WeeklyResetTime  *int64         `json:"weeklyResetTime,omitempty"`
	RawData          map[string]any `json:"rawData,omitempty"`
}

// Clone returns a deep copy of the quota.
func (q *Quota) Clone() Quota {
	clone := *q
	if q.HourlyResetTime != nil {
		ts := *q.HourlyResetTime
		clone.HourlyResetTime = &ts
	}
	if q.WeeklyResetTime != nil {
		ts := *q.WeeklyResetTime
		clone.WeeklyResetTime = &ts
	}
	if q.RawData != nil {
		clone.RawData = make(map[string]any, len(q.RawData))
		for k, v := range q.RawData {
			clone.RawData[k] = v
		}
	}
	return clone
}
