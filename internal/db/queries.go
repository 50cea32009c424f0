package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mlewan01/codex-cockpit/internal/models"
)

// QuotaSnapshot is one recorded quota reading for an account.
type QuotaSnapshot struct {
	Timestamp       time.Time
	Email           string
	HourlyRemaining int
	WeeklyRemaining int
	HourlyResetAt   *int64
	WeeklyResetAt   *int64
	ID              int64
}

// WakeupRun is one recorded orchestrated wakeup outcome.
type WakeupRun struct {
	Timestamp  time.Time
	Email      string
	WindowID   string
	Message    string
	DurationMs int64
	ID         int64
	Success    bool
	Skipped    bool
}

// InsertQuotaSnapshot records a quota reading for an account.
func (db *DB) InsertQuotaSnapshot(email string, quota *models.Quota) error {
	query := `
		INSERT INTO quota_snapshots (
			timestamp, email, hourly_remaining, weekly_remaining,
			hourly_reset_at, weekly_reset_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(context.Background(), query,
		time.Now().UTC().Format("2006-01-02 15:04:05"),
		email,
		quota.HourlyPercentage,
		quota.WeeklyPercentage,
		nullInt64(quota.HourlyResetTime),
		nullInt64(quota.WeeklyResetTime),
	)
	if err != nil {
		return fmt.Errorf("failed to insert quota snapshot: %w", err)
	}
	return nil
}

// GetRecentQuotaSnapshots returns the most recent snapshots for an account.
func (db *DB) GetRecentQuotaSnapshots(email string, limit int) ([]QuotaSnapshot, error) {
	query := `
		SELECT id, timestamp, email, hourly_remaining, weekly_remaining,
			   hourly_reset_at, weekly_reset_at
		FROM quota_snapshots
		WHERE email = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := db.QueryContext(context.Background(), query, email, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query quota snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshots []QuotaSnapshot
	for rows.Next() {
		var snap QuotaSnapshot
		var hourlyReset, weeklyReset sql.NullInt64

		if err := rows.Scan(
			&snap.ID,
			&snap.Timestamp,
			&snap.Email,
			&snap.HourlyRemaining,
			&snap.WeeklyRemaining,
			&hourlyReset,
			&weeklyReset,
		); err != nil {
			return nil, fmt.Errorf("failed to scan quota snapshot: %w", err)
		}

		if hourlyReset.Valid {
			snap.HourlyResetAt = &hourlyReset.Int64
		}
		if weeklyReset.Valid {
			snap.WeeklyResetAt = &weeklyReset.Int64
		}
		snapshots = append(snapshots, snap)
	}

	return snapshots, rows.Err()
}

// InsertWakeupRun records the outcome of one orchestrated wakeup.
func (db *DB) InsertWakeupRun(run *WakeupRun) error {
	query := `
		INSERT INTO wakeup_runs (
			timestamp, email, window_id, success, skipped, message, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	timestamp := run.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	result, err := db.ExecContext(context.Background(), query,
		timestamp.UTC().Format("2006-01-02 15:04:05"),
		run.Email,
		run.WindowID,
		run.Success,
		run.Skipped,
		nullString(run.Message),
		run.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to insert wakeup run: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		run.ID = id
	}
	return nil
}

// GetRecentWakeupRuns returns the most recent wakeup runs across accounts.
func (db *DB) GetRecentWakeupRuns(limit int) ([]WakeupRun, error) {
	query := `
		SELECT id, timestamp, email, window_id, success, skipped, message, duration_ms
		FROM wakeup_runs
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := db.QueryContext(context.Background(), query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query wakeup runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []WakeupRun
	for rows.Next() {
		var run WakeupRun
		var message sql.NullString
		var durationMs sql.NullInt64

		if err := rows.Scan(
			&run.ID,
			&run.Timestamp,
			&run.Email,
			&run.WindowID,
			&run.Success,
			&run.Skipped,
			&message,
			&durationMs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan wakeup run: %w", err)
		}

		run.Message = message.String
		run.DurationMs = durationMs.Int64
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
