package db

import (
	"path/filepath"
	"testing"

	"github.com/mlewan01/codex-cockpit/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := New(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func i64(v int64) *int64 { return &v }

func TestInsertAndGetQuotaSnapshots(t *testing.T) {
	database := newTestDB(t)

	quota := &models.Quota{
		HourlyPercentage: 70,
		WeeklyPercentage: 90,
		HourlyResetTime:  i64(1700003600),
		WeeklyResetTime:  i64(1700600000),
	}
	if err := database.InsertQuotaSnapshot("test@example.com", quota); err != nil {
		t.Fatalf("InsertQuotaSnapshot() error = %v", err)
	}
	if err := database.InsertQuotaSnapshot("other@example.com", &models.Quota{HourlyPercentage: 10}); err != nil {
		t.Fatal(err)
	}

	snapshots, err := database.GetRecentQuotaSnapshots("test@example.com", 10)
	if err != nil {
		t.Fatalf("GetRecentQuotaSnapshots() error = %v", err)
	}
	if len(snapshots) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(snapshots))
	}

	snap := snapshots[0]
	if snap.HourlyRemaining != 70 || snap.WeeklyRemaining != 90 {
		t.Errorf("remaining = %d/%d, want 70/90", snap.HourlyRemaining, snap.WeeklyRemaining)
	}
	if snap.HourlyResetAt == nil || *snap.HourlyResetAt != 1700003600 {
		t.Errorf("HourlyResetAt = %v", snap.HourlyResetAt)
	}
	if snap.WeeklyResetAt == nil || *snap.WeeklyResetAt != 1700600000 {
		t.Errorf("WeeklyResetAt = %v", snap.WeeklyResetAt)
	}
	if snap.Timestamp.IsZero() {
		t.Error("timestamp not recorded")
	}
}

func TestQuotaSnapshotNilResets(t *testing.T) {
	database := newTestDB(t)

	if err := database.InsertQuotaSnapshot("test@example.com", &models.Quota{HourlyPercentage: 100, WeeklyPercentage: 100}); err != nil {
		t.Fatal(err)
	}

	snapshots, err := database.GetRecentQuotaSnapshots("test@example.com", 1)
	if err != nil {
		t.Fatal(err)
	}
	if snapshots[0].HourlyResetAt != nil || snapshots[0].WeeklyResetAt != nil {
		t.Errorf("reset times should round-trip as nil: %+v", snapshots[0])
	}
}

func TestInsertAndGetWakeupRuns(t *testing.T) {
	database := newTestDB(t)

	run := &WakeupRun{
		Email:      "test@example.com",
		WindowID:   models.WindowHourly,
		Success:    true,
		Message:    "Codex wakeup completed.",
		DurationMs: 4200,
	}
	if err := database.InsertWakeupRun(run); err != nil {
		t.Fatalf("InsertWakeupRun() error = %v", err)
	}
	if run.ID == 0 {
		t.Error("InsertWakeupRun() should populate the row id")
	}

	skipped := &WakeupRun{
		Email:    "test@example.com",
		WindowID: models.WindowWeekly,
		Success:  true,
		Skipped:  true,
	}
	if err := database.InsertWakeupRun(skipped); err != nil {
		t.Fatal(err)
	}

	runs, err := database.GetRecentWakeupRuns(10)
	if err != nil {
		t.Fatalf("GetRecentWakeupRuns() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}

	var found, foundSkipped bool
	for _, r := range runs {
		if r.ID == run.ID {
			found = true
			if r.Message != "Codex wakeup completed." || r.DurationMs != 4200 || !r.Success {
				t.Errorf("run did not round-trip: %+v", r)
			}
		}
		if r.ID == skipped.ID {
			foundSkipped = true
			if !r.Skipped {
				t.Errorf("skipped flag lost: %+v", r)
			}
		}
	}
	if !found || !foundSkipped {
		t.Error("inserted runs not returned")
	}
}

func TestGetRecentWakeupRunsLimit(t *testing.T) {
	database := newTestDB(t)

	for i := 0; i < 5; i++ {
		if err := database.InsertWakeupRun(&WakeupRun{
			Email:    "test@example.com",
			WindowID: models.WindowHourly,
			Success:  true,
		}); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := database.GetRecentWakeupRuns(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 3 {
		t.Errorf("got %d runs, want 3", len(runs))
	}
}
