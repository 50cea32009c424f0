package wakeup

import (
	"fmt"
	"strings"
	"time"

	"github.com/mlewan01/codex-cockpit/internal/logger"
	"github.com/mlewan01/codex-cockpit/internal/models"
)

// DefaultPrompt is used when the caller supplies a blank prompt.
const DefaultPrompt = "Reply with exactly: OK"

const skippedReply = "Skipped duplicate wakeup request (recently executed for this account)."

// AccountLoader is the collaborator interface for loading accounts.
type AccountLoader interface {
	Load(id string) *models.Account
}

// QuotaRefresher refreshes and persists one account's quota.
type QuotaRefresher interface {
	RefreshAccountQuota(accountID string) (*models.Quota, error)
}

// ProbeRunner runs the external probe for an account.
type ProbeRunner interface {
	Run(account *models.Account, prompt string) (string, error)
}

// Orchestrator composes the debouncer, probe executor, quota refresher and
// account store into one end-to-end trigger operation.
type Orchestrator struct {
	store     AccountLoader
	quota     QuotaRefresher
	executor  ProbeRunner
	debouncer *Debouncer
}

// NewOrchestrator creates a wakeup orchestrator.
func NewOrchestrator(store AccountLoader, quota QuotaRefresher, executor ProbeRunner, debouncer *Debouncer) *Orchestrator {
	return &Orchestrator{
		store:     store,
		quota:     quota,
		executor:  executor,
		debouncer: debouncer,
	}
}

// Trigger runs one orchestrated wakeup for the account: reserve, probe,
// quota refresh, and delta summary. A denied reservation skips the probe but
// still refreshes the quota. The reservation is not released on success; it
// expires naturally after the cooldown window.
func (o *Orchestrator) Trigger(accountID, windowID, prompt string) (*models.WakeupResult, error) {
	account := o.store.Load(accountID)
	if account == nil {
		return nil, fmt.Errorf("codex account not found: %s", accountID)
	}

	var oldQuota *models.Quota
	if account.Quota != nil {
		q := account.Quota.Clone()
		oldQuota = &q
	}
	started := time.Now()

	logger.Info("starting wakeup", "email", account.Email, "window", windowID)

	finalPrompt := strings.TrimSpace(prompt)
	if finalPrompt == "" {
		finalPrompt = DefaultPrompt
	}

	var cliReply string
	skipped := false
	if o.debouncer.Reserve(accountID) {
		// The subprocess is the one blocking operation; run it on a
		// dedicated goroutine so a slow CLI never holds up concurrent
		// orchestration of other accounts.
		type probeResult struct {
			reply string
			err   error
		}
		resultChan := make(chan probeResult, 1)
		go func() {
			reply, err := o.executor.Run(account, finalPrompt)
			resultChan <- probeResult{reply: reply, err: err}
		}()

		result := <-resultChan
		if result.err != nil {
			o.debouncer.Release(accountID)
			return nil, result.err
		}
		cliReply = result.reply
	} else {
		logger.Info("skipping duplicate wakeup call", "email", account.Email, "window", windowID)
		cliReply = skippedReply
		skipped = true
	}

	newQuota, err := o.quota.RefreshAccountQuota(accountID)
	if err != nil {
		logger.Warn("quota refresh failed after wakeup", "email", account.Email, "error", err)
		newQuota = nil
	}

	duration := time.Since(started)
	reply := buildReply(windowID, oldQuota, newQuota, cliReply)

	logger.Info("wakeup completed", "email", account.Email, "window", windowID, "duration_ms", duration.Milliseconds())

	return &models.WakeupResult{
		Reply:      reply,
		Duration:   duration,
		DurationMs: duration.Milliseconds(),
		Skipped:    skipped,
	}, nil
}

// formatResetTime renders an epoch-seconds reset timestamp in local time.
func formatResetTime(timestamp *int64) string {
	if timestamp == nil {
		return "-"
	}
	return time.Unix(*timestamp, 0).Local().Format("01-02 15:04")
}

// describeWindowChange renders an old-vs-new remaining comparison for one
// window.
func describeWindowChange(name string, oldRemaining *int, newRemaining int, resetAt *int64) string {
	remainingText := fmt.Sprintf("%d%%", newRemaining)
	if oldRemaining != nil {
		remainingText = fmt.Sprintf("%d%% -> %d%%", *oldRemaining, newRemaining)
	}
	return fmt.Sprintf("%s remaining %s, reset %s", name, remainingText, formatResetTime(resetAt))
}

// buildReply composes the human-readable wakeup summary: the window delta for
// the targeted window(s), the CLI model and reasoning configuration used, and
// a truncated echo of the probe's reply.
func buildReply(windowID string, oldQuota, newQuota *models.Quota, cliReply string) string {
	cliModelPart := fmt.Sprintf(" Used CLI model %s (reasoning: %s).", cliModel, cliReasoningLevel)
	cliReplyPart := ""
	if trimmed := strings.TrimSpace(cliReply); trimmed != "" {
		cliReplyPart = " Reply: " + truncate(trimmed, 140)
	}

	if newQuota == nil {
		return "Codex wakeup request completed." + cliModelPart + cliReplyPart
	}

	var oldHourly, oldWeekly *int
	if oldQuota != nil {
		oldHourly = &oldQuota.HourlyPercentage
		oldWeekly = &oldQuota.WeeklyPercentage
	}

	hourly := describeWindowChange("5h", oldHourly, newQuota.HourlyPercentage, newQuota.HourlyResetTime)
	weekly := describeWindowChange("Weekly", oldWeekly, newQuota.WeeklyPercentage, newQuota.WeeklyResetTime)

	switch windowID {
	case models.WindowHourly:
		return fmt.Sprintf("Codex wakeup completed. %s.%s%s", hourly, cliModelPart, cliReplyPart)
	case models.WindowWeekly:
		return fmt.Sprintf("Codex wakeup completed. %s.%s%s", weekly, cliModelPart, cliReplyPart)
	default:
		return fmt.Sprintf("Codex wakeup completed. %s | %s.%s%s", hourly, weekly, cliModelPart, cliReplyPart)
	}
}
