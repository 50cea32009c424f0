package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mlewan01/codex-cockpit/internal/models"
	"github.com/mlewan01/codex-cockpit/internal/services"
	"github.com/mlewan01/codex-cockpit/internal/version"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(manager *services.Manager) *cli.App {
	return &cli.App{
		Name:    "codex-cockpit",
		Usage:   "Manage Codex accounts, quotas and wakeup probes",
		Version: version.Info(),
		Commands: []*cli.Command{
			accountsCmd(manager),
			quotaCmd(manager),
			wakeupCmd(manager),
			historyCmd(manager),
			windowsCmd(),
		},
	}
}

// accountsCmd lists the configured accounts.
func accountsCmd(manager *services.Manager) *cli.Command {
	return &cli.Command{
		Name:  "accounts",
		Usage: "List configured Codex accounts",
		Action: func(c *cli.Context) error {
			accounts := manager.Accounts().List()
			if len(accounts) == 0 {
				fmt.Println("no accounts configured")
				return nil
			}
			for _, acc := range accounts {
				line := fmt.Sprintf("%s  %s", acc.ID, acc.Email)
				if acc.Quota != nil {
					line += fmt.Sprintf("  5h=%d%% weekly=%d%%", acc.Quota.HourlyPercentage, acc.Quota.WeeklyPercentage)
				}
				if acc.QuotaError != nil {
					line += fmt.Sprintf("  last_error=%q", acc.QuotaError.Message)
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

// quotaCmd refreshes quota for one or all accounts.
func quotaCmd(manager *services.Manager) *cli.Command {
	return &cli.Command{
		Name:  "quota",
		Usage: "Refresh usage quota",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "account", Aliases: []string{"a"}, Usage: "Account id (omit for all accounts)"},
		},
		Action: func(c *cli.Context) error {
			if id := c.String("account"); id != "" {
				quota, err := manager.Quota().RefreshAccountQuota(id)
				if err != nil {
					return err
				}
				return outputJSON(quota)
			}

			results := manager.Quota().RefreshAllQuotas()
			for _, res := range results {
				if res.Err != nil {
					fmt.Printf("%s  error: %v\n", res.AccountID, res.Err)
					continue
				}
				fmt.Printf("%s  5h=%d%% weekly=%d%%\n", res.AccountID, res.Quota.HourlyPercentage, res.Quota.WeeklyPercentage)
			}
			return nil
		},
	}
}

// wakeupCmd triggers a wakeup probe for an account.
func wakeupCmd(manager *services.Manager) *cli.Command {
	return &cli.Command{
		Name:  "wakeup",
		Usage: "Trigger a wakeup probe for an account",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "account", Aliases: []string{"a"}, Required: true, Usage: "Account id"},
			&cli.StringFlag{Name: "window", Aliases: []string{"w"}, Value: models.WindowHourly, Usage: "Target window: codex-hourly, codex-weekly, or both"},
			&cli.StringFlag{Name: "prompt", Aliases: []string{"p"}, Usage: "Prompt text (defaults to a fixed probe prompt)"},
		},
		Action: func(c *cli.Context) error {
			result, err := manager.TriggerWakeup(
				c.String("account"),
				c.String("window"),
				c.String("prompt"),
				"manual",
				"cli",
			)
			if err != nil {
				return err
			}
			fmt.Println(result.Reply)
			fmt.Printf("(took %s)\n", result.Duration.Round(time.Millisecond))
			return nil
		},
	}
}

// historyCmd lists or clears the wakeup history.
func historyCmd(manager *services.Manager) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Inspect the wakeup history log",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List wakeup history entries, newest first",
				Action: func(c *cli.Context) error {
					items, err := manager.History().Load()
					if err != nil {
						return err
					}
					for _, item := range items {
						status := "ok"
						if !item.Success {
							status = "failed"
						}
						ts := time.UnixMilli(item.Timestamp).Local().Format("2006-01-02 15:04:05")
						line := fmt.Sprintf("%s  %s  %s  %s", ts, item.AccountEmail, item.WindowID, status)
						if item.Message != nil {
							line += "  " + *item.Message
						}
						fmt.Println(line)
					}
					return nil
				},
			},
			{
				Name:  "clear",
				Usage: "Clear the wakeup history log",
				Action: func(c *cli.Context) error {
					return manager.History().Clear()
				},
			},
		},
	}
}

// windowsCmd lists the selectable wakeup windows.
func windowsCmd() *cli.Command {
	return &cli.Command{
		Name:  "windows",
		Usage: "List available wakeup windows",
		Action: func(c *cli.Context) error {
			for _, w := range models.AvailableWindows() {
				fmt.Printf("%s  %s\n", w.ID, w.DisplayName)
			}
			return nil
		},
	}
}

// outputJSON writes a value as indented JSON to stdout.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
