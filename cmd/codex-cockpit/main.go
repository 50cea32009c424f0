// Package main is the entry point for the codex-cockpit CLI.
package main

import (
	"fmt"
	"os"

	"github.com/mlewan01/codex-cockpit/internal/config"
	"github.com/mlewan01/codex-cockpit/internal/services"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	manager, err := services.NewManager(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer func() {
		if closeErr := manager.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "warning: error closing services: %v\n", closeErr)
		}
	}()

	app := newCLIApp(manager)
	return app.Run(os.Args)
}
