// ABOUTME: Entry point for the overwatch client agent
// ABOUTME: Discovers a monitor and streams host telemetry to it

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/overwatch-io/overwatch/internal/agent"
	"github.com/overwatch-io/overwatch/internal/config"
	"github.com/overwatch-io/overwatch/internal/logging"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                       _       _
  _____   _____ _ ____      ____ _  __| |_ ___| |__
 / _ \ \ / / _ \ '__\ \ /\ / / _' |/ _' __/ __| '_ \
| (_) \ V /  __/ |   \ V  V / (_| | (_| || (__| | | |
 \___/ \_/ \___|_|    \_/\_/ \__,_|\__,_|\__\___|_| |_|  agent
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	configPath := config.DefaultPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.Setup(cfg.Logging)

	a := agent.New(&cfg.Agent, logger)
	identity := a.Identity()

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Name:      %s\n", identity.Name)
	green.Print("    ▶ ")
	fmt.Printf("Address:   %s\n", identity.Address)
	green.Print("    ▶ ")
	fmt.Printf("Register:  %s\n", cfg.Agent.RegisterURL)
	fmt.Println()

	return a.Run(ctx)
}
