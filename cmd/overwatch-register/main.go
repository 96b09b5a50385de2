// ABOUTME: Entry point for the overwatch register service
// ABOUTME: Agents discover monitor servers through this process

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/overwatch-io/overwatch/internal/config"
	"github.com/overwatch-io/overwatch/internal/logging"
	"github.com/overwatch-io/overwatch/internal/register"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                       _       _
  _____   _____ _ ____      ____ _  __| |_ ___| |__
 / _ \ \ / / _ \ '__\ \ /\ / / _' |/ _' __/ __| '_ \
| (_) \ V /  __/ |   \ V  V / (_| | (_| || (__| | | |
 \___/ \_/ \___|_|    \_/\_/ \__,_|\__,_|\__\___|_| |_|  register
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: overwatch-register <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the register service")
		fmt.Println("  health   Check register health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
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

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config: %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Listen: %s\n", cfg.Register.ListenAddr)
	fmt.Println()

	logger.Info("starting overwatch-register",
		"config", configPath,
		"listen_addr", cfg.Register.ListenAddr,
	)

	svc := register.NewService(cfg.Register.ListenAddr, logger)
	return svc.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/", hostAddr(cfg.Register.ListenAddr))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// hostAddr turns a listen address like ":10640" into a dialable one.
func hostAddr(listen string) string {
	if len(listen) > 0 && listen[0] == ':' {
		return "127.0.0.1" + listen
	}
	return listen
}
