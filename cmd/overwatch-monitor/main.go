// ABOUTME: Entry point for the overwatch monitor server
// ABOUTME: Terminates agent telemetry channels and persists reports

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/overwatch-io/overwatch/internal/config"
	"github.com/overwatch-io/overwatch/internal/logging"
	"github.com/overwatch-io/overwatch/internal/monitor"
	"github.com/overwatch-io/overwatch/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                       _       _
  _____   _____ _ ____      ____ _  __| |_ ___| |__
 / _ \ \ / / _ \ '__\ \ /\ / / _' |/ _' __/ __| '_ \
| (_) \ V /  __/ |   \ V  V / (_| | (_| || (__| | | |
 \___/ \_/ \___|_|    \_/\_/ \__,_|\__,_|\__\___|_| |_|  monitor
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: overwatch-monitor <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the monitor server")
		fmt.Println("  health   Check monitor health")
		fmt.Println("  agents   List known agents")
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
	case "agents":
		err = runAgents(ctx)
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
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Listen:    %s\n", cfg.Monitor.ListenAddr)
	green.Print("    ▶ ")
	fmt.Printf("Register:  %s\n", cfg.Monitor.RegisterURL)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Monitor.Database.Path)
	fmt.Println()

	logger.Info("starting overwatch-monitor",
		"config", configPath,
		"listen_addr", cfg.Monitor.ListenAddr,
		"register_url", cfg.Monitor.RegisterURL,
	)

	st, err := store.NewSQLiteStore(cfg.Monitor.Database.Path)
	if err != nil {
		return fmt.Errorf("opening report store: %w", err)
	}
	defer st.Close()

	srv := monitor.NewServer(&cfg.Monitor, st, logger)
	return srv.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", hostAddr(cfg.Monitor.ListenAddr))
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

func runAgents(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/api/agents", hostAddr(cfg.Monitor.ListenAddr))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("agents check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	fmt.Println(string(body))
	return nil
}

// hostAddr turns a listen address like ":10641" into a dialable one.
func hostAddr(listen string) string {
	if len(listen) > 0 && listen[0] == ':' {
		return "127.0.0.1" + listen
	}
	return listen
}
