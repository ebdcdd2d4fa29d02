// ABOUTME: Entry point for the wrap-gateway action execution server
// ABOUTME: Subcommands serve the gateway, write config, mint tokens and check health

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/wrap-gateway/internal/client"
	"github.com/2389/wrap-gateway/internal/config"
	"github.com/2389/wrap-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                                 _
__      ___ __ __ _ _ __         __ _  __ _| |_ _____      ____ _ _   _
\ \ /\ / / '__/ _' | '_ \ _____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
 \ V  V /| | | (_| | |_) |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
  \_/\_/ |_|  \__,_| .__/       \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                   |_|          |___/                             |___/
`

// getDataPath returns the wrap data directory.
// Priority: XDG_DATA_HOME/wrap > ~/.local/share/wrap
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "wrap")
}

// getTokenPath returns where bootstrap saves the admin token for CLI tools.
func getTokenPath() string {
	return filepath.Join(filepath.Dir(config.DefaultPath()), "token")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: wrap-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                      Start the gateway server")
		fmt.Println("  init                       Create a new config file interactively")
		fmt.Println("  bootstrap --name NAME      Create config and an admin token in one step")
		fmt.Println("  token --principal ID       Mint a token (--roles producer,operator --ttl 720h)")
		fmt.Println("  health                     Check gateway readiness")
		fmt.Println("  version                    Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin)
	case "bootstrap":
		err = runBootstrap(ctx, os.Args[2:])
	case "token":
		err = runToken(ctx, os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Println(version)
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

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Driver)
	green.Print("    ▶ ")
	fmt.Printf("Mode:      ")
	yellow.Println(cfg.Mode())
	if cfg.Auth.JWTSecret == "" {
		green.Print("    ▶ ")
		fmt.Printf("Auth:      ")
		yellow.Println("disabled")
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting wrap-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
		"default_mode", cfg.Mode(),
	)

	gateway.Version = version
	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	status, err := client.New("http://"+cfg.Server.HTTPAddr, "").Health(ctx)
	if err != nil {
		return fmt.Errorf("unhealthy: %w", err)
	}

	fmt.Println(status.Status)
	return nil
}
