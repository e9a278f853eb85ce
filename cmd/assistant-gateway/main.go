// ABOUTME: Entry point for assistant-gateway
// ABOUTME: Serves the chat hub and offers init, health and conversations commands

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/assistant-gateway/internal/config"
	"github.com/2389/assistant-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                _     _              _
  __ _ ___ ___ (_)___| |_ __ _ _ __ | |_       __ _  __ _| |_ _____      ____ _ _   _
 / _' / __/ __|| / __| __/ _' | '_ \| __|____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| (_| \__ \__ \| \__ \ || (_| | | | | ||_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 \__,_|___/___/|_|___/\__\__,_|_| |_|\__|     \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                                              |___/                             |___/
`

// configEnv names the environment variable holding an explicit config path.
const configEnv = "ASSISTANT_GATEWAY_CONFIG"

// getConfigPath returns the path to the gateway config file.
// Priority: ASSISTANT_GATEWAY_CONFIG > XDG_CONFIG_HOME/assistant-gateway/gateway.yaml > ~/.config/assistant-gateway/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv(configEnv); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "assistant-gateway", "gateway.yaml")
}

// getDataPath returns the assistant-gateway data directory.
// Priority: XDG_DATA_HOME/assistant-gateway > ~/.local/share/assistant-gateway
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "assistant-gateway")
}

func usage() {
	fmt.Println("Usage: assistant-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve          Start the gateway server")
	fmt.Println("  init           Write a starter config file")
	fmt.Println("  health         Check gateway health")
	fmt.Println("  conversations  List stored conversations")
	fmt.Println("  version        Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin, getConfigPath(), getDataPath())
	case "health":
		err = runHealth(ctx)
	case "conversations":
		err = runConversations(ctx, os.Stdout)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
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
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Assistant: %s", cfg.Assistant.AssistantID)
	if cfg.Assistant.Azure {
		yellow.Print(" [azure]")
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("Store:     %s", cfg.Store.Driver)
	if cfg.Store.Driver != config.DriverMongo {
		gray.Printf(" (%s)", cfg.Store.Endpoint)
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("Titles:    %s\n", cfg.Titles.Provider)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		} else if cfg.Tailscale.HTTPS {
			yellow.Print(" [https]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting assistant-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"store_driver", cfg.Store.Driver,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}
