package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/dgw/internal/config"
	"github.com/mattjoyce/dgw/internal/gateway"
	"github.com/mattjoyce/dgw/internal/log"
	"github.com/mattjoyce/dgw/internal/samples"
	"github.com/mattjoyce/dgw/internal/tui/watch"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		os.Exit(runSystemNoun(args))
	case "config":
		os.Exit(runConfigNoun(args))

	// --- ROOT ALIASES ---
	case "start":
		os.Exit(runStart(args))
	case "watch":
		os.Exit(runWatch(args))
	case "version":
		fmt.Printf("dgw version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`dgw - GitLab webhook to chat relay

Usage:
  dgw <noun> <action> [flags]

Core Resources (Nouns):
  system    Relay lifecycle and monitoring
  config    Configuration and integrity

System Commands:
  system start      Start the relay in the foreground
  system watch      Live status and event stream (needs api.enabled)

Config Commands:
  config check      Validate syntax, secrets, and integrity
  config lock       Authorize current state (write .checksums)
  config show       Print the resolved configuration with secrets masked

General:
  start             Alias for 'system start'
  watch             Alias for 'system watch'
  version           Show version information
  help              Show this help message

Use 'dgw <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: dgw system <action>")
	fmt.Fprintln(w, "Actions: start, watch")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: dgw config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock, show")
}

func printSystemStartHelp() {
	fmt.Println("Usage: dgw system start [--config PATH]")
	fmt.Println("Start the webhook listener and chat connection in the foreground.")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: dgw system watch [--api-url URL] [--api-key KEY]")
	fmt.Println("Live connection status, buffer depth, and event stream.")
	fmt.Println("The API key defaults to $DGW_API_KEY.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: dgw config check [--config PATH] [--json]")
	fmt.Println("Validate configuration syntax, required secrets, and integrity hashes.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: dgw config lock [--config PATH] [--dry-run]")
	fmt.Println("Authorize the current config.yaml by writing its BLAKE3 hash to .checksums.")
}

func printConfigShowHelp() {
	fmt.Println("Usage: dgw config show [--config PATH] [--json]")
	fmt.Println("Show the resolved configuration with secrets masked.")
}

// --- ACTION IMPLEMENTATIONS ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	path, err := config.Discover(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}
	if *configPath == "" {
		fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", path)
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("dgw starting", "version", version, "config", cfg.SourcePath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := gateway.New(ctx, cfg)
	if err != nil {
		logger.Error("failed to start", "error", err)
		return 1
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
	}()

	logger.Info("dgw running (press Ctrl+C to stop)")
	if err := svc.Run(ctx); err != nil {
		logger.Error("component failed", "error", err)
		return 1
	}

	logger.Info("dgw stopped")
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api-url", "http://127.0.0.1:8080", "Relay API URL")
	apiKey := fs.String("api-key", os.Getenv("DGW_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or DGW_API_KEY env var.")
		return 1
	}

	p := tea.NewProgram(watch.New(*apiURL, *apiKey), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

// checkReport is the machine-readable result of `config check --json`.
type checkReport struct {
	Valid     bool     `json:"valid"`
	Config    string   `json:"config"`
	Platform  string   `json:"platform,omitempty"`
	Listen    string   `json:"listen,omitempty"`
	Buffer    string   `json:"buffer,omitempty"`
	Locked    bool     `json:"locked"`
	Samples   int      `json:"samples"`
	Errors    []string `json:"errors,omitempty"`
	APIListen string   `json:"api_listen,omitempty"`
}

func runConfigCheck(args []string) int {
	var configPath string
	var jsonOut bool

	fs := flag.NewFlagSet("check", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path, err := config.Discover(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	report := checkReport{Config: path}
	cfg, err := config.Load(path)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
	} else {
		report.Valid = true
		report.Config = cfg.SourcePath
		report.Platform = cfg.Chat.Platform
		report.Listen = cfg.Webhook.Listen
		report.Buffer = "memory"
		if cfg.Buffer.Persist {
			report.Buffer = "sqlite:" + cfg.Buffer.Path
		}
		if cfg.API.Enabled {
			report.APIListen = cfg.API.Listen
		}
		manifest, err := config.LoadChecksums(cfg.SourcePath)
		report.Locked = err == nil && manifest != nil
		report.Samples = len(samples.New(cfg.Samples.Dir).Keys())
	}

	if jsonOut {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
	} else {
		printCheckReport(report)
	}

	if !report.Valid {
		return 1
	}
	return 0
}

func printCheckReport(r checkReport) {
	if !r.Valid {
		fmt.Printf("Configuration INVALID: %s\n", r.Config)
		for _, e := range r.Errors {
			fmt.Printf("  ERROR %s\n", e)
		}
		return
	}
	fmt.Printf("Configuration valid: %s\n", r.Config)
	fmt.Printf("  platform: %s\n", r.Platform)
	fmt.Printf("  webhook:  %s\n", r.Listen)
	fmt.Printf("  buffer:   %s\n", r.Buffer)
	if r.APIListen != "" {
		fmt.Printf("  api:      %s\n", r.APIListen)
	}
	fmt.Printf("  samples:  %d\n", r.Samples)
	if r.Locked {
		fmt.Println("  integrity: locked")
	} else {
		fmt.Println("  integrity: not locked (run 'dgw config lock')")
	}
}

func runConfigLock(args []string) int {
	var configPath string
	var dryRun bool

	fs := flag.NewFlagSet("lock", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&dryRun, "dry-run", false, "Print the hash without writing .checksums")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path, err := config.Discover(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}
	path, err = resolveConfigFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if dryRun {
		hash, err := config.ComputeBlake3Hash(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to hash %s: %v\n", path, err)
			return 1
		}
		fmt.Printf("HASH %s: %s\n", filepath.Base(path), hash)
		fmt.Printf("DRY-RUN .checksums: %s (not written)\n", config.ChecksumPath(path))
		return 0
	}

	manifest, err := config.Lock(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}
	fmt.Printf("HASH %s: %s\n", filepath.Base(path), manifest.Hashes[filepath.Base(path)])
	fmt.Printf("Successfully locked configuration: %s\n", config.ChecksumPath(path))
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	path, err := config.Discover(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	redacted := cfg.Redacted()
	if *jsonOut {
		data, _ := json.MarshalIndent(redacted, "", "  ")
		fmt.Println(string(data))
	} else {
		data, _ := yaml.Marshal(redacted)
		fmt.Print(string(data))
	}
	return 0
}

// resolveConfigFile maps a config directory to the config.yaml inside it.
func resolveConfigFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("config not found: %s", path)
	}
	if info.IsDir() {
		return filepath.Join(path, "config.yaml"), nil
	}
	return path, nil
}
