package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/replypilot/replypilot-agent/internal/agent"
	"github.com/replypilot/replypilot-agent/internal/config"
	"github.com/replypilot/replypilot-agent/internal/settings"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	// Commit is set via -ldflags at build time.
	Commit = "unknown"
	// BuildTime is set via -ldflags at build time.
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "init":
		initCmd(os.Args[2:])
	case "set-key":
		setKeyCmd(os.Args[2:])
	case "run":
		runCmd(os.Args[2:])
	case "version":
		fmt.Printf("replypilot-agent %s (%s) %s\n", Version, Commit, BuildTime)
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `replypilot-agent

Usage:
  replypilot-agent init [flags]
  replypilot-agent set-key [flags]
  replypilot-agent run [flags]
  replypilot-agent version

Commands:
  init       Write the config file with the given provider setup.
  set-key    Store a provider API key (prompted, never echoed).
  run        Serve the browser extension over native messaging (stdio).
  version    Print build information.

`)
}

func initCmd(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)

	provider := fs.String("provider", "", "Primary provider: openai|anthropic|openai_compatible")
	model := fs.String("model", "", "Primary model id")
	baseURL := fs.String("base-url", "", "Base URL (openai_compatible only)")

	fallbackProvider := fs.String("fallback-provider", "", "Fallback provider (optional)")
	fallbackModel := fs.String("fallback-model", "", "Fallback model id")
	fallbackBaseURL := fs.String("fallback-base-url", "", "Fallback base URL (openai_compatible only)")

	stylesPath := fs.String("styles", "", "Path to a styles YAML file (empty: built-in styles)")
	logFormat := fs.String("log-format", "json", "Log format: json|text")
	logLevel := fs.String("log-level", "info", "Log level: debug|info|warn|error")
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")

	_ = fs.Parse(args)

	if *provider == "" || *model == "" {
		fs.Usage()
		os.Exit(2)
	}

	cfg := &config.Config{
		Primary: config.ProviderConfig{
			ProviderID: *provider,
			Model:      *model,
			BaseURL:    *baseURL,
		},
		StylesPath: *stylesPath,
		LogFormat:  *logFormat,
		LogLevel:   *logLevel,
	}
	if *fallbackProvider != "" {
		cfg.Fallback = &config.ProviderConfig{
			ProviderID: *fallbackProvider,
			Model:      *fallbackModel,
			BaseURL:    *fallbackBaseURL,
		}
	}

	if err := config.Save(filepath.Clean(*cfgPath), cfg); err != nil {
		fmt.Fprintf(os.Stderr, "init failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config written: %s\n", filepath.Clean(*cfgPath))
}

func setKeyCmd(args []string) {
	fs := flag.NewFlagSet("set-key", flag.ExitOnError)
	provider := fs.String("provider", "", "Provider id: openai|anthropic|openai_compatible")
	clear := fs.Bool("clear", false, "Remove the stored key instead of setting one")
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	_ = fs.Parse(args)

	if *provider == "" {
		fs.Usage()
		os.Exit(2)
	}

	store := settings.NewSecretsStore(settings.DefaultSecretsPath(filepath.Clean(*cfgPath)))

	if *clear {
		if err := store.ClearProviderAPIKey(*provider); err != nil {
			fmt.Fprintf(os.Stderr, "clear key failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Key cleared for %s\n", *provider)
		return
	}

	fmt.Fprintf(os.Stderr, "API key for %s: ", *provider)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read key failed: %v\n", err)
		os.Exit(1)
	}
	key := strings.TrimSpace(string(raw))
	if key == "" {
		fmt.Fprintln(os.Stderr, "empty key, nothing stored")
		os.Exit(1)
	}

	if err := store.SetProviderAPIKey(*provider, key); err != nil {
		fmt.Fprintf(os.Stderr, "store key failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Key stored for %s\n", *provider)
}

func runCmd(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	_ = fs.Parse(args)

	cfg, err := config.Load(filepath.Clean(*cfgPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	a, err := agent.New(agent.Options{
		Config:     cfg,
		ConfigPath: filepath.Clean(*cfgPath),
		Version:    Version,
		Commit:     Commit,
		BuildTime:  BuildTime,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init agent: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = a.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown on SIGINT/SIGTERM. The usual exit is the browser
	// closing the port (stdin EOF).
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "agent exited with error: %v\n", err)
		os.Exit(1)
	}
}
