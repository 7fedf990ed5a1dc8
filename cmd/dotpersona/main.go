// dotpersona - persona and user-profile workflows for chat bots

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/dotsetgreg/dotpersona/pkg/channels"
	"github.com/dotsetgreg/dotpersona/pkg/config"
	"github.com/dotsetgreg/dotpersona/pkg/health"
	"github.com/dotsetgreg/dotpersona/pkg/logger"
	"github.com/dotsetgreg/dotpersona/pkg/providers"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const appName = "dotpersona"

func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func formatBuildInfo() (build string, goVer string) {
	build = buildTime
	goVer = goVersion
	if goVer == "" {
		goVer = goruntime.Version()
	}
	return
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "%s %s\n", appName, formatVersion())
	build, goVer := formatBuildInfo()
	if build != "" {
		fmt.Fprintf(w, "  Build: %s\n", build)
	}
	if goVer != "" {
		fmt.Fprintf(w, "  Go: %s\n", goVer)
	}
}

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getConfigPath() string {
	if p := strings.TrimSpace(os.Getenv("DOTPERSONA_CONFIG")); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".dotpersona", "config.json")
}

// loadConfig reads an optional .env from the working directory before the
// config file so DOTPERSONA_* overrides apply.
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WarnCF("config", "Reading .env failed", map[string]interface{}{"error": err.Error()})
	}
	cfg, err := config.LoadConfig(getConfigPath())
	if err != nil {
		return nil, err
	}
	logger.SetJSON(cfg.Logging.JSON)
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	return cfg, nil
}

func validateRuntimeConfig(cfg *config.Config, requireDiscord bool) error {
	configPath := getConfigPath()
	if err := providers.ValidateProviderConfig(cfg); err != nil {
		return fmt.Errorf("%w (set it in %s or via DOTPERSONA_PROVIDERS_*)", err, configPath)
	}
	if requireDiscord && strings.TrimSpace(cfg.Channels.Discord.Token) == "" {
		return fmt.Errorf("channels.discord.token is required in %s or DOTPERSONA_CHANNELS_DISCORD_TOKEN", configPath)
	}
	return nil
}

func runGateway(debug bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("🔍 Debug mode enabled")
	}
	if err := validateRuntimeConfig(cfg, true); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	channelManager, err := channels.NewGatewayManager(cfg, rt.bus)
	if err != nil {
		return err
	}

	healthServer := health.NewServer(cfg.Gateway.Host, cfg.Gateway.Port,
		health.WithMetrics(rt.metrics.Handler()),
		health.WithStats(func() interface{} { return rt.bus.Stats() }),
	)
	healthServer.RegisterCheck("router", func() error {
		if !rt.router.Running() {
			return errors.New("router is not running")
		}
		return nil
	})
	healthServer.RegisterCheck("channels", func() error {
		if !channelManager.Running() {
			return errors.New("no channel is running")
		}
		return nil
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := channelManager.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	fmt.Printf("✓ Channels enabled: %s\n", strings.Join(channelManager.EnabledChannels(), ", "))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return healthServer.Start(gctx) })
	rt.runWorkers(gctx, g)
	if rt.sweeper != nil {
		fmt.Println("✓ Profile collection enabled")
	}
	healthServer.SetReady(true)

	fmt.Printf("✓ Health endpoints available at http://%s:%d/health and /ready\n", cfg.Gateway.Host, cfg.Gateway.Port)
	fmt.Println("Press Ctrl+C to stop")

	err = g.Wait()
	healthServer.SetReady(false)
	fmt.Println("\nShutting down...")
	if stopErr := channelManager.StopAll(context.Background()); stopErr != nil {
		logger.WarnCF("channels", "Stopping channels failed", map[string]interface{}{"error": stopErr.Error()})
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Println("✓ Gateway stopped")
	return nil
}

type consoleOptions struct {
	userID   string
	nickname string
	groupID  string
	debug    bool
}

func runConsole(opts consoleOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.debug {
		logger.SetLevel(logger.DEBUG)
	}
	if err := validateRuntimeConfig(cfg, false); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	console := channels.NewConsoleChannel(rt.bus, os.Stdout, appName)
	manager := channels.NewManager(rt.bus)
	manager.RegisterChannel(console.Name(), console)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := manager.StartAll(ctx); err != nil {
		return fmt.Errorf("start console: %w", err)
	}
	defer func() { _ = manager.StopAll(context.Background()) }()

	g, gctx := errgroup.WithContext(ctx)
	rt.runWorkers(gctx, g)

	fmt.Printf("%s console (type /persona help, Ctrl+C to exit)\n\n", appName)
	submit := func(line string) {
		console.Submit(opts.userID, opts.nickname, opts.groupID, line)
	}
	interactiveMode(submit)

	// A sweep may be mid-flush; it must finish before rt.close saves state.
	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func interactiveMode(submit func(line string)) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s You: ", appName),
		HistoryFile:     filepath.Join(os.TempDir(), ".dotpersona_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		fmt.Println("Falling back to simple input mode...")
		simpleInteractiveMode(os.Stdin, submit)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		if done := handleInput(line, submit); done {
			return
		}
	}
}

func simpleInteractiveMode(in io.Reader, submit func(line string)) {
	reader := bufio.NewReader(in)
	for {
		fmt.Printf("%s You: ", appName)
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		if done := handleInput(line, submit); done {
			return
		}
	}
}

// handleInput submits one typed line and reports whether the user quit.
func handleInput(line string, submit func(line string)) bool {
	input := strings.TrimSpace(line)
	switch input {
	case "":
		return false
	case "exit", "quit":
		fmt.Println("Goodbye!")
		return true
	}
	submit(input)
	return false
}

func runStatus(w io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	configPath := getConfigPath()

	fmt.Fprintf(w, "%s Status\n", appName)
	fmt.Fprintf(w, "Version: %s\n", formatVersion())
	if build, _ := formatBuildInfo(); build != "" {
		fmt.Fprintf(w, "Build: %s\n", build)
	}
	fmt.Fprintln(w)

	mark := func(ok bool, missing string) string {
		if ok {
			return "✓"
		}
		return missing
	}
	_, statErr := os.Stat(configPath)
	fmt.Fprintln(w, "Config:", configPath, mark(statErr == nil, "✗"))

	dataDir := cfg.DataDir()
	_, statErr = os.Stat(dataDir)
	fmt.Fprintln(w, "Data dir:", dataDir, mark(statErr == nil, "not initialized"))
	hostDB := filepath.Join(dataDir, "host.db")
	_, statErr = os.Stat(hostDB)
	fmt.Fprintln(w, "Host DB:", hostDB, mark(statErr == nil, "not initialized"))

	provider, configured, mode, err := providers.ProviderCredentialStatus(cfg)
	if err != nil {
		fmt.Fprintln(w, "Provider:", err)
	} else {
		line := fmt.Sprintf("Provider: %s %s", provider, mark(configured, "not set"))
		if mode != "" {
			line += fmt.Sprintf(" (%s)", mode)
		}
		fmt.Fprintln(w, line)
	}
	discordReady := strings.TrimSpace(cfg.Channels.Discord.Token) != ""
	fmt.Fprintln(w, "Discord token:", mark(discordReady, "not set"))
	fmt.Fprintln(w, "Profile collection:", mark(cfg.Profile.Enabled, "off"))
	fmt.Fprintln(w, "Console ready:", mark(configured, "not set"))
	fmt.Fprintln(w, "Gateway ready:", mark(configured && discordReady, "not set"))
	return nil
}
