// ABOUTME: Entry point for the teamchat-mcp server
// ABOUTME: Wires the store, chat backend, presence gate and services into the MCP HTTP endpoint

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/teamchat-mcp/internal/auth"
	"github.com/2389/teamchat-mcp/internal/chat"
	"github.com/2389/teamchat-mcp/internal/comms"
	"github.com/2389/teamchat-mcp/internal/config"
	"github.com/2389/teamchat-mcp/internal/identity"
	"github.com/2389/teamchat-mcp/internal/mcp"
	"github.com/2389/teamchat-mcp/internal/presence"
	"github.com/2389/teamchat-mcp/internal/registry"
	"github.com/2389/teamchat-mcp/internal/store"
	"github.com/2389/teamchat-mcp/internal/tasks"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _                            _           _
| |_ ___  __ _ _ __ ___   ___| |__   __ _| |_      _ __ ___   ___ _ __
| __/ _ \/ _' | '_ ' _ \ / __| '_ \ / _' | __|____| '_ ' _ \ / __| '_ \
| ||  __/ (_| | | | | | | (__| | | | (_| | ||_____| | | | | | (__| |_) |
 \__\___|\__,_|_| |_| |_|\___|_| |_|\__,_|\__|    |_| |_| |_|\___| .__/
                                                                 |_|
`

// getConfigPath returns the path to the config file.
// Priority: TEAMCHAT_CONFIG env var > XDG_CONFIG_HOME > ~/.config.
func getConfigPath() string {
	if envPath := os.Getenv("TEAMCHAT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "teamchat.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "teamchat-mcp", "teamchat.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: teamchat-mcp <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                Start the MCP server")
		fmt.Println("  init                 Create a new config file interactively")
		fmt.Println("  afk [on|off|toggle]  Show or change AFK state")
		fmt.Println("  tasks                List active agent tasks")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "afk":
		err = runAFK(os.Args[2:])
	case "tasks":
		err = runTasks(ctx)
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

	ident, err := identity.Derive(cfg.Instance.ProjectDir, cfg.Instance.Name)
	if err != nil {
		return fmt.Errorf("deriving instance identity: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Chat:     %s\n", cfg.Chat.BaseURL)
	green.Print("    ▶ ")
	fmt.Printf("Instance: %s\n", ident.Topic())
	fmt.Println()

	logger.Info("starting teamchat-mcp",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"instance", ident.Topic(),
	)

	st, err := store.NewAgentStore(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	backend, err := chat.NewClient(chat.Credentials{
		BaseURL: cfg.Chat.BaseURL,
		Email:   cfg.Chat.Email,
		APIKey:  cfg.Chat.APIKey,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating chat client: %w", err)
	}

	gate := presence.NewGate(cfg.Presence.StatePath, logger)
	reg := registry.New(st, backend, cfg.Chat.ChannelPrefix, logger)

	commsService, err := comms.New(comms.Config{
		Store:               st,
		Registry:            reg,
		Gate:                gate,
		Backend:             backend,
		Identity:            ident,
		NotificationChannel: cfg.Chat.NotificationChannel,
		Logger:              logger,
	})
	if err != nil {
		return fmt.Errorf("creating communication service: %w", err)
	}

	taskService := tasks.New(st, reg, backend, logger)

	toolset := mcp.NewToolset(reg, commsService, taskService, gate, backend, logger)

	var verifier auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	}
	tokenStore := mcp.NewTokenStore()
	for _, token := range cfg.Auth.Tokens {
		tokenStore.AddToken(token, "configured")
	}

	mcpServer, err := mcp.NewServer(mcp.Config{
		Toolset:       toolset,
		Logger:        logger,
		TokenVerifier: verifier,
		TokenStore:    tokenStore,
		RequireAuth:   cfg.Auth.RequireAuth,
		ServerName:    "teamchat-mcp",
		Version:       version,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	mux := http.NewServeMux()
	mcpServer.RegisterRoutes(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","version":%q}`, version)
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("MCP endpoint listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = &colorHandler{level: level}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

// runAFK shows or changes the AFK state from the terminal. The state file is
// shared with a running server; changes here take effect on its next read.
func runAFK(args []string) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	gate := presence.NewGate(cfg.Presence.StatePath, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	action := "status"
	if len(args) > 0 {
		action = args[0]
	}

	reason, hours := parseAFKArgs(args)

	switch action {
	case "status":
		st := gate.Status()
		if !st.Active {
			green.Println("at keyboard")
			return nil
		}
		yellow.Printf("AFK for %.1fh", st.DurationHours)
		if st.Reason != "" {
			fmt.Printf(" (%s)", st.Reason)
		}
		if st.AutoReturnHours > 0 {
			fmt.Printf(", auto-return in %.1fh", st.AutoReturnInHours)
		}
		fmt.Println()
	case "on":
		gate.Activate(reason, hours)
		yellow.Println("AFK activated")
	case "off":
		if gate.Deactivate() {
			green.Println("welcome back")
		} else {
			green.Println("already at keyboard")
		}
	case "toggle":
		if gate.Toggle(reason, hours) {
			yellow.Println("AFK activated")
		} else {
			green.Println("welcome back")
		}
	default:
		return fmt.Errorf("unknown afk action %q (want on, off, toggle or status)", action)
	}
	return nil
}

// parseAFKArgs extracts the free-text reason and an optional --hours flag.
func parseAFKArgs(args []string) (reason string, hours float64) {
	var words []string
	for i := 1; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--hours" && i+1 < len(args):
			hours, _ = strconv.ParseFloat(args[i+1], 64)
			i++
		case strings.HasPrefix(arg, "--hours="):
			hours, _ = strconv.ParseFloat(strings.TrimPrefix(arg, "--hours="), 64)
		default:
			words = append(words, arg)
		}
	}
	return strings.Join(words, " "), hours
}

// runTasks prints active tasks across all agents.
func runTasks(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := store.NewAgentStore(cfg.Database.Path, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	active, err := st.GetActiveTasks(ctx, "")
	if err != nil {
		return fmt.Errorf("listing tasks: %w", err)
	}

	if len(active) == 0 {
		fmt.Println("no active tasks")
		return nil
	}

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	for _, task := range active {
		cyan.Printf("%s", task.Name)
		if task.Progress != nil {
			fmt.Printf("  %s", comms.ProgressBar(*task.Progress))
		}
		fmt.Println()
		gray.Printf("  %s  started %s", task.ID, task.StartedAt.Local().Format("15:04"))
		if task.EstimatedTime != "" {
			gray.Printf("  eta %s", task.EstimatedTime)
		}
		fmt.Println()
	}
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("teamchat-mcp configuration setup")
	fmt.Println("================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaults := config.Default()

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", defaults.Server.HTTPAddr)

	fmt.Println("\n--- Chat Backend ---")
	baseURL := prompt(reader, "Chat base URL", "https://chat.example.com")
	email := prompt(reader, "Bot email", "")
	apiKey := prompt(reader, "Bot API key (leave empty to use a credentials file)", "")
	var credsFile string
	if apiKey == "" {
		credsFile = prompt(reader, "Credentials file path", "")
	}
	notifChannel := prompt(reader, "Notification channel", defaults.Chat.NotificationChannel)
	channelPrefix := prompt(reader, "Agent channel prefix", defaults.Chat.ChannelPrefix)

	fmt.Println("\n--- Storage ---")
	dbPath := prompt(reader, "SQLite database path", defaults.Database.Path)
	afkPath := prompt(reader, "AFK state path", defaults.Presence.StatePath)

	fmt.Println("\n--- Authentication ---")
	requireAuthStr := prompt(reader, "Require auth on the MCP endpoint?", "yes")
	requireAuth := strings.ToLower(requireAuthStr) == "yes" || strings.ToLower(requireAuthStr) == "y"
	var jwtSecret string
	if requireAuth {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return fmt.Errorf("generating JWT secret: %w", err)
		}
		jwtSecret = base64.StdEncoding.EncodeToString(secretBytes)
		fmt.Println("Generated a random JWT secret.")
	}

	fmt.Println("\n--- Logging ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# teamchat-mcp configuration\n")
	cfg.WriteString("# Generated by teamchat-mcp init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n\n", httpAddr))

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n\n", dbPath))

	cfg.WriteString("chat:\n")
	cfg.WriteString(fmt.Sprintf("  base_url: %q\n", baseURL))
	if email != "" {
		cfg.WriteString(fmt.Sprintf("  email: %q\n", email))
	}
	if apiKey != "" {
		cfg.WriteString(fmt.Sprintf("  api_key: %q\n", apiKey))
	}
	if credsFile != "" {
		cfg.WriteString(fmt.Sprintf("  credentials_file: %q\n", credsFile))
	}
	cfg.WriteString(fmt.Sprintf("  channel_prefix: %q\n", channelPrefix))
	cfg.WriteString(fmt.Sprintf("  notification_channel: %q\n\n", notifChannel))

	cfg.WriteString("presence:\n")
	cfg.WriteString(fmt.Sprintf("  state_path: %q\n\n", afkPath))

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  require_auth: %t\n", requireAuth))
	if jwtSecret != "" {
		cfg.WriteString(fmt.Sprintf("  jwt_secret: %q\n", jwtSecret))
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Println("  teamchat-mcp serve")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
