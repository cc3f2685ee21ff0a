// ABOUTME: Entry point for the assistant-gateway service
// ABOUTME: Serves the CRM assistant API and ships broker directory imports

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/brokerdesk/assistant-gateway/internal/api"
	"github.com/brokerdesk/assistant-gateway/internal/assistant"
	"github.com/brokerdesk/assistant-gateway/internal/auth"
	"github.com/brokerdesk/assistant-gateway/internal/config"
	"github.com/brokerdesk/assistant-gateway/internal/conversation"
	"github.com/brokerdesk/assistant-gateway/internal/docindex"
	"github.com/brokerdesk/assistant-gateway/internal/orchestrator"
	"github.com/brokerdesk/assistant-gateway/internal/session"
	"github.com/brokerdesk/assistant-gateway/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                 _     _              _
  __ _ ___ ___ (_)___| |_ __ _ _ __ | |_      __ ___      __
 / _' / __/ __|| / __| __/ _' | '_ \| __|____ / _' \ \ /\ / /
| (_| \__ \__ \| \__ \ || (_| | | | | ||_____| (_| |\ V  V /
 \__,_|___/___/|_|___/\__\__,_|_| |_|\__|     \__, | \_/\_/
                                              |___/
`

// getConfigPath returns the path to the service config file.
// Priority: ASSISTANT_CONFIG env var > XDG_CONFIG_HOME > ~/.config/assistant-gateway/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("ASSISTANT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "assistant-gateway", "config.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: assistant-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                          Start the assistant API server")
		fmt.Println("  init                           Write a starter config file")
		fmt.Println("  token --owner ID [--email A]   Mint an owner JWT")
		fmt.Println("  import --file book.yaml        Load clients/lenders/documents")
		fmt.Println("  health                         Check a running instance")
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
	case "token":
		err = runToken()
	case "import":
		err = runImport(ctx)
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
	// .env before config so ${VAR} expansion sees it
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
	}

	configPath := getConfigPath()

	// Print banner
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
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Assistant: %s\n", cfg.Assistant.Endpoint)
	fmt.Println()

	logger.Info("starting assistant-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"assistant_endpoint", cfg.Assistant.Endpoint,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	manager := conversation.New(st, logger)
	tracker := docindex.NewTracker()
	gateway := assistant.NewGateway(cfg.Assistant.Endpoint, cfg.Assistant.RequestTimeout, logger)
	orch := orchestrator.New(manager, tracker, gateway, st, cfg.Assistant.HistoryLimit, logger)
	controller := session.NewController(manager, logger)
	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))

	srv := api.NewServer(orch, controller, manager, st, verifier, logger)
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
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
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

const starterConfig = `# assistant-gateway configuration
# Generated by assistant-gateway init

server:
  http_addr: "localhost:8080"

database:
  path: "./assistant.db"

auth:
  jwt_secret: "${ASSISTANT_JWT_SECRET}"

assistant:
  endpoint: "https://reason.brokerdesk.example/turn"
  request_timeout: "60s"
  history_limit: 10

logging:
  level: "info"
  format: "text"
`

func runInit() error {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists at %s", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(starterConfig), 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Print("✓ ")
	fmt.Printf("Wrote starter config to %s\n", configPath)
	fmt.Println("Set ASSISTANT_JWT_SECRET and edit the assistant endpoint before serving.")
	return nil
}

// runToken mints an owner JWT the CRM backend attaches to assistant requests.
func runToken() error {
	var ownerID, email string
	ttl := 24 * time.Hour

	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--owner":
			if i+1 >= len(args) {
				return fmt.Errorf("--owner requires a value")
			}
			ownerID = args[i+1]
			i++
		case strings.HasPrefix(arg, "--owner="):
			ownerID = strings.TrimPrefix(arg, "--owner=")
		case arg == "--email":
			if i+1 >= len(args) {
				return fmt.Errorf("--email requires a value")
			}
			email = args[i+1]
			i++
		case strings.HasPrefix(arg, "--email="):
			email = strings.TrimPrefix(arg, "--email=")
		case arg == "--ttl":
			if i+1 >= len(args) {
				return fmt.Errorf("--ttl requires a value")
			}
			parsed, err := time.ParseDuration(args[i+1])
			if err != nil {
				return fmt.Errorf("parsing --ttl: %w", err)
			}
			ttl = parsed
			i++
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	if ownerID == "" {
		return fmt.Errorf("--owner flag is required")
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
	}
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	token, err := verifier.Generate(ownerID, email, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

// directoryFile is the YAML shape of a CRM directory export.
type directoryFile struct {
	Clients []struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"clients"`
	Lenders []struct {
		ID        string `yaml:"id"`
		Name      string `yaml:"name"`
		Documents []struct {
			ID   string `yaml:"id"`
			Name string `yaml:"name"`
		} `yaml:"documents"`
	} `yaml:"lenders"`
}

// runImport loads a directory export into the store for one owner. Records
// without ids get fresh uuids so exports can omit them.
func runImport(ctx context.Context) error {
	var file, ownerID string

	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--file":
			if i+1 >= len(args) {
				return fmt.Errorf("--file requires a value")
			}
			file = args[i+1]
			i++
		case strings.HasPrefix(arg, "--file="):
			file = strings.TrimPrefix(arg, "--file=")
		case arg == "--owner":
			if i+1 >= len(args) {
				return fmt.Errorf("--owner requires a value")
			}
			ownerID = args[i+1]
			i++
		case strings.HasPrefix(arg, "--owner="):
			ownerID = strings.TrimPrefix(arg, "--owner=")
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	if file == "" {
		return fmt.Errorf("--file flag is required")
	}
	if ownerID == "" {
		return fmt.Errorf("--owner flag is required")
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("reading directory file: %w", err)
	}

	var dir directoryFile
	if err := yaml.Unmarshal(data, &dir); err != nil {
		return fmt.Errorf("parsing directory file: %w", err)
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
	}
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	var clients, lenders, documents int
	for _, c := range dir.Clients {
		id := c.ID
		if id == "" {
			id = uuid.New().String()
		}
		if err := st.SaveClient(ctx, &store.Client{ID: id, OwnerID: ownerID, Name: c.Name}); err != nil {
			return fmt.Errorf("saving client %q: %w", c.Name, err)
		}
		clients++
	}
	for _, l := range dir.Lenders {
		lenderID := l.ID
		if lenderID == "" {
			lenderID = uuid.New().String()
		}
		if err := st.SaveLender(ctx, &store.Lender{ID: lenderID, OwnerID: ownerID, Name: l.Name}); err != nil {
			return fmt.Errorf("saving lender %q: %w", l.Name, err)
		}
		lenders++
		for _, d := range l.Documents {
			docID := d.ID
			if docID == "" {
				docID = uuid.New().String()
			}
			doc := &store.Document{ID: docID, OwnerID: ownerID, LenderID: lenderID, Name: d.Name}
			if err := st.SaveDocument(ctx, doc); err != nil {
				return fmt.Errorf("saving document %q: %w", d.Name, err)
			}
			documents++
		}
	}

	green := color.New(color.FgGreen)
	green.Print("✓ ")
	fmt.Printf("Imported %d clients, %d lenders, %d documents for owner %s\n",
		clients, lenders, documents, ownerID)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/healthz", cfg.Server.HTTPAddr)
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

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
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

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
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

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
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
