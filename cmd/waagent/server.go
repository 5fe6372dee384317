package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/adaofeliz/whatsapp-agent-web/internal/api"
	"github.com/adaofeliz/whatsapp-agent-web/internal/autoreply"
	"github.com/adaofeliz/whatsapp-agent-web/internal/config"
	"github.com/adaofeliz/whatsapp-agent-web/internal/generator"
	"github.com/adaofeliz/whatsapp-agent-web/internal/sender"
	"github.com/adaofeliz/whatsapp-agent-web/internal/storage"
	"github.com/adaofeliz/whatsapp-agent-web/internal/wacli"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background poller (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve the operator tools over MCP on stdio")
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running waagent server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show waagent health",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(cfg config.Config) string {
	return filepath.Join(filepath.Dir(cfg.Storage.AppDBPath), "waagent.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func setupLogging(level string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

// services is the wired object graph of a running server. The HTTP API and
// the MCP tools both use it, so one process owns the poller and the sync daemon.
type services struct {
	store    *storage.Store
	messages *wacli.DB
	sender   *sender.Sender
	queue    *autoreply.Queue
	settings *autoreply.ConfigService
	poller   *autoreply.Poller
}

func openServices(cfg config.Config) (*services, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.AppDBPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	store, err := storage.Open(cfg.Storage.AppDBPath)
	if err != nil {
		return nil, fmt.Errorf("opening app database: %w", err)
	}

	messages, err := wacli.Open(cfg.Wacli.DBPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening wacli database: %w", err)
	}

	snd := sender.New(sender.Config{
		BinaryPath:       cfg.Wacli.BinaryPath,
		StoreDir:         cfg.Wacli.StoreDir,
		SupervisorConfig: cfg.Supervisor.ConfigPath,
		SyncProgram:      cfg.Supervisor.Program,
		Timeout:          cfg.SenderTimeout(),
	}, nil)

	models := generator.DefaultModels()
	for tier, id := range map[generator.Tier]string{
		generator.TierCheap:    cfg.OpenRouter.CheapModel,
		generator.TierStandard: cfg.OpenRouter.StandardModel,
		generator.TierPremium:  cfg.OpenRouter.PremiumModel,
	} {
		if id != "" && id != models[tier].ID {
			m := models[tier]
			m.ID = id
			models[tier] = m
		}
	}
	styleCache := storage.NewTTLCache[generator.StyleProfile](store, generator.StyleCacheNamespace, generator.StyleCacheTTL)
	gen := generator.New(generator.Config{
		APIKey:  cfg.OpenRouter.APIKey,
		BaseURL: cfg.OpenRouter.BaseURL,
		Referer: cfg.OpenRouter.Referer,
		Title:   cfg.OpenRouter.Title,
		Models:  models,
	}, styleCache)

	engine := autoreply.NewEngine(store, messages, gen, snd)
	return &services{
		store:    store,
		messages: messages,
		sender:   snd,
		queue:    autoreply.NewQueue(store, snd),
		settings: autoreply.NewConfigService(store),
		poller:   autoreply.NewPoller(engine, messages, store, cfg.PollInterval()),
	}, nil
}

func (s *services) Close() {
	s.poller.Stop()
	if err := s.messages.Close(); err != nil {
		slog.Warn("closing wacli database", "error", err)
	}
	if err := s.store.Close(); err != nil {
		slog.Warn("closing app database", "error", err)
	}
}

func (s *services) handler(token string) http.Handler {
	return api.NewHandler(api.Deps{
		Messages: s.messages,
		Queue:    s.queue,
		Config:   s.settings,
		Poller:   s.poller,
		Sender:   s.sender,
		Token:    token,
	})
}

func (s *services) mcpServer() *server.MCPServer {
	return api.NewMCPServer(api.MCPDeps{
		Queue:  s.queue,
		Config: s.settings,
		Poller: s.poller,
	})
}

// serveMCP runs the stdio transport until ctx ends or in is closed.
func serveMCP(ctx context.Context, mcpSrv *server.MCPServer, in io.Reader, out io.Writer) <-chan error {
	done := make(chan error, 1)
	go func() {
		err := server.NewStdioServer(mcpSrv).Listen(ctx, in, out)
		if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
			err = nil
		}
		done <- err
	}()
	slog.Info("MCP server started (stdio transport)")
	return done
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "waagent version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.API.Token == "" {
		slog.Warn("WAAGENT_API_TOKEN is not set; operator routes are unauthenticated")
	}

	pidPath := pidFilePath(cfg)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("waagent is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("waagent is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := openServices(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	handler := svc.handler(cfg.API.Token)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Poller.Enabled {
		svc.poller.Start(ctx)
	} else {
		slog.Info("poller disabled; use POST /api/auto-response/poll to run cycles")
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("waagent listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// A nil channel never fires, so without --mcp only HTTP and signals count.
	var mcpDone <-chan error
	if withMCP {
		mcpDone = serveMCP(ctx, svc.mcpServer(), os.Stdin, os.Stdout)
	}

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case err := <-mcpDone:
		if err != nil {
			slog.Error("MCP stdio server error", "error", err)
		}
		fmt.Fprintln(os.Stderr, "MCP client disconnected, shutting down...")
	}

	svc.poller.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("waagent is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop waagent (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to waagent (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	var h api.HealthResponse
	if err := client.call(ctx, "GET", "/health", nil, &h); err != nil {
		printStatus("Server", "stopped (%v)", err)
		return nil
	}

	printStatus("Server", "%s", statusLabel(h.Status))
	printStatus("wacli sync", "%s", h.WacliSync)
	printStatus("Database", "%s", map[bool]string{true: "accessible", false: "unreachable"}[h.DBAccessible])
	if h.LastMessageAge != nil {
		printStatus("Last message", "%s ago", (time.Duration(*h.LastMessageAge) * time.Second).String())
	} else {
		printStatus("Last message", "none")
	}

	var global struct {
		Enabled       bool `json:"enabled"`
		PollerRunning bool `json:"pollerRunning"`
	}
	if err := client.call(ctx, "GET", "/api/settings/auto-response/global", nil, &global); err == nil {
		printStatus("Auto-reply", "%s", onOff(global.Enabled))
		printStatus("Poller", "%s", map[bool]string{true: "running", false: "stopped"}[global.PollerRunning])
	}
	return nil
}

func statusLabel(s string) string {
	switch s {
	case "ok":
		return colorize(colorGreen, s)
	case "degraded":
		return colorize(colorYellow, s)
	default:
		return colorize(colorRed, s)
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
