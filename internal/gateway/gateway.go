// ABOUTME: Gateway orchestrator that wires the store, assistant backend, tools and realtime hub
// ABOUTME: Owns the HTTP server lifecycle on plain TCP or a tailscale node

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/assistant-gateway/internal/assistant"
	"github.com/2389/assistant-gateway/internal/config"
	"github.com/2389/assistant-gateway/internal/conversation"
	"github.com/2389/assistant-gateway/internal/realtime"
	"github.com/2389/assistant-gateway/internal/store"
	"github.com/2389/assistant-gateway/internal/titles"
	"github.com/2389/assistant-gateway/internal/tools"
	"github.com/2389/assistant-gateway/internal/webui"
)

// Gateway orchestrates the assistant-gateway server components.
type Gateway struct {
	config       *config.Config
	store        store.ConversationStore
	conversation *conversation.Service
	tools        *tools.Registry
	hub          *realtime.Hub
	httpServer   *http.Server
	tsnetServer  *tsnet.Server
	logger       *slog.Logger
}

// Components lets callers (mostly tests) supply prebuilt dependencies.
// Nil fields are built from config.
type Components struct {
	Store      store.ConversationStore
	Backend    assistant.Backend
	Summarizer titles.Summarizer
	Registry   *tools.Registry
}

// initStore opens the conversation store selected by store.driver.
func initStore(ctx context.Context, cfg *config.Config) (store.ConversationStore, error) {
	var (
		s   store.ConversationStore
		err error
	)
	switch cfg.Store.Driver {
	case config.DriverBolt:
		s, err = store.NewBoltStore(cfg.Store.Endpoint)
	case config.DriverMongo:
		s, err = store.NewMongoStore(ctx, store.MongoConfig{
			URI:        cfg.Store.Endpoint,
			Username:   cfg.Store.Username,
			Password:   cfg.Store.Key,
			Database:   cfg.Store.Database,
			Collection: cfg.Store.Collection,
		})
	default:
		s, err = store.NewSQLiteStore(cfg.Store.Endpoint)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s store: %w", cfg.Store.Driver, err)
	}
	return s, nil
}

// initSummarizer builds the title summarizer selected by titles.provider.
func initSummarizer(cfg *config.Config, backend *assistant.OpenAIBackend) (titles.Summarizer, error) {
	if cfg.Titles.Provider == config.TitlesOllama {
		s, err := titles.NewOllamaSummarizer(cfg.Titles.OllamaHost, cfg.Titles.OllamaModel, &http.Client{Timeout: cfg.Titles.Timeout})
		if err != nil {
			return nil, fmt.Errorf("initializing ollama summarizer: %w", err)
		}
		return s, nil
	}
	if backend == nil {
		return nil, errors.New("assistant summarizer requires the OpenAI backend")
	}
	return titles.NewAssistantSummarizer(backend.ChatClient(), cfg.Assistant.SummarizationModel), nil
}

// New builds every component from cfg.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	return NewWithComponents(context.Background(), cfg, Components{}, logger)
}

// NewWithComponents builds the gateway, using any non-nil prebuilt components.
func NewWithComponents(ctx context.Context, cfg *config.Config, c Components, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if c.Backend == nil {
		c.Backend = assistant.NewOpenAIBackend(assistant.Config{
			Endpoint:        cfg.Assistant.Endpoint,
			APIKey:          cfg.Assistant.APIKey,
			Azure:           cfg.Assistant.Azure,
			APIVersion:      cfg.Assistant.APIVersion,
			AttachmentTools: cfg.Assistant.AttachmentTools,
		}, logger)
	}

	if c.Summarizer == nil {
		openaiBackend, _ := c.Backend.(*assistant.OpenAIBackend)
		s, err := initSummarizer(cfg, openaiBackend)
		if err != nil {
			return nil, err
		}
		c.Summarizer = s
	}

	if c.Registry == nil {
		c.Registry = tools.NewRegistry(logger)
		if err := tools.RegisterBuiltins(c.Registry); err != nil {
			return nil, fmt.Errorf("registering builtin tools: %w", err)
		}
	}

	if c.Store == nil {
		s, err := initStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		c.Store = s
	}

	convService := conversation.New(c.Store, c.Backend, c.Registry, c.Summarizer, conversation.Config{
		AssistantID:   cfg.Assistant.AssistantID,
		MaxToolRounds: cfg.Assistant.MaxToolRounds,
		TitleTimeout:  cfg.Titles.Timeout,
	}, logger)

	hub := realtime.NewHub(convService, realtime.Options{
		MaxMessageSize: cfg.Realtime.MaxMessageSize,
		ReadTimeout:    cfg.Realtime.ReadTimeout,
		WriteTimeout:   cfg.Realtime.WriteTimeout,
		PingInterval:   cfg.Realtime.PingInterval,
		SendBuffer:     cfg.Realtime.SendBuffer,
		RunTimeout:     cfg.Assistant.RunTimeout,
	}, logger)

	gw := &Gateway{
		config:       cfg,
		store:        c.Store,
		conversation: convService,
		tools:        c.Registry,
		hub:          hub,
		logger:       logger.With("component", "gateway"),
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	gw.logger.Info("gateway configured",
		"store_driver", cfg.Store.Driver,
		"titles_provider", cfg.Titles.Provider,
		"tools", c.Registry.Names(),
	)
	return gw, nil
}

// Handler returns the HTTP routes served by the gateway.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/chatHub", g.hub)

	mux.HandleFunc("POST /api/files/upload", g.handleUpload)
	mux.HandleFunc("GET /api/conversations", g.handleListConversations)
	mux.HandleFunc("GET /api/conversations/{id}", g.handleGetConversation)
	mux.HandleFunc("GET /api/conversations/{id}/messages", g.handleConversationMessages)
	mux.HandleFunc("DELETE /api/conversations/{id}", g.handleDeleteConversation)
	mux.HandleFunc("GET /api/tools", g.handleListTools)

	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)

	mux.Handle("/", webui.Handler())
	return mux
}

func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// Run serves until ctx is cancelled or the server fails, then shuts down.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "assistant-gateway", "tailscale"), nil
}

func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	ln, err := g.createTailscaleListener(tsCfg)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, err
	}
	return ln, nil
}

func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

func (g *Gateway) createTailscaleListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener()
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener serves HTTPS with tailnet-provisioned certificates.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting requests, disconnects websocket clients, waits
// for in-flight turns up to ctx, and releases the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "realtime shutdown", g.hub.Close(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}
