// ABOUTME: Gateway orchestrator that wires the store, tool registry, and HTTP server
// ABOUTME: Manages credential store, MCP endpoint, and login flow lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/tm3/monarch-gateway/internal/auth"
	"github.com/tm3/monarch-gateway/internal/config"
	"github.com/tm3/monarch-gateway/internal/mcp"
	"github.com/tm3/monarch-gateway/internal/monarch"
	"github.com/tm3/monarch-gateway/internal/store"
	"github.com/tm3/monarch-gateway/internal/tools"
)

// Gateway orchestrates the monarch-gateway server components.
// It owns the credential store, the tool registry and dispatcher, the MCP
// server, and the login flow handlers, all served from one HTTP listener.
type Gateway struct {
	config     *config.Config
	store      store.CredentialStore
	registry   *tools.Registry
	dispatcher *tools.Dispatcher
	httpServer *http.Server
	logger     *slog.Logger

	// mcpTokens maps opaque MCP access tokens to user IDs
	mcpTokens *mcp.TokenStore

	// mcpServer is the MCP-compatible HTTP server for external agents
	mcpServer *mcp.Server

	// authHandlers serves the /auth/refresh login flow
	authHandlers *auth.Handlers
}

// initStore creates the credential store based on config and environment.
func initStore(cfg *config.Config) (store.CredentialStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("MONARCH_GW_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	var sealer *store.Sealer
	if key := cfg.SealingKey(); key != nil {
		var err error
		sealer, err = store.NewSealer(key)
		if err != nil {
			return nil, fmt.Errorf("creating sealer: %w", err)
		}
	}

	s, err := store.NewSQLiteStore(dbPath, sealer)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// authRefreshURL returns the externally reachable login flow URL.
func authRefreshURL(cfg *config.Config) string {
	if envURL := os.Getenv("MONARCH_GW_URL"); envURL != "" {
		return envURL + "/auth/refresh"
	}
	return cfg.Server.PublicURL + "/auth/refresh"
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	authURL := authRefreshURL(cfg)

	registry, err := tools.NewRegistry(logger.With("component", "registry"), tools.Catalog(authURL))
	if err != nil {
		return nil, fmt.Errorf("building tool registry: %w", err)
	}

	factory := func(token string) monarch.API {
		return monarch.New(token,
			monarch.WithBaseURL(cfg.Monarch.BaseURL),
			monarch.WithTimeout(cfg.Monarch.Timeout),
		)
	}

	dispatcher, err := tools.NewDispatcher(tools.DispatcherConfig{
		Registry:    registry,
		Credentials: s,
		Factory:     factory,
		Logger:      logger.With("component", "dispatcher"),
		Guidance:    tools.NotAuthenticatedText(authURL),
	})
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	mcpTokens := mcp.NewTokenStore()

	gw := &Gateway{
		config:     cfg,
		store:      s,
		registry:   registry,
		dispatcher: dispatcher,
		logger:     logger.With("component", "gateway"),
		mcpTokens:  mcpTokens,
	}

	mux := http.NewServeMux()

	// Health endpoint - no auth required
	mux.HandleFunc("/healthz", gw.handleHealth)

	// MCP endpoint for external agents
	mcpServer, err := mcp.NewServer(mcp.Config{
		Registry:      registry,
		Dispatcher:    dispatcher,
		Logger:        logger.With("component", "mcp"),
		TokenVerifier: verifier,
		TokenStore:    mcpTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}
	gw.mcpServer = mcpServer
	gw.mcpServer.RegisterRoutes(mux)

	// Login flow: the only writer of credentials
	login := func(ctx context.Context, email, password, totp string) (string, error) {
		return monarch.Login(ctx, cfg.Monarch.BaseURL, monarch.LoginRequest{
			Email:    email,
			Password: password,
			TOTP:     totp,
		})
	}
	authHandlers, err := auth.NewHandlers(auth.HandlersConfig{
		Store:     s,
		Login:     login,
		Tokens:    mcpTokens,
		Verifier:  verifier,
		TokenTTL:  cfg.Auth.TokenTTL,
		PublicURL: cfg.Server.PublicURL,
		Logger:    logger.With("component", "auth"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating auth handlers: %w", err)
	}
	gw.authHandlers = authHandlers
	gw.authHandlers.RegisterRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Run starts the gateway server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the
// server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// startServer starts the HTTP server in a goroutine, returning an error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or a server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the gateway server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
