// ABOUTME: Gateway orchestrator that owns the HTTP server and component lifecycles
// ABOUTME: Wires store, session registry, model client, and chat service together

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

	"github.com/fusionlabs/fusion-gateway/internal/chat"
	"github.com/fusionlabs/fusion-gateway/internal/config"
	"github.com/fusionlabs/fusion-gateway/internal/gemini"
	"github.com/fusionlabs/fusion-gateway/internal/session"
	"github.com/fusionlabs/fusion-gateway/internal/store"
)

// Gateway orchestrates the fusion-gateway server components. It manages the
// HTTP server for the chat API and the lifecycles of the store and the
// session registry.
type Gateway struct {
	config     *config.Config
	store      store.Store
	sessions   *session.Registry
	chat       *chat.Service
	httpServer *http.Server
	logger     *slog.Logger
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("FUSION_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a Gateway from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	sessions := session.NewRegistry(cfg.Session.TTL)

	var client *gemini.Client
	if cfg.Gemini.BaseURL != "" {
		client = gemini.NewClientWithBaseURL(cfg.Gemini.BaseURL)
	} else {
		client = gemini.NewClient()
	}

	gw := &Gateway{
		config:   cfg,
		store:    st,
		sessions: sessions,
		chat:     chat.New(st, client, sessions, logger),
		logger:   logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()
	gw.registerRoutes(mux)

	gw.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// registerRoutes attaches all HTTP handlers to the mux.
func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", g.handleRoot)
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)

	mux.HandleFunc("/api/chat/initiate", g.handleInitiate)
	mux.HandleFunc("/api/chat/stream/", g.handleStream)
	mux.HandleFunc("/api/chat/sync", g.handleChatSync)
	mux.HandleFunc("/api/conversations", g.handleListConversations)
	mux.HandleFunc("/api/conversations/", g.handleConversationMessages)
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.config.Server.HTTPAddr, err)
	}

	g.logger.Info("HTTP server listening", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := g.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("shutdown requested")
	case serverErr = <-errCh:
		g.logger.Error("server failed", "err", serverErr)
	}

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var errs []error

	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	g.sessions.Close()

	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	g.logger.Info("gateway stopped")
	return errors.Join(errs...)
}
