package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"bch-mcp-server/bitcoin"
	"bch-mcp-server/config"
	"bch-mcp-server/core/smart_contract"
	"bch-mcp-server/docs"
	"bch-mcp-server/mcp"
	"bch-mcp-server/metrics"
	"bch-mcp-server/middleware"
	"bch-mcp-server/services"
	"bch-mcp-server/session"
	"bch-mcp-server/storage/audit"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server (default)",
		Long:  "Serve MCP over HTTP on PORT, or over stdin/stdout when MODE=stdio.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

// app holds the wired server components.
type app struct {
	cfg      *config.Config
	sessions *session.Manager
	core     *mcp.MCPServer
	metrics  *metrics.Metrics
	store    audit.Store
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.store.Close()

	log.Printf("%s %s starting (mode=%s network=%s store=%s)", serverName, version, cfg.Mode, cfg.Network, cfg.StoreDriver)
	if cfg.Mode == config.ModeStdio {
		defer a.sessions.CloseAll()
		return a.core.ServeStdio(ctx, os.Stdin, os.Stdout)
	}
	return a.serveHTTP(ctx)
}

func build(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := openAuditStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	recorder := audit.NewRecorder(store)
	m := metrics.New()

	signer := bitcoin.NewSignerClient(cfg.SignerURL, cfg.SignerToken, cfg.SignerTimeout)
	if !signer.Configured() {
		log.Printf("SIGNER_URL not set: sending, token and escrow unlock tools will report SERVICE_UNAVAILABLE")
	}
	backend := &mcp.Backend{
		Network: cfg.Network,
		Prices:  bitcoin.NewPriceClient(cfg.PriceAPIBase, cfg.PriceTTL),
		Signer:  signer,
		Escrow:  smart_contract.NewEscrowManager(signer),
		QR:      services.NewQRCodeService(),
	}
	registry, err := mcp.NewRegistry(backend.Operations()...)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build tool registry: %w", err)
	}

	sessions := session.NewManager(session.Options{
		IdleTimeout: cfg.IdleTimeout,
		MaxSessions: cfg.MaxSessions,
		NewState:    mcp.NewSessionState(mcp.ElectrumDialer(cfg.ElectrumURL, serverName+"/"+version)),
		OnOpen: func(s *session.Session) {
			m.SessionOpened()
			recorder.SessionOpened(s.ID)
		},
		OnClose: func(s *session.Session, reason string) {
			m.SessionClosed(reason)
			recorder.SessionClosed(s.ID, reason)
		},
	})

	dispatcher := mcp.NewDispatcher(registry,
		mcp.WithCallTimeout(cfg.CallTimeout),
		mcp.WithObserver(func(ctx context.Context, tool, outcome string, elapsed time.Duration) {
			m.RecordToolCall(tool, outcome, elapsed)
			var token string
			if s, ok := session.FromContext(ctx); ok {
				token = s.ID
			}
			recorder.ToolCall(token, tool, outcome, elapsed)
		}),
	)

	return &app{
		cfg:      cfg,
		sessions: sessions,
		core:     mcp.NewMCPServer(serverName, version, dispatcher, sessions),
		metrics:  m,
		store:    store,
	}, nil
}

func openAuditStore(ctx context.Context, cfg *config.Config) (audit.Store, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		store, err := audit.NewPGStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to init audit store: %w", err)
		}
		return store, nil
	default:
		return audit.NewMemoryStore(cfg.AuditCapacity), nil
	}
}

// handler builds the routed, wrapped HTTP handler.
func (a *app) handler() http.Handler {
	mux := http.NewServeMux()
	mcp.NewHTTPMCPServer(a.core, mcp.HTTPOptions{
		Name:    serverName,
		Version: version,
		Debug:   a.cfg.Debug,
	}).RegisterRoutes(mux)
	mux.Handle("GET /metrics", a.metrics.Handler())
	if a.cfg.AuditToken != "" {
		mux.Handle("/audit", middleware.RequireBearer(a.cfg.AuditToken)(audit.Handler(a.store)))
	}
	mux.Handle("/openapi.json", docs.Handler())

	mws := []middleware.Middleware{
		middleware.Recovery,
		middleware.Logging,
		middleware.CORS,
		middleware.SecurityHeaders,
	}
	if a.cfg.RateLimitRPS > 0 {
		mws = append(mws, middleware.RateLimit(middleware.NewRateLimiter(a.cfg.RateLimitRPS, a.cfg.RateLimitBurst, a.cfg.TrustProxy)))
	}
	return middleware.Chain(mux, mws...)
}

func (a *app) serveHTTP(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           a.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.sessions.Run(ctx, a.cfg.SweepInterval)
	})
	g.Go(func() error {
		log.Printf("MCP HTTP server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Printf("Shutting down MCP HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
