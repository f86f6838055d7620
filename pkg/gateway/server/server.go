// Package server assembles the assistant's HTTP surface: routes,
// middleware, and the shared dependencies behind them.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/genai"

	"github.com/lumenlabs/lumen/pkg/a2a"
	"github.com/lumenlabs/lumen/pkg/agent"
	"github.com/lumenlabs/lumen/pkg/agent/mcp"
	"github.com/lumenlabs/lumen/pkg/artifacts"
	"github.com/lumenlabs/lumen/pkg/gateway/config"
	"github.com/lumenlabs/lumen/pkg/gateway/handlers"
	"github.com/lumenlabs/lumen/pkg/gateway/live/sessions"
	"github.com/lumenlabs/lumen/pkg/gateway/mw"
	"github.com/lumenlabs/lumen/pkg/gateway/ratelimit"
	"github.com/lumenlabs/lumen/pkg/memory"
	"github.com/lumenlabs/lumen/pkg/metrics"
	"github.com/lumenlabs/lumen/pkg/users"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	metrics  *metrics.Metrics
	limiter  *ratelimit.Limiter
	tracker  *sessions.Tracker
	factory  *agent.Factory
	saver    *memory.Saver
	registry *artifacts.Registry
	envFiles *users.EnvDir
	store    users.Store
	pool     *pgxpool.Pool
	remotes  *a2a.Manager
	a2a      *a2a.Server
}

// New wires the full dependency graph. The context covers startup work
// only: client construction and the initial database ping.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GoogleAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}

	var blobs artifacts.BlobStore
	if cfg.S3Bucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("aws config: %w", err)
		}
		blobs = artifacts.NewS3(s3.NewFromConfig(awsCfg), cfg.S3Bucket, cfg.S3Prefix)
	} else {
		local, err := artifacts.NewLocal(cfg.UploadDir)
		if err != nil {
			return nil, fmt.Errorf("upload dir: %w", err)
		}
		blobs = local
	}
	registry := artifacts.NewRegistry(blobs)

	var pool *pgxpool.Pool
	var store users.Store
	if cfg.DatabaseURL != "" {
		pool, err = users.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("user store: %w", err)
		}
		store = users.NewPGStore(pool)
	} else {
		logger.Warn("no database configured; account endpoints disabled")
	}
	envFiles := users.NewEnvDir(cfg.UserDataDir)

	memClient := memory.NewClient(cfg.MemoryAPIKey, cfg.MemoryBaseURL, httpClient)
	if !memClient.Configured() {
		logger.Warn("no memory service configured; recall and auto-save disabled")
	}

	catalog, err := mcp.LoadCatalog(cfg.MCPCatalogPath)
	if err != nil {
		return nil, fmt.Errorf("mcp catalog: %w", err)
	}

	var remotes *a2a.Manager
	if cfg.A2AEnabled {
		remotes = a2a.NewManager(httpClient, logger)
	}

	factory := &agent.Factory{
		Connect:   agent.GenAIConnector(client),
		Generate:  client.Models,
		MCP:       mcp.NewManager(catalog, logger),
		Memory:    memClient,
		Artifacts: registry,
		Remotes:   remotes,
		EnvFiles:  envFiles,
		Logger:    logger,

		AppName:       cfg.AppName,
		LiveModel:     cfg.LiveModel,
		SubAgentModel: cfg.SubAgentModel,
		EmailModel:    cfg.EmailModel,
		Voice:         cfg.Voice,
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),

		metrics: metrics.New("lumen"),
		limiter: ratelimit.New(ratelimit.Config{
			RPS:         cfg.RateLimitRPS,
			Burst:       cfg.RateLimitBurst,
			MaxSessions: cfg.MaxSessions,
		}),
		tracker:  sessions.NewTracker(),
		factory:  factory,
		saver:    memory.NewSaver(memClient, logger),
		registry: registry,
		envFiles: envFiles,
		store:    store,
		pool:     pool,
		remotes:  remotes,
	}

	if cfg.A2AEnabled {
		s.a2a = a2a.NewServer(a2a.DefaultCard(cfg.AppName, cfg.PublicURL), s.respondA2A, logger)
	}

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	jsonBody := func(h http.Handler) http.Handler {
		return mw.BodyLimit(s.cfg.MaxBodyBytes, h)
	}

	s.mux.Handle("/healthz", handlers.HealthHandler{})
	ready := handlers.ReadyHandler{Config: s.cfg, Sessions: s.tracker}
	if s.pool != nil {
		ready.DB = s.pool
	}
	s.mux.Handle("/readyz", ready)
	s.mux.Handle("/config", handlers.ConfigHandler{Config: s.cfg})
	s.mux.Handle("/metrics", s.metrics.Handler())

	s.mux.Handle("/ws/{session_id}", handlers.ChatHandler{
		Config:   s.cfg,
		Factory:  s.factory,
		Saver:    s.saver,
		Metrics:  s.metrics,
		Limiter:  s.limiter,
		Sessions: s.tracker,
		Logger:   s.logger,
	})
	s.mux.Handle("/upload", handlers.UploadHandler{
		Registry: s.registry,
		MaxBytes: s.cfg.MaxUploadBytes,
		Metrics:  s.metrics,
		Logger:   s.logger,
	})

	uh := handlers.UsersHandler{Store: s.store, EnvFiles: s.envFiles, Logger: s.logger}
	s.mux.Handle("/validate-user", jsonBody(http.HandlerFunc(uh.Validate)))
	s.mux.Handle("/register-user", jsonBody(http.HandlerFunc(uh.Register)))
	s.mux.Handle("/update-user", jsonBody(http.HandlerFunc(uh.Update)))
	s.mux.Handle("/upload-credentials", http.HandlerFunc(uh.UploadCredentials))

	if s.a2a != nil {
		s.mux.HandleFunc(a2a.WellKnownPath, s.a2a.CardHandler())
		s.mux.Handle("/a2a", jsonBody(s.a2a.MessageHandler()))
	}

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

// Handler returns the mux wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.limiter, h)
	h = mw.CORS(s.cfg.CORSAllowedOrigins, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, s.metrics, h)
	h = mw.RequestID(h)
	return h
}

// DiscoverAgents fetches agent cards from the configured peer URLs.
// Best effort; unreachable peers are logged and skipped.
func (s *Server) DiscoverAgents(ctx context.Context) {
	if s.remotes == nil || len(s.cfg.A2AAgentURLs) == 0 {
		return
	}
	s.remotes.Discover(ctx, s.cfg.A2AAgentURLs)
}

// SetDraining makes new chat upgrades and readiness checks answer 503
// while existing sessions keep running.
func (s *Server) SetDraining() {
	s.tracker.SetDraining(true)
}

// WarnSessionsDraining tells every live chat session the server is
// going away.
func (s *Server) WarnSessionsDraining() int {
	return s.tracker.WarnAll("server_draining", "server is shutting down")
}

// WaitSessions blocks until every chat session has ended or ctx expires.
func (s *Server) WaitSessions(ctx context.Context) bool {
	return s.tracker.Wait(ctx)
}

// CancelSessions force-closes the chat sessions still running.
func (s *Server) CancelSessions() int {
	return s.tracker.CancelAll()
}

// Close releases startup resources. Call after the HTTP server has
// stopped.
func (s *Server) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// respondA2A answers one inbound peer message as the configured default
// user, bounded by the A2A timeout.
func (s *Server) respondA2A(ctx context.Context, message string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.A2ATimeout)
	defer cancel()
	return s.factory.RespondOnce(ctx, s.cfg.A2ADefaultUser, message)
}
