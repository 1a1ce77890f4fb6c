package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	intrnl "onlineauth/internal"
	"onlineauth/internal/auth"
	"onlineauth/internal/logging"
	"onlineauth/internal/session"
	"onlineauth/internal/storage"
)

const limiterPruneInterval = 5 * time.Minute

// ServerHandle represents a running HTTP/WebSocket server instance.
type ServerHandle struct {
	addr     string
	server   *http.Server
	stores   *stores
	hub      *intrnl.Hub
	verifier *auth.IDTokenVerifier
	cancel   context.CancelFunc
	logger   logging.Logger
	done     chan struct{}
	err      error
}

// Addr returns the actual listen address (after the OS allocated a port).
func (h *ServerHandle) Addr() string {
	return h.addr
}

// Stop triggers a graceful shutdown with the provided context deadline.
func (h *ServerHandle) Stop(ctx context.Context) error {
	if h == nil || h.server == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	return h.server.Shutdown(ctx)
}

// Wait blocks until the server exits.
func (h *ServerHandle) Wait() error {
	if h == nil {
		return nil
	}
	<-h.done
	return h.err
}

// RunServer opens the configured stores, wires handlers and starts serving in
// the background. Call Stop/Wait to manage its lifecycle. A nil logger means
// one built from cfg.
func RunServer(ctx context.Context, cfg ServerConfig, logger logging.Logger) (*ServerHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.New(os.Stderr, cfg.LogLevel, cfg.Production())
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.UsingDevSecret() {
		logger.Warn(ctx, "SESSION_SECRET not set; using the development secret")
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	google := auth.NewGoogleProvider(auth.GoogleConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		CallbackURL:  cfg.GoogleCallbackURL,
	})
	if !google.Configured() {
		logger.Warn(ctx, "GOOGLE_CLIENT_ID and/or GOOGLE_CLIENT_SECRET not set; Google sign-in is disabled")
	}

	manager, err := session.NewManager(st.sessions, st.users, session.Options{
		Secret: []byte(cfg.SessionSecret),
		TTL:    cfg.SessionTTL,
		Secure: cfg.Production(),
	}, logging.Component(logger, "session"))
	if err != nil {
		st.close(logger)
		return nil, err
	}

	verifier := auth.NewIDTokenVerifier(cfg.GoogleClientID, "", nil)
	metrics := intrnl.NewMetrics()
	server, err := intrnl.NewServer(intrnl.ServerDeps{
		Auth:       auth.NewService(st.users, auth.NewBcryptHasher(auth.DefaultBcryptCost), logging.Component(logger, "auth")),
		Google:     google,
		Verifier:   verifier,
		Sessions:   manager,
		Hub:        intrnl.NewHub(metrics, logging.Component(logger, "presence")),
		Metrics:    metrics,
		Logger:     logger,
		Production: cfg.Production(),
	})
	if err != nil {
		st.close(logger)
		return nil, err
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		st.close(logger)
		return nil, fmt.Errorf("listen: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	handle := &ServerHandle{
		addr:     listener.Addr().String(),
		server:   httpServer,
		stores:   st,
		hub:      server.Hub(),
		verifier: verifier,
		cancel:   cancel,
		logger:   logger,
		done:     make(chan struct{}),
	}

	go server.Hub().Run(runCtx)
	go session.RunJanitor(runCtx, st.sessions, cfg.SweepInterval, logger)
	go pruneLimiter(runCtx, server)

	go func() {
		select {
		case <-ctx.Done():
		case <-handle.done:
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(shutdownCtx, "server shutdown error", "error", err)
		}
	}()

	go handle.serve(listener)

	logger.Info(ctx, "server listening",
		"addr", handle.addr,
		"env", cfg.AppEnv,
		"user_store", cfg.UserStore,
		"session_store", cfg.SessionStore,
	)
	return handle, nil
}

func (h *ServerHandle) serve(listener net.Listener) {
	defer close(h.done)
	err := h.server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	h.cancel()
	<-h.hub.Done()
	h.verifier.Close()
	h.stores.close(h.logger)
	h.err = err
}

func pruneLimiter(ctx context.Context, server *intrnl.Server) {
	ticker := time.NewTicker(limiterPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			server.PruneLimiter()
		}
	}
}

// stores holds whatever backends the configuration selected.
type stores struct {
	users    *storage.Users
	file     *storage.FileRepository
	sessions session.Store
	sqlite   *storage.Store
	redis    *redis.Client
}

func openStores(ctx context.Context, cfg ServerConfig) (*stores, error) {
	st := &stores{}
	fail := func(err error) (*stores, error) {
		st.close(logging.Discard())
		return nil, err
	}

	if cfg.needsSQLite() {
		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return fail(fmt.Errorf("create db dir: %w", err))
			}
		}
		store, err := storage.NewStore(cfg.DBPath)
		if err != nil {
			return fail(fmt.Errorf("open store: %w", err))
		}
		st.sqlite = store
		if err := store.Migrate(ctx); err != nil {
			return fail(fmt.Errorf("migrate: %w", err))
		}
	}

	switch cfg.UserStore {
	case StoreSQLite:
		st.users = storage.NewUsers(st.sqlite)
	default:
		repo, err := storage.NewFileRepository(cfg.UsersFile)
		if err != nil {
			return fail(fmt.Errorf("open users file: %w", err))
		}
		st.file = repo
		st.users = storage.NewUsers(repo)
	}

	switch cfg.SessionStore {
	case StoreSQLite:
		st.sessions = st.sqlite
	case StoreRedis:
		client, err := session.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return fail(err)
		}
		st.redis = client
		st.sessions = session.NewRedisStore(client)
	default:
		st.sessions = session.NewMemoryStore()
	}
	return st, nil
}

func (s *stores) close(logger logging.Logger) {
	ctx := context.Background()
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			logger.Warn(ctx, "redis close error", "error", err)
		}
	}
	if s.file != nil {
		_ = s.file.Close()
	}
	if s.sqlite != nil {
		if err := s.sqlite.Close(); err != nil {
			logger.Warn(ctx, "store close error", "error", err)
		}
	}
}
