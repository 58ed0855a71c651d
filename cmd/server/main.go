package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"broker_gateway/internal/auth"
	"broker_gateway/internal/broker"
	"broker_gateway/internal/broker/ibkr"
	"broker_gateway/internal/broker/ibkr/oauth"
	"broker_gateway/internal/config"
	"broker_gateway/internal/database"
	"broker_gateway/internal/handlers"
	"broker_gateway/internal/keepalive"
	"broker_gateway/internal/keystore"
	"broker_gateway/internal/repository"
)

// historyRetention bounds how long handshake attempts are kept.
const historyRetention = 30 * 24 * time.Hour

// App holds the application dependencies.
type App struct {
	config      *config.Config
	db          *database.DB
	router      *chi.Mux
	client      *ibkr.Client
	manager     *oauth.Manager
	tokenRepo   *repository.TokenRepository
	historyRepo *repository.HandshakeHistoryRepository
	keepalive   *keepalive.Service
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Load key material before touching anything else
	src, err := cfg.KeySource()
	if err != nil {
		log.Fatalf("Failed to open key source: %v", err)
	}
	keys, err := keystore.LoadKeyMaterial(src)
	if err != nil {
		log.Fatalf("Failed to load key material: %v", err)
	}
	log.Printf("Key material loaded (%s backend, %d-bit DH group)", cfg.Keys.Backend, keys.DH.P.BitLen())

	// Initialize database
	db, err := database.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Database migrations completed")

	app, err := newApp(cfg, db, keys)
	if err != nil {
		log.Fatalf("Failed to initialize gateway: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go app.keepalive.Run(ctx)

	// Create server
	server := &http.Server{
		Addr:         cfg.Address(),
		Handler:      app.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Session.HandshakeTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("[Server] Gateway listening on http://%s (broker %s)", cfg.Address(), app.client.BaseURL())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("[Server] Shutting down...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("[Server] Stopped")
}

// newApp wires the broker client, token manager, persistence and router.
func newApp(cfg *config.Config, db *database.DB, keys *oauth.KeyMaterial) (*App, error) {
	client := ibkr.NewClient(cfg.IBKR.BaseURL, ibkr.WithRateLimit(cfg.IBKR.RequestsPerSecond, cfg.IBKR.RequestBurst))

	historyRepo := repository.NewHandshakeHistoryRepository(db)
	creds := cfg.Credentials()
	opts := []oauth.Option{
		oauth.WithObserver(repository.NewHandshakeRecorder(historyRepo, creds.ConsumerKey)),
	}

	var tokenRepo *repository.TokenRepository
	if cfg.Session.TokenCache {
		enc, err := broker.NewEncryptor(cfg.EncryptionSecret)
		if err != nil {
			return nil, err
		}
		tokenRepo = repository.NewTokenRepository(db, enc)
		opts = append(opts, oauth.WithStore(tokenRepo))
	}

	manager, err := oauth.NewManager(keys, creds, client, cfg.ManagerConfig(), opts...)
	if err != nil {
		return nil, err
	}
	client.SetAuthorizer(manager)

	cleanups := []keepalive.Option{
		keepalive.WithCleanup(func(_ context.Context, now time.Time) error {
			_, err := historyRepo.DeleteOlderThan(now.Add(-historyRetention))
			return err
		}),
	}
	if tokenRepo != nil {
		cleanups = append(cleanups, keepalive.WithCleanup(func(ctx context.Context, now time.Time) error {
			_, err := tokenRepo.DeleteExpired(ctx, now)
			return err
		}))
	}
	ka := keepalive.New(manager, client, keepalive.Config{Interval: cfg.Session.KeepaliveInterval}, cleanups...)

	verifier := auth.NewAPIKeyVerifier(cfg.GatewayAPIKeyHash)
	if !verifier.Enabled() {
		log.Println("[Server] GATEWAY_API_KEY_HASH is not set, session endpoints are unauthenticated")
	}
	deps := handlers.NewDependencies().
		WithSessions(manager, creds.ConsumerKey).
		WithHistory(historyRepo).
		WithBroker(client).
		WithAPIKeys(verifier)

	return &App{
		config:      cfg,
		db:          db,
		router:      handlers.NewRouter(deps),
		client:      client,
		manager:     manager,
		tokenRepo:   tokenRepo,
		historyRepo: historyRepo,
		keepalive:   ka,
	}, nil
}
