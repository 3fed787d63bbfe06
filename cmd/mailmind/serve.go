package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/znz-systems/mailmind/internal/ai"
	"github.com/znz-systems/mailmind/internal/assistant"
	"github.com/znz-systems/mailmind/internal/auth"
	"github.com/znz-systems/mailmind/internal/config"
	"github.com/znz-systems/mailmind/internal/database"
	"github.com/znz-systems/mailmind/internal/graph"
	"github.com/znz-systems/mailmind/internal/mailsync"
	"github.com/znz-systems/mailmind/internal/message"
	"github.com/znz-systems/mailmind/internal/ratelimit"
	"github.com/znz-systems/mailmind/internal/secret"
	"github.com/znz-systems/mailmind/internal/store/postgres"
	"github.com/znz-systems/mailmind/internal/web"
	"github.com/znz-systems/mailmind/internal/web/handlers"
	"github.com/znz-systems/mailmind/migrations"
)

// app holds the services shared by the commands.
type app struct {
	db        *sql.DB
	users     *postgres.UserStore
	auth      *auth.Service
	sync      *mailsync.Service
	messages  *message.Service
	assistant *assistant.Service
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	box, err := secret.NewBox(cfg.TokenSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to set up token sealing: %w", err)
	}

	// Database
	db, err := postgres.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Stores
	userStore := postgres.NewUserStore(db, box)
	sessionStore := postgres.NewSessionStore(db)
	messageStore := postgres.NewMessageStore(db)
	analysisStore := postgres.NewAnalysisStore(db)
	chatStore := postgres.NewChatStore(db)

	// Providers
	graphService := graph.NewService(cfg.GraphBaseURL)
	engine := ai.NewEngine(ai.NewOpenAIBackend(ai.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
		BaseURL: cfg.OpenAIBaseURL,
	}))
	microsoft := auth.NewMicrosoftProvider(auth.MicrosoftConfig{
		ClientID:     cfg.AzureClientID,
		ClientSecret: cfg.AzureClientSecret,
		TenantID:     cfg.AzureTenantID,
		RedirectURL:  cfg.AzureRedirectURI,
		Scopes:       cfg.GraphScopes,
	}, graphService)

	// Services
	openMailbox := func(token string) mailsync.Mailbox { return graphService.Open(token) }
	openProvider := func(token string) message.Provider { return graphService.Open(token) }

	syncService := mailsync.NewService(userStore, messageStore, analysisStore, openMailbox, engine, mailsync.Options{
		PageSize:          cfg.SyncPageSize,
		MaxPages:          cfg.SyncMaxPages,
		EnrichConcurrency: cfg.SyncEnrichConcurrency,
		SentPageSize:      cfg.SyncSentPageSize,
	})

	return &app{
		db:        db,
		users:     userStore,
		auth:      auth.NewService(userStore, sessionStore, microsoft, cfg.SessionMaxAge),
		sync:      syncService,
		messages:  message.NewService(userStore, messageStore, analysisStore, openProvider, engine),
		assistant: assistant.NewService(messageStore, chatStore, engine),
	}, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.db.Close()

	// Migrations
	if err := database.RunMigrations(migrations.FS, cfg.DatabaseURL); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Rate limiter
	limiter := ratelimit.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go limiter.Run(ctx)

	// Background sync
	if cfg.SyncIntervalMinutes > 0 {
		worker := mailsync.NewWorker(a.users, a.sync, mailsync.WorkerOptions{
			Interval: time.Duration(cfg.SyncIntervalMinutes) * time.Minute,
		})
		go worker.Run(ctx)
	}

	// Router
	router := web.NewRouter(web.RouterDeps{
		AuthHandler:    handlers.NewAuthHandler(a.auth, cfg.SecureCookies),
		SyncHandler:    handlers.NewSyncHandler(a.sync),
		MessageHandler: handlers.NewMessageHandler(a.messages),
		ChatHandler:    handlers.NewChatHandler(a.assistant),
		HealthHandler:  handlers.NewHealthHandler(a.db),
		Sessions:       a.auth,
		Limiter:        limiter,
	})

	// Session cleanup goroutine
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := a.auth.CleanupExpiredSessions(ctx); err != nil {
					slog.Error("failed to clean up expired sessions", "error", err)
				}
			}
		}
	}()

	// Server
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("mailmind starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	slog.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
