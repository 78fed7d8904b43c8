package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tidepool/api/internal/app"
	"tidepool/api/internal/assistant"
	"tidepool/api/internal/authpw"
	"tidepool/api/internal/config"
	"tidepool/api/internal/email"
	"tidepool/api/internal/search"
	"tidepool/api/internal/session"
	"tidepool/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	authService := authpw.NewService(dataStore)

	client := assistant.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
	var driver assistant.Driver
	switch cfg.CompletionMode {
	case config.ModeStreaming:
		log.Printf("Using streaming completion driver (model %s)", cfg.Model)
		driver = assistant.NewStreamingDriver(client, cfg.Model)
	default:
		log.Printf("Using polling completion driver (assistant %s)", cfg.AssistantID)
		driver = assistant.NewPollingDriver(client, cfg.AssistantID, cfg.PollInterval, cfg.PollDeadline)
	}
	if cfg.OpenAIAPIKey == "" || (cfg.CompletionMode != config.ModeStreaming && cfg.AssistantID == "") {
		log.Printf("OpenAI provider not configured; chat requests will be rejected")
		driver = assistant.Unconfigured()
	}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)

	emailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !emailService.IsConfigured() {
		log.Printf("SMTP not configured; verification tokens will be returned in API responses")
	}

	// Refresh tokens live in Redis when configured, Postgres otherwise.
	var service *app.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh token storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		service = app.NewWithSessionStore(cfg, dataStore, redisStore, driver, authService, searchService, emailService)
	} else {
		log.Printf("Using PostgreSQL for refresh token storage")
		service = app.New(cfg, dataStore, driver, authService, searchService, emailService)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Tidepool API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
