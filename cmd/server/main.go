package main

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/strengthclub/concierge/internal/api"
	"github.com/strengthclub/concierge/internal/chat"
	"github.com/strengthclub/concierge/internal/config"
	"github.com/strengthclub/concierge/internal/escalation"
	"github.com/strengthclub/concierge/internal/llm"
	"github.com/strengthclub/concierge/internal/mail"
	"github.com/strengthclub/concierge/internal/session"
	"github.com/strengthclub/concierge/internal/storage"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	store, err := storage.New(cfg.DataDir, logger)
	if err != nil {
		logger.Fatal("failed to initialize storage",
			zap.Error(err),
			zap.String("dataDir", cfg.DataDir))
	}

	// Without a provider key the server still runs: health reports degraded
	// and turns fail with a non-retryable provider error.
	var completer chat.Completer = llm.Disabled{}
	providerConfigured := cfg.OpenAIAPIKey != ""
	if providerConfigured {
		gateway, err := llm.New(cfg, logger)
		if err != nil {
			logger.Fatal("failed to initialize completion gateway", zap.Error(err))
		}
		completer = gateway
	} else {
		logger.Warn("no provider API key configured, assistant replies disabled")
	}

	notifier := mail.NewNotifier(mail.NewSMTPSender(cfg.Mail), cfg, logger)
	engine := escalation.NewEngine(store, notifier, logger)
	chatSvc := chat.NewService(store, completer, engine, cfg.SystemPrompt, cfg.MaxMessageLength, logger)

	sessions := session.NewManager(cfg.SessionTTL, logger)
	sessions.StartSweeper(context.Background(), cfg.SessionSweepInterval)

	if cfg.ConversationRetention > 0 {
		go func() {
			ticker := time.NewTicker(24 * time.Hour)
			defer ticker.Stop()
			for range ticker.C {
				deleted, failed := store.CleanupOld(cfg.ConversationRetention)
				if deleted > 0 || failed > 0 {
					logger.Info("old conversations cleaned up",
						zap.Int("deleted", deleted), zap.Int("failed", failed))
				}
			}
		}()
	}

	handler := api.NewHandler(chatSvc, store, engine, sessions, cfg.BrandName, providerConfigured, logger)
	mux := http.NewServeMux()
	handler.Register(mux)

	logger.Info("starting server", zap.String("addr", cfg.Addr))
	if err := http.ListenAndServe(cfg.Addr, mux); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}
}
