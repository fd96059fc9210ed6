package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"telegrative/internal/config"
	"telegrative/internal/logger"
	"telegrative/internal/metrics"
	"telegrative/internal/openaiutil"
	"telegrative/internal/ops"
	"telegrative/internal/session"
	"telegrative/internal/telegram"
)

func main() {
	configPath := flag.String("config", config.Path(), "path to config file")
	flag.Parse()

	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	l, err := logger.NewLogger(cfg.Logging.Env, cfg.Logging.Level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = l.Sync() }()

	if err := run(cfg, l); err != nil {
		l.Fatal("bot stopped", zap.Error(err))
	}
}

func run(cfg config.Config, l *zap.Logger) error {
	metrics.Register()

	tg, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return fmt.Errorf("bot init: %w", err)
	}
	tg.Debug = cfg.Telegram.Debug
	l.Info("Authorized", zap.String("username", tg.Self.UserName))

	opts := openaiutil.Options{
		TextModel:       cfg.OpenAI.TextModel,
		TranscribeModel: cfg.OpenAI.TranscribeModel,
		ImageModel:      cfg.OpenAI.ImageModel,
		EmbeddingModel:  openai.EmbeddingModel(cfg.OpenAI.EmbeddingModel),
		ImageSize:       cfg.OpenAI.ImageSize,
		Temperature:     cfg.OpenAI.Temperature,
		MaxTokens:       cfg.OpenAI.MaxTokens,
		Timeout:         cfg.OpenAI.RequestTimeout(),
	}
	manager := session.NewManager(func(apiKey string) openaiutil.AIClient {
		return openaiutil.NewClient(apiKey, cfg.OpenAI.BaseURL)
	}, opts, cfg.RAG.TopK)

	store := session.NewStore()
	bot := telegram.New(tg, manager, store, telegram.Options{
		OnboardingPause: cfg.Bot.OnboardingPause(),
		ImageSize:       cfg.OpenAI.ImageSize,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.ContextWithLogger(ctx, l)

	var opsSrv *ops.Server
	if cfg.Ops.Addr != "" {
		opsSrv = ops.NewServer(cfg.Ops.Addr, ops.NewRouter(store, time.Now()), l)
		opsSrv.Start()
	}

	updates := tg.GetUpdatesChan(tgbotapi.UpdateConfig{Timeout: cfg.Telegram.PollTimeoutSec})
	var wg sync.WaitGroup

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case u, ok := <-updates:
			if !ok {
				break loop
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				bot.HandleUpdate(ctx, u)
			}()
		}
	}

	l.Info("Received shutdown signal")
	tg.StopReceivingUpdates()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if opsSrv != nil {
		if err := opsSrv.Shutdown(shutdownCtx); err != nil {
			l.Error("Error during ops shutdown", zap.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		l.Warn("handlers still running at shutdown")
	}
	l.Info("Bot stopped gracefully")
	return nil
}
