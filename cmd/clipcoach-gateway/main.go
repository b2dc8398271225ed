package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sjawhar/clipcoach/internal/config"
	"github.com/sjawhar/clipcoach/internal/gateway"
	"github.com/sjawhar/clipcoach/internal/llm"
	"github.com/sjawhar/clipcoach/internal/sentiment"
	"github.com/sjawhar/clipcoach/internal/suggest"
	"github.com/sjawhar/clipcoach/internal/transcribe"
)

func main() {
	cfg, warnings, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logger, logCloser := cfg.NewLogger()
	defer func() { _ = logCloser.Close() }()
	slog.SetDefault(logger)

	for _, w := range append(warnings, cfg.GatewayWarnings()...) {
		slog.Warn("config", "warning", w)
	}

	keys := llm.Keys{OpenAI: cfg.OpenAIAPIKey, Anthropic: cfg.AnthropicAPIKey, Gemini: cfg.GeminiAPIKey}

	sentimentClient, err := llm.FromModel(cfg.Gateway.SentimentModel, keys, llm.WithMaxTokens(8), llm.WithTemperature(0))
	if err != nil {
		log.Fatalf("sentiment model init failed: %v", err)
	}
	suggestionClient, err := llm.FromModel(cfg.Gateway.SuggestionModel, keys, llm.WithMaxTokens(512))
	if err != nil {
		log.Fatalf("suggestion model init failed: %v", err)
	}

	transcriber := transcribe.NewDeepgram(cfg.DeepgramAPIKey, transcribe.Options{
		Model:    cfg.Gateway.DeepgramModel,
		Language: cfg.Gateway.Language,
	})

	gw := gateway.New(
		transcriber,
		sentiment.NewClassifier(sentimentClient),
		suggest.NewGenerator(suggestionClient),
		cfg.MaxUploadBytes(),
	)

	httpServer := gateway.NewHTTPServer(cfg.Gateway.ListenAddr, gw)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()
	slog.Info("clipcoach-gateway: listening", "addr", cfg.Gateway.ListenAddr,
		"sentiment_model", cfg.Gateway.SentimentModel, "suggestion_model", cfg.Gateway.SuggestionModel)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	slog.Info("clipcoach-gateway: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown failed", "error", err)
	}
}
