package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"neurodeep/internal/admin"
	"neurodeep/internal/analytics"
	"neurodeep/internal/classifier"
	"neurodeep/internal/config"
	"neurodeep/internal/counter"
	"neurodeep/internal/feed"
	"neurodeep/internal/journal"
	"neurodeep/internal/llm"
	"neurodeep/internal/memory"
	"neurodeep/internal/observability"
	"neurodeep/internal/party"
	"neurodeep/internal/phrases"
	"neurodeep/internal/reputation"
	"neurodeep/internal/scheduler"
	"neurodeep/internal/store"
	"neurodeep/internal/telegram"
)

// The humor judge only needs a one-word answer.
const (
	judgeMaxTokens   = 5
	judgeTemperature = 0.1
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg := config.New()
	logger := observability.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	book, err := phrases.Load(cfg.PhrasesPath)
	if err != nil {
		log.Fatalf("failed to load phrase book: %v", err)
	}

	factory := llm.NewFactory(cfg)
	llmClient, err := factory.CreateClient(string(cfg.LLMProvider), cfg.OpenAIModel)
	if err != nil {
		log.Fatalf("failed to create llm client: %v", err)
	}
	judgeClient, err := factory.Tuned(judgeMaxTokens, judgeTemperature).CreateClient(string(cfg.LLMProvider), cfg.OpenAIModel)
	if err != nil {
		log.Fatalf("failed to create humor judge client: %v", err)
	}

	trigger, err := counter.New(st, cfg.TriggerMin, cfg.TriggerMax)
	if err != nil {
		log.Fatalf("failed to init trigger counter: %v", err)
	}
	game, err := party.New(book.Party, cfg.PartyIncludeSender)
	if err != nil {
		log.Fatalf("failed to init party game: %v", err)
	}

	var rec journal.Recorder
	if cfg.LogFilePath != "" {
		fr, err := journal.NewFileRecorder(cfg.LogFilePath)
		if err != nil {
			logger.Warn("failed to init journal", "path", cfg.LogFilePath, "error", err)
		} else {
			rec = fr
		}
	}

	metrics := observability.NewMetrics("neurodeep")
	mem := memory.New(st, cfg.MemoryLimit)
	ledger := reputation.New(st)
	fd := feed.New(cfg.FeedSize)

	bot, err := telegram.New(cfg.TelegramBotToken, telegram.Options{
		BotName:           cfg.BotName,
		SystemPrompt:      readSystemPrompt(cfg.SystemPromptPath),
		CompletionTimeout: cfg.CompletionTimeout,
		PersistFallbacks:  cfg.PersistFallbacks,
		AddressTokens:     cfg.AddressTokens,
		HumorMinLength:    cfg.HumorMinLength,
	}, telegram.Deps{
		LLM:     llmClient,
		Judge:   classifier.NewLLMHumorJudge(judgeClient, cfg.HumorCheckTimeout, logger),
		Phrases: book,
		Memory:  mem,
		Counter: trigger,
		Ledger:  ledger,
		Party:   game,
		Feed:    fd,
		Journal: rec,
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		log.Fatalf("failed to create bot: %v", err)
	}
	logger.Info("bot authorized", "username", bot.Username())

	if cfg.AdminToken != "" {
		srv := admin.New(cfg.AdminToken, admin.Deps{
			Feed:    fd,
			Sender:  bot,
			Ledger:  ledger,
			Memory:  mem,
			Counter: trigger,
			Metrics: metrics,
			Logger:  logger,
		})
		go func() {
			if err := srv.ListenAndServe(ctx, cfg.AdminHTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin api stopped", "error", err)
			}
		}()
	} else {
		logger.Info("admin api disabled: ADMIN_TOKEN is empty")
	}

	sched := scheduler.New(logger)
	if rec != nil && cfg.AdminChatID != 0 {
		reporter := analytics.NewReporter(rec, bot, cfg.AdminChatID)
		if err := sched.Add("daily-report", cfg.ReportSchedule, reporter.Run); err != nil {
			log.Fatalf("failed to schedule daily report: %v", err)
		}
	}
	if err := sched.Add("memory-sweep", cfg.MemorySweepSchedule, func(ctx context.Context) error {
		n, err := mem.Sweep(ctx)
		metrics.MemoryEvictions.Add(float64(n))
		if n > 0 {
			logger.Info("memory sweep evicted turns", "count", n)
		}
		return err
	}); err != nil {
		log.Fatalf("failed to schedule memory sweep: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	bot.Start(ctx)
}

func readSystemPrompt(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("system prompt file not found or unreadable at %s: %v", path, err)
		return ""
	}
	return strings.TrimSpace(string(data))
}
