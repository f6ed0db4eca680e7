// Package telegram connects the bot to Telegram: it long-polls updates,
// runs every text message through the reply pipeline and sends answers.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"neurodeep/internal/classifier"
	"neurodeep/internal/counter"
	"neurodeep/internal/feed"
	"neurodeep/internal/journal"
	"neurodeep/internal/llm"
	"neurodeep/internal/memory"
	"neurodeep/internal/observability"
	"neurodeep/internal/party"
	"neurodeep/internal/phrases"
	"neurodeep/internal/reputation"
)

type Options struct {
	BotName           string
	SystemPrompt      string
	CompletionTimeout time.Duration
	// PersistFallbacks writes canned failure replies into chat memory.
	PersistFallbacks bool
	AddressTokens    []string
	HumorMinLength   int
}

// Deps are the components the bot drives. Judge, Journal, Feed and Metrics
// are optional.
type Deps struct {
	LLM     llm.Client
	Judge   classifier.HumorJudge
	Phrases *phrases.Book
	Memory  *memory.Store
	Counter *counter.Counter
	Ledger  *reputation.Ledger
	Party   *party.Game
	Feed    *feed.Feed
	Journal journal.Recorder
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

type Bot struct {
	api  *tgbotapi.BotAPI
	s    sender
	self tgbotapi.User

	opts       Options
	llmClient  llm.Client
	phrases    *phrases.Book
	classifier *classifier.Classifier
	memory     *memory.Store
	counter    *counter.Counter
	ledger     *reputation.Ledger
	party      *party.Game
	feed       *feed.Feed
	recorder   journal.Recorder
	metrics    *observability.Metrics
	logger     *slog.Logger

	queues *chatQueues
	wg     sync.WaitGroup
}

func New(botToken string, opts Options, deps Deps) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, err
	}
	b := newBot(botAPISender{api: api}, api.Self, opts, deps)
	b.api = api
	return b, nil
}

func newBot(s sender, self tgbotapi.User, opts Options, deps Deps) *Bot {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt(opts.BotName)
	}
	if opts.CompletionTimeout <= 0 {
		opts.CompletionTimeout = 30 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observability.NewMetrics("neurodeep")
	}
	fd := deps.Feed
	if fd == nil {
		fd = feed.New(feed.DefaultSize)
	}
	b := &Bot{
		s:         s,
		self:      self,
		opts:      opts,
		llmClient: deps.LLM,
		phrases:   deps.Phrases,
		classifier: classifier.New(deps.Phrases, classifier.Options{
			BotUsername:    self.UserName,
			AddressTokens:  opts.AddressTokens,
			HumorMinLength: opts.HumorMinLength,
			Judge:          deps.Judge,
		}),
		memory:   deps.Memory,
		counter:  deps.Counter,
		ledger:   deps.Ledger,
		party:    deps.Party,
		feed:     fd,
		recorder: deps.Journal,
		metrics:  metrics,
		logger:   logger.With("component", "telegram"),
	}
	b.queues = newChatQueues(&b.wg)
	return b
}

// Username is the bot account name reported by getMe.
func (b *Bot) Username() string { return b.self.UserName }

// Start long-polls updates until ctx is cancelled. Messages of different
// chats are handled concurrently; messages of one chat run in arrival order.
func (b *Bot) Start(ctx context.Context) {
	if _, err := b.api.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: true}); err != nil {
		b.logger.Warn("failed to drop pending updates", "error", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("bot started")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.wg.Wait()
			b.logger.Info("bot stopped")
			return
		case update, ok := <-updates:
			if !ok {
				b.wg.Wait()
				return
			}
			if update.Message == nil {
				continue
			}
			b.dispatch(ctx, update.Message)
		}
	}
}

// dispatch queues msg behind earlier messages of the same chat.
func (b *Bot) dispatch(ctx context.Context, msg *tgbotapi.Message) {
	b.queues.push(msg.Chat.ID, func() {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("panic while handling message", "chat_id", msg.Chat.ID, "panic", r)
			}
		}()
		b.handleMessage(ctx, msg)
	})
}

// SendText posts an operator-authored message into a chat.
func (b *Bot) SendText(ctx context.Context, chatID int64, text string) error {
	if text == "" {
		return fmt.Errorf("empty text")
	}
	if _, err := b.s.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	b.feed.Add(feed.Entry{ChatID: chatID, UserID: b.self.ID, Name: b.self.UserName, Text: text, Direction: feed.Outbound, Reason: "admin"})
	b.appendJournal(journal.Event{Kind: journal.KindOperator, ChatID: chatID, Text: text, Reason: "admin"})
	return nil
}

// reply answers msg as a threaded reply and records the outbound text.
func (b *Bot) reply(msg *tgbotapi.Message, text, reason string, fallback llm.Class) {
	b.send(msg.Chat.ID, msg.MessageID, text, reason, fallback)
}

// answer posts into msg's chat without threading.
func (b *Bot) answer(msg *tgbotapi.Message, text string) {
	b.send(msg.Chat.ID, 0, text, "command", llm.ClassNone)
}

func (b *Bot) send(chatID int64, replyTo int, text, reason string, fallback llm.Class) {
	out := tgbotapi.NewMessage(chatID, text)
	out.ReplyToMessageID = replyTo
	outcome := "ok"
	if fallback != llm.ClassNone {
		outcome = "fallback"
	}
	if _, err := b.s.Send(out); err != nil {
		b.logger.Warn("failed to send reply", "chat_id", chatID, "error", err)
		outcome = "send_failed"
	}
	b.metrics.Replies.WithLabelValues(reason, outcome).Inc()
	b.recordOutbound(chatID, text, reason, fallback)
}

func (b *Bot) recordOutbound(chatID int64, text, reason string, fallback llm.Class) {
	b.feed.Add(feed.Entry{ChatID: chatID, UserID: b.self.ID, Name: b.self.UserName, Text: text, Direction: feed.Outbound, Reason: reason})
	b.appendJournal(journal.Event{Kind: journal.KindReply, ChatID: chatID, Text: text, Reason: reason, Fallback: string(fallback)})
}

func (b *Bot) recordInbound(msg *tgbotapi.Message, name string) {
	b.feed.Add(feed.Entry{ChatID: msg.Chat.ID, UserID: msg.From.ID, Name: name, Text: msg.Text, Direction: feed.Inbound})
	b.appendJournal(journal.Event{Kind: journal.KindMessage, ChatID: msg.Chat.ID, UserID: msg.From.ID, UserName: name, Text: msg.Text})
}

func (b *Bot) appendJournal(ev journal.Event) {
	if b.recorder == nil {
		return
	}
	ev.Timestamp = time.Now().UTC()
	if err := b.recorder.Append(ev); err != nil {
		b.logger.Warn("failed to append journal", "error", err)
	}
}
