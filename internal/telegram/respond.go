package telegram

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"neurodeep/internal/classifier"
	"neurodeep/internal/llm"
)

// DefaultSystemPrompt is the persona used when no prompt file is configured.
func DefaultSystemPrompt(name string) string {
	if name == "" {
		name = "NeuroDeep"
	}
	return fmt.Sprintf(`Ты — %[1]s, дерзкий и харизматичный бот в Telegram-чате.

ПРАВИЛА:
1. Отвечай ТОЛЬКО на русском языке.
2. Ты — свой парень в чате: саркастичный, остроумный, не зануда.
3. Используй эмодзи и современный сленг (без перебора).
4. Если видишь шутку или подкол — ответь ещё более остроумно.
5. Будь краток: 1-3 предложения, если не просят подробнее.
6. Никогда не говори что ты ИИ, модель или ассистент. Ты — %[1]s, живой интеллект чата.
7. Если оскорбляют — отвечай с сарказмом, но без агрессии.
8. Не повторяй одни и те же шутки.
9. Помни контекст разговора — тебе передаётся история чата.
`, name)
}

func userTurn(name, text string) string {
	return fmt.Sprintf("[%s]: %s", name, text)
}

// respond runs one model-backed reply: store the user turn, ask the model
// with the chat history and store the answer. The trigger counter is reset
// afterwards whatever the outcome.
func (b *Bot) respond(ctx context.Context, msg *tgbotapi.Message, reason classifier.Reason) {
	chatID := msg.Chat.ID
	defer func() {
		if err := b.counter.Reset(ctx, chatID); err != nil {
			b.storageFailed("reset counter", err)
		}
	}()

	text, class, ok := b.complete(ctx, chatID, userTurn(senderName(msg.From), msg.Text))
	if !ok {
		b.reply(msg, b.phrases.StorageFallback(), string(reason), llm.ClassNone)
		return
	}
	b.reply(msg, text, string(reason), class)
}

// complete returns the reply text and the error class when it is a
// fallback. ok is false when memory could not be read or written.
func (b *Bot) complete(ctx context.Context, chatID int64, turn string) (string, llm.Class, bool) {
	evicted, err := b.memory.Append(ctx, chatID, llm.RoleUser, turn)
	if err != nil {
		b.storageFailed("append user turn", err)
		return "", llm.ClassNone, false
	}
	b.metrics.MemoryEvictions.Add(float64(evicted))

	history, err := b.memory.History(ctx, chatID)
	if err != nil {
		b.storageFailed("read history", err)
		return "", llm.ClassNone, false
	}
	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: b.opts.SystemPrompt})
	msgs = append(msgs, history...)

	cctx, cancel := context.WithTimeout(ctx, b.opts.CompletionTimeout)
	defer cancel()
	started := time.Now()
	resp, err := b.llmClient.Generate(cctx, msgs)
	b.metrics.ObserveCompletionLatency(time.Since(started))
	if err == nil && resp.Content == "" {
		err = fmt.Errorf("empty completion: %w", llm.ErrUnknown)
	}
	if err != nil {
		class := llm.ClassOf(err)
		if cctx.Err() == context.DeadlineExceeded {
			class = llm.ClassTimeout
		}
		b.metrics.CompletionErrors.WithLabelValues(string(class)).Inc()
		b.logger.Warn("completion failed", "chat_id", chatID, "class", class, "error", err)
		fallback := b.phrases.Fallback(class)
		if b.opts.PersistFallbacks {
			b.appendAssistant(ctx, chatID, fallback)
		}
		return fallback, class, true
	}

	b.logger.Debug("completion", "chat_id", chatID, "model", resp.Model,
		"prompt_tokens", resp.PromptTokens, "completion_tokens", resp.CompletionTokens, "total_tokens", resp.TotalTokens)
	b.appendAssistant(ctx, chatID, resp.Content)
	return resp.Content, llm.ClassNone, true
}

func (b *Bot) appendAssistant(ctx context.Context, chatID int64, text string) {
	evicted, err := b.memory.Append(ctx, chatID, llm.RoleAssistant, text)
	if err != nil {
		b.storageFailed("append assistant turn", err)
		return
	}
	b.metrics.MemoryEvictions.Add(float64(evicted))
}
