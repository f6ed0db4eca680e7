package telegram

import (
	"context"
	"strings"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"neurodeep/internal/classifier"
	"neurodeep/internal/counter"
	"neurodeep/internal/llm"
	"neurodeep/internal/party"
	"neurodeep/internal/store"
)

const anonymous = "Аноним"

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.From.IsBot || msg.Text == "" {
		return
	}
	log := b.logger.With("chat_id", msg.Chat.ID, "user_id", msg.From.ID)

	profile, err := b.ledger.Upsert(ctx, msg.From.ID, msg.From.UserName, fullName(msg.From))
	if err != nil {
		b.storageFailed("upsert user", err)
	} else if err := b.ledger.IncrementMessages(ctx, msg.From.ID); err != nil {
		b.storageFailed("increment messages", err)
	} else {
		profile.Messages++
	}
	b.metrics.MessagesObserved.WithLabelValues(string(chatKind(msg.Chat))).Inc()
	b.recordInbound(msg, senderName(msg.From))

	if b.handleCommand(ctx, msg, profile) {
		return
	}
	// Easter egg triggers win over the party game.
	if _, egg := b.phrases.EasterEgg(msg.Text); !egg && b.party != nil {
		if req, ok := b.party.Match(msg.Text); ok {
			b.playParty(ctx, msg, req, profile)
			return
		}
	}

	decision := b.classifier.Classify(ctx, b.utterance(msg))
	if decision.Judged {
		verdict := "no"
		if decision.Reason == classifier.ReasonHumorLLM {
			verdict = "yes"
		}
		b.metrics.HumorChecks.WithLabelValues(verdict).Inc()
	}

	switch {
	case decision.Reason == classifier.ReasonEasterEgg:
		// Canned replies skip the model and memory entirely.
		b.reply(msg, decision.Canned, string(decision.Reason), llm.ClassNone)
	case decision.Immediate():
		log.Info("immediate reply", "reason", decision.Reason, "detail", decision.Detail)
		b.respond(ctx, msg, decision.Reason)
	default:
		count, threshold, err := b.counter.Observe(ctx, msg.Chat.ID)
		if err != nil {
			b.storageFailed("observe counter", err)
			return
		}
		if counter.Fired(count, threshold) {
			log.Info("counter fired", "count", count, "threshold", threshold)
			b.respond(ctx, msg, classifier.ReasonCounter)
		}
	}
}

func (b *Bot) playParty(ctx context.Context, msg *tgbotapi.Message, req party.Request, sender store.UserProfile) {
	known, err := b.ledger.Known(ctx)
	if err != nil {
		b.storageFailed("list users", err)
		b.reply(msg, b.phrases.StorageFallback(), "party", llm.ClassNone)
		return
	}
	if sender.UserID == 0 {
		sender = store.UserProfile{UserID: msg.From.ID, Username: msg.From.UserName, FullName: fullName(msg.From)}
	}
	text, err := b.party.Play(req, known, sender)
	if err != nil {
		b.logger.Error("party render failed", "error", err)
		return
	}
	b.reply(msg, text, "party", llm.ClassNone)
}

func (b *Bot) storageFailed(op string, err error) {
	b.metrics.StorageErrors.WithLabelValues(op).Inc()
	b.logger.Error("storage failure", "op", op, "error", err)
}

func (b *Bot) utterance(msg *tgbotapi.Message) classifier.Utterance {
	return classifier.Utterance{
		Text:        msg.Text,
		ChatKind:    chatKind(msg.Chat),
		ReplyToBot:  msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil && msg.ReplyToMessage.From.ID == b.self.ID,
		MentionsBot: b.mentionsBot(msg),
	}
}

// mentionsBot checks message entities; the plain-text @mention fallback
// lives in the classifier.
func (b *Bot) mentionsBot(msg *tgbotapi.Message) bool {
	for _, e := range msg.Entities {
		switch e.Type {
		case "text_mention":
			if e.User != nil && e.User.ID == b.self.ID {
				return true
			}
		case "mention":
			if b.self.UserName == "" {
				continue
			}
			if strings.EqualFold(sliceUTF16(msg.Text, e.Offset, e.Length), "@"+b.self.UserName) {
				return true
			}
		}
	}
	return false
}

// sliceUTF16 cuts s by UTF-16 code unit offsets, as Telegram entities use.
func sliceUTF16(s string, offset, length int) string {
	units := utf16.Encode([]rune(s))
	if offset < 0 || length <= 0 || offset >= len(units) {
		return ""
	}
	end := offset + length
	if end > len(units) {
		end = len(units)
	}
	return string(utf16.Decode(units[offset:end]))
}

func chatKind(c *tgbotapi.Chat) classifier.ChatKind {
	if c != nil && c.IsPrivate() {
		return classifier.ChatPrivate
	}
	return classifier.ChatGroup
}

func fullName(u *tgbotapi.User) string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// senderName is how a user is labelled inside stored user turns.
func senderName(u *tgbotapi.User) string {
	if u.FirstName != "" {
		return u.FirstName
	}
	if u.UserName != "" {
		return u.UserName
	}
	return anonymous
}
