package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"neurodeep/internal/store"
)

const topSize = 10

var medals = []string{"🥇", "🥈", "🥉"}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// handleCommand reports whether msg was a command and has been answered.
func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, profile store.UserProfile) bool {
	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			b.cmdStart(msg)
			return true
		case "help":
			b.cmdHelp(msg)
			return true
		}
		return false
	}

	lower := strings.ToLower(strings.TrimSpace(msg.Text))
	switch {
	case hasAnyPrefix(lower, "!профиль", "!profile"):
		b.cmdProfile(ctx, msg, profile)
	case hasAnyPrefix(lower, "!реп+", "!rep+"):
		b.cmdReputation(ctx, msg, +1)
	case hasAnyPrefix(lower, "!реп-", "!rep-"):
		b.cmdReputation(ctx, msg, -1)
	case hasAnyPrefix(lower, "!топ", "!top"):
		b.cmdTop(ctx, msg)
	case hasAnyPrefix(lower, "!забудь", "!forget"):
		b.cmdForget(ctx, msg)
	default:
		return false
	}
	return true
}

func (b *Bot) cmdStart(msg *tgbotapi.Message) {
	limit := b.memory.Limit()
	b.answer(msg, fmt.Sprintf("Йо, %s! 👋\n\n"+
		"Я — %s, живой интеллект этого чата.\n"+
		"Дерзкий, умный и всегда на связи 🧠🔥\n\n"+
		"Я помню последние %d сообщений — так что контекст не теряю 🧩\n\n"+
		"Команды:\n"+
		"• !профиль — твоя карточка\n"+
		"• !реп+ — поднять репу (ответом на сообщение)\n"+
		"• !реп- — опустить репу (ответом на сообщение)\n"+
		"• !топ — топ по репутации\n"+
		"• !забудь — очистить мою память\n\n"+
		"А ещё я сам вклиниваюсь в чат, когда есть что сказать 😏",
		senderName(msg.From), b.botName(), limit))
}

func (b *Bot) cmdHelp(msg *tgbotapi.Message) {
	limit := b.memory.Limit()
	lo, hi := b.counter.Range()
	b.answer(msg, fmt.Sprintf("🧠 %s — Справка\n\n"+
		"Я читаю все сообщения и помню контекст (%d вопросов + %d ответов).\n"+
		"Если ты шутишь — отвечу мгновенно.\n"+
		"Если скучный диалог — появлюсь через %d-%d сообщений.\n\n"+
		"📋 Команды:\n"+
		"• !профиль — статистика\n"+
		"• !реп+ — +1 к репутации\n"+
		"• !реп- — -1 к репутации\n"+
		"• !топ — лидерборд\n"+
		"• !забудь — очистить память чата\n",
		b.botName(), limit, limit, lo, hi))
}

func (b *Bot) botName() string {
	if b.opts.BotName != "" {
		return b.opts.BotName
	}
	return "NeuroDeep"
}

func (b *Bot) cmdProfile(ctx context.Context, msg *tgbotapi.Message, profile store.UserProfile) {
	if profile.UserID == 0 {
		p, err := b.ledger.Get(ctx, msg.From.ID)
		if err != nil {
			b.storageFailed("get user", err)
			b.answer(msg, b.phrases.StorageFallback())
			return
		}
		profile = p
	}
	memUser, memBot, err := b.memory.Stats(ctx, msg.Chat.ID)
	if err != nil {
		b.storageFailed("memory stats", err)
	}

	repEmoji := "😐"
	switch {
	case profile.Reputation > 0:
		repEmoji = "🔥"
	case profile.Reputation < 0:
		repEmoji = "💀"
	}
	limit := b.memory.Limit()
	b.answer(msg, fmt.Sprintf("📇 Профиль: %s\n\n"+
		"├ 🆔 ID: %d\n"+
		"├ 💬 Сообщений: %d\n"+
		"├ %s Репутация: %+d\n"+
		"├ 🧩 Память: %d/%d вопросов, %d/%d ответов\n"+
		"├ 📅 Первый визит: %s\n"+
		"└ 🕐 Последний: %s",
		profile.DisplayName(), profile.UserID, profile.Messages, repEmoji, profile.Reputation,
		memUser, limit, memBot, limit,
		profile.FirstSeen.Format("2006-01-02"), profile.LastSeen.Format("2006-01-02")))
}

func (b *Bot) cmdReputation(ctx context.Context, msg *tgbotapi.Message, delta int64) {
	if msg.ReplyToMessage == nil || msg.ReplyToMessage.From == nil {
		if delta > 0 {
			b.answer(msg, "↩️ Ответь на сообщение того, кому хочешь поднять репу!")
		} else {
			b.answer(msg, "↩️ Ответь на сообщение того, кому хочешь понизить репу!")
		}
		return
	}
	target := msg.ReplyToMessage.From
	if target.ID == msg.From.ID {
		if delta > 0 {
			b.answer(msg, "Сам себе репу крутить? Не, так не работает 😏")
		} else {
			b.answer(msg, "Самокритика — это хорошо, но не тут 😂")
		}
		return
	}

	if _, err := b.ledger.Upsert(ctx, target.ID, target.UserName, fullName(target)); err != nil {
		b.storageFailed("upsert user", err)
		b.answer(msg, b.phrases.StorageFallback())
		return
	}
	if _, err := b.ledger.Adjust(ctx, target.ID, delta); err != nil {
		b.storageFailed("adjust reputation", err)
		b.answer(msg, b.phrases.StorageFallback())
		return
	}
	name := fullName(target)
	if delta > 0 {
		b.answer(msg, fmt.Sprintf("⬆️ %s получает +1 к репутации! 🔥", name))
	} else {
		b.answer(msg, fmt.Sprintf("⬇️ %s теряет 1 очко репутации 💀", name))
	}
}

func (b *Bot) cmdTop(ctx context.Context, msg *tgbotapi.Message) {
	top, err := b.ledger.Top(ctx, topSize)
	if err != nil {
		b.storageFailed("top users", err)
		b.answer(msg, b.phrases.StorageFallback())
		return
	}
	if len(top) == 0 {
		b.answer(msg, "Тут пока пусто. Начните общаться! 🗿")
		return
	}
	var sb strings.Builder
	sb.WriteString("🏆 Топ репутации чата:\n")
	for i, u := range top {
		medal := "▫️"
		if i < len(medals) {
			medal = medals[i]
		}
		fmt.Fprintf(&sb, "\n%s %s — реп: %+d | 💬 %d", medal, u.DisplayName(), u.Reputation, u.Messages)
	}
	b.answer(msg, sb.String())
}

func (b *Bot) cmdForget(ctx context.Context, msg *tgbotapi.Message) {
	if err := b.memory.Clear(ctx, msg.Chat.ID); err != nil {
		b.storageFailed("clear memory", err)
		b.answer(msg, b.phrases.StorageFallback())
		return
	}
	b.answer(msg, "🧹 Память очищена! Начинаем с чистого листа 🧠")
}
