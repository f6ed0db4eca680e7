package telegram

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"neurodeep/internal/counter"
	"neurodeep/internal/feed"
	"neurodeep/internal/journal"
	"neurodeep/internal/llm"
	"neurodeep/internal/memory"
	"neurodeep/internal/party"
	"neurodeep/internal/phrases"
	"neurodeep/internal/reputation"
	"neurodeep/internal/store"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.Text)
	}
	return out
}

type fakeLLM struct {
	mu    sync.Mutex
	resp  llm.Response
	err   error
	calls int
	last  []llm.Message
}

func (f *fakeLLM) Generate(ctx context.Context, msgs []llm.Message) (llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = msgs
	return f.resp, f.err
}

type memRecorder struct {
	mu     sync.Mutex
	events []journal.Event
}

func (r *memRecorder) Append(e journal.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *memRecorder) Load() ([]journal.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]journal.Event(nil), r.events...), nil
}

type fakeJudge struct{ verdict bool }

func (f fakeJudge) IsHumor(context.Context, string) bool { return f.verdict }

type harness struct {
	bot    *Bot
	sender *fakeSender
	llm    *fakeLLM
	store  store.Store
	book   *phrases.Book
}

const botID = 999

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	book, err := phrases.Default()
	if err != nil {
		t.Fatalf("phrases: %v", err)
	}
	ctr, err := counter.NewWithSource(st, counter.DefaultMin, counter.DefaultMax, rand.NewPCG(1, 1))
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	game, err := party.NewWithSource(book.Party, true, rand.NewPCG(2, 2))
	if err != nil {
		t.Fatalf("party: %v", err)
	}
	fs := &fakeSender{}
	fl := &fakeLLM{resp: llm.Response{Content: "ответ", Model: "m"}}
	b := newBot(fs, tgbotapi.User{ID: botID, UserName: "neurodeep_bot", IsBot: true}, opts, Deps{
		LLM:     fl,
		Judge:   fakeJudge{},
		Phrases: book,
		Memory:  memory.New(st, memory.DefaultLimit),
		Counter: ctr,
		Ledger:  reputation.New(st),
		Party:   game,
		Feed:    feed.New(50),
	})
	return &harness{bot: b, sender: fs, llm: fl, store: st, book: book}
}

func groupMsg(id int, userID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: id,
		From:      &tgbotapi.User{ID: userID, FirstName: fmt.Sprintf("User%d", userID), UserName: fmt.Sprintf("u%d", userID)},
		Chat:      &tgbotapi.Chat{ID: -100, Type: "supergroup"},
		Text:      text,
	}
}

func (h *harness) history(t *testing.T, chatID int64) []store.Turn {
	t.Helper()
	turns, err := h.store.ListTurns(context.Background(), chatID)
	if err != nil {
		t.Fatalf("list turns: %v", err)
	}
	return turns
}

func TestUsernameComesFromGetMe(t *testing.T) {
	h := newHarness(t, Options{})
	if got := h.bot.Username(); got != "neurodeep_bot" {
		t.Fatalf("Username = %q", got)
	}
}

func TestEasterEggSkipsModelAndMemory(t *testing.T) {
	h := newHarness(t, Options{})
	h.bot.handleMessage(context.Background(), groupMsg(1, 1, "Слушайте, бот жив сегодня?"))

	if got := h.sender.texts(); len(got) != 1 || got[0] != "Жив, дерзок и опасен 💀🔥" {
		t.Fatalf("unexpected replies: %v", got)
	}
	if h.sender.sent[0].ReplyToMessageID != 1 {
		t.Fatalf("easter egg must reply to the message")
	}
	if h.llm.calls != 0 {
		t.Fatalf("model called for easter egg")
	}
	if turns := h.history(t, -100); len(turns) != 0 {
		t.Fatalf("easter egg written to memory: %+v", turns)
	}
}

func TestHumorMarkerReplyStoresBothTurnsAndResetsCounter(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		h.bot.handleMessage(ctx, groupMsg(i+1, 1, "обычный текст"))
	}
	h.bot.handleMessage(ctx, groupMsg(10, 2, "ахаха ну ты"))

	if got := h.sender.texts(); len(got) != 1 || got[0] != "ответ" {
		t.Fatalf("unexpected replies: %v", got)
	}
	turns := h.history(t, -100)
	if len(turns) != 2 {
		t.Fatalf("want user+assistant turn, got %+v", turns)
	}
	if turns[0].Role != llm.RoleUser || turns[0].Content != "[User2]: ахаха ну ты" {
		t.Fatalf("user turn: %+v", turns[0])
	}
	if turns[1].Role != llm.RoleAssistant || turns[1].Content != "ответ" {
		t.Fatalf("assistant turn: %+v", turns[1])
	}
	if h.llm.last[0].Role != llm.RoleSystem || !strings.Contains(h.llm.last[0].Content, "NeuroDeep") {
		t.Fatalf("system prompt missing: %+v", h.llm.last)
	}

	c, ok, _ := h.store.GetCounter(ctx, -100)
	if !ok || c.MessageCount != 0 {
		t.Fatalf("counter not reset after reply: %+v", c)
	}
}

func TestCounterFiresAtThreshold(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	for i := 1; i <= counter.DefaultMax; i++ {
		h.bot.handleMessage(ctx, groupMsg(i, 1, fmt.Sprintf("сообщение %d", i)))
		if len(h.sender.texts()) > 0 {
			if i < counter.DefaultMin {
				t.Fatalf("fired too early at message %d", i)
			}
			c, _, _ := h.store.GetCounter(ctx, -100)
			if c.MessageCount != 0 {
				t.Fatalf("counter not reset: %+v", c)
			}
			return
		}
	}
	t.Fatalf("counter never fired within %d messages", counter.DefaultMax)
}

func TestTimeoutFallbackIsNotPersisted(t *testing.T) {
	h := newHarness(t, Options{CompletionTimeout: time.Second})
	h.llm.err = errors.Join(llm.ErrTimeout, context.DeadlineExceeded)

	h.bot.handleMessage(context.Background(), groupMsg(1, 1, "лол"))

	want := h.book.Fallbacks.Timeout[0]
	if got := h.sender.texts(); len(got) != 1 || got[0] != want {
		t.Fatalf("want timeout fallback %q, got %v", want, got)
	}
	for _, turn := range h.history(t, -100) {
		if turn.Role == llm.RoleAssistant {
			t.Fatalf("fallback persisted as assistant turn: %+v", turn)
		}
	}
	c, ok, _ := h.store.GetCounter(context.Background(), -100)
	if !ok || c.MessageCount != 0 {
		t.Fatalf("counter must reset even after a fallback: %+v %v", c, ok)
	}
}

func TestFallbackPersistedWhenConfigured(t *testing.T) {
	h := newHarness(t, Options{PersistFallbacks: true})
	h.llm.err = errors.Join(llm.ErrRateLimited, errors.New("429"))

	h.bot.handleMessage(context.Background(), groupMsg(1, 1, "лол"))

	turns := h.history(t, -100)
	if len(turns) != 2 || turns[1].Content != h.book.Fallbacks.RateLimited[0] {
		t.Fatalf("fallback should be stored: %+v", turns)
	}
}

func TestFallbackPerErrorClass(t *testing.T) {
	cases := []struct {
		err  error
		want func(*phrases.Book) string
	}{
		{llm.ErrUnauthorized, func(b *phrases.Book) string { return b.Fallbacks.Unauthorized[0] }},
		{llm.ErrServerFault, func(b *phrases.Book) string { return b.Fallbacks.ServerFault[0] }},
		{errors.New("weird"), func(b *phrases.Book) string { return b.Fallbacks.Unknown[0] }},
	}
	for _, tc := range cases {
		h := newHarness(t, Options{})
		h.llm.err = tc.err
		h.bot.handleMessage(context.Background(), groupMsg(1, 1, "кек"))
		if got := h.sender.texts(); len(got) != 1 || got[0] != tc.want(h.book) {
			t.Errorf("%v: got %v", tc.err, got)
		}
	}
}

func TestDirectAddress(t *testing.T) {
	cases := []struct {
		name string
		msg  func() *tgbotapi.Message
	}{
		{"private", func() *tgbotapi.Message {
			m := groupMsg(1, 1, "привет")
			m.Chat = &tgbotapi.Chat{ID: 1, Type: "private"}
			return m
		}},
		{"reply to bot", func() *tgbotapi.Message {
			m := groupMsg(1, 1, "и что?")
			m.ReplyToMessage = &tgbotapi.Message{From: &tgbotapi.User{ID: botID}}
			return m
		}},
		{"mention entity", func() *tgbotapi.Message {
			m := groupMsg(1, 1, "эй @neurodeep_bot как дела")
			m.Entities = []tgbotapi.MessageEntity{{Type: "mention", Offset: 3, Length: 14}}
			return m
		}},
		{"name prefix", func() *tgbotapi.Message { return groupMsg(1, 1, "Нейродип, как дела") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			msg := tc.msg()
			h.bot.handleMessage(context.Background(), msg)
			if h.llm.calls != 1 || len(h.sender.texts()) != 1 {
				t.Fatalf("direct address must trigger a reply: calls=%d sent=%v", h.llm.calls, h.sender.texts())
			}
			c, ok, _ := h.store.GetCounter(context.Background(), msg.Chat.ID)
			if !ok || c.MessageCount != 0 {
				t.Fatalf("counter should be reset: %+v %v", c, ok)
			}
		})
	}
}

func TestBotsAreIgnored(t *testing.T) {
	h := newHarness(t, Options{})
	m := groupMsg(1, 1, "лол")
	m.From.IsBot = true
	h.bot.handleMessage(context.Background(), m)
	if len(h.sender.texts()) != 0 || h.llm.calls != 0 {
		t.Fatalf("bot message handled")
	}
}

func TestLedgerUpdatedForEveryMessage(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.bot.handleMessage(ctx, groupMsg(1, 5, "раз"))
	h.bot.handleMessage(ctx, groupMsg(2, 5, "два"))
	u, err := h.store.GetUser(ctx, 5)
	if err != nil || u.Messages != 2 || u.Username != "u5" {
		t.Fatalf("ledger: %+v %v", u, err)
	}
}

func TestMemoryBoundThroughPipeline(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	for i := 0; i < 30; i++ {
		h.bot.handleMessage(ctx, groupMsg(i, 1, fmt.Sprintf("лол %d", i)))
	}
	var user, assistant int
	for _, turn := range h.history(t, -100) {
		if turn.Role == llm.RoleUser {
			user++
		} else {
			assistant++
		}
	}
	if user != memory.DefaultLimit || assistant != memory.DefaultLimit {
		t.Fatalf("bound violated: user=%d assistant=%d", user, assistant)
	}
	// history sent to the model never exceeds the bound plus the system prompt
	if len(h.llm.last) > 2*memory.DefaultLimit+1 {
		t.Fatalf("prompt too long: %d", len(h.llm.last))
	}
}

func TestSendTextRecordsFeed(t *testing.T) {
	h := newHarness(t, Options{})
	rec := &memRecorder{}
	h.bot.recorder = rec
	if err := h.bot.SendText(context.Background(), -100, "объявление"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := h.sender.texts(); len(got) != 1 || got[0] != "объявление" {
		t.Fatalf("sent: %v", got)
	}
	recent := h.bot.feed.Recent(1)
	if len(recent) != 1 || recent[0].Direction != feed.Outbound || recent[0].Reason != "admin" {
		t.Fatalf("feed: %+v", recent)
	}
	if len(rec.events) != 1 || rec.events[0].Kind != journal.KindOperator {
		t.Fatalf("operator send must be journaled as an operator post: %+v", rec.events)
	}
	if err := h.bot.SendText(context.Background(), -100, ""); err == nil {
		t.Fatalf("empty text must be rejected")
	}
}

func TestDispatchSerializesPerChat(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	for i := 0; i < 40; i++ {
		h.bot.dispatch(ctx, groupMsg(i, int64(i%4+1), "хаха"))
	}
	h.bot.wg.Wait()

	if got := len(h.sender.texts()); got != 40 {
		t.Fatalf("want 40 replies, got %d", got)
	}
	turns := h.history(t, -100)
	if len(turns) != 2*memory.DefaultLimit {
		t.Fatalf("want full memory, got %d turns", len(turns))
	}
	if h.bot.queues.size() != 0 {
		t.Fatalf("chat queues leaked: %d", h.bot.queues.size())
	}
}

func TestDispatchKeepsArrivalOrderInMemory(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	for i := 1; i <= 15; i++ {
		h.bot.dispatch(ctx, groupMsg(i, 1, fmt.Sprintf("хаха m%02d", i)))
	}
	h.bot.wg.Wait()

	var got []string
	for _, turn := range h.history(t, -100) {
		if turn.Role == llm.RoleUser {
			got = append(got, strings.TrimPrefix(turn.Content, "[User1]: хаха "))
		}
	}
	if len(got) != 15 {
		t.Fatalf("want 15 user turns, got %d: %v", len(got), got)
	}
	for i, c := range got {
		if want := fmt.Sprintf("m%02d", i+1); c != want {
			t.Fatalf("user turns stored out of arrival order: %v", got)
		}
	}
}

func TestSliceUTF16(t *testing.T) {
	text := "😀 @bot hi"
	// the emoji is two UTF-16 units
	if got := sliceUTF16(text, 3, 4); got != "@bot" {
		t.Fatalf("got %q", got)
	}
	if got := sliceUTF16(text, 100, 4); got != "" {
		t.Fatalf("out of range: %q", got)
	}
}
