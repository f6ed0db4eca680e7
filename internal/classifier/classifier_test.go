package classifier

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"neurodeep/internal/llm"
	"neurodeep/internal/phrases"
)

type fakeJudge struct {
	verdict bool
	calls   int
}

func (f *fakeJudge) IsHumor(context.Context, string) bool {
	f.calls++
	return f.verdict
}

func newClassifier(t *testing.T, judge HumorJudge) *Classifier {
	t.Helper()
	book, err := phrases.Parse([]byte(`
easter_eggs:
  - {trigger: "bot alive", response: "Alive and dangerous"}
humor_markers: ["lol", "😂"]
address_tokens: ["neurodeep"]
fallbacks: {timeout: [t], unauthorized: [u], rate_limited: [r], server_fault: [s], unknown: [x], storage: [d]}
`))
	if err != nil {
		t.Fatalf("parse book: %v", err)
	}
	return New(book, Options{BotUsername: "NeuroDeepBot", HumorMinLength: 30, Judge: judge})
}

func TestPrecedence(t *testing.T) {
	long := strings.Repeat("a", 31)
	cases := []struct {
		name    string
		u       Utterance
		verdict bool
		want    Reason
		detail  string
	}{
		{"private chat", Utterance{Text: "bot alive lol", ChatKind: ChatPrivate}, false, ReasonDirect, "private"},
		{"reply to bot beats easter egg", Utterance{Text: "bot alive", ChatKind: ChatGroup, ReplyToBot: true}, false, ReasonDirect, "reply"},
		{"mention entity", Utterance{Text: "hey", ChatKind: ChatGroup, MentionsBot: true}, false, ReasonDirect, "mention"},
		{"mention in text", Utterance{Text: "hey @neurodeepbot", ChatKind: ChatGroup}, false, ReasonDirect, "at_mention"},
		{"name prefix", Utterance{Text: "NeuroDeep, how are you", ChatKind: ChatGroup}, false, ReasonDirect, "name"},
		{"easter egg beats marker", Utterance{Text: "is the bot alive lol", ChatKind: ChatGroup}, true, ReasonEasterEgg, ""},
		{"marker", Utterance{Text: "LOL", ChatKind: ChatGroup}, true, ReasonHumorMarker, ""},
		{"judge says yes", Utterance{Text: long, ChatKind: ChatGroup}, true, ReasonHumorLLM, ""},
		{"judge says no", Utterance{Text: long, ChatKind: ChatGroup}, false, ReasonDeferred, ""},
		{"short text deferred", Utterance{Text: "ok", ChatKind: ChatGroup}, true, ReasonDeferred, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newClassifier(t, &fakeJudge{verdict: tc.verdict})
			d := c.Classify(context.Background(), tc.u)
			if d.Reason != tc.want || d.Detail != tc.detail {
				t.Fatalf("got %+v, want reason %s detail %q", d, tc.want, tc.detail)
			}
		})
	}
}

func TestEasterEggCarriesCannedReply(t *testing.T) {
	c := newClassifier(t, nil)
	d := c.Classify(context.Background(), Utterance{Text: "is the bot alive today?", ChatKind: ChatGroup})
	if d.Reason != ReasonEasterEgg || d.Canned != "Alive and dangerous" {
		t.Fatalf("got %+v", d)
	}
}

func TestJudgeSkippedWhenMarkerMatchesOrTextShort(t *testing.T) {
	judge := &fakeJudge{verdict: true}
	c := newClassifier(t, judge)
	c.Classify(context.Background(), Utterance{Text: strings.Repeat("x", 40) + " lol", ChatKind: ChatGroup})
	c.Classify(context.Background(), Utterance{Text: strings.Repeat("я", 30), ChatKind: ChatGroup})
	if judge.calls != 0 {
		t.Fatalf("judge called %d times", judge.calls)
	}
	d := c.Classify(context.Background(), Utterance{Text: strings.Repeat("я", 31), ChatKind: ChatGroup})
	if judge.calls != 1 || !d.Judged {
		t.Fatalf("judge should run once for 31 runes, calls=%d decision=%+v", judge.calls, d)
	}
}

func TestAddressTokensOverride(t *testing.T) {
	book, _ := phrases.Default()
	c := New(book, Options{AddressTokens: []string{" Robo "}})
	if d := c.Classify(context.Background(), Utterance{Text: "robo, привет", ChatKind: ChatGroup}); d.Reason != ReasonDirect {
		t.Fatalf("override token not used: %+v", d)
	}
	if d := c.Classify(context.Background(), Utterance{Text: "нейродип, привет", ChatKind: ChatGroup}); d.Reason == ReasonDirect {
		t.Fatalf("book tokens must be replaced by override: %+v", d)
	}
}

type fakeLLM struct {
	reply string
	err   error
	delay time.Duration
	got   []llm.Message
}

func (f *fakeLLM) Generate(ctx context.Context, msgs []llm.Message) (llm.Response, error) {
	f.got = msgs
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return llm.Response{}, errors.Join(llm.ErrTimeout, ctx.Err())
		}
	}
	if f.err != nil {
		return llm.Response{}, f.err
	}
	return llm.Response{Content: f.reply}, nil
}

func TestLLMHumorJudge(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		llm  *fakeLLM
		want bool
	}{
		{"yes russian", &fakeLLM{reply: " да. "}, true},
		{"yes english", &fakeLLM{reply: "Yes"}, true},
		{"no", &fakeLLM{reply: "НЕТ"}, false},
		{"error fails open", &fakeLLM{err: llm.ErrServerFault}, false},
		{"timeout fails open", &fakeLLM{reply: "ДА", delay: time.Second}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			j := NewLLMHumorJudge(tc.llm, 20*time.Millisecond, nil)
			if got := j.IsHumor(ctx, "text"); got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}

	f := &fakeLLM{reply: "НЕТ"}
	NewLLMHumorJudge(f, time.Second, nil).IsHumor(ctx, "анекдот")
	if len(f.got) != 2 || f.got[0].Role != llm.RoleSystem || f.got[1].Content != "анекдот" {
		t.Fatalf("unexpected request: %+v", f.got)
	}
}
