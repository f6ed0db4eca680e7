// Package classifier decides whether an incoming message gets an immediate
// reply or is left to the chat's trigger counter.
//
// Checks run in a fixed precedence and stop at the first match: direct
// address, easter egg, humor marker, LLM-judged humor. Anything else is
// deferred.
package classifier

import (
	"context"
	"strings"
	"unicode/utf8"

	"neurodeep/internal/phrases"
)

type ChatKind string

const (
	ChatPrivate ChatKind = "private"
	ChatGroup   ChatKind = "group"
)

type Reason string

const (
	ReasonDirect      Reason = "direct"
	ReasonEasterEgg   Reason = "easter_egg"
	ReasonHumorMarker Reason = "humor_marker"
	ReasonHumorLLM    Reason = "humor_llm"
	ReasonDeferred    Reason = "deferred"
	// ReasonCounter is not produced by Classify; the reply path uses it when
	// a deferred message crosses the chat's trigger threshold.
	ReasonCounter Reason = "counter"
)

// Utterance is the transport-independent view of an inbound message.
type Utterance struct {
	Text        string
	ChatKind    ChatKind
	ReplyToBot  bool
	MentionsBot bool
}

type Decision struct {
	Reason Reason
	// Detail narrows the reason, e.g. "reply" or "mention" for direct address.
	Detail string
	// Canned is set for easter eggs; it is sent verbatim.
	Canned string
	// Judged reports whether the humor judge was consulted.
	Judged bool
}

// Immediate reports whether the message gets a reply without the counter.
func (d Decision) Immediate() bool { return d.Reason != ReasonDeferred }

// HumorJudge answers whether text is a joke. Implementations must return
// false on any failure.
type HumorJudge interface {
	IsHumor(ctx context.Context, text string) bool
}

type Options struct {
	BotUsername string
	// AddressTokens override the phrase book tokens when non-empty.
	AddressTokens  []string
	HumorMinLength int
	Judge          HumorJudge
}

type Classifier struct {
	book        *phrases.Book
	botUsername string
	tokens      []string
	minLength   int
	judge       HumorJudge
}

func New(book *phrases.Book, opts Options) *Classifier {
	tokens := book.AddressTokens
	if len(opts.AddressTokens) > 0 {
		tokens = nil
		for _, t := range opts.AddressTokens {
			if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
				tokens = append(tokens, t)
			}
		}
	}
	return &Classifier{
		book:        book,
		botUsername: strings.TrimPrefix(strings.ToLower(opts.BotUsername), "@"),
		tokens:      tokens,
		minLength:   opts.HumorMinLength,
		judge:       opts.Judge,
	}
}

func (c *Classifier) Classify(ctx context.Context, u Utterance) Decision {
	if detail, ok := c.directAddress(u); ok {
		return Decision{Reason: ReasonDirect, Detail: detail}
	}
	if canned, ok := c.book.EasterEgg(u.Text); ok {
		return Decision{Reason: ReasonEasterEgg, Canned: canned}
	}
	if c.book.HasHumorMarker(u.Text) {
		return Decision{Reason: ReasonHumorMarker}
	}
	if c.judge != nil && utf8.RuneCountInString(u.Text) > c.minLength {
		if c.judge.IsHumor(ctx, u.Text) {
			return Decision{Reason: ReasonHumorLLM, Judged: true}
		}
		return Decision{Reason: ReasonDeferred, Judged: true}
	}
	return Decision{Reason: ReasonDeferred}
}

func (c *Classifier) directAddress(u Utterance) (string, bool) {
	if u.ChatKind == ChatPrivate {
		return "private", true
	}
	if u.ReplyToBot {
		return "reply", true
	}
	if u.MentionsBot {
		return "mention", true
	}
	lower := strings.ToLower(strings.TrimSpace(u.Text))
	// Some clients omit mention entities.
	if c.botUsername != "" && strings.Contains(lower, "@"+c.botUsername) {
		return "at_mention", true
	}
	for _, t := range c.tokens {
		if strings.HasPrefix(lower, t) {
			return "name", true
		}
	}
	return "", false
}
