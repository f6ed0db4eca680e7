// Package party implements the "<bot> who <predicate>" game: it picks one or
// two random known users and fills a reply template.
package party

import (
	"bytes"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"text/template"
	"unicode"
	"unicode/utf8"

	"neurodeep/internal/phrases"
	"neurodeep/internal/store"
)

var whoWords = []string{"кто", "who"}

// Request is a parsed game command.
type Request struct {
	Predicate string
	Pair      bool
}

func (r Request) Needed() int {
	if r.Pair {
		return 2
	}
	return 1
}

// Data is what templates see.
type Data struct {
	First     string
	Second    string
	Predicate string
}

type Game struct {
	prefixes      []string
	pairWords     []string
	single        []*template.Template
	pair          []*template.Template
	notEnough     string
	includeSender bool

	mu  sync.Mutex
	rnd *rand.Rand
}

var funcs = template.FuncMap{"title": title}

func title(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func New(cfg phrases.Party, includeSender bool) (*Game, error) {
	return NewWithSource(cfg, includeSender, rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

func NewWithSource(cfg phrases.Party, includeSender bool, src rand.Source) (*Game, error) {
	g := &Game{
		prefixes:      cfg.Prefixes,
		pairWords:     cfg.PairWords,
		notEnough:     cfg.NotEnough,
		includeSender: includeSender,
		rnd:           rand.New(src),
	}
	var err error
	if g.single, err = parseAll("single", cfg.SingleTemplates); err != nil {
		return nil, err
	}
	if g.pair, err = parseAll("pair", cfg.PairTemplates); err != nil {
		return nil, err
	}
	return g, nil
}

func parseAll(kind string, src []string) ([]*template.Template, error) {
	out := make([]*template.Template, 0, len(src))
	for i, s := range src {
		t, err := template.New(fmt.Sprintf("%s_%d", kind, i)).Funcs(funcs).Option("missingkey=error").Parse(s)
		if err != nil {
			return nil, fmt.Errorf("party: parse %s template %d: %w", kind, i, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// Match recognizes "<prefix>[,] кто|who <predicate>[?]".
func (g *Game) Match(text string) (Request, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, p := range g.prefixes {
		if !strings.HasPrefix(lower, p) {
			continue
		}
		rest := strings.TrimLeft(lower[len(p):], " ,:")
		for _, w := range whoWords {
			if !strings.HasPrefix(rest, w+" ") {
				continue
			}
			pred := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(rest[len(w):]), "?!. "))
			if pred == "" {
				return Request{}, false
			}
			return Request{Predicate: pred, Pair: g.isPair(pred)}, true
		}
	}
	return Request{}, false
}

func (g *Game) isPair(pred string) bool {
	for _, w := range g.pairWords {
		if strings.Contains(pred, w) {
			return true
		}
	}
	return false
}

// Play draws participants without replacement and renders a reply. When
// there are fewer candidates than needed it returns the not-enough phrase.
func (g *Game) Play(req Request, known []store.UserProfile, sender store.UserProfile) (string, error) {
	pool := g.candidates(known, sender)
	need := req.Needed()
	if len(pool) < need {
		return g.notEnough, nil
	}

	g.mu.Lock()
	picked := make([]store.UserProfile, 0, need)
	for i := 0; i < need; i++ {
		j := i + g.rnd.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
		picked = append(picked, pool[i])
	}
	templates := g.single
	if req.Pair {
		templates = g.pair
	}
	tmpl := templates[g.rnd.IntN(len(templates))]
	g.mu.Unlock()

	data := Data{First: picked[0].DisplayName(), Predicate: req.Predicate}
	if req.Pair {
		data.Second = picked[1].DisplayName()
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("party: render: %w", err)
	}
	return buf.String(), nil
}

func (g *Game) candidates(known []store.UserProfile, sender store.UserProfile) []store.UserProfile {
	pool := make([]store.UserProfile, 0, len(known)+1)
	seenSender := false
	for _, u := range known {
		if u.UserID == sender.UserID {
			if !g.includeSender {
				continue
			}
			seenSender = true
		}
		pool = append(pool, u)
	}
	if g.includeSender && !seenSender && sender.UserID != 0 {
		pool = append(pool, sender)
	}
	return pool
}
