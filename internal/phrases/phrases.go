// Package phrases loads the static policy tables: easter eggs, humor
// markers, address tokens, party templates and fallback replies.
package phrases

import (
	_ "embed"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"neurodeep/internal/llm"
)

//go:embed default.yaml
var defaultBook []byte

type EasterEgg struct {
	Trigger  string `yaml:"trigger"`
	Response string `yaml:"response"`
}

type Party struct {
	Prefixes        []string `yaml:"prefixes"`
	PairWords       []string `yaml:"pair_words"`
	SingleTemplates []string `yaml:"single_templates"`
	PairTemplates   []string `yaml:"pair_templates"`
	NotEnough       string   `yaml:"not_enough"`
}

// Fallbacks holds the in-character replies used when a completion fails.
type Fallbacks struct {
	Timeout      []string `yaml:"timeout"`
	Unauthorized []string `yaml:"unauthorized"`
	RateLimited  []string `yaml:"rate_limited"`
	ServerFault  []string `yaml:"server_fault"`
	Unknown      []string `yaml:"unknown"`
	Storage      []string `yaml:"storage"`
}

type Book struct {
	EasterEggs    []EasterEgg `yaml:"easter_eggs"`
	HumorMarkers  []string    `yaml:"humor_markers"`
	AddressTokens []string    `yaml:"address_tokens"`
	Party         Party       `yaml:"party"`
	Fallbacks     Fallbacks   `yaml:"fallbacks"`
}

// Default returns the embedded phrase book.
func Default() (*Book, error) {
	return Parse(defaultBook)
}

// Load reads a phrase book from path, or the embedded one when path is empty.
func Load(path string) (*Book, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read phrase book: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Book, error) {
	var b Book
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse phrase book: %w", err)
	}
	b.normalize()
	if err := b.validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// normalize lowercases everything that is matched against message text.
func (b *Book) normalize() {
	for i := range b.EasterEggs {
		b.EasterEggs[i].Trigger = strings.ToLower(strings.TrimSpace(b.EasterEggs[i].Trigger))
	}
	b.HumorMarkers = lowerAll(b.HumorMarkers)
	b.AddressTokens = lowerAll(b.AddressTokens)
	b.Party.Prefixes = lowerAll(b.Party.Prefixes)
	b.Party.PairWords = lowerAll(b.Party.PairWords)
}

func lowerAll(in []string) []string {
	out := in[:0]
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (b *Book) validate() error {
	for i, e := range b.EasterEggs {
		if e.Trigger == "" || e.Response == "" {
			return fmt.Errorf("phrase book: easter egg %d needs trigger and response", i)
		}
	}
	f := b.Fallbacks
	for name, list := range map[string][]string{
		"timeout":      f.Timeout,
		"unauthorized": f.Unauthorized,
		"rate_limited": f.RateLimited,
		"server_fault": f.ServerFault,
		"unknown":      f.Unknown,
		"storage":      f.Storage,
	} {
		if len(list) == 0 {
			return fmt.Errorf("phrase book: fallbacks.%s is empty", name)
		}
	}
	if len(b.Party.Prefixes) > 0 {
		if len(b.Party.SingleTemplates) == 0 || len(b.Party.PairTemplates) == 0 {
			return fmt.Errorf("phrase book: party needs single and pair templates")
		}
	}
	return nil
}

// EasterEgg returns the canned response of the first trigger found in text.
func (b *Book) EasterEgg(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, e := range b.EasterEggs {
		if strings.Contains(lower, e.Trigger) {
			return e.Response, true
		}
	}
	return "", false
}

func (b *Book) HasHumorMarker(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range b.HumorMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// Fallback picks a reply for a failed completion of the given class.
func (b *Book) Fallback(class llm.Class) string {
	var list []string
	switch class {
	case llm.ClassTimeout:
		list = b.Fallbacks.Timeout
	case llm.ClassUnauthorized:
		list = b.Fallbacks.Unauthorized
	case llm.ClassRateLimited:
		list = b.Fallbacks.RateLimited
	case llm.ClassServerFault:
		list = b.Fallbacks.ServerFault
	default:
		list = b.Fallbacks.Unknown
	}
	return pick(list)
}

func (b *Book) StorageFallback() string {
	return pick(b.Fallbacks.Storage)
}

func pick(list []string) string {
	if len(list) == 0 {
		return ""
	}
	return list[rand.IntN(len(list))]
}
