// Package feed keeps a bounded ring buffer of recent inbound and outbound
// messages for the admin surface, with live subscriptions.
package feed

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Direction string

const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

type Entry struct {
	ID        string    `json:"id"`
	At        time.Time `json:"at"`
	ChatID    int64     `json:"chat_id"`
	UserID    int64     `json:"user_id,omitempty"`
	Name      string    `json:"name,omitempty"`
	Text      string    `json:"text"`
	Direction Direction `json:"direction"`
	Reason    string    `json:"reason,omitempty"`
}

const DefaultSize = 200

// subscriber buffers are small; slow readers lose entries rather than block
// the bot.
const subscriberBuffer = 32

type Feed struct {
	mu    sync.RWMutex
	buf   []Entry
	next  int
	full  bool
	subs  map[chan Entry]struct{}
	now   func() time.Time
	newID func() string
}

func New(size int) *Feed {
	if size <= 0 {
		size = DefaultSize
	}
	return &Feed{
		buf:   make([]Entry, size),
		subs:  make(map[chan Entry]struct{}),
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

// Add stores e, filling ID and At when empty, and fans it out to subscribers.
func (f *Feed) Add(e Entry) Entry {
	if e.ID == "" {
		e.ID = f.newID()
	}
	if e.At.IsZero() {
		e.At = f.now().UTC()
	}

	f.mu.Lock()
	f.buf[f.next] = e
	f.next = (f.next + 1) % len(f.buf)
	if f.next == 0 {
		f.full = true
	}
	for ch := range f.subs {
		select {
		case ch <- e:
		default:
		}
	}
	f.mu.Unlock()
	return e
}

// Recent returns up to limit entries, oldest first. limit <= 0 means all.
func (f *Feed) Recent(limit int) []Entry {
	f.mu.RLock()
	defer f.mu.RUnlock()

	n := f.next
	start := 0
	if f.full {
		n = len(f.buf)
		start = f.next
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Entry, 0, limit)
	for i := n - limit; i < n; i++ {
		out = append(out, f.buf[(start+i)%len(f.buf)])
	}
	return out
}

// Subscribe returns a channel of new entries and a cancel func that closes it.
func (f *Feed) Subscribe() (<-chan Entry, func()) {
	ch := make(chan Entry, subscriberBuffer)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, ch)
			f.mu.Unlock()
			close(ch)
		})
	}
}
