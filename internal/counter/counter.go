// Package counter tracks how many messages a chat has seen since the bot
// last spoke and the randomized threshold at which it speaks again.
package counter

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"neurodeep/internal/store"
)

const (
	DefaultMin = 10
	DefaultMax = 15
)

type Backend interface {
	IncrementCounter(ctx context.Context, chatID int64, initialThreshold int) (store.Counter, error)
	ResetCounter(ctx context.Context, chatID int64, threshold int) error
	GetCounter(ctx context.Context, chatID int64) (store.Counter, bool, error)
}

type Counter struct {
	backend  Backend
	min, max int

	mu  sync.Mutex
	rnd *rand.Rand
}

// New returns a counter drawing thresholds uniformly from [min, max].
func New(backend Backend, min, max int) (*Counter, error) {
	return NewWithSource(backend, min, max, rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

func NewWithSource(backend Backend, min, max int, src rand.Source) (*Counter, error) {
	if min <= 0 || max < min {
		return nil, fmt.Errorf("counter: invalid threshold range [%d,%d]", min, max)
	}
	return &Counter{backend: backend, min: min, max: max, rnd: rand.New(src)}, nil
}

func (c *Counter) Range() (int, int) { return c.min, c.max }

func (c *Counter) roll() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.min + c.rnd.IntN(c.max-c.min+1)
}

// Observe counts one message. A chat seen for the first time starts at zero
// with a fresh threshold, so the first call returns (1, threshold).
func (c *Counter) Observe(ctx context.Context, chatID int64) (count, threshold int, err error) {
	row, err := c.backend.IncrementCounter(ctx, chatID, c.roll())
	if err != nil {
		return 0, 0, err
	}
	return row.MessageCount, row.NextTrigger, nil
}

// Reset zeroes the count and re-rolls the threshold.
func (c *Counter) Reset(ctx context.Context, chatID int64) error {
	return c.backend.ResetCounter(ctx, chatID, c.roll())
}

// Peek returns the chat's counter without counting a message. ok is false
// for chats the counter has never seen.
func (c *Counter) Peek(ctx context.Context, chatID int64) (row store.Counter, ok bool, err error) {
	return c.backend.GetCounter(ctx, chatID)
}

func Fired(count, threshold int) bool { return count >= threshold }
