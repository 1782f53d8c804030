// Package cancel provides the cancellation bus that long-running transfer
// operations subscribe to for user-initiated aborts.
//
// A Bus is constructed explicitly and passed to every component that needs
// it. Firing the bus invokes each registered callback once and leaves the
// registry empty.
package cancel

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Kovercrosser/easy-cold-storage-uploader/log"
)

// Token identifies a subscription.
type Token string

// Callback is invoked with the reason the bus was fired.
// Arguments the callback needs are bound by closure at subscribe time.
type Callback func(reason string)

type subscription struct {
	seq uint64
	fn  Callback
}

// Bus is a registry of cancellation callbacks. It is safe for concurrent use.
type Bus struct {
	logger *log.Logger

	mu   sync.Mutex
	subs map[Token]subscription
	seq  uint64
}

// NewBus creates an empty bus. A nil logger discards callback failures.
func NewBus(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.Nop()
	}
	return &Bus{logger: logger, subs: make(map[Token]subscription)}
}

// Subscribe registers fn and returns its token.
func (b *Bus) Subscribe(fn Callback) Token {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	tok := Token(uuid.New().String())
	b.subs[tok] = subscription{seq: b.seq, fn: fn}
	return tok
}

// Unsubscribe removes a subscription. Unknown or already removed tokens are a no-op.
func (b *Bus) Unsubscribe(tok Token) {
	b.mu.Lock()
	delete(b.subs, tok)
	b.mu.Unlock()
}

// Len returns the number of registered subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Fire invokes every registered callback once, in subscription order, and
// clears the registry. The registry is swapped out before any callback runs,
// so a concurrent Fire or Unsubscribe cannot invoke a token twice. A
// subscription added while Fire runs survives until the next Fire.
// Panics in callbacks are recovered and logged.
func (b *Bus) Fire(reason string) int {
	b.mu.Lock()
	pending := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		pending = append(pending, s)
	}
	b.subs = make(map[Token]subscription)
	b.mu.Unlock()

	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })
	for _, s := range pending {
		b.invoke(s, reason)
	}
	return len(pending)
}

func (b *Bus) invoke(s subscription, reason string) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("cancellation callback failed", map[string]any{
				"reason": reason,
				"panic":  fmt.Sprint(r),
			})
		}
	}()
	s.fn(reason)
}
