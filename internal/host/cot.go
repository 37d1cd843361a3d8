package host

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/omnitak/pluginhost/internal/plugin/api"
)

// DefaultHistorySize is the number of distinct UIDs the bus remembers.
const DefaultHistorySize = 1024

// ErrNoUID is returned for messages without a UID.
var ErrNoUID = errors.New("cot message has no uid")

type subscription struct {
	key   string
	fn    func(api.CoTMessage)
	token uint64
}

// CoTBus is an in-memory CoT transport. History holds the latest message
// per UID, bounded by size and optionally by age. Subscribers receive
// inbound messages in subscription order.
type CoTBus struct {
	history *expirable.LRU[string, api.CoTMessage]

	mu       sync.Mutex
	subs     []subscription
	nextTok  uint64
	outbound []api.CoTMessage
	maxOut   int

	// OnSend observes outbound messages. Optional.
	OnSend func(api.CoTMessage)
}

// NewCoTBus creates a bus remembering up to size UIDs for ttl. A size of
// zero uses DefaultHistorySize; a ttl of zero keeps messages until evicted.
func NewCoTBus(size int, ttl time.Duration) *CoTBus {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &CoTBus{
		history: expirable.NewLRU[string, api.CoTMessage](size, nil, ttl),
		maxOut:  size,
	}
}

// Send records msg as outbound and adds it to history.
func (b *CoTBus) Send(msg api.CoTMessage) error {
	if msg.UID == "" {
		return ErrNoUID
	}
	b.history.Add(msg.UID, msg)

	b.mu.Lock()
	b.outbound = append(b.outbound, msg)
	if len(b.outbound) > b.maxOut {
		b.outbound = b.outbound[len(b.outbound)-b.maxOut:]
	}
	onSend := b.OnSend
	b.mu.Unlock()

	if onSend != nil {
		onSend(msg)
	}
	return nil
}

// Deliver adds an inbound message to history and fans it out to every
// subscriber in subscription order.
func (b *CoTBus) Deliver(msg api.CoTMessage) error {
	if msg.UID == "" {
		return ErrNoUID
	}
	b.history.Add(msg.UID, msg)

	b.mu.Lock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		s.fn(msg)
	}
	return nil
}

// Query returns matching messages ordered by time, oldest first. Ties are
// ordered by UID. Limit keeps the most recent.
func (b *CoTBus) Query(filter api.CoTFilter) ([]api.CoTMessage, error) {
	var out []api.CoTMessage
	for _, msg := range b.history.Values() {
		if filter.Matches(msg) {
			out = append(out, msg)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.Before(out[j].Time)
		}
		return out[i].UID < out[j].UID
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out, nil
}

// Subscribe registers fn under key. Subscribing an existing key replaces
// its function and keeps its position; the earlier unsubscribe function
// then does nothing.
func (b *CoTBus) Subscribe(key string, fn func(api.CoTMessage)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextTok++
	tok := b.nextTok

	replaced := false
	for i := range b.subs {
		if b.subs[i].key == key {
			b.subs[i].fn = fn
			b.subs[i].token = tok
			replaced = true
			break
		}
	}
	if !replaced {
		b.subs = append(b.subs, subscription{key: key, fn: fn, token: tok})
	}

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i := range b.subs {
			if b.subs[i].token == tok {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Subscribers returns the number of subscriptions.
func (b *CoTBus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Outbound returns the most recent outbound messages, oldest first.
func (b *CoTBus) Outbound() []api.CoTMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]api.CoTMessage(nil), b.outbound...)
}

// Len returns the number of UIDs in history.
func (b *CoTBus) Len() int {
	return b.history.Len()
}
