package signal

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"nook/internal/pkg/logx"
	"nook/internal/pkg/metrics"
)

// default capacity of a subscriber's queue.
const defaultSubscriberBuffer = 64

// ErrHubClosed is returned by Join after Shutdown.
var ErrHubClosed = errors.New("signal: hub is shut down")

// Hub maps conversation ids to their multicast channels. A channel exists only while it has
// at least one subscriber; it is created by the first Join and removed by the last Close.
type Hub struct {
	// channels is keyed by conversation id.
	channels map[string]*Channel

	// mu protects channels and closed. Join and Close take it exclusively.
	mu sync.RWMutex

	closed bool

	// active counts subscriptions between Join and Close.
	active sync.WaitGroup

	// buffer is the queue length of each new subscription.
	buffer int

	// ctx is the parent of every peer's Run context. Shutdown cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	logger zerolog.Logger
}

// NewHub constructs an empty Hub. Each subscription queues up to buffer signals.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		channels: make(map[string]*Channel),
		buffer:   buffer,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logx.Component("SignalHub"),
	}
}

// Join returns the channel for conversationID, creating it if needed, together with a new
// subscription to it. The subscription exists before Join returns, so anything published
// afterwards, including the caller's own announcement, is observed.
func (h *Hub) Join(conversationID string) (*Channel, *Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, nil, ErrHubClosed
	}

	ch, ok := h.channels[conversationID]
	if !ok {
		ch = &Channel{
			id:   conversationID,
			subs: make(map[*Subscription]struct{}),
		}
		h.channels[conversationID] = ch

		h.logger.Debug().Str("conversation_id", conversationID).Msg("Conversation channel created.")
	}

	sub := &Subscription{
		hub:     h,
		channel: ch,
		signals: make(chan Signal, h.buffer),
	}

	ch.mu.Lock()
	ch.subs[sub] = struct{}{}
	ch.mu.Unlock()

	h.active.Add(1)

	return ch, sub, nil
}

// leave detaches sub and drops its channel when no subscribers remain.
func (h *Hub) leave(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := sub.channel

	ch.mu.Lock()
	delete(ch.subs, sub)
	close(sub.signals)
	remaining := len(ch.subs)
	ch.mu.Unlock()

	if remaining == 0 && h.channels[ch.id] == ch {
		delete(h.channels, ch.id)
		h.logger.Debug().Str("conversation_id", ch.id).Msg("Conversation channel removed.")
	}

	h.active.Done()
}

// Subscribers returns the number of live subscriptions to conversationID.
func (h *Hub) Subscribers(conversationID string) int {
	h.mu.RLock()
	ch, ok := h.channels[conversationID]
	h.mu.RUnlock()

	if !ok {
		return 0
	}
	return ch.Len()
}

// Conversations returns the number of conversations with at least one subscriber.
func (h *Hub) Conversations() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.channels)
}

// Shutdown rejects new joins, cancels every running peer and waits until every
// subscription has been closed or ctx is done.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.logger.Info().Msg("Shutting down signal hub...")

	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	h.cancel()

	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info().Msg("Signal hub shutdown complete.")
		return nil
	case <-ctx.Done():
		h.logger.Warn().Int("conversations", h.Conversations()).Msg("Signal hub shutdown timed out.")
		return ctx.Err()
	}
}

// Channel is the multicast channel of one conversation.
type Channel struct {
	id string

	// mu protects subs. Publish shares it; subscribe and unsubscribe take it exclusively.
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// ConversationID returns the conversation this channel serves.
func (c *Channel) ConversationID() string {
	return c.id
}

// Publish delivers s to every current subscriber, including the publisher's own
// subscription, and returns how many queues accepted it. A full queue drops s for that
// subscriber only. Publishing with no subscribers left is a no-op.
func (c *Channel) Publish(s Signal) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	delivered := 0
	for sub := range c.subs {
		select {
		case sub.signals <- s:
			delivered++
		default:
			metrics.IncDeliveryDropped(metrics.KindSignal)
		}
	}

	return delivered
}

// Len returns the number of subscribers.
func (c *Channel) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.subs)
}

// Subscription receives the signals published on one channel.
type Subscription struct {
	hub     *Hub
	channel *Channel
	signals chan Signal
	once    sync.Once
}

// Signals returns the receive side of the subscription. It is closed by Close.
func (s *Subscription) Signals() <-chan Signal {
	return s.signals
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.leave(s)
	})
}
