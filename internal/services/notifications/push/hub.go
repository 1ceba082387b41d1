// Package push fans popup notifications out to live subscribers by topic.
package push

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/lamcalendar/notifier/internal/platform/logging"
	"github.com/lamcalendar/notifier/internal/services/notifications/domain"
	"go.uber.org/zap"
)

// ErrClosed is returned after the hub has been closed.
var ErrClosed = errors.New("push hub closed")

const defaultBuffer = 16

// Hub is an in-process topic broker. Publishing never blocks: a subscriber
// whose buffer is full misses the message.
type Hub struct {
	mu      sync.RWMutex
	topics  map[string]map[*Subscription]struct{}
	closed  bool
	buffer  int
	dropped atomic.Int64
	logger  *zap.Logger
}

// Option customizes a Hub.
type Option func(*Hub)

// WithBuffer sets the per-subscriber buffer size.
func WithBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.buffer = size
		}
	}
}

// WithLogger sets the hub logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Hub) {
		h.logger = logging.OrNop(logger)
	}
}

// NewHub builds an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		topics: make(map[string]map[*Subscription]struct{}),
		buffer: defaultBuffer,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscription receives notifications published on one topic.
type Subscription struct {
	topic string
	ch    chan domain.Notification
	hub   *Hub
	once  sync.Once
}

// C returns the delivery channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan domain.Notification {
	return s.ch
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string {
	return s.topic
}

// Close ends the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Subscribe registers a new subscriber on topic.
func (h *Hub) Subscribe(topic string) (*Subscription, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	sub := &Subscription{topic: topic, ch: make(chan domain.Notification, h.buffer), hub: h}
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	return sub, nil
}

// Publish offers n to every current subscriber of topic.
func (h *Hub) Publish(ctx context.Context, topic string, n domain.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	for sub := range h.topics[topic] {
		select {
		case sub.ch <- n:
		default:
			h.dropped.Add(1)
			h.logger.Warn("push subscriber buffer full, dropping notification",
				zap.String("topic", topic),
				zap.String("notification_id", n.ID()),
			)
		}
	}
	return nil
}

// Subscribers returns the live subscriber count for topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Dropped returns how many deliveries were skipped on full buffers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close ends every subscription and rejects further use.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for topic, subs := range h.topics {
		for sub := range subs {
			sub.once.Do(func() { close(sub.ch) })
		}
		delete(h.topics, topic)
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.topics[sub.topic]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.topics, sub.topic)
		}
	}
	sub.once.Do(func() { close(sub.ch) })
}
