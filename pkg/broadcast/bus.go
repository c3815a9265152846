// Package broadcast is an in-memory, best-effort publish/subscribe bus that
// fans live events out to streaming clients.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Topic names one category of live event.
type Topic string

const (
	TopicScores     Topic = "scores"
	TopicMapActions Topic = "map_actions"
	TopicHotspots   Topic = "hotspots"
)

// DefaultTopics is the topic set the gateway serves.
var DefaultTopics = []Topic{TopicScores, TopicMapActions, TopicHotspots}

const DefaultQueueSize = 10

var (
	ErrUnknownTopic = errors.New("broadcast: unknown topic")
	ErrClosed       = errors.New("broadcast: bus closed")
)

// Subscriber is a bounded queue of serialized events for one client.
type Subscriber struct {
	id    string
	topic Topic
	ch    chan []byte
	once  sync.Once
}

func (s *Subscriber) ID() string { return s.id }
func (s *Subscriber) Topic() Topic { return s.topic }

// Events is closed when the subscriber is removed.
func (s *Subscriber) Events() <-chan []byte { return s.ch }

// Bus owns the subscriber registry of every topic.
type Bus struct {
	mu       sync.RWMutex
	topics   map[Topic]map[*Subscriber]struct{}
	capacity int
	closed   bool

	dropped atomic.Uint64
	drops   metric.Int64Counter
	log     *slog.Logger
}

// New creates a bus with the given per-subscriber queue capacity. With no
// topics it serves DefaultTopics.
func New(capacity int, log *slog.Logger, topics ...Topic) *Bus {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	if len(topics) == 0 {
		topics = DefaultTopics
	}
	drops, _ := otel.Meter("github.com/bturcanu/georisk/pkg/broadcast").Int64Counter("georisk.broadcast.dropped")
	b := &Bus{
		topics:   make(map[Topic]map[*Subscriber]struct{}, len(topics)),
		capacity: capacity,
		drops:    drops,
		log:      log,
	}
	for _, t := range topics {
		b.topics[t] = make(map[*Subscriber]struct{})
	}
	return b
}

// ParseTopic returns the topic if the bus serves it.
func (b *Bus) ParseTopic(name string) (Topic, error) {
	t := Topic(name)
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.topics[t]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTopic, name)
	}
	return t, nil
}

// Subscribe registers a new bounded queue on topic.
func (b *Bus) Subscribe(topic Topic) (*Subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	subs, ok := b.topics[topic]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	s := &Subscriber{id: uuid.NewString(), topic: topic, ch: make(chan []byte, b.capacity)}
	subs[s] = struct{}{}
	return s, nil
}

// Unsubscribe removes s and closes its queue. Calling it more than once is
// harmless.
func (b *Bus) Unsubscribe(s *Subscriber) {
	if s == nil {
		return
	}
	s.once.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.topics[s.topic]; ok {
			delete(subs, s)
		}
		close(s.ch)
	})
}

// Publish serializes event once and offers it to every subscriber of topic.
// A full queue drops the event for that subscriber only; Publish never
// blocks on a consumer.
func (b *Bus) Publish(ctx context.Context, topic Topic, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("broadcast.Publish: %w", err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	subs, ok := b.topics[topic]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	var dropped int64
	for s := range subs {
		select {
		case s.ch <- payload:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		b.dropped.Add(uint64(dropped))
		b.drops.Add(ctx, dropped, metric.WithAttributes(attribute.String("topic", string(topic))))
		b.log.DebugContext(ctx, "broadcast dropped for slow subscribers", "topic", topic, "dropped", dropped)
	}
	return nil
}

// Subscribers reports the live subscriber count of topic.
func (b *Bus) Subscribers(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Dropped reports how many deliveries were discarded since start.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close removes every subscriber, which ends their stream loops, and
// rejects further subscriptions and publishes.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	var all []*Subscriber
	for _, subs := range b.topics {
		for s := range subs {
			all = append(all, s)
		}
	}
	b.mu.Unlock()

	for _, s := range all {
		b.Unsubscribe(s)
	}
}
