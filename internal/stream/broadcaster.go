// Package stream fans freshly appended labels out to protocol subscribers.
package stream

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chorusfm/moderation-server/internal/domain"
)

// Subscriber is one connected subscribeLabels session.
type Subscriber struct {
	ID          string
	ConnectedAt time.Time
	// Labels delivers live tail events. Sends never block; a full buffer
	// means dropped events, which the subscriber recovers by cursor.
	Labels chan domain.Label
	// Done is closed when the broadcaster shuts the session down.
	Done chan struct{}
}

// Broadcaster tracks subscribers and delivers appended labels to each.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	logger      *slog.Logger

	shutdownMu sync.RWMutex
	shutdown   bool
}

// NewBroadcaster creates a broadcaster with no subscribers.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]*Subscriber),
		logger:      logger,
	}
}

// Subscribe registers a new session and returns it.
func (b *Broadcaster) Subscribe() *Subscriber {
	sub := &Subscriber{
		ID:          uuid.NewString(),
		ConnectedAt: time.Now(),
		Labels:      make(chan domain.Label, 100), // Buffer 100 events per subscriber
		Done:        make(chan struct{}),
	}

	b.mu.Lock()
	b.subscribers[sub.ID] = sub
	total := len(b.subscribers)
	b.mu.Unlock()

	b.logger.Info("label subscriber connected",
		slog.String("subscriber_id", sub.ID),
		slog.Int("total_subscribers", total))
	return sub
}

// Unsubscribe removes a session and closes its channels.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.subscribers, id)
	total := len(b.subscribers)
	b.mu.Unlock()

	close(sub.Done)
	close(sub.Labels)

	b.logger.Info("label subscriber disconnected",
		slog.String("subscriber_id", id),
		slog.Duration("duration", time.Since(sub.ConnectedAt)),
		slog.Int("total_subscribers", total))
}

// Publish delivers a label to every subscriber.
// Sends are non-blocking: a slow subscriber gets events dropped rather than
// backpressuring the label authority; it resumes from its cursor.
func (b *Broadcaster) Publish(label domain.Label) {
	b.shutdownMu.RLock()
	defer b.shutdownMu.RUnlock()
	if b.shutdown {
		return
	}

	var delivered, dropped int

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		select {
		case sub.Labels <- label:
			delivered++
		default:
			dropped++
			b.logger.Warn("dropped label for slow subscriber",
				slog.String("subscriber_id", sub.ID),
				slog.Int64("seq", label.Seq))
		}
	}

	b.logger.Debug("label broadcast",
		slog.Int64("seq", label.Seq),
		slog.Int("delivered", delivered),
		slog.Int("dropped", dropped))
}

// Shutdown stops delivery and closes every session.
func (b *Broadcaster) Shutdown() {
	b.shutdownMu.Lock()
	b.shutdown = true
	b.shutdownMu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subscribers {
		close(sub.Done)
		close(sub.Labels)
	}
	b.subscribers = make(map[string]*Subscriber)

	b.logger.Info("all label subscribers disconnected")
}

// SubscriberCount returns the number of connected sessions.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
