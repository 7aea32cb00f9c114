package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

type delivery struct {
	msg     Message
	attempt int
}

// MemoryBus is an in-process Bus. Each subscription gets its own queue, every publish to a
// topic fans out to the queues bound to it, and a nacked delivery is requeued until it has
// been attempted maxDeliveries times.
type MemoryBus struct {
	mu            sync.RWMutex
	queues        map[string]chan delivery
	topics        map[string][]string
	maxDeliveries int
	logger        *slog.Logger
	done          chan struct{}
	closeOnce     sync.Once
	wg            sync.WaitGroup
}

// NewMemoryBus creates queues for every binding up front so messages published before a
// consumer starts are not lost.
func NewMemoryBus(bindings Bindings, buffer, maxDeliveries int, logger *slog.Logger) *MemoryBus {
	if buffer <= 0 {
		buffer = 256
	}
	if maxDeliveries <= 0 {
		maxDeliveries = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &MemoryBus{
		queues:        make(map[string]chan delivery, len(bindings)),
		topics:        make(map[string][]string),
		maxDeliveries: maxDeliveries,
		logger:        logger,
		done:          make(chan struct{}),
	}
	for sub, topic := range bindings {
		b.queues[sub] = make(chan delivery, buffer)
		b.topics[topic] = append(b.topics[topic], sub)
	}
	return b
}

// Publish enqueues msg on every subscription bound to topic. Topics with no subscription
// drop the message.
func (b *MemoryBus) Publish(ctx context.Context, topic string, msg Message) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}

	b.mu.RLock()
	subs := b.topics[topic]
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := b.enqueue(ctx, sub, delivery{msg: msg, attempt: 0}); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe runs handler for each delivery until ctx is done or the bus is closed.
func (b *MemoryBus) Subscribe(ctx context.Context, subscription string, handler Handler) error {
	b.mu.RLock()
	queue, ok := b.queues[subscription]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown subscription %q", subscription)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.done:
			return nil
		case d := <-queue:
			d.attempt++
			if err := handler(ctx, d.msg.Data); err != nil {
				if d.attempt >= b.maxDeliveries {
					b.logger.Error("dropping message after max deliveries",
						slog.String("subscription", subscription),
						slog.Int("attempts", d.attempt),
						slog.Any("error", err))
					continue
				}
				b.logger.Warn("message nacked; redelivering",
					slog.String("subscription", subscription),
					slog.Int("attempt", d.attempt),
					slog.Any("error", err))
				b.requeue(subscription, d)
			}
		}
	}
}

// Pending reports the number of queued deliveries for a subscription.
func (b *MemoryBus) Pending(subscription string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.queues[subscription])
}

// Close stops all subscribers and rejects further publishes.
func (b *MemoryBus) Close() error {
	b.closeOnce.Do(func() { close(b.done) })
	b.wg.Wait()
	return nil
}

func (b *MemoryBus) enqueue(ctx context.Context, sub string, d delivery) error {
	b.mu.RLock()
	queue := b.queues[sub]
	b.mu.RUnlock()

	select {
	case queue <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrClosed
	}
}

func (b *MemoryBus) requeue(sub string, d delivery) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		_ = b.enqueue(context.Background(), sub, d)
	}()
}
