package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/miradorstack/mirador-aiops/internal/utils"
)

func TestMemoryBusFanOutAndAck(t *testing.T) {
	bus := NewMemoryBus(Bindings{"rca": "anomalies", "audit": "anomalies"}, 8, 3, utils.DiscardLogger())
	defer bus.Close()

	if err := bus.Publish(context.Background(), "anomalies", Message{Data: []byte("one")}); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if bus.Pending("rca") != 1 || bus.Pending("audit") != 1 {
		t.Fatalf("expected message on both subscriptions")
	}

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan string, 1)
	go func() {
		_ = bus.Subscribe(ctx, "rca", func(_ context.Context, data []byte) error {
			got <- string(data)
			cancel()
			return nil
		})
	}()

	select {
	case v := <-got:
		if v != "one" {
			t.Fatalf("unexpected payload %q", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for delivery")
	}
}

func TestMemoryBusRedeliversUntilLimit(t *testing.T) {
	bus := NewMemoryBus(Bindings{"rca": "anomalies"}, 8, 3, utils.DiscardLogger())
	defer bus.Close()

	var mu sync.Mutex
	attempts := 0
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = bus.Subscribe(ctx, "rca", func(context.Context, []byte) error {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts == 3 {
				close(done)
			}
			return errors.New("store unavailable")
		})
	}()

	if err := bus.Publish(context.Background(), "anomalies", Message{Data: []byte("x")}); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected three delivery attempts")
	}
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Fatalf("expected delivery to stop at 3 attempts, got %d", attempts)
	}
}

func TestMemoryBusUnknownSubscription(t *testing.T) {
	bus := NewMemoryBus(Bindings{}, 1, 1, utils.DiscardLogger())
	defer bus.Close()
	if err := bus.Subscribe(context.Background(), "nope", func(context.Context, []byte) error { return nil }); err == nil {
		t.Fatalf("expected error for unknown subscription")
	}
}

func TestMemoryBusRejectsPublishAfterClose(t *testing.T) {
	bus := NewMemoryBus(Bindings{"rca": "anomalies"}, 1, 1, utils.DiscardLogger())
	_ = bus.Close()
	if err := bus.Publish(context.Background(), "anomalies", Message{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
