package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestChannelEventBus_PublishSubscribe(t *testing.T) {
	bus := NewChannelEventBus()
	defer bus.Close()

	var mu sync.Mutex
	var received []Event
	_, err := bus.Subscribe([]EventType{EventCompileSuccess}, func(ctx context.Context, e Event) error {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := bus.Publish(context.Background(), NewEvent(EventCompileSuccess, []string{"y"}, "test", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	// An event of a different type must not be delivered.
	if err := bus.Publish(context.Background(), NewEvent(EventCompileFailure, nil, "test", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) >= 1
	})

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 event, got %d", len(received))
	}
	if received[0].Type() != EventCompileSuccess {
		t.Errorf("unexpected event type %s", received[0].Type())
	}
}

func TestChannelEventBus_SubscribeAllSeesEverything(t *testing.T) {
	bus := NewChannelEventBus(WithBufferSize(8), WithWorkerCount(1))
	defer bus.Close()

	var mu sync.Mutex
	count := 0
	if _, err := bus.SubscribeAll(func(ctx context.Context, e Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatalf("SubscribeAll failed: %v", err)
	}

	for _, et := range []EventType{EventCompileStarted, EventInvocationSuccess, EventRunCancelled} {
		if err := bus.Publish(context.Background(), NewEvent(et, nil, "test", nil)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 3
	})
}

func TestChannelEventBus_Unsubscribe(t *testing.T) {
	bus := NewChannelEventBus(WithWorkerCount(1))
	defer bus.Close()

	var mu sync.Mutex
	count := 0
	id, err := bus.Subscribe([]EventType{EventRunStarted}, func(ctx context.Context, e Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := bus.Publish(context.Background(), NewEvent(EventRunStarted, nil, "test", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})

	if err := bus.Unsubscribe(id); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if err := bus.Publish(context.Background(), NewEvent(EventRunStarted, nil, "test", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("handler ran after unsubscribe: count=%d", count)
	}
}

func TestChannelEventBus_PublishAfterCloseFails(t *testing.T) {
	bus := NewChannelEventBus()
	if err := bus.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := bus.Publish(context.Background(), NewEvent(EventSystemWarning, nil, "test", nil)); err == nil {
		t.Error("expected error publishing to closed bus")
	}
	// Closing twice is a no-op.
	if err := bus.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestChannelEventBus_NilHandlerRejected(t *testing.T) {
	bus := NewChannelEventBus()
	defer bus.Close()

	if _, err := bus.Subscribe([]EventType{EventCompileStarted}, nil); err == nil {
		t.Error("expected error for nil handler")
	}
	if _, err := bus.Subscribe(nil, func(ctx context.Context, e Event) error { return nil }); err == nil {
		t.Error("expected error for empty event type list")
	}
}
