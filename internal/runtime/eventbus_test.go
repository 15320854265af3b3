package runtime

import (
	"sync"
	"testing"
	"time"
)

func TestNewEventBus(t *testing.T) {
	eb := NewEventBus()
	if eb == nil {
		t.Fatal("expected non-nil EventBus")
	}
	if eb.handlers == nil {
		t.Fatal("expected non-nil handlers map")
	}
}

func TestEventBus_Subscribe(t *testing.T) {
	eb := NewEventBus()
	called := false

	eb.Subscribe(EventMessageStored, func(e Event) {
		called = true
	})

	eb.Publish(Event{Type: EventMessageStored})

	if !called {
		t.Error("handler was not called")
	}
}

func TestEventBus_SubscribeAll(t *testing.T) {
	eb := NewEventBus()
	count := 0

	eb.SubscribeAll(func(e Event) {
		count++
	})

	eb.Publish(Event{Type: EventMessageStored})
	eb.Publish(Event{Type: EventChatComplete})
	eb.Publish(Event{Type: EventMemoryUpdate})

	if count != 3 {
		t.Errorf("expected 3 calls, got %d", count)
	}
}

func TestEventBus_PublishWithData(t *testing.T) {
	eb := NewEventBus()
	var received Event

	eb.Subscribe(EventStageChanged, func(e Event) {
		received = e
	})

	data := map[string]any{"to": "generating"}
	eb.PublishWithData(EventStageChanged, "owner-123", data)

	if received.OwnerID != "owner-123" {
		t.Errorf("expected owner 'owner-123', got %q", received.OwnerID)
	}
	if received.Data["to"] != "generating" {
		t.Error("data not properly passed")
	}
}

func TestEventBus_TimestampAutoSet(t *testing.T) {
	eb := NewEventBus()
	var received Event

	eb.Subscribe(EventMessageStored, func(e Event) {
		received = e
	})

	before := time.Now()
	eb.Publish(Event{Type: EventMessageStored})
	after := time.Now()

	if received.Timestamp.Before(before) || received.Timestamp.After(after) {
		t.Error("timestamp not set correctly")
	}
}

func TestEventBus_MultipleHandlers(t *testing.T) {
	eb := NewEventBus()
	count := 0
	var mu sync.Mutex

	for i := 0; i < 5; i++ {
		eb.Subscribe(EventMessageStored, func(e Event) {
			mu.Lock()
			count++
			mu.Unlock()
		})
	}

	eb.Publish(Event{Type: EventMessageStored})

	mu.Lock()
	defer mu.Unlock()
	if count != 5 {
		t.Errorf("expected 5 handler calls, got %d", count)
	}
}

func TestEventBus_DifferentEventTypes(t *testing.T) {
	eb := NewEventBus()
	startCalled := false
	endCalled := false

	eb.Subscribe(EventMessageStored, func(e Event) {
		startCalled = true
	})
	eb.Subscribe(EventChatComplete, func(e Event) {
		endCalled = true
	})

	eb.Publish(Event{Type: EventMessageStored})

	if !startCalled {
		t.Error("start handler was not called")
	}
	if endCalled {
		t.Error("end handler should not have been called")
	}
}

func TestEventBus_ConcurrentPublish(t *testing.T) {
	eb := NewEventBus()
	var count int
	var mu sync.Mutex

	eb.SubscribeAll(func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			eb.Publish(Event{Type: EventMessageStored})
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if count != 100 {
		t.Errorf("expected 100 events, got %d", count)
	}
}

func TestEventBus_HandlerMayPublish(t *testing.T) {
	eb := NewEventBus()
	var got []EventType

	eb.Subscribe(EventMemoryUpdate, func(e Event) {
		eb.PublishWithData(EventSummaryStored, e.OwnerID, nil)
	})
	eb.SubscribeAll(func(e Event) {
		got = append(got, e.Type)
	})

	eb.PublishWithData(EventMemoryUpdate, "u1", nil)

	if len(got) != 2 || got[0] != EventSummaryStored || got[1] != EventMemoryUpdate {
		t.Errorf("unexpected delivery order %v", got)
	}
}
