package event

import (
	"sync"
	"testing"
	"time"
)

func TestBus_SubscribeAndPublish(t *testing.T) {
	bus := NewBus()

	var received []Event
	bus.Subscribe(TypeStepStarted, func(e Event) {
		received = append(received, e)
	})

	bus.Publish(NewStepStartedEvent("p1", "s1", "fetch", 1))
	bus.Publish(NewStepCompletedEvent("p1", "s1", "fetch", time.Second))

	if len(received) != 1 {
		t.Fatalf("expected 1 event, got %d", len(received))
	}
	started, ok := received[0].(StepStartedEvent)
	if !ok {
		t.Fatalf("expected StepStartedEvent, got %T", received[0])
	}
	if started.StepID != "s1" || started.Attempt != 1 {
		t.Errorf("unexpected event payload: %+v", started)
	}
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus()

	count := 0
	bus.SubscribeAll(func(Event) { count++ })

	bus.Publish(NewPlanStartedEvent("p1", "goal", "htn", 3))
	bus.Publish(NewStepFailedEvent("p1", "s1", "fetch", "timeout", "deadline", 1))
	bus.Publish(NewPlanFinishedEvent("p1", "failed", time.Second))

	if count != 3 {
		t.Errorf("wildcard handler called %d times, want 3", count)
	}
}

func TestBus_SpecificHandlersBeforeWildcard(t *testing.T) {
	bus := NewBus()

	var order []string
	bus.SubscribeAll(func(Event) { order = append(order, "wildcard") })
	bus.Subscribe(TypeStepSkipped, func(Event) { order = append(order, "specific") })

	bus.Publish(NewStepSkippedEvent("p1", "s2", "upstream failure"))

	if len(order) != 2 || order[0] != "specific" || order[1] != "wildcard" {
		t.Errorf("dispatch order = %v, want [specific wildcard]", order)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()

	count := 0
	id := bus.Subscribe(TypePlanReplanned, func(Event) { count++ })

	bus.Publish(NewPlanReplannedEvent("p1", "s1", 1, "tool substitution"))
	if !bus.Unsubscribe(id) {
		t.Fatal("Unsubscribe returned false for a live subscription")
	}
	bus.Publish(NewPlanReplannedEvent("p1", "s1", 2, "tool substitution"))

	if count != 1 {
		t.Errorf("handler called %d times, want 1", count)
	}
	if bus.Unsubscribe(id) {
		t.Error("Unsubscribe returned true for a removed subscription")
	}
}

func TestBus_PanickingHandlerDoesNotBlockOthers(t *testing.T) {
	bus := NewBus()

	called := false
	bus.Subscribe(TypeStepFailed, func(Event) { panic("handler bug") })
	bus.Subscribe(TypeStepFailed, func(Event) { called = true })

	bus.Publish(NewStepFailedEvent("p1", "s1", "fetch", "invocation", "boom", 1))

	if !called {
		t.Error("second handler was not called after first panicked")
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	count := 0
	bus.SubscribeAll(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				bus.Publish(NewStepCompletedEvent("p1", "s1", "fetch", 0))
			}
		}()
	}
	wg.Wait()

	if count != 400 {
		t.Errorf("handler called %d times, want 400", count)
	}
}

func TestBus_Clear(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(TypeStepStarted, func(Event) {})
	bus.SubscribeAll(func(Event) {})

	if bus.SubscriptionCount() != 2 {
		t.Fatalf("SubscriptionCount = %d, want 2", bus.SubscriptionCount())
	}
	bus.Clear()
	if bus.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount after Clear = %d, want 0", bus.SubscriptionCount())
	}
}
