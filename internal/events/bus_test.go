package events

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 10)

	bus.Publish(TopicTask, TaskStartedEvent{
		ID:        "task-1",
		Title:     "Build auth service",
		Timestamp: time.Now(),
	})

	select {
	case received := <-ch:
		if received.TaskID() != "task-1" {
			t.Errorf("expected task ID 'task-1', got '%s'", received.TaskID())
		}
		if received.EventType() != EventTypeTaskStarted {
			t.Errorf("expected event type '%s', got '%s'", EventTypeTaskStarted, received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

func TestMultipleSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch1 := bus.Subscribe(TopicTask, 10)
	ch2 := bus.Subscribe(TopicTask, 10)

	bus.Publish(TopicTask, TaskCompletedEvent{
		ID:        "task-2",
		Output:    "done",
		Timestamp: time.Now(),
	})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.TaskID() != "task-2" {
				t.Errorf("subscriber %d: expected task ID 'task-2', got '%s'", i+1, received.TaskID())
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d: timeout waiting for event", i+1)
		}
	}
}

// TestNonBlockingPublish verifies that a full subscriber never stalls
// the publisher.
func TestNonBlockingPublish(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 1)

	done := make(chan bool)
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(TopicTask, TaskStartedEvent{ID: "task", Timestamp: time.Now()})
		}
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publisher blocked on a full subscriber")
	}

	select {
	case received := <-ch:
		if received == nil {
			t.Error("received nil event")
		}
	default:
		t.Error("expected at least one buffered event")
	}
}

func TestCloseSignalsSubscribers(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TopicTask, 10)

	bus.Close()

	received := 0
	for range ch {
		received++
	}
	if received != 0 {
		t.Errorf("expected 0 events after close, got %d", received)
	}
}

func TestPublishAfterClose(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TopicTask, 10)

	bus.Close()

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("publishing after close caused panic: %v", r)
		}
	}()
	bus.Publish(TopicTask, TaskStartedEvent{ID: "task-1", Timestamp: time.Now()})

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("received event after bus was closed")
		}
	default:
	}
}

func TestTopicIsolation(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	taskCh := bus.Subscribe(TopicTask, 10)
	pipeCh := bus.Subscribe(TopicPipeline, 10)

	bus.Publish(TopicTask, TaskStartedEvent{ID: "task-1", Timestamp: time.Now()})
	bus.Publish(TopicPipeline, ModeChangedEvent{From: "planning", To: "execution", Timestamp: time.Now()})

	select {
	case received := <-taskCh:
		if received.EventType() != EventTypeTaskStarted {
			t.Errorf("task channel: expected task event, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("task channel: timeout waiting for event")
	}

	select {
	case received := <-pipeCh:
		if received.EventType() != EventTypeModeChanged {
			t.Errorf("pipeline channel: expected mode event, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("pipeline channel: timeout waiting for event")
	}

	select {
	case <-taskCh:
		t.Error("task channel received unexpected event")
	case <-time.After(10 * time.Millisecond):
	}
	select {
	case <-pipeCh:
		t.Error("pipeline channel received unexpected event")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	allCh := bus.SubscribeAll(20)

	bus.Publish(TopicTask, TaskFailedEvent{ID: "task-1", Reason: "boom", Timestamp: time.Now()})
	bus.Publish(TopicPipeline, RunFinishedEvent{FinalMode: "done", Completed: 3, Timestamp: time.Now()})

	receivedTypes := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case received := <-allCh:
			receivedTypes[received.EventType()] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for event")
		}
	}

	if !receivedTypes[EventTypeTaskFailed] {
		t.Error("SubscribeAll did not receive task event")
	}
	if !receivedTypes[EventTypeRunFinished] {
		t.Error("SubscribeAll did not receive pipeline event")
	}

	select {
	case <-allCh:
		t.Error("received unexpected third event")
	case <-time.After(10 * time.Millisecond):
	}
}
