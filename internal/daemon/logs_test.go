package daemon

import (
	"fmt"
	"testing"
)

func TestLogBroadcasterSubscribe(t *testing.T) {
	lb := NewLogBroadcaster(10)
	ch := lb.Subscribe()
	defer lb.Unsubscribe(ch)

	lb.Broadcast("hello\n")

	select {
	case msg := <-ch:
		if msg != "hello\n" {
			t.Errorf("received %q, want %q", msg, "hello\n")
		}
	default:
		t.Fatal("no message delivered to subscriber")
	}
}

func TestLogBroadcasterHistory(t *testing.T) {
	lb := NewLogBroadcaster(10)
	lb.Broadcast("first\n")
	lb.Broadcast("second\n")
	lb.Broadcast("third\n")

	ch, history := lb.SubscribeWithHistory(2)
	defer lb.Unsubscribe(ch)

	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0] != "second\n" || history[1] != "third\n" {
		t.Errorf("history = %v, want last two messages in order", history)
	}
}

func TestLogBroadcasterHistoryEviction(t *testing.T) {
	lb := NewLogBroadcaster(3)
	for i := 0; i < 5; i++ {
		lb.Broadcast(fmt.Sprintf("line %d\n", i))
	}

	ch, history := lb.SubscribeWithHistory(10)
	defer lb.Unsubscribe(ch)

	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	if history[0] != "line 2\n" {
		t.Errorf("oldest retained = %q, want %q", history[0], "line 2\n")
	}
}

func TestLogBroadcasterSlowClientDoesNotBlock(t *testing.T) {
	lb := NewLogBroadcaster(10)
	ch := lb.Subscribe()
	defer lb.Unsubscribe(ch)

	// Overflow the subscriber buffer; Broadcast must not block.
	for i := 0; i < 200; i++ {
		lb.Broadcast("spam\n")
	}
}

func TestLogBroadcasterUnsubscribeClosesChannel(t *testing.T) {
	lb := NewLogBroadcaster(10)
	ch := lb.Subscribe()
	lb.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Error("channel still open after unsubscribe")
	}

	// Broadcasting after unsubscribe must not panic on the closed channel
	lb.Broadcast("after\n")
}
