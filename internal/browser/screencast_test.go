package browser

import "testing"

func TestBroadcasterDeliversToAllSubscribers(t *testing.T) {
	b := NewBroadcaster(4)
	ch1, _ := b.Subscribe()
	ch2, _ := b.Subscribe()

	b.Publish(Frame{SessionID: "s1", Data: "abc"})

	f1 := <-ch1
	f2 := <-ch2
	if f1.SessionID != "s1" || f2.SessionID != "s1" {
		t.Error("expected both subscribers to receive the published frame")
	}
}

func TestBroadcasterDropsOnFullChannel(t *testing.T) {
	b := NewBroadcaster(1)
	ch, _ := b.Subscribe()

	b.Publish(Frame{SessionID: "s1", Data: "one"})
	b.Publish(Frame{SessionID: "s1", Data: "two"}) // channel full, dropped

	f := <-ch
	if f.Data != "one" {
		t.Errorf("expected first frame to survive, got %q", f.Data)
	}
	select {
	case <-ch:
		t.Error("expected second frame to have been dropped")
	default:
	}
}

func TestBroadcasterUnsubscribe(t *testing.T) {
	b := NewBroadcaster(4)
	_, unsubscribe := b.Subscribe()
	if b.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", b.SubscriberCount())
	}
	unsubscribe()
	if b.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers after unsubscribe, got %d", b.SubscriberCount())
	}
}
