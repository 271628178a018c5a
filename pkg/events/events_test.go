package events

import (
	"testing"
	"time"
)

func newStartedBroker(t *testing.T) *Broker {
	t.Helper()
	b := NewBroker()
	b.Start()
	t.Cleanup(b.Stop)
	return b
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := newStartedBroker(t)
	sub := b.Subscribe()

	b.Publish(&Event{Type: EventSyncStarted, Message: "starting"})

	select {
	case ev := <-sub:
		if ev.Type != EventSyncStarted || ev.Message != "starting" {
			t.Fatalf("got %+v, want type=%s message=starting", ev, EventSyncStarted)
		}
		if ev.Timestamp.IsZero() {
			t.Fatal("Publish should stamp a zero Timestamp with now")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the published event")
	}
}

func TestPublishKeepsExplicitTimestamp(t *testing.T) {
	b := newStartedBroker(t)
	sub := b.Subscribe()

	ts := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	b.Publish(&Event{Type: EventConflict, Timestamp: ts})

	select {
	case ev := <-sub:
		if !ev.Timestamp.Equal(ts) {
			t.Fatalf("Timestamp = %v, want the explicit %v preserved", ev.Timestamp, ts)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the published event")
	}
}

func TestPublishFansOutToEverySubscriber(t *testing.T) {
	b := newStartedBroker(t)
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()

	b.Publish(&Event{Type: EventRelayConnected})

	for i, sub := range []Subscriber{sub1, sub2} {
		select {
		case <-sub:
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d never received the event", i)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := newStartedBroker(t)
	sub := b.Subscribe()
	b.Unsubscribe(sub)

	if got := b.SubscriberCount(); got != 0 {
		t.Fatalf("SubscriberCount() = %d, want 0 after Unsubscribe", got)
	}

	// The channel should now be closed, so a receive returns immediately
	// with the zero value and ok == false rather than blocking.
	select {
	case _, ok := <-sub:
		if ok {
			t.Fatal("receiving from an unsubscribed channel should report ok=false")
		}
	case <-time.After(time.Second):
		t.Fatal("unsubscribed channel should be closed, not still open and empty")
	}
}

func TestSubscriberCountTracksActiveSubscriptions(t *testing.T) {
	b := newStartedBroker(t)
	if got := b.SubscriberCount(); got != 0 {
		t.Fatalf("SubscriberCount() = %d, want 0 initially", got)
	}

	sub := b.Subscribe()
	if got := b.SubscriberCount(); got != 1 {
		t.Fatalf("SubscriberCount() = %d, want 1 after Subscribe", got)
	}

	b.Unsubscribe(sub)
	if got := b.SubscriberCount(); got != 0 {
		t.Fatalf("SubscriberCount() = %d, want 0 after Unsubscribe", got)
	}
}

func TestBroadcastSkipsFullSubscriberBufferWithoutBlocking(t *testing.T) {
	b := newStartedBroker(t)
	sub := b.Subscribe()

	// Fill the subscriber's buffer (capacity 50) without draining it, then
	// publish ten more: broadcast must skip them instead of blocking the
	// broker's run loop forever.
	for i := 0; i < 60; i++ {
		b.Publish(&Event{Type: EventItemPushed})
	}

	time.Sleep(100 * time.Millisecond)

	drained := 0
	for {
		select {
		case <-sub:
			drained++
		default:
			if drained == 0 {
				t.Fatal("expected the subscriber buffer to have received at least one event")
			}
			return
		}
	}
}
