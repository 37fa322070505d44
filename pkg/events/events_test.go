package events

import (
	"testing"
	"time"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()

	broker.Publish(&Event{
		Type:      EventVolumeCreated,
		Volume:    "thevolume",
		OwnerUUID: "owner-1",
	})

	select {
	case event := <-sub:
		if event.Type != EventVolumeCreated {
			t.Errorf("event type = %v, want %v", event.Type, EventVolumeCreated)
		}
		if event.Volume != "thevolume" {
			t.Errorf("event volume = %v, want thevolume", event.Volume)
		}
		if event.Timestamp.IsZero() {
			t.Error("event timestamp not set")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBrokerMultipleSubscribers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	a := broker.Subscribe()
	b := broker.Subscribe()

	if broker.SubscriberCount() != 2 {
		t.Errorf("SubscriberCount() = %d, want 2", broker.SubscriberCount())
	}

	broker.Publish(&Event{Type: EventVolumePushed, Volume: "thevolume"})

	for _, sub := range []Subscriber{a, b} {
		select {
		case event := <-sub:
			if event.Type != EventVolumePushed {
				t.Errorf("event type = %v, want %v", event.Type, EventVolumePushed)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBrokerUnsubscribe(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	broker.Unsubscribe(sub)

	if broker.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", broker.SubscriberCount())
	}

	// The channel is closed on unsubscribe.
	if _, ok := <-sub; ok {
		t.Error("unsubscribed channel should be closed")
	}

	// Unsubscribing twice is a no-op.
	broker.Unsubscribe(sub)
}
