package events

import "testing"

func TestBusDeliversToSubscribersOfType(t *testing.T) {
	bus := NewBus()
	playing := bus.Subscribe(EventNowPlaying)
	banned := bus.Subscribe(EventTrackBanned)

	bus.Publish(EventNowPlaying, Payload{"track_id": "A"})

	select {
	case p := <-playing:
		if p["track_id"] != "A" {
			t.Fatalf("unexpected payload: %v", p)
		}
	default:
		t.Fatal("expected now playing event")
	}
	select {
	case p := <-banned:
		t.Fatalf("unexpected delivery: %v", p)
	default:
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBusWithBuffer(1)
	sub := bus.Subscribe(EventNowPlaying)

	bus.Publish(EventNowPlaying, Payload{"n": 1})
	bus.Publish(EventNowPlaying, Payload{"n": 2}) // dropped, must not block

	if p := <-sub; p["n"] != 1 {
		t.Fatalf("unexpected payload: %v", p)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventNowPlaying)
	bus.Unsubscribe(EventNowPlaying, sub)

	if _, ok := <-sub; ok {
		t.Fatal("expected closed channel")
	}
	if bus.Subscribers(EventNowPlaying) != 0 {
		t.Fatal("expected no subscribers")
	}
	bus.Unsubscribe(EventNowPlaying, sub) // second call is a no-op
	bus.Publish(EventNowPlaying, Payload{})
}
