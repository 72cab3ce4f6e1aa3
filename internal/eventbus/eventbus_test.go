package eventbus

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/friendsincode/grimnir_jukebox/internal/events"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	data, err := marshalEnvelope(events.EventTrackBanned, events.Payload{"track_id": "B"}, "node-1")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	env, err := unmarshalEnvelope(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.EventType != events.EventTrackBanned || env.NodeID != "node-1" || env.Payload["track_id"] != "B" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if _, err := unmarshalEnvelope([]byte("{")); err == nil {
		t.Fatal("expected malformed envelope error")
	}
}

func newRedisBus(t *testing.T, addr, node string) *RedisBus {
	t.Helper()
	bus := NewRedisBusWithClient(redis.NewClient(&redis.Options{Addr: addr}), 3, node, zerolog.Nop())
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestRedisBusFansOutAcrossNodes(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newRedisBus(t, mr.Addr(), "a")
	b := newRedisBus(t, mr.Addr(), "b")

	localSub := a.Subscribe(events.EventNowPlaying)
	remoteSub := b.Subscribe(events.EventNowPlaying)

	a.Publish(events.EventNowPlaying, events.Payload{"track_id": "A"})

	select {
	case p := <-localSub:
		if p["track_id"] != "A" {
			t.Fatalf("unexpected local payload: %v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("local subscriber did not receive event")
	}

	select {
	case p := <-remoteSub:
		if p["track_id"] != "A" {
			t.Fatalf("unexpected remote payload: %v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("remote subscriber did not receive event")
	}

	// The publishing node must not see its own event twice.
	select {
	case p := <-localSub:
		t.Fatalf("echoed event delivered: %v", p)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisBusFallsBackToLocalDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	bus := newRedisBus(t, addr, "a")
	sub := bus.Subscribe(events.EventTrackBanned)
	bus.Publish(events.EventTrackBanned, events.Payload{"track_id": "B"})

	select {
	case p := <-sub:
		if p["track_id"] != "B" {
			t.Fatalf("unexpected payload: %v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("expected local delivery without redis")
	}
}

func TestNATSBusWithoutServerDeliversLocally(t *testing.T) {
	cfg := DefaultNATSConfig()
	cfg.URL = "nats://127.0.0.1:1"
	cfg.Timeout = 200 * time.Millisecond
	cfg.MaxReconnects = 0

	bus := NewNATSBus(cfg, "a", zerolog.Nop())
	defer bus.Close()

	sub := bus.Subscribe(events.EventInterruptFired)
	bus.Publish(events.EventInterruptFired, events.Payload{"session_id": "s"})

	select {
	case p := <-sub:
		if p["session_id"] != "s" {
			t.Fatalf("unexpected payload: %v", p)
		}
	default:
		t.Fatal("expected synchronous local delivery")
	}

	bus.Unsubscribe(events.EventInterruptFired, sub)
}
