package broadcast

import (
	"testing"

	"live-quiz-service/internal/domain"
)

func gameEvent(code string, version int64) domain.Event {
	return domain.GameEvent(domain.Game{Code: code, Version: version})
}

func participantEvent(code, id string, version int64) domain.Event {
	return domain.ParticipantEvent(domain.Participant{ID: id, GameCode: code, Version: version})
}

func TestHubDeliversToSubscribersOfTheGame(t *testing.T) {
	hub := NewHub(4)
	a, cancelA := hub.Subscribe("111111")
	defer cancelA()
	other, cancelOther := hub.Subscribe("222222")
	defer cancelOther()

	hub.Publish(gameEvent("111111", 1))

	select {
	case event := <-a:
		if event.Version != 1 {
			t.Fatalf("unexpected event %+v", event)
		}
	default:
		t.Fatalf("expected event for subscriber")
	}
	select {
	case event := <-other:
		t.Fatalf("other game received %+v", event)
	default:
	}
}

func TestHubDropsStaleVersions(t *testing.T) {
	hub := NewHub(8)
	ch, cancel := hub.Subscribe("111111")
	defer cancel()

	hub.Publish(gameEvent("111111", 2))
	hub.Publish(gameEvent("111111", 1))
	hub.Publish(participantEvent("111111", "p1", 1))
	hub.Publish(gameEvent("111111", 3))

	var got []int64
	for len(ch) > 0 {
		got = append(got, (<-ch).Version)
	}
	want := []int64{2, 1, 3}
	if len(got) != len(want) {
		t.Fatalf("got versions %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got versions %v, want %v", got, want)
		}
	}
}

func TestHubDisconnectsFullSubscriber(t *testing.T) {
	hub := NewHub(2)
	slow, cancelSlow := hub.Subscribe("111111")
	defer cancelSlow()
	fast, cancelFast := hub.Subscribe("111111")
	defer cancelFast()

	for v := int64(1); v <= 3; v++ {
		hub.Publish(gameEvent("111111", v))
		<-fast
	}

	if n := hub.Subscribers("111111"); n != 1 {
		t.Fatalf("expected slow subscriber removed, %d left", n)
	}
	var versions []int64
	for event := range slow {
		versions = append(versions, event.Version)
	}
	if len(versions) != 2 || versions[0] != 1 || versions[1] != 2 {
		t.Fatalf("expected the queued prefix before disconnect, got %v", versions)
	}
}

func TestHubCancelIsIdempotent(t *testing.T) {
	hub := NewHub(0)
	ch, cancel := hub.Subscribe("111111")
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	if n := hub.Subscribers("111111"); n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}
	// publishing to a game without viewers is a no-op
	hub.Publish(gameEvent("111111", 1))
}
