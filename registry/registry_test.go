package registry

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"syfd/model"
)

func newTestRegistry() *Registry {
	local := model.UserIdentity{UUID: uuid.New(), FirstName: "Local", LastName: "User"}
	return New(local, nil)
}

func TestObserveNewPeerEmitsPeerAdded(t *testing.T) {
	r := newTestRegistry()
	peerID := uuid.New()

	events := r.Observe(model.PeerRecord{UUID: peerID, FirstName: "Ada", LastName: "Lovelace"})
	if len(events) != 1 || events[0].Type != EventPeerAdded {
		t.Fatalf("expected single peer_added event, got %+v", events)
	}

	p, ok := r.Peer(peerID)
	if !ok {
		t.Fatal("expected peer to be present")
	}
	if p.Age != 0 {
		t.Fatalf("expected new peer age 0, got %d", p.Age)
	}
}

func TestObserveUnchangedBeaconEmitsNoEvent(t *testing.T) {
	r := newTestRegistry()
	peerID := uuid.New()
	record := model.PeerRecord{UUID: peerID, FirstName: "Ada", LastName: "Lovelace", FTPort: 49100}

	r.Observe(record)
	events := r.Observe(record)
	if len(events) != 0 {
		t.Fatalf("expected no events for an unchanged re-sighting, got %+v", events)
	}

	p, _ := r.Peer(peerID)
	if p.Age != 0 {
		t.Fatalf("expected age reset to 0 on re-sighting, got %d", p.Age)
	}
}

func TestObserveChangedFieldsEmitsPeerUpdated(t *testing.T) {
	r := newTestRegistry()
	peerID := uuid.New()

	r.Observe(model.PeerRecord{UUID: peerID, FirstName: "Ada", LastName: "Lovelace", FTPort: 49100})
	events := r.Observe(model.PeerRecord{UUID: peerID, FirstName: "Ada", LastName: "Lovelace", FTPort: 49200})
	if len(events) != 1 || events[0].Type != EventPeerUpdated {
		t.Fatalf("expected single peer_updated event, got %+v", events)
	}
}

func TestObserveDuplicateNameAgainstAnotherPeer(t *testing.T) {
	r := newTestRegistry()
	firstID := uuid.New()
	secondID := uuid.New()

	r.Observe(model.PeerRecord{UUID: firstID, FirstName: "Ada", LastName: "Lovelace"})
	events := r.Observe(model.PeerRecord{UUID: secondID, FirstName: "ada", LastName: "LOVELACE"})

	foundDup := false
	for _, ev := range events {
		if ev.Type == EventDuplicateNameDetected {
			foundDup = true
		}
	}
	if !foundDup {
		t.Fatalf("expected duplicate_name_detected event, got %+v", events)
	}
}

func TestObserveDuplicateNameAgainstLocalIdentity(t *testing.T) {
	r := newTestRegistry()
	peerID := uuid.New()

	events := r.Observe(model.PeerRecord{UUID: peerID, FirstName: "Local", LastName: "User"})

	foundDup := false
	for _, ev := range events {
		if ev.Type == EventDuplicateNameDetected {
			foundDup = true
		}
	}
	if !foundDup {
		t.Fatalf("expected duplicate_name_detected event against local identity, got %+v", events)
	}
}

func TestQuitMarksPeerOfflineAndEmitsExpired(t *testing.T) {
	r := newTestRegistry()
	peerID := uuid.New()
	for range r.Observe(model.PeerRecord{UUID: peerID, FirstName: "Ada"}) {
		<-r.events // drain Observe's peer_added so the next event is Quit's
	}

	r.Quit(peerID)

	select {
	case ev := <-r.events:
		if ev.Type != EventPeerExpired || ev.Peer.UUID != peerID {
			t.Fatalf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("expected a peer_expired event after Quit")
	}

	p, _ := r.Peer(peerID)
	if p.OperationalMode != model.Offline {
		t.Fatal("expected peer to be marked offline after Quit")
	}
}

func TestTickAgesExpiresPeerAfterAgeMax(t *testing.T) {
	r := newTestRegistry()
	peerID := uuid.New()
	r.Observe(model.PeerRecord{UUID: peerID, FirstName: "Ada"})

	for i := 0; i < model.AgeMax; i++ {
		r.tickAges()
	}

	p, _ := r.Peer(peerID)
	if p.OperationalMode != model.Offline {
		t.Fatalf("expected peer to expire after %d ticks, got %+v", model.AgeMax, p)
	}
	if p.Age != model.AgeUnconfirmed {
		t.Fatalf("expected age reset to AgeUnconfirmed after expiry, got %d", p.Age)
	}
}

func TestTickAgesDoesNotExpireWithinAgeMax(t *testing.T) {
	r := newTestRegistry()
	peerID := uuid.New()
	r.Observe(model.PeerRecord{UUID: peerID, FirstName: "Ada"})

	for i := 0; i < model.AgeMax-1; i++ {
		r.tickAges()
	}

	p, _ := r.Peer(peerID)
	if p.OperationalMode == model.Offline {
		t.Fatalf("expected peer to still be online at age %d", p.Age)
	}
}

func TestStartStopAgeLoopIsSafe(t *testing.T) {
	r := newTestRegistry()
	r.Start()
	time.Sleep(10 * time.Millisecond)
	r.Stop()
}
