package storage

import "testing"

func TestLogEventDefaultsSeverityAndDetails(t *testing.T) {
	store := newTestStore(t)

	if err := store.LogEvent(DaemonEvent{EventType: "peer_added"}); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}

	events, err := store.GetEvents(EventFilter{})
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Severity != EventSeverityInfo {
		t.Fatalf("expected default severity info, got %q", events[0].Severity)
	}
	if events[0].Details != "{}" {
		t.Fatalf("expected default details {}, got %q", events[0].Details)
	}
}

func TestLogEventRejectsInvalidDetailsJSON(t *testing.T) {
	store := newTestStore(t)

	err := store.LogEvent(DaemonEvent{EventType: "duplicate_name_detected", Details: "not json"})
	if err == nil {
		t.Fatal("expected error for invalid details JSON")
	}
}

func TestGetEventsFiltersByPeerAndType(t *testing.T) {
	store := newTestStore(t)

	peerA := "aaaa"
	peerB := "bbbb"
	if err := store.LogEvent(DaemonEvent{EventType: "peer_added", PeerUUID: &peerA}); err != nil {
		t.Fatalf("LogEvent A: %v", err)
	}
	if err := store.LogEvent(DaemonEvent{EventType: "peer_expired", PeerUUID: &peerA}); err != nil {
		t.Fatalf("LogEvent A expired: %v", err)
	}
	if err := store.LogEvent(DaemonEvent{EventType: "peer_added", PeerUUID: &peerB}); err != nil {
		t.Fatalf("LogEvent B: %v", err)
	}

	events, err := store.GetEvents(EventFilter{PeerUUID: peerA, EventType: "peer_added"})
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 filtered event, got %d", len(events))
	}
	if events[0].PeerUUID == nil || *events[0].PeerUUID != peerA {
		t.Fatalf("expected event for peer %q, got %+v", peerA, events[0])
	}
}

func TestPruneEventsRemovesOldRows(t *testing.T) {
	store := newTestStore(t)

	// Timestamps are taken relative to now so LogEvent's own retention
	// pruning (DefaultEventRetention) keeps both rows.
	now := nowUnixMilli()
	if err := store.LogEvent(DaemonEvent{EventType: "peer_added", Timestamp: now - 4000}); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	if err := store.LogEvent(DaemonEvent{EventType: "peer_added", Timestamp: now}); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}

	pruned, err := store.PruneEvents(now - 2000)
	if err != nil {
		t.Fatalf("PruneEvents: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned row, got %d", pruned)
	}

	events, err := store.GetEvents(EventFilter{})
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 remaining event, got %d", len(events))
	}
}
