// Package registry holds the local identity plus the map of known
// peers, aged out on a periodic tick exactly as spec.md §4.1 describes
// (AgeMax consecutive missed beacons expires a peer). The event-channel
// and start/stop-with-sync.Once shape mirrors discovery.Service and
// netmon.Monitor.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"syfd/model"
)

// AgingInterval is how often every known peer's age is incremented.
const AgingInterval = 5 * time.Second

// EventType identifies one registry change.
type EventType string

const (
	// EventPeerAdded is emitted the first time a UUID is seen.
	EventPeerAdded EventType = "peer_added"
	// EventPeerUpdated is emitted when a known peer's beacon fields change.
	EventPeerUpdated EventType = "peer_updated"
	// EventPeerExpired is emitted when a peer's age reaches model.AgeMax.
	EventPeerExpired EventType = "peer_expired"
	// EventDuplicateNameDetected is emitted when two peers share a
	// case-insensitive (first, last) name pair.
	EventDuplicateNameDetected EventType = "duplicate_name_detected"
)

// Event carries one registry change.
type Event struct {
	Type EventType
	Peer model.PeerRecord
}

// Registry holds the local identity and the known-peer map.
type Registry struct {
	mu    sync.RWMutex
	local model.UserIdentity
	peers map[uuid.UUID]model.PeerRecord

	events chan Event

	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a Registry seeded with the local identity and a loaded
// peer map (possibly empty).
func New(local model.UserIdentity, seed map[uuid.UUID]model.PeerRecord) *Registry {
	peers := make(map[uuid.UUID]model.PeerRecord, len(seed))
	for id, p := range seed {
		p.Age = model.AgeUnconfirmed
		peers[id] = p
	}
	return &Registry{
		local:  local,
		peers:  peers,
		events: make(chan Event, 128),
	}
}

// Start begins the background aging loop.
func (r *Registry) Start() {
	r.startOnce.Do(func() {
		r.ctx, r.cancel = context.WithCancel(context.Background())
		r.wg.Add(1)
		go r.ageLoop()
	})
}

// Stop halts the aging loop.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		r.wg.Wait()
		close(r.events)
	})
}

// Events returns the channel of registry changes.
func (r *Registry) Events() <-chan Event {
	return r.events
}

// Local returns a copy of the local identity.
func (r *Registry) Local() model.UserIdentity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.local
}

// SetLocal replaces the local identity (e.g. after a name or policy change).
func (r *Registry) SetLocal(identity model.UserIdentity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local = identity
}

// Peers returns a snapshot copy of every known peer.
func (r *Registry) Peers() map[uuid.UUID]model.PeerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[uuid.UUID]model.PeerRecord, len(r.peers))
	for id, p := range r.peers {
		out[id] = p
	}
	return out
}

// Peer returns one peer by UUID.
func (r *Registry) Peer(id uuid.UUID) (model.PeerRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

// SetPeerIcon attaches a fetched icon to a known peer. A peer that has
// since aged out or been forgotten is silently ignored: the fetch that
// produced icon was requested against a UUID snapshot that may no
// longer exist.
func (r *Registry) SetPeerIcon(id uuid.UUID, icon model.Icon) {
	r.mu.Lock()
	defer r.mu.Unlock()
	peer, ok := r.peers[id]
	if !ok {
		return
	}
	peer.Icon = &icon
	r.peers[id] = peer
}

// Observe records a beacon sighting: a new peer is added, an existing
// peer's fields are updated and its age reset to 0. Returns the events
// produced (peer_added/peer_updated, plus duplicate_name_detected if the
// sighting collides on name with another known peer).
func (r *Registry) Observe(seen model.PeerRecord) []Event {
	r.mu.Lock()

	var produced []Event
	existing, known := r.peers[seen.UUID]

	seen.Age = 0
	if known {
		seen.ReceptionPolicyOverride = existing.ReceptionPolicyOverride
		seen.Icon = existing.Icon
		if !peerFieldsEqual(existing, seen) {
			r.peers[seen.UUID] = seen
			produced = append(produced, Event{Type: EventPeerUpdated, Peer: seen})
		} else {
			existing.Age = 0
			r.peers[seen.UUID] = existing
		}
	} else {
		r.peers[seen.UUID] = seen
		produced = append(produced, Event{Type: EventPeerAdded, Peer: seen})
	}

	if dup, ok := r.findDuplicateName(seen); ok {
		produced = append(produced, Event{Type: EventDuplicateNameDetected, Peer: dup})
	}

	r.mu.Unlock()

	for _, ev := range produced {
		r.emit(ev)
	}
	return produced
}

func (r *Registry) findDuplicateName(seen model.PeerRecord) (model.PeerRecord, bool) {
	if seen.FirstName == "" && seen.LastName == "" {
		return model.PeerRecord{}, false
	}
	for id, p := range r.peers {
		if id == seen.UUID {
			continue
		}
		if sameName(p, seen) {
			return p, true
		}
	}
	if sameName(model.PeerRecord{FirstName: r.local.FirstName, LastName: r.local.LastName}, seen) {
		return model.PeerRecord{UUID: r.local.UUID, FirstName: r.local.FirstName, LastName: r.local.LastName}, true
	}
	return model.PeerRecord{}, false
}

func sameName(a, b model.PeerRecord) bool {
	return equalFold(a.FirstName, b.FirstName) && equalFold(a.LastName, b.LastName)
}

func equalFold(a, b string) bool {
	return lower(a) == lower(b)
}

func lower(s string) string {
	runes := []rune(s)
	for i, r := range runes {
		if r >= 'A' && r <= 'Z' {
			runes[i] = r + ('a' - 'A')
		}
	}
	return string(runes)
}

// Quit marks a peer offline immediately, on receipt of a quit beacon,
// without waiting for it to age out.
func (r *Registry) Quit(id uuid.UUID) {
	r.mu.Lock()
	p, ok := r.peers[id]
	if ok {
		p.OperationalMode = model.Offline
		p.Age = model.AgeUnconfirmed
		r.peers[id] = p
	}
	r.mu.Unlock()

	if ok {
		r.emit(Event{Type: EventPeerExpired, Peer: p})
	}
}

func (r *Registry) ageLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(AgingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.tickAges()
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Registry) tickAges() {
	r.mu.Lock()
	var expired []model.PeerRecord
	for id, p := range r.peers {
		if p.Age < 0 {
			continue
		}
		p.Age++
		if p.Age >= model.AgeMax {
			p.OperationalMode = model.Offline
			p.Age = model.AgeUnconfirmed
			expired = append(expired, p)
		}
		r.peers[id] = p
	}
	r.mu.Unlock()

	for _, p := range expired {
		r.emit(Event{Type: EventPeerExpired, Peer: p})
	}
}

func (r *Registry) emit(event Event) {
	select {
	case r.events <- event:
	default:
	}
}

func peerFieldsEqual(a, b model.PeerRecord) bool {
	return a.FirstName == b.FirstName &&
		a.LastName == b.LastName &&
		a.BoundIPv4 == b.BoundIPv4 &&
		a.FTPort == b.FTPort &&
		a.ITPort == b.ITPort &&
		a.OperationalMode == b.OperationalMode
}
