// Package orchestrator ties discovery beacons and registry state to
// file-transfer sessions, per spec.md §4.7. It is the one component
// that owns no socket of its own: it consumes discovery.Service,
// registry.Registry, netmon.Monitor, picker.Server and
// filetransfer.Server, and drives policy decisions against
// model.ReceptionPolicy, surfacing anything it cannot decide itself
// on its own Events channel for an external UI to resolve. The
// fan-in/notification-callback shape generalizes the teacher's
// network.PeerManager (peer_manager.go), which plays the analogous
// role of routing connection lifecycle events through an
// ApproveAddRequest-style policy hook.
package orchestrator

import (
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"syfd/applog"
	"syfd/discovery"
	"syfd/filetransfer"
	"syfd/model"
	"syfd/netmon"
	"syfd/picker"
	"syfd/registry"
	"syfd/wire"
)

// EventType identifies one orchestrator-level notification an
// external UI is expected to act on.
type EventType string

const (
	// EventPathsReceived carries a picker hand-off awaiting peer selection.
	EventPathsReceived EventType = "paths_received"
	// EventSharingDecisionNeeded is an Ask-routed inbound SHARE request.
	EventSharingDecisionNeeded EventType = "sharing_decision_needed"
	// EventDuplicateFileDecisionNeeded is an Ask-routed destination conflict.
	EventDuplicateFileDecisionNeeded EventType = "duplicate_file_decision_needed"
	// EventDuplicateNameDetected forwards registry's name-collision notice.
	EventDuplicateNameDetected EventType = "duplicate_name_detected"
	// EventTransferCompleted forwards a session's transfer-completed notice.
	EventTransferCompleted EventType = "transfer_completed"
	// EventNetworkRebindNeeded asks the daemon to rebind every network
	// protocol to a new entry, per spec.md §10 supplemented behavior.
	EventNetworkRebindNeeded EventType = "network_rebind_needed"
	// EventForcedOffline reports that no usable network entry remains.
	EventForcedOffline EventType = "forced_offline"
)

// Event carries one orchestrator notification. Fields irrelevant to
// Type are left zero.
type Event struct {
	Type           EventType
	Paths          []string
	Session        *filetransfer.Session
	Peer           model.PeerRecord
	List           model.TransferList
	FileDescriptor model.FileDescriptor
	ExistingPath   string
	Entry          netmon.Entry
}

// Config wires every collaborator the Orchestrator coordinates.
// IconFetcher and IdentitySaver are optional; the FT server is
// attached separately via AttachFTServer
// once listening, since its ServerConfig must already reference the
// Orchestrator's own decision-sink methods.
type Config struct {
	Registry      *registry.Registry
	Discovery     discoverySource
	Netmon        networkEntrySource
	Picker        *picker.Server
	IconFetcher   IconFetcher
	IdentitySaver IdentitySaver
	Logger        applog.Logger
}

// IconFetcher requests an icon pull from a peer's advertised icon
// port; satisfied by *icontransfer.FetchCoordinator. Optional: a nil
// IconFetcher simply skips icon refresh on beacon sightings.
type IconFetcher interface {
	RequestFetch(peerID uuid.UUID, addr string)
}

// IdentitySaver persists a local identity change to disk; satisfied by
// a closure around config.Save in cmd/syfd. Optional: a nil
// IdentitySaver means a regenerated UUID (see handleUUIDCollision)
// only lives in the in-memory registry until the next unrelated save.
type IdentitySaver interface {
	Save(identity model.UserIdentity) error
}

// networkEntrySource is the subset of *netmon.Monitor the network-entry
// rebinding logic needs; kept as an interface so tests can substitute
// a fixed entry list without a real poller.
type networkEntrySource interface {
	Events() <-chan netmon.Event
	List() []netmon.Entry
}

// discoverySource is the subset of *discovery.Service the orchestrator
// needs; kept as an interface so tests can drive handleDiscoveryEvent
// without a real multicast socket.
type discoverySource interface {
	Events() <-chan discovery.Event
	AnnounceQuit() error
}

// Orchestrator implements filetransfer.SharingDecisionSink,
// filetransfer.DuplicateFileDecisionSink and
// filetransfer.DestinationResolver, and fans discovery/registry/
// netmon/picker/FT-server events into one Events channel.
type Orchestrator struct {
	registry      *registry.Registry
	discovery     discoverySource
	netmon        networkEntrySource
	picker        *picker.Server
	ftServer      *filetransfer.Server
	iconFetcher   IconFetcher
	identitySaver IdentitySaver
	log           applog.Logger

	events chan Event

	mu          sync.Mutex
	activeEntry *netmon.Entry
	sessions    map[uuid.UUID]*filetransfer.Session

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// New creates an Orchestrator. Start begins its fan-in loops;
// AttachFTServer must be called once the caller's filetransfer.Server
// (constructed with this Orchestrator wired in as its sinks) is
// listening.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = applog.Default()
	}
	return &Orchestrator{
		registry:      cfg.Registry,
		discovery:     cfg.Discovery,
		netmon:        cfg.Netmon,
		picker:        cfg.Picker,
		iconFetcher:   cfg.IconFetcher,
		identitySaver: cfg.IdentitySaver,
		log:           logger.With("orchestrator"),
		events:        make(chan Event, 64),
		sessions:      make(map[uuid.UUID]*filetransfer.Session),
		done:          make(chan struct{}),
	}
}

// Events returns the channel of orchestrator notifications.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// Start begins the discovery, registry, netmon and picker fan-in loops.
func (o *Orchestrator) Start() {
	o.wg.Add(4)
	go o.discoveryLoop()
	go o.watchRegistry()
	go o.netmonLoop()
	go o.pickerLoop()
}

// AttachFTServer begins forwarding inbound sessions from server. Call
// once, after the server is listening with this Orchestrator wired in
// as its SharingSink/DuplicateSink/DestResolver.
func (o *Orchestrator) AttachFTServer(server *filetransfer.Server) {
	o.ftServer = server
	o.wg.Add(1)
	go o.ftIncomingLoop()
}

// Stop halts every fan-in loop and closes Events. It does not touch
// the collaborators themselves; the caller stops those separately.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		close(o.done)
		o.wg.Wait()
		close(o.events)
	})
}

func (o *Orchestrator) emit(ev Event) {
	select {
	case o.events <- ev:
	case <-o.done:
	}
}

// --- filetransfer.SharingDecisionSink ---

// DecideSharing resolves the sender's effective reception policy
// against the local default, per spec.md §4.7. An Ask result is
// routed back out through Events; the caller resolves it later via
// session.ResolveSharing.
func (o *Orchestrator) DecideSharing(session *filetransfer.Session, list model.TransferList, message string) model.ReceptionAction {
	local := o.registry.Local()
	policy := local.ReceptionPolicy
	peer, ok := o.registry.Peer(session.PeerUUID)
	if ok {
		policy = peer.EffectivePolicy(local.ReceptionPolicy)
	}
	if policy.Action == model.Ask {
		o.emit(Event{Type: EventSharingDecisionNeeded, Session: session, Peer: peer, List: list})
	}
	return policy.Action
}

// --- filetransfer.DuplicateFileDecisionSink ---

// DecideDuplicate always routes to the UI: unlike sharing, no stored
// per-peer default exists for destination-name conflicts in the data
// model (spec.md §3 has no duplicate_file_action field on
// ReceptionPolicy), so every conflict not already covered by a
// session's "apply to all" sticky choice is an Ask.
func (o *Orchestrator) DecideDuplicate(session *filetransfer.Session, fd model.FileDescriptor, existingPath string) model.DuplicateFileAction {
	o.emit(Event{Type: EventDuplicateFileDecisionNeeded, Session: session, FileDescriptor: fd, ExistingPath: existingPath})
	return model.DuplicateAsk
}

// --- filetransfer.DestinationResolver ---

// ResolveDestination resolves a peer's effective reception policy
// into a concrete, existing base directory, applying the sender-name
// and date subfolders the policy requests.
func (o *Orchestrator) ResolveDestination(peerUUID uuid.UUID) (string, error) {
	local := o.registry.Local()
	policy := local.ReceptionPolicy
	peer, ok := o.registry.Peer(peerUUID)
	if ok {
		policy = peer.EffectivePolicy(local.ReceptionPolicy)
	}
	if policy.BasePath == "" {
		return "", fmt.Errorf("orchestrator: no reception base path configured")
	}

	base := policy.BasePath
	if policy.AppendSenderNameFolder {
		base = filepath.Join(base, senderFolderName(peer))
	}
	if policy.AppendDateFolder {
		base = filepath.Join(base, time.Now().Format("2006-01-02"))
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", fmt.Errorf("orchestrator: create destination %q: %w", base, err)
	}
	return base, nil
}

func senderFolderName(peer model.PeerRecord) string {
	name := peer.FirstName
	if peer.LastName != "" {
		if name != "" {
			name += " "
		}
		name += peer.LastName
	}
	if name == "" {
		name = model.NoNameSentinel
	}
	return name
}

// --- discovery fan-in ---

func (o *Orchestrator) discoveryLoop() {
	defer o.wg.Done()
	for {
		select {
		case ev, ok := <-o.discovery.Events():
			if !ok {
				return
			}
			o.handleDiscoveryEvent(ev)
		case <-o.done:
			return
		}
	}
}

func (o *Orchestrator) handleDiscoveryEvent(ev discovery.Event) {
	switch ev.Type {
	case discovery.EventPeerSeen:
		o.registry.Observe(peerRecordFromBeacon(ev.Beacon))
		o.maybeFetchIcon(ev.Beacon)
	case discovery.EventPeerQuit:
		o.registry.Quit(ev.Beacon.UUID)
	case discovery.EventUUIDCollision:
		o.handleUUIDCollision(ev)
	case discovery.EventSendFailuresExceeded:
		o.log.Warnf("discovery send failures exceeded, beacon likely offline")
	}
}

// maybeFetchIcon requests an icon pull when a beacon advertises one
// and the registry's cached copy is missing or stale, per spec.md
// §4.4 ("icon exchange happens over a beacon-advertised hash mismatch,
// not on a fixed schedule").
func (o *Orchestrator) maybeFetchIcon(b wire.Beacon) {
	if !b.HasIcon || o.iconFetcher == nil {
		return
	}
	peer, ok := o.registry.Peer(b.UUID)
	if ok && peer.Icon != nil && peer.Icon.SHA1 == b.IconSHA1 {
		return
	}
	addr := net.JoinHostPort(b.IPv4.String(), strconv.Itoa(int(b.ITPort)))
	o.iconFetcher.RequestFetch(b.UUID, addr)
}

// handleUUIDCollision implements spec.md §4.2/§8 scenario 6: a beacon
// claiming the local UUID from a different source forces regeneration.
// The old UUID is announced offline first so any peer that had already
// observed it drops the record, then the local identity goes Online
// again under a fresh UUID; the normal periodic send loop (identity()
// is read fresh on every tick) picks up the new UUID on its own.
func (o *Orchestrator) handleUUIDCollision(ev discovery.Event) {
	o.log.Warnf("uuid collision reported from %s, regenerating local uuid", ev.SourceAddr)

	local := o.registry.Local()
	local.OperationalMode = model.Offline
	o.registry.SetLocal(local)

	if err := o.discovery.AnnounceQuit(); err != nil {
		o.log.Warnf("announce quit before uuid regeneration: %v", err)
	}

	local.UUID = uuid.New()
	local.OperationalMode = model.Online
	o.registry.SetLocal(local)

	if o.identitySaver != nil {
		if err := o.identitySaver.Save(local); err != nil {
			o.log.Warnf("persist regenerated uuid: %v", err)
		}
	}
}

// peerRecordFromBeacon builds the registry-facing record from a wire
// beacon; Icon is left nil so Observe preserves whatever the registry
// already cached (see maybeFetchIcon for the refresh path).
func peerRecordFromBeacon(b wire.Beacon) model.PeerRecord {
	return model.PeerRecord{
		UUID:      b.UUID,
		FirstName: b.FirstName,
		LastName:  b.LastName,
		BoundIPv4: b.IPv4.String(),
		FTPort:    b.FTPort,
		ITPort:    b.ITPort,
		Age:       0,
	}
}

// --- registry fan-in ---

// watchRegistry forwards duplicate-name detections: a notification
// only, per spec.md §4.7 ("no state change").
func (o *Orchestrator) watchRegistry() {
	defer o.wg.Done()
	for {
		select {
		case ev, ok := <-o.registry.Events():
			if !ok {
				return
			}
			if ev.Type == registry.EventDuplicateNameDetected {
				o.emit(Event{Type: EventDuplicateNameDetected, Peer: ev.Peer})
			}
		case <-o.done:
			return
		}
	}
}

// --- network entry fan-in ---

func (o *Orchestrator) netmonLoop() {
	defer o.wg.Done()
	for {
		select {
		case ev, ok := <-o.netmon.Events():
			if !ok {
				return
			}
			o.handleNetworkEntryChange(ev)
		case <-o.done:
			return
		}
	}
}

// handleNetworkEntryChange implements spec.md §10's supplemented
// rebinding order: when the active entry disappears, rebind to the
// first remaining entry in the same pass that drops it; if none
// remain, force an offline state. Socket rebinding itself is owned by
// the daemon entry point, which holds the real listeners; this method
// only decides which entry to rebind to and notifies it.
func (o *Orchestrator) handleNetworkEntryChange(ev netmon.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch ev.Type {
	case netmon.EventEntryRemoved:
		if o.activeEntry == nil || o.activeEntry.InterfaceName != ev.Entry.InterfaceName {
			return
		}
		remaining := o.netmon.List()
		if len(remaining) == 0 {
			o.activeEntry = nil
			o.log.Warnf("no network entries remain, forcing offline")
			o.emit(Event{Type: EventForcedOffline})
			return
		}
		next := remaining[0]
		o.activeEntry = &next
		o.log.Infof("active entry %s dropped, rebinding to %s", ev.Entry.InterfaceName, next.InterfaceName)
		o.emit(Event{Type: EventNetworkRebindNeeded, Entry: next})
	case netmon.EventEntryAdded:
		if o.activeEntry == nil {
			entry := ev.Entry
			o.activeEntry = &entry
			o.emit(Event{Type: EventNetworkRebindNeeded, Entry: entry})
		}
	}
}

// --- picker fan-in ---

func (o *Orchestrator) pickerLoop() {
	defer o.wg.Done()
	for {
		select {
		case ev, ok := <-o.picker.Events():
			if !ok {
				return
			}
			o.emit(Event{Type: EventPathsReceived, Paths: ev.Paths})
		case <-o.done:
			return
		}
	}
}

// --- inbound FT session fan-in ---

func (o *Orchestrator) ftIncomingLoop() {
	defer o.wg.Done()
	for {
		select {
		case session, ok := <-o.ftServer.Incoming():
			if !ok {
				return
			}
			o.trackSession(session)
		case <-o.done:
			return
		}
	}
}

func (o *Orchestrator) trackSession(session *filetransfer.Session) {
	o.mu.Lock()
	o.sessions[session.ID] = session
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.forwardSessionEvents(session)
		o.mu.Lock()
		delete(o.sessions, session.ID)
		o.mu.Unlock()
	}()
}

// forwardSessionEvents relays the subset of a Session's lifecycle the
// UI needs beyond what DecideSharing/DecideDuplicate already surfaced.
func (o *Orchestrator) forwardSessionEvents(session *filetransfer.Session) {
	for ev := range session.Events() {
		if ev.Type == filetransfer.EventTransferCompleted {
			o.emit(Event{Type: EventTransferCompleted, Session: session})
		}
	}
}

// Sessions returns a snapshot of every session currently tracked.
func (o *Orchestrator) Sessions() []*filetransfer.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*filetransfer.Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		out = append(out, s)
	}
	return out
}

// --- outgoing transfer flow ---

// StartOutgoingTransfers builds a TransferList from the picker's
// absolute paths and dials one outbound session per selected peer,
// per spec.md §4.7. When the local identity is Offline, the anonymous
// UUID is sent on the wire instead of the real local UUID.
func (o *Orchestrator) StartOutgoingTransfers(paths []string, peerIDs []uuid.UUID) ([]*filetransfer.Session, error) {
	list, err := o.buildTransferList(paths)
	if err != nil {
		return nil, err
	}

	local := o.registry.Local()
	anonymous := local.OperationalMode == model.Offline

	var sessions []*filetransfer.Session
	for _, id := range peerIDs {
		peer, ok := o.registry.Peer(id)
		if !ok {
			o.log.Warnf("start outgoing transfer: unknown peer %s, skipping", id)
			continue
		}
		addr := net.JoinHostPort(peer.BoundIPv4, strconv.Itoa(int(peer.FTPort)))
		session, err := filetransfer.Dial(addr, filetransfer.ClientConfig{
			LocalUUID:    local.UUID,
			Anonymous:    anonymous,
			ExpectedPeer: id,
			List:         list,
			Logger:       o.log,
		})
		if err != nil {
			o.log.Warnf("dial %s at %s: %v", id, addr, err)
			continue
		}
		o.trackSession(session)
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// --- operational mode change ---

// RequestModeChange applies a local operational-mode transition, per
// spec.md §4.7's two guards: going Offline refuses to proceed while
// any inbound session is active unless confirmed, and going Online
// refuses outright if no network entry is available. A no-op
// transition (mode already matches) always succeeds.
func (o *Orchestrator) RequestModeChange(mode model.OperationalMode, confirmed bool) error {
	local := o.registry.Local()
	if local.OperationalMode == mode {
		return nil
	}

	switch mode {
	case model.Offline:
		inbound := false
		for _, s := range o.Sessions() {
			if s.Role == filetransfer.RoleReceiver {
				inbound = true
				break
			}
		}
		if !confirmed && inbound {
			return fmt.Errorf("orchestrator: refusing to go offline with an active session, confirm to override")
		}
	case model.Online:
		o.mu.Lock()
		hasEntry := o.activeEntry != nil
		o.mu.Unlock()
		if !hasEntry {
			return fmt.Errorf("orchestrator: refusing to go online, no network entry is available")
		}
	default:
		return fmt.Errorf("orchestrator: invalid operational mode %v", mode)
	}

	local.OperationalMode = mode
	o.registry.SetLocal(local)
	return nil
}

// buildTransferList recursively walks the picker-supplied absolute
// paths into a single TransferList, skipping symlinks with a warning
// per spec.md §3/§1's non-goal on symlink preservation. The first
// path's parent directory anchors the base path every relative path
// is computed against.
func (o *Orchestrator) buildTransferList(paths []string) (model.TransferList, error) {
	if len(paths) == 0 {
		return model.TransferList{}, fmt.Errorf("orchestrator: no paths to share")
	}
	base := filepath.Dir(filepath.Clean(paths[0]))

	var files []model.FileDescriptor
	var total int64
	for _, p := range paths {
		if err := o.walkPath(base, p, &files, &total); err != nil {
			o.log.Warnf("skipping %q: %v", p, err)
		}
	}
	return model.TransferList{BaseAbsolutePath: base, Files: files, TotalBytes: total}, nil
}

func (o *Orchestrator) walkPath(base, root string, files *[]model.FileDescriptor, total *int64) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&os.ModeSymlink != 0 {
			o.log.Warnf("skipping symlink %q", path)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		*files = append(*files, model.FileDescriptor{
			RelativePath:     filepath.ToSlash(rel),
			SizeBytes:        info.Size(),
			LastModifiedUnix: info.ModTime().Unix(),
			Status:           model.Scheduled,
		})
		*total += info.Size()
		return nil
	})
}
